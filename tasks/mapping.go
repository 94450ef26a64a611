// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package tasks

import (
	"context"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/drone"
	"github.com/skyfleet/latticebridge/structs"
)

// MappingExecutor flies a survey pattern over an area and reports
// per-waypoint progress.
type MappingExecutor struct {
	logger hclog.Logger
}

// NewMappingExecutor builds the mapping executor.
func NewMappingExecutor(logger hclog.Logger) *MappingExecutor {
	return &MappingExecutor{logger: logger.Named("mapping")}
}

func (e *MappingExecutor) Kind() structs.TaskKind { return structs.TaskKindMapping }

// Execute flies the configured pattern. The area centers on the
// request's coordinate when given, otherwise on the drone's current
// position.
func (e *MappingExecutor) Execute(ctx context.Context, ctrl drone.Controller, params *structs.TaskParams, progress ProgressFunc) error {
	p := params.Mapping
	if p == nil {
		return structs.Errorf(structs.ErrValidation, "mapping parameters missing")
	}
	if err := p.Validate(); err != nil {
		return structs.NewKindError(structs.ErrValidation, err)
	}

	if err := preflight(ctx, ctrl, e.logger, p.AltitudeM); err != nil {
		return err
	}

	center := e.resolveCenter(ctrl, p)
	var waypoints []structs.LatLon
	switch p.Pattern {
	case structs.PatternLawnMower:
		waypoints = LawnMowerWaypoints(center, p.AreaWidthM, p.AreaHeightM, p.CameraFovM, p.Overlap)
	default:
		waypoints = LetterWaypoints(center, p.AreaWidthM, p.AreaHeightM)
	}

	e.logger.Info("starting mapping run", "pattern", p.Pattern,
		"waypoints", len(waypoints), "altitude_m", p.AltitudeM)

	// Waypoints are best effort: a missed one is logged and the run
	// continues with the rest of the pattern.
	for i, wp := range waypoints {
		if err := ctrl.GotoLocation(ctx, wp.Lat, wp.Lon, p.AltitudeM); err != nil {
			if ctx.Err() != nil {
				stopOnCancel(ctrl, e.logger)
				return ctx.Err()
			}
			e.logger.Warn("failed to reach waypoint, continuing",
				"index", i+1, "total", len(waypoints), "error", err)
		}
		progress(float64(i+1) / float64(len(waypoints)))
	}

	e.logger.Info("pattern complete, returning to launch")
	if err := ctrl.ReturnToLaunch(ctx); err != nil {
		if ctx.Err() != nil {
			stopOnCancel(ctrl, e.logger)
			return ctx.Err()
		}
		e.logger.Warn("return to launch failed, holding position", "error", err)
		holdCtx, cancel := context.WithTimeout(context.Background(), holdTimeout)
		defer cancel()
		if err := ctrl.Hold(holdCtx); err != nil {
			e.logger.Warn("hold failed", "error", err)
		}
	}

	metrics.IncrCounter([]string{"tasks", "mapping", "complete"}, 1)
	e.logger.Info("mapping run complete", "waypoints", len(waypoints))
	return nil
}

func (e *MappingExecutor) resolveCenter(ctrl drone.Controller, p *structs.MappingParams) structs.LatLon {
	if p.AreaCenter != nil {
		return *p.AreaCenter
	}
	snap := ctrl.Telemetry()
	return structs.LatLon{Lat: snap.Position.LatitudeDeg, Lon: snap.Position.LongitudeDeg}
}
