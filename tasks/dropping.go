// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package tasks

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/drone"
	"github.com/skyfleet/latticebridge/structs"
)

// settleTimeout bounds the wait for the vehicle to tighten from the
// goto tolerance down to the release tolerance.
const settleTimeout = 30 * time.Second

// DroppingExecutor delivers payloads: approach high, descend, settle,
// release, climb back out.
type DroppingExecutor struct {
	logger hclog.Logger
}

// NewDroppingExecutor builds the dropping executor.
func NewDroppingExecutor(logger hclog.Logger) *DroppingExecutor {
	return &DroppingExecutor{logger: logger.Named("dropping")}
}

func (e *DroppingExecutor) Kind() structs.TaskKind { return structs.TaskKindDropping }

// Execute runs the delivery sequence for each drop location in order.
// Progress advances through four steps per location.
func (e *DroppingExecutor) Execute(ctx context.Context, ctrl drone.Controller, params *structs.TaskParams, progress ProgressFunc) error {
	p := params.Dropping
	if p == nil {
		return structs.Errorf(structs.ErrValidation, "dropping parameters missing")
	}
	if err := p.Validate(); err != nil {
		return structs.NewKindError(structs.ErrValidation, err)
	}

	if err := preflight(ctx, ctrl, e.logger, p.ApproachAltitudeM); err != nil {
		return err
	}

	const stepsPerDrop = 4
	total := float64(len(p.DropLocations) * stepsPerDrop)
	step := 0
	advance := func() {
		step++
		progress(float64(step) / total)
	}

	for i, loc := range p.DropLocations {
		e.logger.Info("starting drop", "index", i+1, "total", len(p.DropLocations),
			"lat", loc.Lat, "lon", loc.Lon)

		// Approach at transit altitude.
		if err := e.flyTo(ctx, ctrl, loc, p.ApproachAltitudeM); err != nil {
			return err
		}
		advance()

		// Descend to drop altitude and settle inside the release
		// tolerance.
		if err := e.flyTo(ctx, ctrl, loc, p.DropAltitudeM); err != nil {
			return err
		}
		if err := e.settle(ctx, ctrl, loc, p.PositionToleranceM); err != nil {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(p.StabilizationTimeS*float64(time.Second))); err != nil {
			stopOnCancel(ctrl, e.logger)
			return err
		}
		advance()

		if err := ctrl.ReleasePayload(ctx); err != nil {
			return err
		}
		metrics.IncrCounter([]string{"tasks", "dropping", "released"}, 1)
		e.logger.Info("payload released", "index", i+1)
		advance()

		// Climb back out before transiting to the next location.
		if err := e.flyTo(ctx, ctrl, loc, p.ApproachAltitudeM); err != nil {
			return err
		}
		advance()
	}

	metrics.IncrCounter([]string{"tasks", "dropping", "complete"}, 1)
	e.logger.Info("delivery run complete", "drops", len(p.DropLocations))
	return nil
}

func (e *DroppingExecutor) flyTo(ctx context.Context, ctrl drone.Controller, loc structs.LatLon, altM float64) error {
	if err := ctrl.GotoLocation(ctx, loc.Lat, loc.Lon, altM); err != nil {
		if ctx.Err() != nil {
			stopOnCancel(ctrl, e.logger)
			return ctx.Err()
		}
		return err
	}
	return nil
}

// settle waits until the vehicle holds within toleranceM of the drop
// point.
func (e *DroppingExecutor) settle(ctx context.Context, ctrl drone.Controller, loc structs.LatLon, toleranceM float64) error {
	deadline := time.Now().Add(settleTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		snap := ctrl.Telemetry()
		if snap.Position.Valid() {
			here := structs.LatLon{Lat: snap.Position.LatitudeDeg, Lon: snap.Position.LongitudeDeg}
			if distanceM(here, loc) <= toleranceM {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return structs.Errorf(structs.ErrCommand,
				"vehicle did not settle within %.1fm for release", toleranceM)
		}
		select {
		case <-ctx.Done():
			stopOnCancel(ctrl, e.logger)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
