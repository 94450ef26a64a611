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

const (
	// stationCheckInterval is how often the relay re-checks drift.
	stationCheckInterval = 5 * time.Second

	// driftToleranceM is the station-keeping radius; drifting past it
	// triggers a corrective goto.
	driftToleranceM = 5.0
)

// RelayExecutor holds position at a relay point for a fixed duration,
// correcting drift.
type RelayExecutor struct {
	logger hclog.Logger
}

// NewRelayExecutor builds the relay executor.
func NewRelayExecutor(logger hclog.Logger) *RelayExecutor {
	return &RelayExecutor{logger: logger.Named("relay")}
}

func (e *RelayExecutor) Kind() structs.TaskKind { return structs.TaskKindRelay }

// Execute flies to the relay point and station-keeps until the
// duration elapses. Progress is the fraction of hold time served.
func (e *RelayExecutor) Execute(ctx context.Context, ctrl drone.Controller, params *structs.TaskParams, progress ProgressFunc) error {
	p := params.Relay
	if p == nil {
		return structs.Errorf(structs.ErrValidation, "relay parameters missing")
	}
	if err := p.Validate(); err != nil {
		return structs.NewKindError(structs.ErrValidation, err)
	}

	if err := preflight(ctx, ctrl, e.logger, p.AltitudeM); err != nil {
		return err
	}

	e.logger.Info("flying to relay station",
		"lat", p.RelayPosition.Lat, "lon", p.RelayPosition.Lon,
		"altitude_m", p.AltitudeM, "duration_s", p.DurationS)
	if err := ctrl.GotoLocation(ctx, p.RelayPosition.Lat, p.RelayPosition.Lon, p.AltitudeM); err != nil {
		if ctx.Err() != nil {
			stopOnCancel(ctrl, e.logger)
			return ctx.Err()
		}
		return err
	}

	duration := time.Duration(p.DurationS * float64(time.Second))
	start := time.Now()

	for {
		elapsed := time.Since(start)
		if elapsed >= duration {
			break
		}
		progress(float64(elapsed) / float64(duration))

		wait := min(stationCheckInterval, duration-elapsed)
		if err := sleepCtx(ctx, wait); err != nil {
			stopOnCancel(ctrl, e.logger)
			return err
		}

		snap := ctrl.Telemetry()
		if !snap.Position.Valid() {
			continue
		}
		here := structs.LatLon{Lat: snap.Position.LatitudeDeg, Lon: snap.Position.LongitudeDeg}
		if drift := distanceM(here, p.RelayPosition); drift > driftToleranceM {
			e.logger.Info("correcting station drift", "drift_m", drift)
			metrics.IncrCounter([]string{"tasks", "relay", "drift_correction"}, 1)
			if err := ctrl.GotoLocation(ctx, p.RelayPosition.Lat, p.RelayPosition.Lon, p.AltitudeM); err != nil {
				if ctx.Err() != nil {
					stopOnCancel(ctrl, e.logger)
					return ctx.Err()
				}
				return err
			}
		}
	}

	metrics.IncrCounter([]string{"tasks", "relay", "complete"}, 1)
	e.logger.Info("relay duration served", "duration_s", p.DurationS)
	return nil
}
