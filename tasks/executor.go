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

// holdTimeout bounds the stop-in-place issued when a task is
// cancelled mid-flight.
const holdTimeout = 1 * time.Second

// ProgressFunc receives fractional task progress in [0, 1]. Executors
// only ever report it monotonically increasing.
type ProgressFunc func(fraction float64)

// Executor flies one kind of task. Execute blocks until the task
// finishes, fails, or ctx is cancelled; on cancellation the executor
// stops the vehicle before returning ctx.Err().
type Executor interface {
	Kind() structs.TaskKind
	Execute(ctx context.Context, ctrl drone.Controller, params *structs.TaskParams, progress ProgressFunc) error
}

// Registry maps task kinds to executors.
type Registry struct {
	executors map[structs.TaskKind]Executor
}

// NewRegistry builds the standard executor set. Generic tasks reuse
// the mapping executor.
func NewRegistry(logger hclog.Logger) *Registry {
	mapping := NewMappingExecutor(logger)
	return &Registry{
		executors: map[structs.TaskKind]Executor{
			structs.TaskKindMapping:  mapping,
			structs.TaskKindGeneric:  mapping,
			structs.TaskKindRelay:    NewRelayExecutor(logger),
			structs.TaskKindDropping: NewDroppingExecutor(logger),
		},
	}
}

// Lookup returns the executor for a kind.
func (r *Registry) Lookup(kind structs.TaskKind) (Executor, bool) {
	e, ok := r.executors[kind]
	return e, ok
}

// preflight verifies the vehicle is fit to fly and gets it airborne at
// the working altitude. A vehicle already in the air is left at its
// current altitude; the first waypoint corrects it.
func preflight(ctx context.Context, ctrl drone.Controller, logger hclog.Logger, altitudeM float64) error {
	snap := ctrl.Telemetry()
	if snap.GPSFixType >= 0 && snap.GPSFixType < structs.MinGPSFixType {
		return structs.Errorf(structs.ErrValidation,
			"insufficient GPS fix (type %d, need %d)", snap.GPSFixType, structs.MinGPSFixType)
	}
	if !snap.Position.Valid() {
		return structs.Errorf(structs.ErrValidation, "no valid position")
	}

	if snap.Position.AltitudeAGLM >= 1.0 && snap.Armed {
		logger.Debug("already airborne", "altitude_agl_m", snap.Position.AltitudeAGLM)
		return nil
	}

	logger.Info("taking off for task", "altitude_m", altitudeM)
	if err := ctrl.Takeoff(ctx, altitudeM); err != nil {
		return err
	}
	return nil
}

// stopOnCancel issues a hold with its own deadline; the task context
// is already dead at this point.
func stopOnCancel(ctrl drone.Controller, logger hclog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), holdTimeout)
	defer cancel()
	if err := ctrl.Hold(ctx); err != nil {
		logger.Warn("hold after cancellation failed", "error", err)
	}
	metrics.IncrCounter([]string{"tasks", "cancelled"}, 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
