// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package drone manages per-drone sessions: each session owns a flight
// controller connection, pumps its telemetry through smoothing filters,
// and exposes a stable snapshot for publishing and task execution.
package drone

import (
	"context"

	"github.com/skyfleet/latticebridge/structs"
)

// Controller is the command surface of one flight controller. The
// MAVLink adapter implements it for real vehicles; a simulated
// controller backs tests and mock mode.
//
// All commands block until the vehicle confirms or the context is
// done. A command that the vehicle rejects returns an error; partial
// success is never reported as success.
type Controller interface {
	// Connect blocks until the vehicle reports connected with a
	// global position and home position, or fails after bounded
	// retries.
	Connect(ctx context.Context) error

	// Close tears down the link. Safe to call more than once.
	Close() error

	// Connected reports link liveness.
	Connected() bool

	Arm(ctx context.Context) error

	// Disarm is idempotent: disarming an already disarmed vehicle
	// succeeds.
	Disarm(ctx context.Context) error

	// Takeoff climbs to the given altitude above ground and returns
	// once 95% of it is reached (90% on the guided-climb fallback
	// path).
	Takeoff(ctx context.Context, altitudeM float64) error

	Land(ctx context.Context) error

	ReturnToLaunch(ctx context.Context) error

	// GotoLocation flies to the coordinate at the given altitude
	// above ground, returning once within 2m horizontally and
	// vertically.
	GotoLocation(ctx context.Context, lat, lon, altitudeAGLM float64) error

	// Hold stops and loiters at the current position.
	Hold(ctx context.Context) error

	// ReleasePayload actuates the payload release servo.
	ReleasePayload(ctx context.Context) error

	// Telemetry returns the most recent raw telemetry. The snapshot
	// is a copy; Position and Velocity are nil until their streams
	// have reported.
	Telemetry() *structs.TelemetrySnapshot
}
