// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package structs holds the shared data model of the bridge: drone
// configuration, telemetry snapshots, per-drone state, and task
// records. Types here are passed between components by value copy so
// that no component mutates another's view.
package structs

import (
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-set/v3"
)

const (
	// PositionEpsilon is the validity threshold for latitude and
	// longitude. Autopilots transiently emit 0/0 before the GPS is
	// ready; anything inside the epsilon box is treated as no fix.
	PositionEpsilon = 1e-6

	// MinGPSFixType is the minimum GPS fix required for flight. Fix
	// type 3 is a full 3D fix; below that only 2D or no position
	// information is available.
	MinGPSFixType = 3
)

// Capability enumerates the task kinds a drone supports.
type Capability string

const (
	CapabilityMapping  Capability = "mapping"
	CapabilityRelay    Capability = "relay"
	CapabilityDropping Capability = "dropping"
)

// DroneConfig is the immutable configuration for one managed drone.
type DroneConfig struct {
	// ID uniquely identifies the drone within the process and is used
	// as the entity_id published to the C2.
	ID string `yaml:"id"`

	// ConnectionString is the MAVLink endpoint, e.g. "udp://:14550".
	ConnectionString string `yaml:"connection_string"`

	// Capabilities is the set of task kinds this drone may be
	// assigned.
	Capabilities []Capability `yaml:"capabilities"`

	MaxAltitudeM    float64 `yaml:"max_altitude_m"`
	MaxSpeedMps     float64 `yaml:"max_speed_mps"`
	RTLAltitudeM    float64 `yaml:"rtl_altitude_m"`
	GeofenceEnabled bool    `yaml:"geofence_enabled"`
}

// CapabilitySet returns the capabilities as a set for membership
// checks.
func (c *DroneConfig) CapabilitySet() *set.Set[Capability] {
	return set.From(c.Capabilities)
}

// Validate checks a drone configuration for the fields the bridge
// cannot operate without.
func (c *DroneConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("drone config missing id")
	}
	if c.ConnectionString == "" {
		return fmt.Errorf("drone %s missing connection_string", c.ID)
	}
	for _, cap := range c.Capabilities {
		switch cap {
		case CapabilityMapping, CapabilityRelay, CapabilityDropping:
		default:
			return fmt.Errorf("drone %s has unknown capability %q", c.ID, cap)
		}
	}
	return nil
}

// Position is a geodetic position. Altitude is carried both above
// ground level and above mean sea level; external interfaces take AGL
// and the adapter converts where the wire format wants AMSL.
type Position struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeAGLM float64
	AltitudeAMSL float64
}

// Valid reports whether the position is a usable fix. Near-zero
// lat/lon pairs are the autopilot's "no position yet" placeholder.
func (p *Position) Valid() bool {
	if p == nil {
		return false
	}
	return math.Abs(p.LatitudeDeg) > PositionEpsilon && math.Abs(p.LongitudeDeg) > PositionEpsilon
}

// VelocityNED is a velocity vector in the north-east-down frame.
type VelocityNED struct {
	NorthMps float64
	EastMps  float64
	DownMps  float64
}

// Speed returns the magnitude of the velocity vector.
func (v VelocityNED) Speed() float64 {
	return math.Sqrt(v.NorthMps*v.NorthMps + v.EastMps*v.EastMps + v.DownMps*v.DownMps)
}

// TelemetrySnapshot is a point-in-time view of a drone's telemetry.
// Position and Velocity are nil until the corresponding stream has
// produced a value.
type TelemetrySnapshot struct {
	Position *Position

	// PositionStale marks Position as the cached last-known-good fix
	// rather than a current one. Consumers publishing a stale
	// position attach a large uncertainty.
	PositionStale bool

	Velocity *VelocityNED

	// HeadingDeg is normalized into [0, 360).
	HeadingDeg float64

	SpeedMps       float64
	BatteryPct     float64
	BatteryVoltage float64
	Armed          bool
	FlightMode     string

	// GPSFixType follows the MAVLink GPS_FIX_TYPE enumeration
	// (0 = none .. 6 = RTK fixed). -1 means the stream has not
	// reported yet.
	GPSFixType int

	// Timestamp is monotonic (time.Now() carries the monotonic
	// clock), so snapshot ordering survives wall-clock adjustments.
	Timestamp time.Time
}

// Copy returns a deep copy of the snapshot.
func (t *TelemetrySnapshot) Copy() *TelemetrySnapshot {
	if t == nil {
		return nil
	}
	nt := *t
	if t.Position != nil {
		p := *t.Position
		nt.Position = &p
	}
	if t.Velocity != nil {
		v := *t.Velocity
		nt.Velocity = &v
	}
	return &nt
}

// TaskStatus is the state-store view of a drone's current task.
type TaskStatus string

const (
	TaskStatusNone      TaskStatus = "NONE"
	TaskStatusAccepted  TaskStatus = "ACCEPTED"
	TaskStatusExecuting TaskStatus = "EXECUTING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
	TaskStatusError     TaskStatus = "ERROR"
)

// Terminal reports whether the status is a final one that permits the
// task facet to be cleared.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusError:
		return true
	}
	return false
}

// DroneState is the state store's record for one drone. The store owns
// the canonical copy; readers always receive a value copy.
//
// Invariants maintained by the store:
//   - if CurrentTaskID is empty, TaskStatus is NONE or terminal
//   - TaskProgress is non-decreasing while (CurrentTaskID, EXECUTING)
//     is unchanged
//   - LastUpdate never moves backwards
type DroneState struct {
	DroneID          string
	ConnectionString string

	Position *Position

	// PositionStale marks Position as a cached last-known-good fix.
	PositionStale bool

	Velocity       *VelocityNED
	HeadingDeg     float64
	SpeedMps       float64
	BatteryPct     float64
	BatteryVoltage float64
	Armed          bool
	FlightMode     string
	GPSFixType     int

	CurrentTaskID string
	TaskStatus    TaskStatus
	TaskProgress  float64

	LastUpdate     time.Time
	ConnectedSince time.Time
}

// Copy returns a deep copy of the state.
func (d *DroneState) Copy() *DroneState {
	if d == nil {
		return nil
	}
	nd := *d
	if d.Position != nil {
		p := *d.Position
		nd.Position = &p
	}
	if d.Velocity != nil {
		v := *d.Velocity
		nd.Velocity = &v
	}
	return &nd
}

// TaskState is the agent's lifecycle state for a tracked task.
type TaskState string

const (
	TaskStateAccepted  TaskState = "ACCEPTED"
	TaskStateExecuting TaskState = "EXECUTING"
	TaskStateCompleted TaskState = "COMPLETED"
	TaskStateFailed    TaskState = "FAILED"
	TaskStateCancelled TaskState = "CANCELLED"
)

// Task is the agent-owned record of a task assigned by the C2.
type Task struct {
	ID        string
	DroneID   string
	Kind      TaskKind
	Params    TaskParams
	State     TaskState
	StartTime time.Time
}
