// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package state keeps the process-wide view of every managed drone.
// The store is the only mutable structure shared between the session,
// publisher, and agent; everything else is owned by exactly one
// goroutine.
package state

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/skyfleet/latticebridge/structs"
)

// notifyBuffer is the per-subscriber channel depth. Delivery is
// best-effort: a subscriber that falls this far behind loses events
// rather than blocking writers.
const notifyBuffer = 64

// Change describes one committed state transition.
type Change struct {
	DroneID string
	Old     *structs.DroneState
	New     *structs.DroneState
}

// Store is a concurrent-safe map of drone id to DroneState. Writes are
// serialized under one lock; readers receive value copies. Change
// notifications are dispatched after commit, outside the lock.
type Store struct {
	logger hclog.Logger

	lock   sync.RWMutex
	drones map[string]*structs.DroneState

	subLock sync.Mutex
	subs    []chan Change
}

// NewStore creates an empty store.
func NewStore(logger hclog.Logger) *Store {
	return &Store{
		logger: logger.Named("state"),
		drones: make(map[string]*structs.DroneState),
	}
}

// Register creates the record for a drone. Re-registering resets the
// record.
func (s *Store) Register(cfg *structs.DroneConfig) {
	now := time.Now().UTC()

	s.lock.Lock()
	old := s.drones[cfg.ID]
	st := &structs.DroneState{
		DroneID:          cfg.ID,
		ConnectionString: cfg.ConnectionString,
		TaskStatus:       structs.TaskStatusNone,
		GPSFixType:       -1,
		LastUpdate:       now,
		ConnectedSince:   now,
	}
	s.drones[cfg.ID] = st
	newCopy := st.Copy()
	s.lock.Unlock()

	s.logger.Info("registered drone", "drone_id", cfg.ID)
	s.notify(Change{DroneID: cfg.ID, Old: old.Copy(), New: newCopy})
}

// Unregister removes a drone's record.
func (s *Store) Unregister(droneID string) {
	s.lock.Lock()
	old := s.drones[droneID]
	delete(s.drones, droneID)
	s.lock.Unlock()

	if old != nil {
		s.logger.Info("unregistered drone", "drone_id", droneID)
		s.notify(Change{DroneID: droneID, Old: old.Copy(), New: nil})
	}
}

// Get returns a copy of a drone's state, or nil if unknown.
func (s *Store) Get(droneID string) *structs.DroneState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.drones[droneID].Copy()
}

// List returns a copy of every drone state.
func (s *Store) List() []*structs.DroneState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]*structs.DroneState, 0, len(s.drones))
	for _, st := range s.drones {
		out = append(out, st.Copy())
	}
	return out
}

// UpdateTelemetry merges the non-empty fields of a telemetry snapshot
// into the drone's record.
func (s *Store) UpdateTelemetry(droneID string, snap *structs.TelemetrySnapshot) {
	if snap == nil {
		return
	}

	s.lock.Lock()
	st, ok := s.drones[droneID]
	if !ok {
		s.lock.Unlock()
		s.logger.Warn("telemetry update for unknown drone", "drone_id", droneID)
		return
	}
	old := st.Copy()

	if snap.Position != nil {
		p := *snap.Position
		st.Position = &p
		st.PositionStale = snap.PositionStale
	}
	if snap.Velocity != nil {
		v := *snap.Velocity
		st.Velocity = &v
	}
	st.HeadingDeg = snap.HeadingDeg
	st.SpeedMps = snap.SpeedMps
	if snap.BatteryPct > 0 {
		st.BatteryPct = snap.BatteryPct
	}
	if snap.BatteryVoltage > 0 {
		st.BatteryVoltage = snap.BatteryVoltage
	}
	st.Armed = snap.Armed
	if snap.FlightMode != "" {
		st.FlightMode = snap.FlightMode
	}
	if snap.GPSFixType >= 0 {
		st.GPSFixType = snap.GPSFixType
	}
	st.LastUpdate = maxTime(st.LastUpdate, time.Now().UTC())

	newCopy := st.Copy()
	s.lock.Unlock()

	s.notify(Change{DroneID: droneID, Old: old, New: newCopy})
}

// UpdateTaskStatus atomically updates the task facet of a drone's
// record. Progress regressions are dropped while the same task remains
// EXECUTING, preserving the monotonic progress invariant.
func (s *Store) UpdateTaskStatus(droneID, taskID string, status structs.TaskStatus, progress float64) {
	s.lock.Lock()
	st, ok := s.drones[droneID]
	if !ok {
		s.lock.Unlock()
		s.logger.Warn("task status update for unknown drone", "drone_id", droneID)
		return
	}
	old := st.Copy()

	sameExecuting := st.CurrentTaskID == taskID &&
		st.TaskStatus == structs.TaskStatusExecuting &&
		status == structs.TaskStatusExecuting
	if sameExecuting && progress < st.TaskProgress {
		s.lock.Unlock()
		s.logger.Debug("dropping task progress regression",
			"drone_id", droneID, "task_id", taskID,
			"have", st.TaskProgress, "got", progress)
		return
	}

	st.CurrentTaskID = taskID
	st.TaskStatus = status
	st.TaskProgress = progress
	if taskID == "" && !status.Terminal() && status != structs.TaskStatusNone {
		// A cleared task id only pairs with NONE or a terminal
		// status.
		st.TaskStatus = structs.TaskStatusNone
	}
	st.LastUpdate = maxTime(st.LastUpdate, time.Now().UTC())

	newCopy := st.Copy()
	s.lock.Unlock()

	if old.TaskStatus != status || old.CurrentTaskID != taskID {
		s.logger.Info("task status changed", "drone_id", droneID,
			"task_id", taskID, "status", status, "progress", progress)
	}
	s.notify(Change{DroneID: droneID, Old: old, New: newCopy})
}

// Subscribe returns a channel of committed changes. The channel is
// closed by Unsubscribe. Slow subscribers lose events instead of
// blocking writers.
func (s *Store) Subscribe() <-chan Change {
	ch := make(chan Change, notifyBuffer)
	s.subLock.Lock()
	s.subs = append(s.subs, ch)
	s.subLock.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (s *Store) Unsubscribe(ch <-chan Change) {
	s.subLock.Lock()
	defer s.subLock.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (s *Store) notify(change Change) {
	s.subLock.Lock()
	defer s.subLock.Unlock()
	for _, sub := range s.subs {
		select {
		case sub <- change:
		default:
			// subscriber is behind; drop rather than block
		}
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
