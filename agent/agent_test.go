// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"

	"github.com/skyfleet/latticebridge/drone"
	"github.com/skyfleet/latticebridge/helper/testlog"
	"github.com/skyfleet/latticebridge/lattice"
	"github.com/skyfleet/latticebridge/state"
	"github.com/skyfleet/latticebridge/structs"
	"github.com/skyfleet/latticebridge/tasks"
)

type statusUpdate struct {
	taskID   string
	status   string
	progress float64
	author   string
}

type fakeC2 struct {
	lock    sync.Mutex
	updates []statusUpdate
	reqs    chan *lattice.AgentRequest

	listenErr   error
	listenCalls int
	listenTimes []time.Time
}

func newFakeC2() *fakeC2 {
	return &fakeC2{reqs: make(chan *lattice.AgentRequest, 8)}
}

func (f *fakeC2) ListenAsAgent(ctx context.Context, ids []string) (*lattice.AgentRequest, error) {
	f.lock.Lock()
	f.listenCalls++
	f.listenTimes = append(f.listenTimes, time.Now())
	err := f.listenErr
	f.lock.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case r := <-f.reqs:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeC2) UpdateTaskStatus(_ context.Context, taskID, status string, progress float64, author string) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.updates = append(f.updates, statusUpdate{taskID, status, progress, author})
	return nil
}

func (f *fakeC2) statuses(taskID string) []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	var out []string
	for _, u := range f.updates {
		if u.taskID == taskID {
			out = append(out, u.status)
		}
	}
	return out
}

func (f *fakeC2) terminalCount(taskID string) int {
	n := 0
	for _, s := range f.statuses(taskID) {
		if s == lattice.StatusDoneOK || s == lattice.StatusDoneNotOK {
			n++
		}
	}
	return n
}

func executeRequest(taskID, droneID, specURL string, value map[string]any) *lattice.AgentRequest {
	return &lattice.AgentRequest{
		ExecuteRequest: &lattice.ExecuteRequest{
			Task: &lattice.TaskView{
				Version:       &lattice.TaskVersion{TaskID: taskID},
				Specification: &lattice.Specification{Type: specURL, Value: value},
				Relations: &lattice.Relations{
					Assignee: &lattice.Principal{System: &lattice.System{EntityID: droneID}},
				},
			},
		},
	}
}

type agentHarness struct {
	agent *Agent
	c2    *fakeC2
	store *state.Store
	sim   *drone.SimulatedController
}

func newHarness(t *testing.T, ctrl drone.Controller) *agentHarness {
	t.Helper()

	logger := testlog.HCLogger(t)
	store := state.NewStore(logger)
	store.Register(&structs.DroneConfig{ID: "alpha", ConnectionString: "udp://:14550"})

	sim, _ := ctrl.(*drone.SimulatedController)
	c2 := newFakeC2()

	a := New(Config{
		Store: store,
		C2:    c2,
		Controllers: func(id string) (drone.Controller, bool) {
			if id == "alpha" {
				return ctrl, true
			}
			return nil, false
		},
		Registry:   tasks.NewRegistry(logger),
		EntityIDs:  []string{"alpha"},
		Logger:     logger,
		WilcoDelay: time.Millisecond,
		Retention:  50 * time.Millisecond,
	})
	a.Start(context.Background())
	t.Cleanup(a.Stop)

	return &agentHarness{agent: a, c2: c2, store: store, sim: sim}
}

func airborneSim() *drone.SimulatedController {
	sim := drone.NewSimulatedController()
	sim.SetPosition(structs.Position{
		LatitudeDeg:  47.397742,
		LongitudeDeg: 8.545594,
		AltitudeAGLM: 50,
		AltitudeAMSL: 550,
	})
	sim.SetArmed(true)
	return sim
}

func waitForStatus(t *testing.T, c2 *fakeC2, taskID, status string) {
	t.Helper()
	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool {
			for _, s := range c2.statuses(taskID) {
				if s == status {
					return true
				}
			}
			return false
		}),
		wait.Timeout(5*time.Second),
		wait.Gap(10*time.Millisecond),
	))
}

func TestAgent_executeMapping(t *testing.T) {
	h := newHarness(t, airborneSim())

	h.c2.reqs <- executeRequest("t1", "alpha", lattice.SpecURLVisualID, nil)
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneOK)

	// The full sequence arrives in order with one terminal status.
	statuses := h.c2.statuses("t1")
	must.Eq(t, lattice.StatusAck, statuses[0])
	must.Eq(t, lattice.StatusWilco, statuses[1])
	must.Eq(t, lattice.StatusExecuting, statuses[2])
	must.Eq(t, lattice.StatusDoneOK, statuses[len(statuses)-1])
	must.Eq(t, 1, h.c2.terminalCount("t1"))

	// The store's task facet is cleared with a terminal status.
	st := h.store.Get("alpha")
	must.Eq(t, "", st.CurrentTaskID)
	must.Eq(t, structs.TaskStatusCompleted, st.TaskStatus)
}

func TestAgent_rejectsUnknownDrone(t *testing.T) {
	h := newHarness(t, airborneSim())

	h.c2.reqs <- executeRequest("t1", "ghost", lattice.SpecURLVisualID, nil)
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneNotOK)

	statuses := h.c2.statuses("t1")
	must.Eq(t, []string{lattice.StatusDoneNotOK}, statuses)
}

func TestAgent_rejectsInvalidParams(t *testing.T) {
	h := newHarness(t, airborneSim())

	// Relay without a relay position cannot fly.
	h.c2.reqs <- executeRequest("t1", "alpha", "anduril.tasks.v2.Relay", nil)
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneNotOK)
	must.Eq(t, []string{lattice.StatusDoneNotOK}, h.c2.statuses("t1"))
}

func TestAgent_cancel(t *testing.T) {
	h := newHarness(t, airborneSim())

	// A long relay gives the cancel something to interrupt.
	h.c2.reqs <- executeRequest("t1", "alpha", "anduril.tasks.v2.Relay", map[string]any{
		"relay_position": map[string]any{"lat": 47.4, "lon": 8.55},
		"duration":       300.0,
	})
	waitForStatus(t, h.c2, "t1", lattice.StatusExecuting)

	h.c2.reqs <- &lattice.AgentRequest{CancelRequest: &lattice.CancelRequest{TaskID: "t1"}}
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneNotOK)

	must.Eq(t, 1, h.c2.terminalCount("t1"))
	st := h.store.Get("alpha")
	must.Eq(t, structs.TaskStatusCancelled, st.TaskStatus)
}

func TestAgent_completeRequest(t *testing.T) {
	h := newHarness(t, airborneSim())

	h.c2.reqs <- executeRequest("t1", "alpha", "anduril.tasks.v2.Relay", map[string]any{
		"relay_position": map[string]any{"lat": 47.4, "lon": 8.55},
		"duration":       300.0,
	})
	waitForStatus(t, h.c2, "t1", lattice.StatusExecuting)

	h.c2.reqs <- &lattice.AgentRequest{CompleteRequest: &lattice.CompleteRequest{TaskID: "t1"}}
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneOK)

	must.Eq(t, 1, h.c2.terminalCount("t1"))
	st := h.store.Get("alpha")
	must.Eq(t, structs.TaskStatusCompleted, st.TaskStatus)
}

func TestAgent_cancelUnknownTask(t *testing.T) {
	h := newHarness(t, airborneSim())

	h.c2.reqs <- &lattice.AgentRequest{CancelRequest: &lattice.CancelRequest{TaskID: "nope"}}
	h.c2.reqs <- executeRequest("t1", "alpha", lattice.SpecURLVisualID, nil)
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneOK)

	must.Len(t, 0, h.c2.statuses("nope"))
}

func TestAgent_duplicateExecuteIgnored(t *testing.T) {
	h := newHarness(t, airborneSim())

	h.c2.reqs <- executeRequest("t1", "alpha", "anduril.tasks.v2.Relay", map[string]any{
		"relay_position": map[string]any{"lat": 47.4, "lon": 8.55},
		"duration":       300.0,
	})
	waitForStatus(t, h.c2, "t1", lattice.StatusExecuting)
	h.c2.reqs <- executeRequest("t1", "alpha", "anduril.tasks.v2.Relay", map[string]any{
		"relay_position": map[string]any{"lat": 47.4, "lon": 8.55},
	})

	h.c2.reqs <- &lattice.AgentRequest{CancelRequest: &lattice.CancelRequest{TaskID: "t1"}}
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneNotOK)

	acks := 0
	for _, s := range h.c2.statuses("t1") {
		if s == lattice.StatusAck {
			acks++
		}
	}
	must.Eq(t, 1, acks)
}

func TestAgent_busyDroneRejected(t *testing.T) {
	h := newHarness(t, airborneSim())

	h.c2.reqs <- executeRequest("t1", "alpha", "anduril.tasks.v2.Relay", map[string]any{
		"relay_position": map[string]any{"lat": 47.4, "lon": 8.55},
		"duration":       300.0,
	})
	waitForStatus(t, h.c2, "t1", lattice.StatusExecuting)

	h.c2.reqs <- executeRequest("t2", "alpha", lattice.SpecURLVisualID, nil)
	waitForStatus(t, h.c2, "t2", lattice.StatusDoneNotOK)
	must.Eq(t, []string{lattice.StatusDoneNotOK}, h.c2.statuses("t2"))
}

// disarmedController reports the vehicle disarmed no matter what
// commands succeed, simulating a mid-task safety disarm.
type disarmedController struct {
	*drone.SimulatedController
}

func (d *disarmedController) Telemetry() *structs.TelemetrySnapshot {
	snap := d.SimulatedController.Telemetry()
	snap.Armed = false
	return snap
}

func TestAgent_disarmFailsTask(t *testing.T) {
	sim := airborneSim()
	h := newHarness(t, &disarmedController{sim})

	h.c2.reqs <- executeRequest("t1", "alpha", lattice.SpecURLVisualID, nil)
	waitForStatus(t, h.c2, "t1", lattice.StatusDoneNotOK)

	must.Eq(t, 1, h.c2.terminalCount("t1"))
	st := h.store.Get("alpha")
	must.Eq(t, structs.TaskStatusFailed, st.TaskStatus)
}

func TestAgent_listenTimeoutIsQuiet(t *testing.T) {
	logger := testlog.HCLogger(t)
	store := state.NewStore(logger)
	c2 := newFakeC2()
	c2.listenErr = lattice.ErrListenTimeout

	a := New(Config{
		Store:       store,
		C2:          c2,
		Controllers: func(string) (drone.Controller, bool) { return nil, false },
		Registry:    tasks.NewRegistry(logger),
		EntityIDs:   []string{"alpha"},
		Logger:      logger,
	})
	a.Start(context.Background())
	defer a.Stop()

	// Timeouts re-poll immediately without backoff.
	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool {
			c2.lock.Lock()
			defer c2.lock.Unlock()
			return c2.listenCalls > 10
		}),
		wait.Timeout(2*time.Second),
		wait.Gap(5*time.Millisecond),
	))
}

func TestAgent_listenErrorBacksOff(t *testing.T) {
	logger := testlog.HCLogger(t)
	store := state.NewStore(logger)
	c2 := newFakeC2()
	c2.listenErr = errors.New("boom")

	a := New(Config{
		Store:       store,
		C2:          c2,
		Controllers: func(string) (drone.Controller, bool) { return nil, false },
		Registry:    tasks.NewRegistry(logger),
		EntityIDs:   []string{"alpha"},
		Logger:      logger,
	})
	a.Start(context.Background())
	defer a.Stop()

	// Even the first failure waits the base delay, then the delay
	// doubles: gaps of roughly 1s and 2s before the second and third
	// calls. A fast-failing endpoint must never see back-to-back
	// retries.
	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool {
			c2.lock.Lock()
			defer c2.lock.Unlock()
			return c2.listenCalls >= 3
		}),
		wait.Timeout(8*time.Second),
		wait.Gap(10*time.Millisecond),
	))

	c2.lock.Lock()
	times := make([]time.Time, 3)
	copy(times, c2.listenTimes)
	c2.lock.Unlock()

	first := times[1].Sub(times[0])
	second := times[2].Sub(times[1])
	must.GreaterEq(t, time.Second, first)
	must.Less(t, 2*time.Second, first)
	must.GreaterEq(t, 2*time.Second, second)
	must.Less(t, 4*time.Second, second)
}
