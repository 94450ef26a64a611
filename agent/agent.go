// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package agent runs the task side of the bridge: it long polls the C2
// for requests addressed to the managed drones, acknowledges and
// executes taskings, and reports the status sequence back.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/drone"
	"github.com/skyfleet/latticebridge/helper"
	"github.com/skyfleet/latticebridge/lattice"
	"github.com/skyfleet/latticebridge/state"
	"github.com/skyfleet/latticebridge/structs"
	"github.com/skyfleet/latticebridge/tasks"
)

const (
	// defaultWilcoDelay spaces the ACK and WILCO updates so the C2
	// observes them as distinct transitions.
	defaultWilcoDelay = 100 * time.Millisecond

	// defaultRetention keeps a terminal task's record around so late
	// duplicate requests for it are recognized instead of re-run.
	defaultRetention = 60 * time.Second

	// Listen loop error handling: every consecutive error waits, the
	// delay doubling from backoffBase up to backoffLimit, with jitter.
	backoffBase   = 1 * time.Second
	backoffLimit  = 60 * time.Second
	backoffJitter = 0.10

	// statusTimeout bounds terminal status updates, which run on
	// their own context because the task's is usually dead by then.
	statusTimeout = 10 * time.Second
)

// C2 is the slice of the lattice client the agent uses.
type C2 interface {
	ListenAsAgent(ctx context.Context, ids []string) (*lattice.AgentRequest, error)
	UpdateTaskStatus(ctx context.Context, taskID, status string, progress float64, authorEntityID string) error
}

// ControllerLookup resolves a drone id to its flight controller.
type ControllerLookup func(droneID string) (drone.Controller, bool)

// Config configures an Agent.
type Config struct {
	Store       *state.Store
	C2          C2
	Controllers ControllerLookup
	Registry    *tasks.Registry
	Routes      RouteTable

	// EntityIDs are the drone entity ids to listen on behalf of.
	EntityIDs []string

	Logger hclog.Logger

	// WilcoDelay and Retention override the defaults when positive;
	// tests shrink them.
	WilcoDelay time.Duration
	Retention  time.Duration
}

// Agent is the task manager. One listen loop feeds a per-task runner
// goroutine; every accepted task emits exactly one terminal status.
type Agent struct {
	store       *state.Store
	c2          C2
	controllers ControllerLookup
	registry    *tasks.Registry
	routes      RouteTable
	entityIDs   []string
	logger      hclog.Logger

	wilcoDelay time.Duration
	retention  time.Duration

	lock   sync.Mutex
	active map[string]*activeTask

	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// activeTask tracks one accepted task. finishOnce guarantees a single
// terminal status regardless of which path ends the task.
type activeTask struct {
	task       *structs.Task
	cancel     context.CancelFunc
	finishOnce sync.Once
}

// New builds an agent.
func New(cfg Config) *Agent {
	if cfg.WilcoDelay <= 0 {
		cfg.WilcoDelay = defaultWilcoDelay
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes()
	}
	return &Agent{
		store:       cfg.Store,
		c2:          cfg.C2,
		controllers: cfg.Controllers,
		registry:    cfg.Registry,
		routes:      cfg.Routes,
		entityIDs:   cfg.EntityIDs,
		logger:      cfg.Logger.Named("agent"),
		wilcoDelay:  cfg.WilcoDelay,
		retention:   cfg.Retention,
		active:      make(map[string]*activeTask),
	}
}

// Start launches the listen loop.
func (a *Agent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.runCtx = ctx
	a.wg.Add(1)
	go a.listen(ctx)
	a.logger.Info("started", "entities", len(a.entityIDs))
}

// Stop cancels every active task and halts the listen loop.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.lock.Lock()
		actives := make([]*activeTask, 0, len(a.active))
		for _, at := range a.active {
			actives = append(actives, at)
		}
		a.lock.Unlock()

		for _, at := range actives {
			a.finishTask(at, lattice.StatusDoneNotOK, 0, structs.TaskStatusCancelled)
			at.cancel()
		}

		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		a.logger.Info("stopped")
	})
}

// listen long polls the C2 and dispatches whatever arrives. Poll
// timeouts are routine and re-poll immediately; real errors back off
// exponentially from the first failure.
func (a *Agent) listen(ctx context.Context) {
	defer a.wg.Done()

	consecutive := 0
	for ctx.Err() == nil {
		req, err := a.c2.ListenAsAgent(ctx, a.entityIDs)
		switch {
		case errors.Is(err, lattice.ErrListenTimeout):
			consecutive = 0
			continue
		case ctx.Err() != nil:
			return
		case err != nil:
			consecutive++
			metrics.IncrCounter([]string{"agent", "listen", "error"}, 1)
			// A fast-failing endpoint must not be hammered: even the
			// first error waits the base delay before the retry.
			wait := helper.Backoff(backoffBase, backoffLimit, uint64(consecutive-1))
			wait += helper.RandomStagger(time.Duration(float64(wait) * backoffJitter))
			a.logger.Warn("listen failed, backing off",
				"consecutive_errors", consecutive, "wait", wait, "error", err)
			if sleepCtx(ctx, wait) != nil {
				return
			}
			continue
		}

		consecutive = 0
		a.dispatch(ctx, req)
	}
}

func (a *Agent) dispatch(ctx context.Context, req *lattice.AgentRequest) {
	switch {
	case req.IsKeepAlive():
		a.logger.Trace("listen keep-alive")
	case req.CancelRequest != nil:
		a.handleCancel(req.CancelRequest.TaskID)
	case req.CompleteRequest != nil:
		a.handleComplete(req.CompleteRequest.TaskID)
	case req.ExecuteRequest != nil:
		a.handleExecute(ctx, req.ExecuteRequest)
	}
}

func (a *Agent) handleCancel(taskID string) {
	if taskID == "" {
		a.logger.Warn("cancel request without task id")
		return
	}
	at := a.lookup(taskID)
	if at == nil {
		a.logger.Debug("cancel for unknown task", "task_id", taskID)
		return
	}
	a.logger.Info("cancelling task", "task_id", taskID, "drone_id", at.task.DroneID)
	a.finishTask(at, lattice.StatusDoneNotOK, 0, structs.TaskStatusCancelled)
	at.cancel()
}

func (a *Agent) handleComplete(taskID string) {
	if taskID == "" {
		a.logger.Warn("complete request without task id")
		return
	}
	at := a.lookup(taskID)
	if at == nil {
		a.logger.Debug("complete for unknown task", "task_id", taskID)
		return
	}
	a.logger.Info("completing task on request", "task_id", taskID, "drone_id", at.task.DroneID)
	a.finishTask(at, lattice.StatusDoneOK, 1.0, structs.TaskStatusCompleted)
	at.cancel()
}

func (a *Agent) handleExecute(ctx context.Context, req *lattice.ExecuteRequest) {
	taskID := req.TaskID()
	if taskID == "" {
		a.logger.Error("execute request without task id")
		return
	}
	if a.lookup(taskID) != nil {
		a.logger.Debug("duplicate execute request", "task_id", taskID)
		return
	}

	droneID := req.AssigneeEntityID()
	if droneID == "" {
		a.reject(taskID, "", "missing assignee entity id")
		return
	}
	ctrl, ok := a.controllers(droneID)
	if !ok {
		a.reject(taskID, droneID, "drone not available")
		return
	}
	if st := a.store.Get(droneID); st != nil && st.CurrentTaskID != "" && !st.TaskStatus.Terminal() {
		a.reject(taskID, droneID, "drone is busy with task "+st.CurrentTaskID)
		return
	}

	specURL := req.SpecificationURL()
	kind := a.routes.Resolve(specURL)
	var specValue map[string]any
	if req.Task != nil && req.Task.Specification != nil {
		specValue = req.Task.Specification.Value
	}
	params := decodeParams(kind, specValue)
	if err := params.Validate(); err != nil {
		a.reject(taskID, droneID, "invalid parameters: "+err.Error())
		return
	}

	executor, ok := a.registry.Lookup(kind)
	if !ok {
		a.reject(taskID, droneID, "no executor for kind "+string(kind))
		return
	}

	a.logger.Info("accepted task", "task_id", taskID, "drone_id", droneID,
		"kind", kind, "spec_url", specURL)
	metrics.IncrCounter([]string{"agent", "task", "accepted"}, 1)

	task := &structs.Task{
		ID:        taskID,
		DroneID:   droneID,
		Kind:      kind,
		Params:    params,
		State:     structs.TaskStateAccepted,
		StartTime: time.Now().UTC(),
	}
	taskCtx, taskCancel := context.WithCancel(ctx)
	at := &activeTask{task: task, cancel: taskCancel}

	a.lock.Lock()
	a.active[taskID] = at
	a.lock.Unlock()

	a.store.UpdateTaskStatus(droneID, taskID, structs.TaskStatusAccepted, 0)
	a.updateStatus(taskID, lattice.StatusAck, 0, droneID)

	a.wg.Add(1)
	go a.runTask(taskCtx, at, executor, ctrl)
}

// runTask drives one task from WILCO to its terminal status.
func (a *Agent) runTask(ctx context.Context, at *activeTask, executor tasks.Executor, ctrl drone.Controller) {
	defer a.wg.Done()

	task := at.task
	logger := a.logger.With("task_id", task.ID, "drone_id", task.DroneID)

	if sleepCtx(ctx, a.wilcoDelay) != nil {
		a.retire(at)
		return
	}
	a.updateStatus(task.ID, lattice.StatusWilco, 0, task.DroneID)
	a.updateStatus(task.ID, lattice.StatusExecuting, 0, task.DroneID)
	a.store.UpdateTaskStatus(task.DroneID, task.ID, structs.TaskStatusExecuting, 0)
	task.State = structs.TaskStateExecuting

	progress := func(fraction float64) {
		// A drone disarmed mid-task cannot finish it; fail fast
		// instead of letting the executor grind on.
		if snap := ctrl.Telemetry(); snap != nil && !snap.Armed {
			logger.Error("drone disarmed during task, failing")
			a.finishTask(at, lattice.StatusDoneNotOK, 0, structs.TaskStatusFailed)
			at.cancel()
			return
		}
		a.store.UpdateTaskStatus(task.DroneID, task.ID, structs.TaskStatusExecuting, fraction)
		a.updateStatus(task.ID, lattice.StatusExecuting, fraction, task.DroneID)
	}

	err := executor.Execute(ctx, ctrl, &task.Params, progress)
	switch {
	case err == nil:
		logger.Info("task completed")
		metrics.IncrCounter([]string{"agent", "task", "completed"}, 1)
		a.finishTask(at, lattice.StatusDoneOK, 1.0, structs.TaskStatusCompleted)
	case ctx.Err() != nil:
		// Cancel, complete, or disarm already finished the task; this
		// is a no-op unless the agent itself is shutting down.
		a.finishTask(at, lattice.StatusDoneNotOK, 0, structs.TaskStatusCancelled)
	default:
		logger.Error("task failed", "error", err)
		metrics.IncrCounter([]string{"agent", "task", "failed"}, 1)
		a.finishTask(at, lattice.StatusDoneNotOK, 0, structs.TaskStatusFailed)
	}

	a.retire(at)
}

// finishTask emits the task's one terminal status and clears the
// drone's task facet. Subsequent calls are no-ops.
func (a *Agent) finishTask(at *activeTask, status string, progress float64, storeStatus structs.TaskStatus) {
	at.finishOnce.Do(func() {
		task := at.task
		switch storeStatus {
		case structs.TaskStatusCompleted:
			task.State = structs.TaskStateCompleted
		case structs.TaskStatusCancelled:
			task.State = structs.TaskStateCancelled
		default:
			task.State = structs.TaskStateFailed
		}
		a.updateStatus(task.ID, status, progress, task.DroneID)
		a.store.UpdateTaskStatus(task.DroneID, "", storeStatus, progress)
	})
}

// retire removes the task record after the retention window so late
// duplicates are still recognized in the meantime.
func (a *Agent) retire(at *activeTask) {
	timer, stop := helper.NewSafeTimer(a.retention)
	defer stop()
	select {
	case <-timer.C:
	case <-a.runCtx.Done():
	}

	a.lock.Lock()
	delete(a.active, at.task.ID)
	a.lock.Unlock()
}

func (a *Agent) reject(taskID, droneID, reason string) {
	a.logger.Warn("rejecting task", "task_id", taskID, "drone_id", droneID, "reason", reason)
	metrics.IncrCounter([]string{"agent", "task", "rejected"}, 1)
	a.updateStatus(taskID, lattice.StatusDoneNotOK, 0, droneID)
}

func (a *Agent) updateStatus(taskID, status string, progress float64, author string) {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := a.c2.UpdateTaskStatus(ctx, taskID, status, progress, author); err != nil {
		a.logger.Warn("task status update failed",
			"task_id", taskID, "status", status, "error", err)
	}
}

func (a *Agent) lookup(taskID string) *activeTask {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.active[taskID]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
