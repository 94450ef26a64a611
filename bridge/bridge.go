// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package bridge is the supervisor that wires the whole process
// together: one session per drone, the entity publisher, the task
// agent, and the health loop that keeps sessions alive.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-uuid"

	"github.com/skyfleet/latticebridge/agent"
	"github.com/skyfleet/latticebridge/config"
	"github.com/skyfleet/latticebridge/drone"
	"github.com/skyfleet/latticebridge/lattice"
	"github.com/skyfleet/latticebridge/mavlink"
	"github.com/skyfleet/latticebridge/publisher"
	"github.com/skyfleet/latticebridge/state"
	"github.com/skyfleet/latticebridge/structs"
	"github.com/skyfleet/latticebridge/tasks"
)

// mockDroneID names the synthesized vehicle when mock mode runs with
// an empty drone list.
const mockDroneID = "sim-1"

// ControllerFactory builds the flight controller for one drone.
// Production uses the MAVLink adapter; mock mode and tests substitute
// simulated vehicles.
type ControllerFactory func(cfg *structs.DroneConfig) drone.Controller

// Bridge supervises the full middleware process.
type Bridge struct {
	cfg    *config.Config
	logger hclog.Logger

	store    *state.Store
	c2       *lattice.Client
	sessions map[string]*drone.Session
	pub      *publisher.Publisher
	agt      *agent.Agent

	newController ControllerFactory
}

// New builds a bridge from configuration.
func New(cfg *config.Config, logger hclog.Logger) (*Bridge, error) {
	c2, err := lattice.NewClient(lattice.Config{
		URL:                 cfg.Lattice.URL,
		EnvironmentToken:    cfg.Lattice.EnvironmentToken,
		SandboxToken:        cfg.Lattice.SandboxToken,
		IntegrationName:     cfg.Lattice.IntegrationName,
		PublishInfoInterval: cfg.Lattice.PublishInfoInterval(),
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	// A fresh run id per process distinguishes restarts in aggregated
	// logs.
	runID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:      cfg,
		logger:   logger.Named("bridge").With("run_id", runID),
		store:    state.NewStore(logger),
		c2:       c2,
		sessions: make(map[string]*drone.Session),
	}
	b.newController = b.defaultController
	return b, nil
}

func (b *Bridge) defaultController(dc *structs.DroneConfig) drone.Controller {
	if b.cfg.Mock {
		sim := drone.NewSimulatedController()
		// Mock vehicles spawn with a fix so the publisher has
		// something to report immediately.
		sim.SetPosition(structs.Position{
			LatitudeDeg:  47.397742,
			LongitudeDeg: 8.545594,
			AltitudeAMSL: 488,
		})
		return sim
	}
	return mavlink.NewController(mavlink.Config{
		DroneID:          dc.ID,
		ConnectionString: dc.ConnectionString,
		Logger:           b.logger,
	})
}

// SetControllerFactory overrides vehicle construction; tests use it.
func (b *Bridge) SetControllerFactory(f ControllerFactory) {
	b.newController = f
}

// Store exposes the state store, mainly for tests and diagnostics.
func (b *Bridge) Store() *state.Store {
	return b.store
}

// Run starts everything and blocks until ctx is cancelled, then shuts
// down in dependency order: agent, publisher, sessions, C2.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.c2.Connect(); err != nil {
		return err
	}
	defer b.c2.Disconnect()

	droneConfigs := b.cfg.Drones
	if len(droneConfigs) == 0 && b.cfg.Mock {
		droneConfigs = []*structs.DroneConfig{{
			ID:               mockDroneID,
			ConnectionString: "mock://local",
		}}
	}

	// Sessions start sequentially; one failing vehicle must not take
	// down the fleet.
	for _, dc := range droneConfigs {
		sess := drone.NewSession(drone.SessionConfig{
			DroneConfig: dc,
			Controller:  b.newController(dc),
			Sink:        b.store,
			Logger:      b.logger,
		})
		b.store.Register(dc)
		if err := sess.Start(ctx); err != nil {
			b.logger.Error("session failed to start, skipping drone",
				"drone_id", dc.ID, "error", err)
			metrics.IncrCounter([]string{"bridge", "session", "start_error"}, 1)
			b.store.Unregister(dc.ID)
			continue
		}
		b.sessions[dc.ID] = sess
	}
	defer b.stopSessions()

	if len(b.sessions) == 0 {
		return fmt.Errorf("no drone session could be started")
	}
	b.logger.Info("sessions up", "count", len(b.sessions))

	entityIDs := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		entityIDs = append(entityIDs, id)
	}

	b.pub = publisher.New(publisher.Config{
		Store:            b.store,
		C2:               b.c2,
		Logger:           b.logger,
		PositionInterval: b.cfg.PositionInterval(),
		EntityInterval:   b.cfg.EntityInterval(),
	})
	b.pub.Start(ctx)
	defer b.pub.Stop()

	b.agt = agent.New(agent.Config{
		Store:       b.store,
		C2:          b.c2,
		Controllers: b.controllerFor,
		Registry:    tasks.NewRegistry(b.logger),
		EntityIDs:   entityIDs,
		Logger:      b.logger,
	})
	b.agt.Start(ctx)
	defer b.agt.Stop()

	b.healthLoop(ctx)
	b.logger.Info("shutting down")
	return nil
}

func (b *Bridge) controllerFor(droneID string) (drone.Controller, bool) {
	sess, ok := b.sessions[droneID]
	if !ok {
		return nil, false
	}
	return sess.Controller(), true
}

func (b *Bridge) stopSessions() {
	for _, sess := range b.sessions {
		sess.Stop()
	}
}

// healthLoop periodically checks session link liveness and attempts
// reconnects until ctx ends.
func (b *Bridge) healthLoop(ctx context.Context) {
	interval := b.cfg.HealthCheckInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.checkSessions(ctx)
		}
	}
}

func (b *Bridge) checkSessions(ctx context.Context) {
	for id, sess := range b.sessions {
		if sess.Connected() {
			continue
		}
		b.logger.Warn("session link down, reconnecting", "drone_id", id)
		metrics.IncrCounter([]string{"bridge", "session", "link_down"}, 1)

		reconnectCtx, cancel := context.WithTimeout(ctx, b.cfg.HealthCheckInterval())
		err := sess.Reconnect(reconnectCtx)
		cancel()
		if err != nil {
			b.logger.Error("session reconnect failed", "drone_id", id, "error", err)
			continue
		}
		b.logger.Info("session reconnected", "drone_id", id)
	}
}
