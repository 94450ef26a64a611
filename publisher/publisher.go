// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package publisher keeps the C2 entity view of every drone fresh.
// Each publish upserts the complete entity; the two loops differ only
// in cadence.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/helper"
	"github.com/skyfleet/latticebridge/lattice"
	"github.com/skyfleet/latticebridge/state"
)

const (
	// defaultPositionInterval paces the fast track refresh (~3Hz).
	defaultPositionInterval = 333 * time.Millisecond

	// defaultEntityInterval is the floor cadence (~0.8Hz).
	defaultEntityInterval = 1250 * time.Millisecond

	// invalidWarnInterval rate limits the no-position warning per
	// drone.
	invalidWarnInterval = 10 * time.Second
)

// C2 is the slice of the lattice client the publisher uses.
type C2 interface {
	PublishEntity(ctx context.Context, e *lattice.Entity) error
	IntegrationName() string
}

// Config configures a Publisher. Zero intervals select the defaults.
type Config struct {
	Store  *state.Store
	C2     C2
	Logger hclog.Logger

	PositionInterval time.Duration
	EntityInterval   time.Duration
}

// Publisher runs one publish loop per drone registered in the store at
// Start time.
type Publisher struct {
	store  *state.Store
	c2     C2
	logger hclog.Logger

	positionInterval time.Duration
	entityInterval   time.Duration

	warnGate *helper.LogGate

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds a publisher.
func New(cfg Config) *Publisher {
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = defaultPositionInterval
	}
	if cfg.EntityInterval <= 0 {
		cfg.EntityInterval = defaultEntityInterval
	}
	return &Publisher{
		store:            cfg.Store,
		c2:               cfg.C2,
		logger:           cfg.Logger.Named("publisher"),
		positionInterval: cfg.PositionInterval,
		entityInterval:   cfg.EntityInterval,
		warnGate:         helper.NewLogGate(invalidWarnInterval),
	}
}

// Start launches the publish loops. The parent context stops them.
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	drones := p.store.List()
	p.logger.Info("starting", "drones", len(drones))
	for _, st := range drones {
		p.wg.Add(1)
		go p.run(ctx, st.DroneID)
	}
}

// Stop halts the publish loops and waits for them to drain.
func (p *Publisher) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.logger.Info("stopped")
	})
}

func (p *Publisher) run(ctx context.Context, droneID string) {
	defer p.wg.Done()

	logger := p.logger.With("drone_id", droneID)
	logger.Debug("publish loop started")

	// Two cadences, one payload: the position ticker keeps the track
	// fresh, the entity ticker guarantees a floor even when position
	// publishes fail. Every publish is a complete upsert.
	position := time.NewTicker(p.positionInterval)
	defer position.Stop()
	entity := time.NewTicker(p.entityInterval)
	defer entity.Stop()

	// Push immediately so the asset appears in the C2 without waiting
	// out the first tick.
	p.publish(ctx, logger, droneID)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("publish loop stopped")
			return
		case <-entity.C:
			p.publish(ctx, logger, droneID)
		case <-position.C:
			p.publish(ctx, logger, droneID)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, logger hclog.Logger, droneID string) {
	st := p.store.Get(droneID)
	if st == nil {
		return
	}

	entity := buildEntity(st, p.c2.IntegrationName(), time.Now().UTC())
	if entity == nil {
		metrics.IncrCounter([]string{"publisher", "skipped_invalid"}, 1)
		if p.warnGate.Allow(droneID) {
			logger.Warn("skipping publish, no valid position yet")
		}
		return
	}

	if err := p.c2.PublishEntity(ctx, entity); err != nil {
		metrics.IncrCounter([]string{"publisher", "publish_error"}, 1)
		if p.warnGate.Allow(droneID + "/error") {
			logger.Warn("entity publish failed", "error", err)
		}
		return
	}
	metrics.IncrCounter([]string{"publisher", "published"}, 1)
}
