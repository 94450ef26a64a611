// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package drone

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/structs"
)

const (
	// defaultSmoothAlpha is the low-pass coefficient for velocity and
	// speed. Higher is more responsive, lower is smoother.
	defaultSmoothAlpha = 0.2

	// headingAlphaScale damps heading harder than velocity to remove
	// twitch at low speeds.
	headingAlphaScale = 0.7

	// speedDeadbandMps clamps the smoothed speed to zero below this
	// threshold, so a hovering vehicle does not jitter around zero.
	speedDeadbandMps = 0.15

	// pumpInterval is the telemetry sampling cadence. The adapter
	// requests 5Hz streams, so sampling at the same rate loses
	// nothing.
	pumpInterval = 200 * time.Millisecond
)

// TelemetrySink receives the session's smoothed telemetry after every
// pump tick. The state store implements it.
type TelemetrySink interface {
	UpdateTelemetry(droneID string, snap *structs.TelemetrySnapshot)
}

// Session owns the controller for one drone and maintains smoothed,
// cache-backed telemetry on top of it.
type Session struct {
	config     *structs.DroneConfig
	controller Controller
	sink       TelemetrySink
	logger     hclog.Logger

	// alpha is the smoothing coefficient, fixed at construction.
	alpha float64

	lock sync.RWMutex

	// lastGoodPosition is the last position that passed the validity
	// check, kept so intermittent GPS dropouts do not blank the
	// published location.
	lastGoodPosition *structs.Position

	smoothedVelocity *structs.VelocityNED
	smoothedSpeed    float64
	smoothedHeading  float64
	haveHeading      bool

	lastRaw *structs.TelemetrySnapshot

	started bool
	failed  bool

	cancel  context.CancelFunc
	pumpCh  chan struct{}
	stopped sync.Once
}

// SessionConfig bundles the dependencies of a session.
type SessionConfig struct {
	DroneConfig *structs.DroneConfig
	Controller  Controller
	Sink        TelemetrySink
	Logger      hclog.Logger

	// SmoothAlpha overrides the default smoothing coefficient when
	// non-zero.
	SmoothAlpha float64
}

// NewSession creates a session. Start must be called before snapshots
// carry data.
func NewSession(cfg SessionConfig) *Session {
	alpha := cfg.SmoothAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = defaultSmoothAlpha
	}
	return &Session{
		config:     cfg.DroneConfig,
		controller: cfg.Controller,
		sink:       cfg.Sink,
		logger:     cfg.Logger.Named("session").With("drone_id", cfg.DroneConfig.ID),
		alpha:      alpha,
	}
}

// ID returns the drone id the session manages.
func (s *Session) ID() string {
	return s.config.ID
}

// Config returns the immutable drone configuration.
func (s *Session) Config() *structs.DroneConfig {
	return s.config
}

// Controller exposes the underlying controller for executors. The
// executor borrows it for the duration of one task; ownership stays
// with the session.
func (s *Session) Controller() Controller {
	return s.controller
}

// Start connects the controller and launches the telemetry pump.
func (s *Session) Start(ctx context.Context) error {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return nil
	}
	s.lock.Unlock()

	if err := s.controller.Connect(ctx); err != nil {
		s.lock.Lock()
		s.failed = true
		s.lock.Unlock()
		return structs.NewKindError(structs.ErrFatal, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	s.lock.Lock()
	s.started = true
	s.failed = false
	s.cancel = cancel
	s.pumpCh = make(chan struct{})
	s.lock.Unlock()

	go s.pump(pumpCtx)

	s.logger.Info("session started", "connection", s.config.ConnectionString)
	return nil
}

// Stop cancels the telemetry pump and closes the controller. It is
// idempotent.
func (s *Session) Stop() {
	s.stopped.Do(func() {
		s.lock.Lock()
		cancel := s.cancel
		pumpCh := s.pumpCh
		s.started = false
		s.lock.Unlock()

		if cancel != nil {
			cancel()
			<-pumpCh
		}
		if err := s.controller.Close(); err != nil {
			s.logger.Warn("error closing controller", "error", err)
		}
		s.logger.Info("session stopped")
	})
}

// Failed reports whether the session's controller could not connect.
func (s *Session) Failed() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.failed
}

// Connected reports adapter link liveness.
func (s *Session) Connected() bool {
	return s.controller.Connected()
}

// Reconnect re-establishes the controller link after a health check
// found it down.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.controller.Connect(ctx); err != nil {
		return structs.NewKindError(structs.ErrTransient, err)
	}
	metrics.IncrCounter([]string{"session", "reconnect"}, 1)
	return nil
}

// pump samples the controller and folds each raw snapshot into the
// smoothed caches.
func (s *Session) pump(ctx context.Context) {
	defer close(s.pumpCh)

	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			raw := s.controller.Telemetry()
			if raw == nil {
				continue
			}
			s.observe(raw)
			if s.sink != nil {
				s.sink.UpdateTelemetry(s.config.ID, s.Snapshot())
			}
		}
	}
}

// observe folds one raw telemetry sample into the session caches.
// Exported indirectly through tests via the pump.
func (s *Session) observe(raw *structs.TelemetrySnapshot) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.lastRaw = raw.Copy()

	if raw.Position.Valid() {
		p := *raw.Position
		s.lastGoodPosition = &p
	}

	// Velocity EMA on each NED component.
	if raw.Velocity != nil {
		if s.smoothedVelocity == nil {
			v := *raw.Velocity
			s.smoothedVelocity = &v
		} else {
			s.smoothedVelocity.NorthMps = s.alpha*raw.Velocity.NorthMps + (1-s.alpha)*s.smoothedVelocity.NorthMps
			s.smoothedVelocity.EastMps = s.alpha*raw.Velocity.EastMps + (1-s.alpha)*s.smoothedVelocity.EastMps
			s.smoothedVelocity.DownMps = s.alpha*raw.Velocity.DownMps + (1-s.alpha)*s.smoothedVelocity.DownMps
		}
	}

	// Speed EMA with deadband.
	speedRaw := raw.SpeedMps
	if raw.Velocity != nil {
		speedRaw = raw.Velocity.Speed()
	}
	s.smoothedSpeed = s.alpha*speedRaw + (1-s.alpha)*s.smoothedSpeed
	if math.Abs(s.smoothedSpeed) < speedDeadbandMps {
		s.smoothedSpeed = 0
	}

	// Heading EMA over the shortest signed angular difference so a
	// 359 -> 1 degree transition does not swing through 180.
	if !s.haveHeading {
		s.smoothedHeading = raw.HeadingDeg
		s.haveHeading = true
	} else {
		delta := math.Mod(raw.HeadingDeg-s.smoothedHeading+540, 360) - 180
		s.smoothedHeading = math.Mod(s.smoothedHeading+s.alpha*headingAlphaScale*delta+360, 360)
	}
}

// Snapshot returns the session's current smoothed telemetry as a value
// copy. Position is the current valid one, else the last known good
// one, else nil, which tells the publisher to defer.
func (s *Session) Snapshot() *structs.TelemetrySnapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()

	snap := &structs.TelemetrySnapshot{
		GPSFixType: -1,
		Timestamp:  time.Now(),
	}
	if s.lastRaw != nil {
		snap.Armed = s.lastRaw.Armed
		snap.BatteryPct = s.lastRaw.BatteryPct
		snap.BatteryVoltage = s.lastRaw.BatteryVoltage
		snap.FlightMode = s.lastRaw.FlightMode
		snap.GPSFixType = s.lastRaw.GPSFixType
		snap.Timestamp = s.lastRaw.Timestamp
	}

	if s.lastRaw != nil && s.lastRaw.Position.Valid() {
		p := *s.lastRaw.Position
		snap.Position = &p
	} else if s.lastGoodPosition != nil {
		p := *s.lastGoodPosition
		snap.Position = &p
		snap.PositionStale = true
	}

	if s.smoothedVelocity != nil {
		v := *s.smoothedVelocity
		snap.Velocity = &v
	}
	snap.SpeedMps = s.smoothedSpeed
	if s.haveHeading {
		snap.HeadingDeg = s.smoothedHeading
	}

	return snap
}
