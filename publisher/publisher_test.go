// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/skyfleet/latticebridge/helper/testlog"
	"github.com/skyfleet/latticebridge/lattice"
	"github.com/skyfleet/latticebridge/state"
	"github.com/skyfleet/latticebridge/structs"
)

type fakeC2 struct {
	lock     sync.Mutex
	entities []*lattice.Entity
	err      error
}

func (f *fakeC2) PublishEntity(_ context.Context, e *lattice.Entity) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entities = append(f.entities, e)
	return nil
}

func (f *fakeC2) IntegrationName() string { return "test-bridge" }

func (f *fakeC2) published() []*lattice.Entity {
	f.lock.Lock()
	defer f.lock.Unlock()
	out := make([]*lattice.Entity, len(f.entities))
	copy(out, f.entities)
	return out
}

func validState() *structs.DroneState {
	return &structs.DroneState{
		DroneID: "alpha",
		Position: &structs.Position{
			LatitudeDeg:  47.39,
			LongitudeDeg: 8.54,
			AltitudeAGLM: 50,
			AltitudeAMSL: 550,
		},
		Velocity:       &structs.VelocityNED{NorthMps: 3, EastMps: 4, DownMps: -1},
		SpeedMps:       5.1,
		ConnectedSince: time.Now().Add(-time.Minute),
		LastUpdate:     time.Now(),
	}
}

func TestBuildEntity_full(t *testing.T) {
	now := time.Now().UTC()
	st := validState()

	e := buildEntity(st, "test-bridge", now)
	must.NotNil(t, e)
	must.Eq(t, "alpha", e.EntityID)
	must.Eq(t, "Drone-alpha", e.Aliases.Name)
	must.True(t, e.IsLive)
	must.Eq(t, now, e.CreatedTime)
	must.Eq(t, now.Add(entityExpiry), e.ExpiryTime)

	must.Eq(t, lattice.TemplateAsset, e.Ontology.Template)
	must.Eq(t, platformTypeUAV, e.Ontology.PlatformType)
	must.Eq(t, lattice.DispositionFriendly, e.MilView.Disposition)
	must.Eq(t, lattice.EnvironmentAir, e.MilView.Environment)
	must.Eq(t, lattice.ConnectionStatusOnline, e.Health.ConnectionStatus)
	must.Eq(t, lattice.HealthStatusHealthy, e.Health.HealthStatus)
	must.Eq(t, "test-bridge", e.Provenance.IntegrationName)
	must.Eq(t, now, e.Provenance.SourceUpdateTime)
	must.Len(t, 3, e.TaskCatalog.TaskDefinitions)

	// NED to ENU: e=east, n=north, u=-down.
	must.Eq(t, 4.0, e.Location.VelocityEnu.E)
	must.Eq(t, 3.0, e.Location.VelocityEnu.N)
	must.Eq(t, 1.0, e.Location.VelocityEnu.U)
	must.Eq(t, 550.0, e.Location.Position.AltitudeHaeMeters)

	// Fresh fix carries no uncertainty.
	must.Nil(t, e.LocationUncertainty)
}

// Publishing is an upsert; a build missing any required component
// would strip it from the live entity on the next tick.
func TestBuildEntity_alwaysComplete(t *testing.T) {
	e := buildEntity(validState(), "test-bridge", time.Now().UTC())
	must.NotNil(t, e)
	must.NotNil(t, e.Ontology)
	must.NotNil(t, e.MilView)
	must.NotNil(t, e.Health)
	must.NotNil(t, e.Provenance)
	must.NotNil(t, e.TaskCatalog)
	must.NotNil(t, e.Location)
}

func TestBuildEntity_staleGetsEllipse(t *testing.T) {
	st := validState()
	st.PositionStale = true

	e := buildEntity(st, "test-bridge", time.Now().UTC())
	must.NotNil(t, e.LocationUncertainty)
	ellipse := e.LocationUncertainty.PositionErrorEllipse
	must.Eq(t, staleEllipseAxisM, ellipse.SemiMajorAxisM)
	must.Eq(t, staleEllipseAxisM, ellipse.SemiMinorAxisM)
	must.Eq(t, staleProbability, ellipse.Probability)
}

func TestBuildEntity_noPosition(t *testing.T) {
	st := validState()
	st.Position = nil
	must.Nil(t, buildEntity(st, "test-bridge", time.Now().UTC()))

	// The autopilot's zero-island placeholder is treated as missing.
	st.Position = &structs.Position{}
	must.Nil(t, buildEntity(st, "test-bridge", time.Now().UTC()))
}

func TestPublisher_loop(t *testing.T) {
	store := state.NewStore(testlog.HCLogger(t))
	store.Register(&structs.DroneConfig{ID: "alpha", ConnectionString: "udp://:14550"})

	st := validState()
	store.UpdateTelemetry("alpha", &structs.TelemetrySnapshot{
		Position: st.Position,
		Velocity: st.Velocity,
		SpeedMps: st.SpeedMps,
	})

	c2 := &fakeC2{}
	pub := New(Config{
		Store:            store,
		C2:               c2,
		Logger:           testlog.HCLogger(t),
		PositionInterval: 10 * time.Millisecond,
		EntityInterval:   25 * time.Millisecond,
	})

	pub.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	pub.Stop()

	published := c2.published()
	// Both tickers fired within the window.
	must.Greater(t, 5, len(published))

	// Every tick upserts the complete entity; none may strip the
	// catalog or classification.
	for _, e := range published {
		must.Eq(t, "alpha", e.EntityID)
		must.NotNil(t, e.TaskCatalog)
		must.NotNil(t, e.Ontology)
		must.NotNil(t, e.Health)
	}
}

func TestPublisher_skipsWithoutPosition(t *testing.T) {
	store := state.NewStore(testlog.HCLogger(t))
	store.Register(&structs.DroneConfig{ID: "alpha", ConnectionString: "udp://:14550"})

	c2 := &fakeC2{}
	pub := New(Config{
		Store:            store,
		C2:               c2,
		Logger:           testlog.HCLogger(t),
		PositionInterval: 10 * time.Millisecond,
		EntityInterval:   25 * time.Millisecond,
	})

	pub.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	pub.Stop()

	must.Len(t, 0, c2.published())
}

func TestPublisher_publishErrorKeepsRunning(t *testing.T) {
	store := state.NewStore(testlog.HCLogger(t))
	store.Register(&structs.DroneConfig{ID: "alpha", ConnectionString: "udp://:14550"})
	store.UpdateTelemetry("alpha", &structs.TelemetrySnapshot{Position: validState().Position})

	c2 := &fakeC2{err: errors.New("boom")}
	pub := New(Config{
		Store:            store,
		C2:               c2,
		Logger:           testlog.HCLogger(t),
		PositionInterval: 5 * time.Millisecond,
		EntityInterval:   20 * time.Millisecond,
	})

	pub.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	// Clear the failure; the loop should recover on its own.
	c2.lock.Lock()
	c2.err = nil
	c2.lock.Unlock()
	time.Sleep(50 * time.Millisecond)
	pub.Stop()

	must.Positive(t, len(c2.published()))
}
