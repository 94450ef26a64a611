// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package drone

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skyfleet/latticebridge/structs"
)

// SimulatedController is an in-memory Controller for tests and mock
// mode. Commands complete immediately: a goto teleports the simulated
// vehicle to the target, takeoff sets the relative altitude, and the
// command log records everything issued.
type SimulatedController struct {
	lock sync.Mutex

	connected bool
	armed     bool
	holding   bool

	position   *structs.Position
	velocity   *structs.VelocityNED
	headingDeg float64
	batteryPct float64
	gpsFixType int
	flightMode string

	home *structs.Position

	// Commands is the ordered log of issued commands, for assertions.
	commands []string

	// Fail holds command names that should return an error, letting
	// tests exercise rejection paths.
	fail map[string]bool

	// releases counts payload release actuations.
	releases int
}

// NewSimulatedController returns a simulated vehicle with a healthy
// 3D GPS fix, full battery, and no position until one is injected.
func NewSimulatedController() *SimulatedController {
	return &SimulatedController{
		batteryPct: 100,
		gpsFixType: 3,
		flightMode: "HOLD",
		fail:       make(map[string]bool),
	}
}

// SetPosition injects a telemetry position.
func (c *SimulatedController) SetPosition(p structs.Position) {
	c.lock.Lock()
	defer c.lock.Unlock()
	cp := p
	c.position = &cp
	if c.home == nil && p.Valid() {
		h := p
		c.home = &h
	}
}

// SetVelocity injects a telemetry velocity.
func (c *SimulatedController) SetVelocity(v structs.VelocityNED) {
	c.lock.Lock()
	defer c.lock.Unlock()
	cv := v
	c.velocity = &cv
}

// SetHeading injects a heading in degrees.
func (c *SimulatedController) SetHeading(deg float64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.headingDeg = deg
}

// SetGPSFixType injects a GPS fix type.
func (c *SimulatedController) SetGPSFixType(fix int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.gpsFixType = fix
}

// SetArmed forces the armed state, simulating an external disarm.
func (c *SimulatedController) SetArmed(armed bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.armed = armed
}

// FailCommand makes the named command (e.g. "takeoff") return an
// error until cleared.
func (c *SimulatedController) FailCommand(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.fail[name] = true
}

// Commands returns a copy of the command log.
func (c *SimulatedController) Commands() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]string, len(c.commands))
	copy(out, c.commands)
	return out
}

// Releases returns how many payload releases were actuated.
func (c *SimulatedController) Releases() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.releases
}

func (c *SimulatedController) record(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.commands = append(c.commands, name)
	if c.fail[name] {
		return fmt.Errorf("%s rejected", name)
	}
	return nil
}

func (c *SimulatedController) Connect(ctx context.Context) error {
	if err := c.record(ctx, "connect"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connected = true
	return nil
}

func (c *SimulatedController) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connected = false
	return nil
}

func (c *SimulatedController) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connected
}

func (c *SimulatedController) Arm(ctx context.Context) error {
	if err := c.record(ctx, "arm"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.armed = true
	return nil
}

func (c *SimulatedController) Disarm(ctx context.Context) error {
	if err := c.record(ctx, "disarm"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.armed = false
	return nil
}

func (c *SimulatedController) Takeoff(ctx context.Context, altitudeM float64) error {
	if err := c.record(ctx, "takeoff"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.armed = true
	c.flightMode = "TAKEOFF"
	if c.position != nil {
		c.position.AltitudeAMSL += altitudeM - c.position.AltitudeAGLM
		c.position.AltitudeAGLM = altitudeM
	}
	return nil
}

func (c *SimulatedController) Land(ctx context.Context) error {
	if err := c.record(ctx, "land"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.flightMode = "LAND"
	if c.position != nil {
		c.position.AltitudeAMSL -= c.position.AltitudeAGLM
		c.position.AltitudeAGLM = 0
	}
	c.armed = false
	return nil
}

func (c *SimulatedController) ReturnToLaunch(ctx context.Context) error {
	if err := c.record(ctx, "rtl"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.flightMode = "RTL"
	if c.home != nil {
		h := *c.home
		c.position = &h
	}
	return nil
}

func (c *SimulatedController) GotoLocation(ctx context.Context, lat, lon, altitudeAGLM float64) error {
	if err := c.record(ctx, "goto"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	base := 0.0
	if c.position != nil {
		base = c.position.AltitudeAMSL - c.position.AltitudeAGLM
	}
	c.flightMode = "GUIDED"
	c.position = &structs.Position{
		LatitudeDeg:  lat,
		LongitudeDeg: lon,
		AltitudeAGLM: altitudeAGLM,
		AltitudeAMSL: base + altitudeAGLM,
	}
	return nil
}

func (c *SimulatedController) Hold(ctx context.Context) error {
	if err := c.record(ctx, "hold"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.holding = true
	c.flightMode = "HOLD"
	return nil
}

func (c *SimulatedController) ReleasePayload(ctx context.Context) error {
	if err := c.record(ctx, "release"); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.releases++
	return nil
}

func (c *SimulatedController) Telemetry() *structs.TelemetrySnapshot {
	c.lock.Lock()
	defer c.lock.Unlock()

	snap := &structs.TelemetrySnapshot{
		HeadingDeg: c.headingDeg,
		BatteryPct: c.batteryPct,
		Armed:      c.armed,
		FlightMode: c.flightMode,
		GPSFixType: c.gpsFixType,
		Timestamp:  time.Now(),
	}
	if c.position != nil {
		p := *c.position
		snap.Position = &p
	}
	if c.velocity != nil {
		v := *c.velocity
		snap.Velocity = &v
		snap.SpeedMps = v.Speed()
	}
	return snap
}
