// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package mavlink adapts a MAVLink flight controller to the drone
// controller interface. One Controller owns one gomavlib node; all
// command methods verify their effect through telemetry rather than
// trusting command acks alone.
package mavlink

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/structs"
)

const (
	// gcsSystemID identifies this process on the MAVLink network.
	gcsSystemID = 255

	// autopilotComponent is the component commands are addressed to.
	autopilotComponent = 1

	// heartbeatInterval paces the outbound ground station heartbeat.
	heartbeatInterval = 1 * time.Second

	// linkTimeout is how long after the last vehicle heartbeat the
	// link is considered down.
	linkTimeout = 3 * time.Second

	// connectAttempts bounds heartbeat/position waits during Connect.
	connectAttempts  = 3
	heartbeatTimeout = 30 * time.Second
	positionTimeout  = 30 * time.Second

	// modeChangeTimeout bounds waits for a commanded mode switch.
	modeChangeTimeout = 10 * time.Second

	// Takeoff verification: the climb must reach reachedFraction of
	// the target within climbTimeout; one resend after retryDelay,
	// then a guided climb that only needs fallbackFraction.
	climbTimeout     = 60 * time.Second
	takeoffRetryWait = 2 * time.Second
	reachedFraction  = 0.95
	fallbackFraction = 0.90

	// arrivalToleranceM is the horizontal and vertical convergence
	// tolerance for goto.
	arrivalToleranceM = 2.0

	// setpointResend re-sends the active position target; guided mode
	// tolerates it and it survives a brief link drop.
	setpointResend = 5 * time.Second

	armTimeout  = 10 * time.Second
	landTimeout = 60 * time.Second

	pollInterval = 250 * time.Millisecond

	// Payload release servo defaults; overridable per drone.
	defaultReleaseServo = 9
	defaultReleasePWM   = 1900
)

// Config configures one flight controller link.
type Config struct {
	DroneID          string
	ConnectionString string

	// ReleaseServoChannel and ReleaseServoPWM drive the payload
	// release actuator; zero values select the defaults.
	ReleaseServoChannel int
	ReleaseServoPWM     int

	Logger hclog.Logger
}

// Controller implements drone.Controller over a MAVLink link.
type Controller struct {
	cfg    Config
	logger hclog.Logger

	node *gomavlib.Node

	mu            sync.RWMutex
	systemID      uint8
	seenHeartbeat bool
	lastHeartbeat time.Time
	armed         bool
	flightMode    string
	position      *structs.Position
	velocity      *structs.VelocityNED
	headingDeg    float64
	speedMps      float64
	batteryPct    float64
	batteryVolts  float64
	gpsFixType    int
	lastTelemetry time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewController builds a controller; Connect establishes the link.
func NewController(cfg Config) *Controller {
	if cfg.ReleaseServoChannel == 0 {
		cfg.ReleaseServoChannel = defaultReleaseServo
	}
	if cfg.ReleaseServoPWM == 0 {
		cfg.ReleaseServoPWM = defaultReleasePWM
	}
	return &Controller{
		cfg:        cfg,
		logger:     cfg.Logger.Named("mavlink").With("drone_id", cfg.DroneID),
		gpsFixType: -1,
		stopCh:     make(chan struct{}),
	}
}

// Connect opens the endpoint and blocks until the vehicle reports a
// heartbeat and a valid global position, retrying within bounds.
func (c *Controller) Connect(ctx context.Context) error {
	endpoint, err := parseEndpoint(c.cfg.ConnectionString)
	if err != nil {
		return structs.NewKindError(structs.ErrFatal, err)
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{endpoint},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: gcsSystemID,
	})
	if err != nil {
		return structs.Errorf(structs.ErrTransient, "opening mavlink endpoint %s: %v",
			c.cfg.ConnectionString, err)
	}
	c.node = node

	c.wg.Add(2)
	go c.eventLoop()
	go c.heartbeatLoop()

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err := c.waitUntil(ctx, heartbeatTimeout, c.Connected); err != nil {
			lastErr = fmt.Errorf("waiting for heartbeat: %w", err)
			c.logger.Warn("no heartbeat from vehicle", "attempt", attempt, "error", err)
			continue
		}
		c.logger.Info("vehicle heartbeat received", "system_id", c.vehicleSystemID())

		c.requestStreams()

		if err := c.waitUntil(ctx, positionTimeout, func() bool {
			snap := c.Telemetry()
			return snap.Position.Valid()
		}); err != nil {
			lastErr = fmt.Errorf("waiting for global position: %w", err)
			c.logger.Warn("no valid position from vehicle", "attempt", attempt, "error", err)
			continue
		}

		c.logger.Info("connected", "endpoint", c.cfg.ConnectionString)
		return nil
	}
	return structs.Errorf(structs.ErrTransient, "connect failed after %d attempts: %v",
		connectAttempts, lastErr)
}

// Close tears down the link. Safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		if c.node != nil {
			c.node.Close()
		}
		c.wg.Wait()
		c.logger.Info("closed")
	})
	return nil
}

// Connected reports whether a vehicle heartbeat arrived recently.
func (c *Controller) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seenHeartbeat && time.Since(c.lastHeartbeat) < linkTimeout
}

// Telemetry returns a copy of the latest raw telemetry.
func (c *Controller) Telemetry() *structs.TelemetrySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &structs.TelemetrySnapshot{
		HeadingDeg:     c.headingDeg,
		SpeedMps:       c.speedMps,
		BatteryPct:     c.batteryPct,
		BatteryVoltage: c.batteryVolts,
		Armed:          c.armed,
		FlightMode:     c.flightMode,
		GPSFixType:     c.gpsFixType,
		Timestamp:      c.lastTelemetry,
	}
	if c.position != nil {
		p := *c.position
		snap.Position = &p
	}
	if c.velocity != nil {
		v := *c.velocity
		snap.Velocity = &v
	}
	return snap
}

// Arm commands arming and waits for the armed flag in telemetry.
func (c *Controller) Arm(ctx context.Context) error {
	if c.isArmed() {
		return nil
	}
	c.logger.Info("arming")
	if err := c.sendCommand(common.MAV_CMD_COMPONENT_ARM_DISARM, 1, 0, 0, 0, 0, 0, 0); err != nil {
		return err
	}
	if err := c.waitUntil(ctx, armTimeout, c.isArmed); err != nil {
		metrics.IncrCounter([]string{"mavlink", "arm", "error"}, 1)
		return structs.Errorf(structs.ErrCommand, "vehicle did not arm: %v", err)
	}
	return nil
}

// Disarm commands disarming; an already disarmed vehicle succeeds
// immediately.
func (c *Controller) Disarm(ctx context.Context) error {
	if !c.isArmed() {
		return nil
	}
	c.logger.Info("disarming")
	if err := c.sendCommand(common.MAV_CMD_COMPONENT_ARM_DISARM, 0, 0, 0, 0, 0, 0, 0); err != nil {
		return err
	}
	if err := c.waitUntil(ctx, armTimeout, func() bool { return !c.isArmed() }); err != nil {
		metrics.IncrCounter([]string{"mavlink", "disarm", "error"}, 1)
		return structs.Errorf(structs.ErrCommand, "vehicle did not disarm: %v", err)
	}
	return nil
}

// Takeoff arms, switches to guided, and climbs to altitudeM above
// ground. The takeoff command is retried once; if the climb still
// stalls, a guided position target at the equivalent absolute altitude
// is used as a fallback.
func (c *Controller) Takeoff(ctx context.Context, altitudeM float64) error {
	if altitudeM <= 0 {
		return structs.Errorf(structs.ErrValidation, "takeoff altitude must be positive, got %.1f", altitudeM)
	}

	if err := c.Arm(ctx); err != nil {
		return err
	}

	if err := c.setMode(ctx, copterModeGuided, "GUIDED"); err != nil {
		// Some stacks auto-switch on NAV_TAKEOFF; keep going.
		c.logger.Warn("guided mode not confirmed before takeoff", "error", err)
	}

	reached := func(fraction float64) func() bool {
		return func() bool {
			snap := c.Telemetry()
			return snap.Position.Valid() && snap.Position.AltitudeAGLM >= fraction*altitudeM
		}
	}

	c.logger.Info("taking off", "altitude_m", altitudeM)
	if err := c.sendCommand(common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitudeM)); err != nil {
		return err
	}
	if err := c.waitUntil(ctx, climbTimeout, reached(reachedFraction)); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	c.logger.Warn("takeoff climb stalled, retrying", "altitude_m", altitudeM)
	metrics.IncrCounter([]string{"mavlink", "takeoff", "retry"}, 1)
	if err := sleepCtx(ctx, takeoffRetryWait); err != nil {
		return err
	}
	if err := c.sendCommand(common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitudeM)); err != nil {
		return err
	}
	if err := c.waitUntil(ctx, climbTimeout, reached(reachedFraction)); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	// Guided climb fallback: command a position target straight up at
	// the equivalent absolute altitude.
	snap := c.Telemetry()
	if !snap.Position.Valid() {
		return structs.Errorf(structs.ErrCommand, "takeoff failed and no valid position for guided climb")
	}
	targetAMSL := snap.Position.AltitudeAMSL + altitudeM
	c.logger.Warn("takeoff falling back to guided climb",
		"target_amsl_m", targetAMSL, "altitude_m", altitudeM)
	metrics.IncrCounter([]string{"mavlink", "takeoff", "guided_climb"}, 1)
	if err := c.sendPositionTarget(snap.Position.LatitudeDeg, snap.Position.LongitudeDeg, targetAMSL); err != nil {
		return err
	}
	if err := c.waitUntil(ctx, climbTimeout, reached(fallbackFraction)); err != nil {
		metrics.IncrCounter([]string{"mavlink", "takeoff", "error"}, 1)
		return structs.Errorf(structs.ErrCommand, "takeoff did not reach %.1fm: %v", altitudeM, err)
	}
	return nil
}

// Land commands a landing and waits for the vehicle to disarm on the
// ground.
func (c *Controller) Land(ctx context.Context) error {
	c.logger.Info("landing")
	if err := c.sendCommand(common.MAV_CMD_NAV_LAND, 0, 0, 0, 0, 0, 0, 0); err != nil {
		return err
	}
	if err := c.waitUntil(ctx, landTimeout, func() bool { return !c.isArmed() }); err != nil {
		metrics.IncrCounter([]string{"mavlink", "land", "error"}, 1)
		return structs.Errorf(structs.ErrCommand, "vehicle did not land: %v", err)
	}
	return nil
}

// ReturnToLaunch commands RTL. The flight home is not waited on.
func (c *Controller) ReturnToLaunch(ctx context.Context) error {
	c.logger.Info("returning to launch")
	return c.sendCommand(common.MAV_CMD_NAV_RETURN_TO_LAUNCH, 0, 0, 0, 0, 0, 0, 0)
}

// GotoLocation flies to the coordinate at altitudeAGLM above ground
// and blocks until the vehicle converges within tolerance or the
// context is done. Altitude above ground is converted to absolute
// altitude using the current AMSL/AGL baseline so terrain offsets at
// the takeoff point carry through.
func (c *Controller) GotoLocation(ctx context.Context, lat, lon, altitudeAGLM float64) error {
	snap := c.Telemetry()
	if !snap.Position.Valid() {
		return structs.Errorf(structs.ErrValidation, "goto requires a valid current position")
	}
	baseline := snap.Position.AltitudeAMSL - snap.Position.AltitudeAGLM
	targetAMSL := baseline + altitudeAGLM

	c.logger.Debug("goto", "lat", lat, "lon", lon,
		"altitude_agl_m", altitudeAGLM, "altitude_amsl_m", targetAMSL)
	if err := c.sendPositionTarget(lat, lon, targetAMSL); err != nil {
		return err
	}

	resend := time.NewTicker(setpointResend)
	defer resend.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resend.C:
			if err := c.sendPositionTarget(lat, lon, targetAMSL); err != nil {
				c.logger.Warn("resending position target failed", "error", err)
			}
		case <-poll.C:
			cur := c.Telemetry()
			if !cur.Position.Valid() {
				continue
			}
			horiz := structs.HaversineM(cur.Position.LatitudeDeg, cur.Position.LongitudeDeg, lat, lon)
			vert := math.Abs(cur.Position.AltitudeAGLM - altitudeAGLM)
			if horiz <= arrivalToleranceM && vert <= arrivalToleranceM {
				return nil
			}
		}
	}
}

// Hold stops the vehicle by targeting its current position. In guided
// mode this takes effect immediately, which keeps cancellation fast.
func (c *Controller) Hold(ctx context.Context) error {
	snap := c.Telemetry()
	if !snap.Position.Valid() {
		return structs.Errorf(structs.ErrValidation, "hold requires a valid current position")
	}
	c.logger.Info("holding position")
	return c.sendPositionTarget(snap.Position.LatitudeDeg, snap.Position.LongitudeDeg,
		snap.Position.AltitudeAMSL)
}

// ReleasePayload actuates the release servo.
func (c *Controller) ReleasePayload(ctx context.Context) error {
	c.logger.Info("releasing payload",
		"servo", c.cfg.ReleaseServoChannel, "pwm", c.cfg.ReleaseServoPWM)
	return c.sendCommand(common.MAV_CMD_DO_SET_SERVO,
		float32(c.cfg.ReleaseServoChannel), float32(c.cfg.ReleaseServoPWM), 0, 0, 0, 0, 0)
}

func (c *Controller) isArmed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.armed
}

func (c *Controller) vehicleSystemID() uint8 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemID
}

func (c *Controller) setMode(ctx context.Context, mode uint32, name string) error {
	if err := c.sendCommand(common.MAV_CMD_DO_SET_MODE,
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(mode), 0, 0, 0, 0, 0); err != nil {
		return err
	}
	return c.waitUntil(ctx, modeChangeTimeout, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.flightMode == name
	})
}

func (c *Controller) sendCommand(cmd common.MAV_CMD, p1, p2, p3, p4, p5, p6, p7 float32) error {
	err := c.node.WriteMessageAll(&common.MessageCommandLong{
		TargetSystem:    c.vehicleSystemID(),
		TargetComponent: autopilotComponent,
		Command:         cmd,
		Param1:          p1,
		Param2:          p2,
		Param3:          p3,
		Param4:          p4,
		Param5:          p5,
		Param6:          p6,
		Param7:          p7,
	})
	if err != nil {
		metrics.IncrCounter([]string{"mavlink", "write", "error"}, 1)
		return structs.Errorf(structs.ErrTransient, "writing command %v: %v", cmd, err)
	}
	return nil
}

func (c *Controller) sendPositionTarget(lat, lon, altAMSL float64) error {
	const ignoreAllButPosition = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VZ_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
		common.POSITION_TARGET_TYPEMASK_YAW_IGNORE |
		common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE

	err := c.node.WriteMessageAll(&common.MessageSetPositionTargetGlobalInt{
		TargetSystem:    c.vehicleSystemID(),
		TargetComponent: autopilotComponent,
		TimeBootMs:      uint32(time.Now().UnixMilli()),
		CoordinateFrame: common.MAV_FRAME_GLOBAL_INT,
		TypeMask:        ignoreAllButPosition,
		LatInt:          int32(lat * 1e7),
		LonInt:          int32(lon * 1e7),
		Alt:             float32(altAMSL),
	})
	if err != nil {
		metrics.IncrCounter([]string{"mavlink", "write", "error"}, 1)
		return structs.Errorf(structs.ErrTransient, "writing position target: %v", err)
	}
	return nil
}

// requestStreams asks the autopilot for the telemetry rates the
// session depends on: 5Hz position/attitude/hud, 1Hz gps/battery. The
// legacy REQUEST_DATA_STREAM is sent as well for stacks that ignore
// SET_MESSAGE_INTERVAL.
func (c *Controller) requestStreams() {
	type rate struct {
		msg message.Message
		us  float32
	}
	rates := []rate{
		{&common.MessageGlobalPositionInt{}, 200000},
		{&common.MessageAttitude{}, 200000},
		{&common.MessageVfrHud{}, 200000},
		{&common.MessageSysStatus{}, 1000000},
		{&common.MessageGpsRawInt{}, 1000000},
	}
	for _, r := range rates {
		if err := c.sendCommand(common.MAV_CMD_SET_MESSAGE_INTERVAL,
			float32(r.msg.GetID()), r.us, 0, 0, 0, 0, 0); err != nil {
			c.logger.Warn("set message interval failed", "msg_id", r.msg.GetID(), "error", err)
		}
	}

	err := c.node.WriteMessageAll(&common.MessageRequestDataStream{
		TargetSystem:    c.vehicleSystemID(),
		TargetComponent: autopilotComponent,
		ReqStreamId:     uint8(common.MAV_DATA_STREAM_ALL),
		ReqMessageRate:  5,
		StartStop:       1,
	})
	if err != nil {
		c.logger.Warn("request data stream failed", "error", err)
	}
}

// heartbeatLoop announces this process as a ground station once a
// second; autopilots enforce link-loss failsafes against it.
func (c *Controller) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			err := c.node.WriteMessageAll(&common.MessageHeartbeat{
				Type:           common.MAV_TYPE_GCS,
				Autopilot:      common.MAV_AUTOPILOT_INVALID,
				SystemStatus:   common.MAV_STATE_ACTIVE,
				MavlinkVersion: 3,
			})
			if err != nil {
				c.logger.Debug("ground station heartbeat failed", "error", err)
			}
		}
	}
}

func (c *Controller) eventLoop() {
	defer c.wg.Done()

	for evt := range c.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		c.handleMessage(frm.Message(), frm.SystemID(), frm.ComponentID())
	}
}

func (c *Controller) handleMessage(msg message.Message, sysID, compID uint8) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		if m.Type == common.MAV_TYPE_GCS {
			return
		}
		c.handleHeartbeat(m, sysID)
	case *common.MessageGlobalPositionInt:
		c.handleGlobalPosition(m)
	case *common.MessageVfrHud:
		c.handleVfrHud(m)
	case *common.MessageSysStatus:
		c.handleSysStatus(m)
	case *common.MessageGpsRawInt:
		c.handleGpsRaw(m)
	case *common.MessageStatustext:
		c.logger.Debug("vehicle status text", "severity", m.Severity, "text", m.Text)
	case *common.MessageCommandAck:
		if m.Result != common.MAV_RESULT_ACCEPTED && m.Result != common.MAV_RESULT_IN_PROGRESS {
			c.logger.Warn("command not accepted", "command", m.Command, "result", m.Result)
		}
	}
}

func (c *Controller) handleHeartbeat(m *common.MessageHeartbeat, sysID uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.seenHeartbeat {
		c.logger.Info("first heartbeat", "system_id", sysID, "vehicle_type", m.Type)
	}
	c.seenHeartbeat = true
	c.systemID = sysID
	c.lastHeartbeat = time.Now()

	wasArmed := c.armed
	c.armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
	if wasArmed != c.armed {
		c.logger.Info("armed state changed", "armed", c.armed)
	}
	c.flightMode = modeName(m.CustomMode)
	c.lastTelemetry = time.Now()
}

func (c *Controller) handleGlobalPosition(m *common.MessageGlobalPositionInt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.position = &structs.Position{
		LatitudeDeg:  float64(m.Lat) / 1e7,
		LongitudeDeg: float64(m.Lon) / 1e7,
		AltitudeAMSL: float64(m.Alt) / 1000,
		AltitudeAGLM: float64(m.RelativeAlt) / 1000,
	}
	c.velocity = &structs.VelocityNED{
		NorthMps: float64(m.Vx) / 100,
		EastMps:  float64(m.Vy) / 100,
		DownMps:  float64(m.Vz) / 100,
	}
	c.lastTelemetry = time.Now()
}

func (c *Controller) handleVfrHud(m *common.MessageVfrHud) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.headingDeg = float64(m.Heading)
	c.speedMps = float64(m.Groundspeed)
	c.lastTelemetry = time.Now()
}

func (c *Controller) handleSysStatus(m *common.MessageSysStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.batteryVolts = float64(m.VoltageBattery) / 1000
	if m.BatteryRemaining >= 0 {
		c.batteryPct = float64(m.BatteryRemaining)
	}
	c.lastTelemetry = time.Now()
}

func (c *Controller) handleGpsRaw(m *common.MessageGpsRawInt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gpsFixType = int(m.FixType)
	c.lastTelemetry = time.Now()
}

// waitUntil polls cond until it holds, the timeout elapses, or ctx is
// done.
func (c *Controller) waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
