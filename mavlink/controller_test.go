// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package mavlink

import (
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
)

func testController(t *testing.T) *Controller {
	t.Helper()
	return NewController(Config{
		DroneID:          "alpha",
		ConnectionString: "udp://:14550",
		Logger:           hclog.NewNullLogger(),
	})
}

func TestController_handleHeartbeat(t *testing.T) {
	c := testController(t)

	c.handleMessage(&common.MessageHeartbeat{
		Type:       common.MAV_TYPE_QUADROTOR,
		BaseMode:   common.MAV_MODE_FLAG_SAFETY_ARMED,
		CustomMode: copterModeGuided,
	}, 1, 1)

	snap := c.Telemetry()
	must.True(t, snap.Armed)
	must.Eq(t, "GUIDED", snap.FlightMode)
	must.True(t, c.Connected())

	c.handleMessage(&common.MessageHeartbeat{
		Type:       common.MAV_TYPE_QUADROTOR,
		CustomMode: copterModeRTL,
	}, 1, 1)
	snap = c.Telemetry()
	must.False(t, snap.Armed)
	must.Eq(t, "RTL", snap.FlightMode)
}

func TestController_ignoresGCSHeartbeat(t *testing.T) {
	c := testController(t)

	c.handleMessage(&common.MessageHeartbeat{
		Type:     common.MAV_TYPE_GCS,
		BaseMode: common.MAV_MODE_FLAG_SAFETY_ARMED,
	}, 255, 1)

	must.False(t, c.Connected())
	must.False(t, c.Telemetry().Armed)
}

func TestController_handleGlobalPosition(t *testing.T) {
	c := testController(t)

	c.handleMessage(&common.MessageGlobalPositionInt{
		Lat:         473977420, // degE7
		Lon:         85455940,
		Alt:         550_000, // mm AMSL
		RelativeAlt: 50_000,  // mm AGL
		Vx:          150,     // cm/s north
		Vy:          -80,     // cm/s east
		Vz:          20,      // cm/s down
	}, 1, 1)

	snap := c.Telemetry()
	must.NotNil(t, snap.Position)
	must.InDelta(t, 47.397742, snap.Position.LatitudeDeg, 1e-9)
	must.InDelta(t, 8.545594, snap.Position.LongitudeDeg, 1e-9)
	must.Eq(t, 550.0, snap.Position.AltitudeAMSL)
	must.Eq(t, 50.0, snap.Position.AltitudeAGLM)

	must.NotNil(t, snap.Velocity)
	must.Eq(t, 1.5, snap.Velocity.NorthMps)
	must.Eq(t, -0.8, snap.Velocity.EastMps)
	must.Eq(t, 0.2, snap.Velocity.DownMps)
}

func TestController_handleVfrHud(t *testing.T) {
	c := testController(t)

	c.handleMessage(&common.MessageVfrHud{
		Heading:     270,
		Groundspeed: 12.5,
	}, 1, 1)

	snap := c.Telemetry()
	must.Eq(t, 270.0, snap.HeadingDeg)
	must.Eq(t, 12.5, snap.SpeedMps)
}

func TestController_handleSysStatus(t *testing.T) {
	c := testController(t)

	c.handleMessage(&common.MessageSysStatus{
		VoltageBattery:   22_200, // mV
		BatteryRemaining: 85,
	}, 1, 1)

	snap := c.Telemetry()
	must.Eq(t, 22.2, snap.BatteryVoltage)
	must.Eq(t, 85.0, snap.BatteryPct)

	// An unreported battery percentage keeps the last known value.
	c.handleMessage(&common.MessageSysStatus{
		VoltageBattery:   22_100,
		BatteryRemaining: -1,
	}, 1, 1)
	must.Eq(t, 85.0, c.Telemetry().BatteryPct)
}

func TestController_handleGpsRaw(t *testing.T) {
	c := testController(t)
	must.Eq(t, -1, c.Telemetry().GPSFixType)

	c.handleMessage(&common.MessageGpsRawInt{
		FixType: common.GPS_FIX_TYPE_3D_FIX,
	}, 1, 1)
	must.Eq(t, 3, c.Telemetry().GPSFixType)
}

func TestController_telemetryIsCopy(t *testing.T) {
	c := testController(t)
	c.handleMessage(&common.MessageGlobalPositionInt{Lat: 473977420, Lon: 85455940}, 1, 1)

	snap := c.Telemetry()
	snap.Position.LatitudeDeg = 0

	must.InDelta(t, 47.397742, c.Telemetry().Position.LatitudeDeg, 1e-9)
}
