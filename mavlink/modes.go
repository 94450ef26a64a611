// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package mavlink

import "strconv"

// ArduPilot copter custom modes. The flight mode arrives in the
// HEARTBEAT custom_mode field when MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
// is set.
const (
	copterModeStabilize = 0
	copterModeAltHold   = 2
	copterModeAuto      = 3
	copterModeGuided    = 4
	copterModeLoiter    = 5
	copterModeRTL       = 6
	copterModeLand      = 9
	copterModeBrake     = 17
)

var copterModeNames = map[uint32]string{
	copterModeStabilize: "STABILIZE",
	1:                   "ACRO",
	copterModeAltHold:   "ALT_HOLD",
	copterModeAuto:      "AUTO",
	copterModeGuided:    "GUIDED",
	copterModeLoiter:    "LOITER",
	copterModeRTL:       "RTL",
	7:                   "CIRCLE",
	copterModeLand:      "LAND",
	11:                  "DRIFT",
	13:                  "SPORT",
	14:                  "FLIP",
	15:                  "AUTOTUNE",
	16:                  "POSHOLD",
	copterModeBrake:     "BRAKE",
	18:                  "THROW",
	20:                  "GUIDED_NOGPS",
	21:                  "SMART_RTL",
}

// modeName returns the copter mode name, or "MODE_<n>" when unknown.
func modeName(customMode uint32) string {
	if name, ok := copterModeNames[customMode]; ok {
		return name
	}
	return "MODE_" + strconv.FormatUint(uint64(customMode), 10)
}
