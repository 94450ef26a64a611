// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/skyfleet/latticebridge/structs"
)

func TestDecodeParams_mappingDefaults(t *testing.T) {
	params := decodeParams(structs.TaskKindMapping, nil)
	must.NotNil(t, params.Mapping)
	must.NoError(t, params.Validate())
	must.Eq(t, structs.DefaultMappingParams(), params.Mapping)
}

func TestDecodeParams_mappingOverrides(t *testing.T) {
	params := decodeParams(structs.TaskKindMapping, map[string]any{
		"area_center": map[string]any{"lat": 47.39, "lon": 8.54},
		"area_size":   map[string]any{"width": 250.0, "height": 150.0},
		"altitude":    80.0,
		"overlap":     0.6,
		"camera_fov":  40.0,
		"pattern":     "lawnmower",
	})
	p := params.Mapping
	must.NotNil(t, p.AreaCenter)
	must.Eq(t, 47.39, p.AreaCenter.Lat)
	must.Eq(t, 8.54, p.AreaCenter.Lon)
	must.Eq(t, 250.0, p.AreaWidthM)
	must.Eq(t, 150.0, p.AreaHeightM)
	must.Eq(t, 80.0, p.AltitudeM)
	must.Eq(t, 0.6, p.Overlap)
	must.Eq(t, 40.0, p.CameraFovM)
	must.Eq(t, structs.PatternLawnMower, p.Pattern)
	must.NoError(t, params.Validate())
}

func TestDecodeParams_relay(t *testing.T) {
	params := decodeParams(structs.TaskKindRelay, map[string]any{
		"relay_position": map[string]any{"lat": 47.4, "lon": 8.5},
		"altitude":       120,
		"duration":       600.0,
	})
	p := params.Relay
	must.NotNil(t, p)
	must.Eq(t, 47.4, p.RelayPosition.Lat)
	must.Eq(t, 120.0, p.AltitudeM)
	must.Eq(t, 600.0, p.DurationS)
	must.NoError(t, params.Validate())

	// Missing relay position fails validation downstream.
	params = decodeParams(structs.TaskKindRelay, nil)
	must.Error(t, params.Validate())
}

func TestDecodeParams_dropping(t *testing.T) {
	params := decodeParams(structs.TaskKindDropping, map[string]any{
		"drop_locations": []any{
			map[string]any{"lat": 47.41, "lon": 8.51},
			map[string]any{"lat": 47.42, "lon": 8.52},
		},
		"approach_altitude":  60.0,
		"drop_altitude":      8.0,
		"position_tolerance": 0.5,
		"stabilization_time": 2.0,
	})
	p := params.Dropping
	must.NotNil(t, p)
	must.Len(t, 2, p.DropLocations)
	must.Eq(t, 60.0, p.ApproachAltitudeM)
	must.Eq(t, 8.0, p.DropAltitudeM)
	must.Eq(t, 0.5, p.PositionToleranceM)
	must.Eq(t, 2.0, p.StabilizationTimeS)
	must.NoError(t, params.Validate())

	// No locations fails validation downstream.
	params = decodeParams(structs.TaskKindDropping, nil)
	must.Error(t, params.Validate())
}

func TestDecodeParams_malformedValuesIgnored(t *testing.T) {
	params := decodeParams(structs.TaskKindMapping, map[string]any{
		"area_center": "not a map",
		"altitude":    "high",
		"area_size":   map[string]any{"width": "wide"},
	})
	must.Eq(t, structs.DefaultMappingParams(), params.Mapping)
}
