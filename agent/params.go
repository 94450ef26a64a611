// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"github.com/skyfleet/latticebridge/structs"
)

// decodeParams converts the dynamic specification payload of an
// execute request into typed task parameters, applying the kind's
// defaults for anything the request left out. The payload is JSON
// shaped, so numbers arrive as float64.
func decodeParams(kind structs.TaskKind, value map[string]any) structs.TaskParams {
	switch kind {
	case structs.TaskKindRelay:
		return structs.TaskParams{Relay: decodeRelay(value)}
	case structs.TaskKindDropping:
		return structs.TaskParams{Dropping: decodeDropping(value)}
	default:
		return structs.TaskParams{Mapping: decodeMapping(value)}
	}
}

func decodeMapping(value map[string]any) *structs.MappingParams {
	p := structs.DefaultMappingParams()
	if ll, ok := asLatLon(value["area_center"]); ok {
		p.AreaCenter = &ll
	}
	if size, ok := value["area_size"].(map[string]any); ok {
		setFloat(&p.AreaWidthM, size, "width")
		setFloat(&p.AreaHeightM, size, "height")
	}
	setFloat(&p.AltitudeM, value, "altitude")
	setFloat(&p.Overlap, value, "overlap")
	setFloat(&p.CameraFovM, value, "camera_fov")
	if s, ok := value["pattern"].(string); ok && s != "" {
		p.Pattern = structs.MappingPattern(s)
	}
	return p
}

func decodeRelay(value map[string]any) *structs.RelayParams {
	p := structs.DefaultRelayParams()
	if ll, ok := asLatLon(value["relay_position"]); ok {
		p.RelayPosition = ll
	}
	setFloat(&p.AltitudeM, value, "altitude")
	setFloat(&p.DurationS, value, "duration")
	return p
}

func decodeDropping(value map[string]any) *structs.DroppingParams {
	p := structs.DefaultDroppingParams()
	if raw, ok := value["drop_locations"].([]any); ok {
		p.DropLocations = nil
		for _, item := range raw {
			if ll, ok := asLatLon(item); ok {
				p.DropLocations = append(p.DropLocations, ll)
			}
		}
	}
	setFloat(&p.ApproachAltitudeM, value, "approach_altitude")
	setFloat(&p.DropAltitudeM, value, "drop_altitude")
	setFloat(&p.PositionToleranceM, value, "position_tolerance")
	setFloat(&p.StabilizationTimeS, value, "stabilization_time")
	return p
}

func asLatLon(v any) (structs.LatLon, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return structs.LatLon{}, false
	}
	lat, okLat := asFloat(m["lat"])
	lon, okLon := asFloat(m["lon"])
	if !okLat || !okLon {
		return structs.LatLon{}, false
	}
	return structs.LatLon{Lat: lat, Lon: lon}, true
}

func setFloat(dst *float64, m map[string]any, key string) {
	if f, ok := asFloat(m[key]); ok {
		*dst = f
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
