// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package tasks holds the task executors and the waypoint geometry
// they fly.
package tasks

import (
	"math"

	"github.com/skyfleet/latticebridge/structs"
)

// metersPerDegLat is the flat-earth approximation used for local
// waypoint grids; fine at survey scales, wrong near the poles.
const metersPerDegLat = 111000.0

// offsetMeters shifts a coordinate by east/north meters.
func offsetMeters(center structs.LatLon, eastM, northM float64) structs.LatLon {
	latRad := center.Lat * math.Pi / 180
	return structs.LatLon{
		Lat: center.Lat + northM/metersPerDegLat,
		Lon: center.Lon + eastM/(metersPerDegLat*math.Cos(latRad)),
	}
}

// distanceM is the great-circle distance between two coordinates.
func distanceM(a, b structs.LatLon) float64 {
	return structs.HaversineM(a.Lat, a.Lon, b.Lat, b.Lon)
}
