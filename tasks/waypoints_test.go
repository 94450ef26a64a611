// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package tasks

import (
	"math"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/skyfleet/latticebridge/structs"
)

var testCenter = structs.LatLon{Lat: 47.397742, Lon: 8.545594}

// localMeters converts a waypoint back into east/north meters relative
// to the pattern center, for geometry assertions.
func localMeters(center, wp structs.LatLon) (east, north float64) {
	north = (wp.Lat - center.Lat) * metersPerDegLat
	east = (wp.Lon - center.Lon) * metersPerDegLat * math.Cos(center.Lat*math.Pi/180)
	return east, north
}

func TestLetterWaypoints_count(t *testing.T) {
	wps := LetterWaypoints(testCenter, 100, 100)
	must.Len(t, 16, wps)
}

func TestLetterWaypoints_geometry(t *testing.T) {
	const width, height = 100.0, 100.0
	wps := LetterWaypoints(testCenter, width, height)

	// Width binds: three letters plus two gaps must span the box.
	h := width / (lettersAcross*letterAspect + 2*spacingRatio)
	w := letterAspect * h

	// First stroke of the M starts at the left edge, bottom.
	east, north := localMeters(testCenter, wps[0])
	must.InDelta(t, -width/2, east, 0.01)
	must.InDelta(t, -h/2, north, 0.01)

	// The M's left stroke is vertical.
	e1, n1 := localMeters(testCenter, wps[1])
	must.InDelta(t, east, e1, 0.01)
	must.InDelta(t, h/2, n1, 0.01)

	// The M's apex drops to the letter's horizontal center.
	e2, n2 := localMeters(testCenter, wps[2])
	must.InDelta(t, -width/2+w/2, e2, 0.01)
	must.InDelta(t, -h/2, n2, 0.01)

	// Last stroke of the 3 ends at its bottom-left.
	eLast, nLast := localMeters(testCenter, wps[15])
	must.InDelta(t, width/2-w, eLast, 0.01)
	must.InDelta(t, -h/2, nLast, 0.01)

	// Every waypoint stays inside the requested box.
	for i, wp := range wps {
		e, n := localMeters(testCenter, wp)
		must.True(t, math.Abs(e) <= width/2+0.01, must.Sprintf("waypoint %d east %f", i, e))
		must.True(t, math.Abs(n) <= height/2+0.01, must.Sprintf("waypoint %d north %f", i, n))
	}
}

func TestLetterWaypoints_heightBound(t *testing.T) {
	// A wide, short box: height binds the letter size.
	wps := LetterWaypoints(testCenter, 1000, 20)
	for _, wp := range wps {
		_, n := localMeters(testCenter, wp)
		must.True(t, math.Abs(n) <= 10.01)
	}
}

func TestLawnMowerWaypoints(t *testing.T) {
	// fov 30m at 0.8 overlap gives 6m line spacing over a 100m box:
	// 17 lines, two waypoints each.
	wps := LawnMowerWaypoints(testCenter, 100, 100, 30, 0.8)
	must.Len(t, 34, wps)

	// Serpentine: successive lines alternate direction.
	e0, _ := localMeters(testCenter, wps[0])
	e1, _ := localMeters(testCenter, wps[1])
	e2, _ := localMeters(testCenter, wps[2])
	must.InDelta(t, -50, e0, 0.01)
	must.InDelta(t, 50, e1, 0.01)
	must.InDelta(t, 50, e2, 0.01)

	// Lines advance north by the spacing.
	_, n0 := localMeters(testCenter, wps[0])
	_, n2 := localMeters(testCenter, wps[2])
	must.InDelta(t, 6, n2-n0, 0.01)
}

func TestLawnMowerWaypoints_fullOverlap(t *testing.T) {
	// Overlap of 1 would give zero spacing; the generator falls back
	// to the raw footprint instead of looping forever.
	wps := LawnMowerWaypoints(testCenter, 90, 90, 30, 1.0)
	must.Len(t, 8, wps)
}

func TestDistanceM(t *testing.T) {
	a := testCenter
	b := offsetMeters(a, 300, 400)
	must.InDelta(t, 500, distanceM(a, b), 1.0)
}
