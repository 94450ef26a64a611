// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package tasks

import (
	"math"

	"github.com/skyfleet/latticebridge/structs"
)

// Letter pattern proportions. The three glyphs share one height; the
// bounding box constrains whichever dimension binds first.
const (
	letterAspect  = 0.7
	spacingRatio  = 0.25
	lettersAcross = 3
)

// LetterWaypoints lays out the "MC3" callsign pattern inside a
// width x height meter box centered on center. Sixteen waypoints: five
// strokes for the M, four for the C, seven for the 3.
func LetterWaypoints(center structs.LatLon, widthM, heightM float64) []structs.LatLon {
	// Letter height is bounded by the box height and by the width
	// needed to fit three letters plus two gaps.
	h := math.Min(heightM, widthM/(lettersAcross*letterAspect+2*spacingRatio))
	w := letterAspect * h
	gap := spacingRatio * h

	total := lettersAcross*w + 2*gap
	leftX := -total / 2

	mCX := leftX + w/2
	cCX := mCX + w/2 + gap + w/2
	tCX := cCX + w/2 + gap + w/2

	top := h / 2
	bottom := -h / 2
	quarter := h / 4
	half := w / 2

	// Local x/y in meters (east/north), flown stroke order M, C, 3.
	points := [][2]float64{
		// M
		{mCX - half, bottom},
		{mCX - half, top},
		{mCX, bottom},
		{mCX + half, top},
		{mCX + half, bottom},
		// C
		{cCX + half, top},
		{cCX - half, top},
		{cCX - half, bottom},
		{cCX + half, bottom},
		// 3
		{tCX - half, top},
		{tCX + half, top},
		{tCX + half, quarter},
		{tCX, 0},
		{tCX + half, -quarter},
		{tCX + half, bottom},
		{tCX - half, bottom},
	}

	out := make([]structs.LatLon, len(points))
	for i, p := range points {
		out[i] = offsetMeters(center, p[0], p[1])
	}
	return out
}

// LawnMowerWaypoints lays out a serpentine survey over a width x
// height meter box centered on center. Line spacing is the camera
// footprint reduced by the requested overlap.
func LawnMowerWaypoints(center structs.LatLon, widthM, heightM, cameraFovM, overlap float64) []structs.LatLon {
	spacing := cameraFovM * (1 - overlap)
	if spacing <= 0 {
		spacing = cameraFovM
	}

	var out []structs.LatLon
	left := -widthM / 2
	right := widthM / 2
	leftToRight := true
	for y := -heightM / 2; y <= heightM/2+1e-9; y += spacing {
		if leftToRight {
			out = append(out,
				offsetMeters(center, left, y),
				offsetMeters(center, right, y))
		} else {
			out = append(out,
				offsetMeters(center, right, y),
				offsetMeters(center, left, y))
		}
		leftToRight = !leftToRight
	}
	return out
}
