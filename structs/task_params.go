// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"fmt"
)

// TaskKind names an executor implementation.
type TaskKind string

const (
	TaskKindMapping  TaskKind = "mapping"
	TaskKindRelay    TaskKind = "relay"
	TaskKindDropping TaskKind = "dropping"

	// TaskKindGeneric is used for requests whose specification does
	// not name a known kind; the agent routes these to mapping.
	TaskKindGeneric TaskKind = "generic"
)

// LatLon is a bare coordinate pair used inside task parameters.
type LatLon struct {
	Lat float64
	Lon float64
}

// Valid applies the same epsilon test as Position.
func (l LatLon) Valid() bool {
	p := Position{LatitudeDeg: l.Lat, LongitudeDeg: l.Lon}
	return p.Valid()
}

// TaskParams is the tagged parameter variant carried by a Task.
// Exactly one field is non-nil, matching the Task's Kind. The dynamic
// parameter dictionaries of the C2 request are converted into these at
// the agent boundary, before an executor is spawned.
type TaskParams struct {
	Mapping  *MappingParams
	Relay    *RelayParams
	Dropping *DroppingParams
}

// Validate dispatches to the populated variant.
func (p *TaskParams) Validate() error {
	switch {
	case p.Mapping != nil:
		return p.Mapping.Validate()
	case p.Relay != nil:
		return p.Relay.Validate()
	case p.Dropping != nil:
		return p.Dropping.Validate()
	}
	return fmt.Errorf("task parameters missing variant")
}

// MappingParams configures an area mapping flight.
type MappingParams struct {
	// AreaCenter is optional; when nil the executor maps around the
	// drone's current position.
	AreaCenter *LatLon

	// AreaSize is the bounding box of the pattern in meters.
	AreaWidthM  float64
	AreaHeightM float64

	AltitudeM float64

	// Overlap is the desired image overlap fraction for the
	// lawn-mower generator.
	Overlap float64

	// CameraFovM is the ground footprint of one frame, used to derive
	// lawn-mower line spacing.
	CameraFovM float64

	// Pattern selects the waypoint generator. Empty defaults to the
	// letter pattern.
	Pattern MappingPattern
}

// MappingPattern selects a waypoint generator for mapping tasks.
type MappingPattern string

const (
	PatternLetters   MappingPattern = "letters"
	PatternLawnMower MappingPattern = "lawnmower"
)

// DefaultMappingParams returns mapping parameters with the defaults
// applied for anything the request left unset.
func DefaultMappingParams() *MappingParams {
	return &MappingParams{
		AreaWidthM:  100,
		AreaHeightM: 100,
		AltitudeM:   50,
		Overlap:     0.8,
		CameraFovM:  30,
		Pattern:     PatternLetters,
	}
}

func (p *MappingParams) Validate() error {
	if p.AreaCenter != nil && !p.AreaCenter.Valid() {
		return fmt.Errorf("mapping area_center is not a valid coordinate")
	}
	if p.AreaWidthM <= 0 || p.AreaHeightM <= 0 {
		return fmt.Errorf("mapping area_size must be positive, got %gx%g", p.AreaWidthM, p.AreaHeightM)
	}
	if p.AltitudeM <= 0 {
		return fmt.Errorf("mapping altitude_m must be positive")
	}
	if p.Overlap < 0 || p.Overlap > 1 {
		return fmt.Errorf("mapping overlap must be within [0,1], got %g", p.Overlap)
	}
	if p.CameraFovM <= 0 {
		return fmt.Errorf("mapping camera_fov_m must be positive")
	}
	switch p.Pattern {
	case "", PatternLetters, PatternLawnMower:
	default:
		return fmt.Errorf("unknown mapping pattern %q", p.Pattern)
	}
	return nil
}

// RelayParams configures a communications relay station-keep.
type RelayParams struct {
	RelayPosition LatLon
	AltitudeM     float64
	DurationS     float64
}

// DefaultRelayParams returns relay parameters with defaults applied.
func DefaultRelayParams() *RelayParams {
	return &RelayParams{
		AltitudeM: 100,
		DurationS: 300,
	}
}

func (p *RelayParams) Validate() error {
	if !p.RelayPosition.Valid() {
		return fmt.Errorf("relay_position is not a valid coordinate")
	}
	if p.AltitudeM <= 0 {
		return fmt.Errorf("relay altitude_m must be positive")
	}
	if p.DurationS <= 0 {
		return fmt.Errorf("relay duration_s must be positive")
	}
	return nil
}

// DroppingParams configures a payload delivery run.
type DroppingParams struct {
	DropLocations []LatLon

	ApproachAltitudeM float64
	DropAltitudeM     float64

	// PositionToleranceM is how close the drone must hold before a
	// release is triggered.
	PositionToleranceM float64

	// StabilizationTimeS is the hover time before release.
	StabilizationTimeS float64
}

// DefaultDroppingParams returns dropping parameters with defaults
// applied.
func DefaultDroppingParams() *DroppingParams {
	return &DroppingParams{
		ApproachAltitudeM:  50,
		DropAltitudeM:      10,
		PositionToleranceM: 1.0,
		StabilizationTimeS: 3.0,
	}
}

func (p *DroppingParams) Validate() error {
	if len(p.DropLocations) == 0 {
		return fmt.Errorf("dropping requires at least one drop location")
	}
	for i, loc := range p.DropLocations {
		if !loc.Valid() {
			return fmt.Errorf("drop location %d is not a valid coordinate", i)
		}
	}
	if p.ApproachAltitudeM <= 0 || p.DropAltitudeM <= 0 {
		return fmt.Errorf("dropping altitudes must be positive")
	}
	if p.DropAltitudeM > p.ApproachAltitudeM {
		return fmt.Errorf("drop altitude %g exceeds approach altitude %g", p.DropAltitudeM, p.ApproachAltitudeM)
	}
	if p.PositionToleranceM <= 0 {
		return fmt.Errorf("position_tolerance_m must be positive")
	}
	if p.StabilizationTimeS < 0 {
		return fmt.Errorf("stabilization_time_s must not be negative")
	}
	return nil
}
