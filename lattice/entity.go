// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package lattice

import "time"

// Entity is the C2's representation of a live asset. The JSON shape
// follows the REST entity manager; omitted optional components are
// dropped from the payload.
type Entity struct {
	EntityID    string    `json:"entityId"`
	Description string    `json:"description,omitempty"`
	IsLive      bool      `json:"isLive"`
	CreatedTime time.Time `json:"createdTime"`
	ExpiryTime  time.Time `json:"expiryTime"`

	Aliases             *Aliases             `json:"aliases,omitempty"`
	Ontology            *Ontology            `json:"ontology,omitempty"`
	Provenance          *Provenance          `json:"provenance,omitempty"`
	MilView             *MilView             `json:"milView,omitempty"`
	Health              *Health              `json:"health,omitempty"`
	Location            *Location            `json:"location,omitempty"`
	LocationUncertainty *LocationUncertainty `json:"locationUncertainty,omitempty"`
	TaskCatalog         *TaskCatalog         `json:"taskCatalog,omitempty"`
}

// Aliases carries the display name.
type Aliases struct {
	Name string `json:"name"`
}

// Ontology classifies the entity for the C2 UI.
type Ontology struct {
	Template     string `json:"template"`
	PlatformType string `json:"platformType,omitempty"`
	SpecificType string `json:"specificType,omitempty"`
}

// Provenance records who produced the entity and when.
type Provenance struct {
	IntegrationName   string    `json:"integrationName"`
	DataType          string    `json:"dataType,omitempty"`
	SourceUpdateTime  time.Time `json:"sourceUpdateTime"`
	SourceDescription string    `json:"sourceDescription,omitempty"`
}

// MilView is the military-view classification.
type MilView struct {
	Disposition string `json:"disposition"`
	Environment string `json:"environment"`
}

// Health reports connection and health status.
type Health struct {
	ConnectionStatus string    `json:"connectionStatus"`
	HealthStatus     string    `json:"healthStatus"`
	UpdateTime       time.Time `json:"updateTime"`
}

// WorldPosition is a geodetic point with height above ellipsoid.
type WorldPosition struct {
	LatitudeDegrees   float64 `json:"latitudeDegrees"`
	LongitudeDegrees  float64 `json:"longitudeDegrees"`
	AltitudeHaeMeters float64 `json:"altitudeHaeMeters"`
}

// ENU is a vector in the east-north-up frame.
type ENU struct {
	E float64 `json:"e"`
	N float64 `json:"n"`
	U float64 `json:"u"`
}

// Location is the positional component of an entity.
type Location struct {
	Position    *WorldPosition `json:"position,omitempty"`
	VelocityEnu *ENU           `json:"velocityEnu,omitempty"`
	SpeedMps    float64        `json:"speedMps,omitempty"`
	AttitudeEnu *Quaternion    `json:"attitudeEnu,omitempty"`
}

// Quaternion carries an attitude in the ENU frame.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LocationUncertainty marks how much the published location is
// trusted.
type LocationUncertainty struct {
	PositionErrorEllipse *ErrorEllipse `json:"positionErrorEllipse,omitempty"`
}

// ErrorEllipse is a horizontal position error ellipse.
type ErrorEllipse struct {
	Probability    float64 `json:"probability"`
	SemiMajorAxisM float64 `json:"semiMajorAxisM"`
	SemiMinorAxisM float64 `json:"semiMinorAxisM"`
	OrientationD   float64 `json:"orientationD"`
}

// TaskCatalog advertises the task kinds an entity accepts. Without it
// the asset is not taskable in the C2 UI.
type TaskCatalog struct {
	TaskDefinitions []TaskDefinition `json:"taskDefinitions"`
}

// TaskDefinition names one supported task by specification URL.
type TaskDefinition struct {
	TaskSpecificationURL string `json:"taskSpecificationUrl"`
}

// NewTaskCatalog builds a catalog from specification URLs.
func NewTaskCatalog(urls []string) *TaskCatalog {
	defs := make([]TaskDefinition, len(urls))
	for i, u := range urls {
		defs[i] = TaskDefinition{TaskSpecificationURL: u}
	}
	return &TaskCatalog{TaskDefinitions: defs}
}
