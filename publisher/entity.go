// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package publisher

import (
	"fmt"
	"time"

	"github.com/skyfleet/latticebridge/lattice"
	"github.com/skyfleet/latticebridge/structs"
)

const (
	// entityExpiry is how far ahead each publish extends the entity's
	// lifetime; a bridge that dies stops refreshing and the entity
	// ages out.
	entityExpiry = 10 * time.Minute

	// Stale positions are published with a wide error ellipse instead
	// of being dropped, so the C2 keeps showing the last known fix.
	staleEllipseAxisM = 1000.0
	staleProbability  = 0.5

	platformTypeUAV = "UAV"
)

// buildEntity assembles the C2 entity for one drone. Publishing is an
// upsert keyed by entity id, so every build carries the complete
// component set; a partial payload would strip the classification and
// task catalog from the live entity. Returns nil when the drone has no
// usable position at all.
func buildEntity(st *structs.DroneState, integrationName string, now time.Time) *lattice.Entity {
	if !st.Position.Valid() {
		return nil
	}

	e := &lattice.Entity{
		EntityID:    st.DroneID,
		Description: fmt.Sprintf("Drone-%s uplinked via %s", st.DroneID, integrationName),
		IsLive:      true,
		CreatedTime: now,
		ExpiryTime:  now.Add(entityExpiry),
		Aliases:     &lattice.Aliases{Name: "Drone-" + st.DroneID},
		Location:    buildLocation(st),
		Ontology: &lattice.Ontology{
			Template:     lattice.TemplateAsset,
			PlatformType: platformTypeUAV,
		},
		MilView: &lattice.MilView{
			Disposition: lattice.DispositionFriendly,
			Environment: lattice.EnvironmentAir,
		},
		Provenance: &lattice.Provenance{
			IntegrationName:  integrationName,
			DataType:         "telemetry",
			SourceUpdateTime: now,
		},
		Health: &lattice.Health{
			ConnectionStatus: lattice.ConnectionStatusOnline,
			HealthStatus:     lattice.HealthStatusHealthy,
			UpdateTime:       now,
		},
		TaskCatalog: lattice.NewTaskCatalog(lattice.DefaultTaskCatalogURLs()),
	}

	if st.PositionStale {
		e.LocationUncertainty = &lattice.LocationUncertainty{
			PositionErrorEllipse: &lattice.ErrorEllipse{
				Probability:    staleProbability,
				SemiMajorAxisM: staleEllipseAxisM,
				SemiMinorAxisM: staleEllipseAxisM,
			},
		}
	}

	return e
}

// buildLocation converts the stored NED telemetry into the entity's
// ENU frame: e=east, n=north, u=-down.
func buildLocation(st *structs.DroneState) *lattice.Location {
	loc := &lattice.Location{
		Position: &lattice.WorldPosition{
			LatitudeDegrees:   st.Position.LatitudeDeg,
			LongitudeDegrees:  st.Position.LongitudeDeg,
			AltitudeHaeMeters: st.Position.AltitudeAMSL,
		},
		SpeedMps: st.SpeedMps,
	}
	if st.Velocity != nil {
		loc.VelocityEnu = &lattice.ENU{
			E: st.Velocity.EastMps,
			N: st.Velocity.NorthMps,
			U: -st.Velocity.DownMps,
		}
	}
	return loc
}
