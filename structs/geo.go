// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package structs

import "math"

// earthRadiusM is the mean Earth radius used for great-circle math.
const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters between two
// latitude/longitude points given in degrees.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
