// Package geo provides great-circle distance estimates for "sessions near
// you" filtering. Haversine precision is deliberate — geofencing beyond this
// estimate is out of scope.
package geo

import "math"

const earthRadiusKM = 6371.0

// DistanceKM returns the haversine distance between two coordinates in
// kilometers.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
