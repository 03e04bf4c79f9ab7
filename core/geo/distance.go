// Package geo computes great-circle distances between stations.
package geo

import "github.com/golang/geo/s2"

// EarthRadiusMeters is the mean Earth radius used for every distance so that
// sink ordering is reproducible across runs.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}
