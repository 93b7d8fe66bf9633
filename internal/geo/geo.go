package geo

import "math"

// earthRadiusM is the mean Earth radius in meters.
const earthRadiusM = 6371e3

// Point is a WGS84 coordinate pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula.
func DistanceMeters(a, b Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// WithinPerimeter reports whether p lies inside the circle of radiusM
// meters centered on center.
func WithinPerimeter(p, center Point, radiusM float64) bool {
	return DistanceMeters(p, center) <= radiusM
}
