package geo

import (
	"fmt"
	"math"
)

// earthRadiusMeters is the mean Earth radius used by the Haversine formula.
const earthRadiusMeters = 6371000.0

// Default bounds a Geofence radius is clamped into.
const (
	MinRadiusMeters = 50.0
	MaxRadiusMeters = 200.0
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geofence is a circular boundary a check-in location must fall inside.
type Geofence struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
}

// RadiusBounds limit the radius a geofence may be configured with.
type RadiusBounds struct {
	Min float64
	Max float64
}

// DefaultRadiusBounds returns [MinRadiusMeters, MaxRadiusMeters].
func DefaultRadiusBounds() RadiusBounds {
	return RadiusBounds{Min: MinRadiusMeters, Max: MaxRadiusMeters}
}

// Clamp forces radiusMeters into the bounds. Zero-value bounds fall back to
// the defaults.
func (b RadiusBounds) Clamp(radiusMeters float64) float64 {
	if b.Min <= 0 && b.Max <= 0 {
		b = DefaultRadiusBounds()
	}
	if radiusMeters < b.Min {
		radiusMeters = b.Min
	}
	if b.Max > 0 && radiusMeters > b.Max {
		radiusMeters = b.Max
	}
	return radiusMeters
}

// NewGeofence builds a geofence with the radius clamped into the default
// bounds.
func NewGeofence(center Coordinate, radiusMeters float64) Geofence {
	return NewGeofenceWithin(center, radiusMeters, DefaultRadiusBounds())
}

// NewGeofenceWithin builds a geofence clamping the radius into bounds.
func NewGeofenceWithin(center Coordinate, radiusMeters float64, bounds RadiusBounds) Geofence {
	return Geofence{Center: center, RadiusMeters: bounds.Clamp(radiusMeters)}
}

// Distance returns the great-circle distance between two coordinates in
// meters using the Haversine formula.
func Distance(a, b Coordinate) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	dPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	dLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// Result is the outcome of a geofence check. Being outside the fence is a
// normal negative result, not an error.
type Result struct {
	Valid          bool    `json:"valid"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Message renders a user-facing explanation including the measured distance.
func (r Result) Message(fence Geofence) string {
	if r.Valid {
		return fmt.Sprintf("You are within the allowed area (%.0fm from room)", r.DistanceMeters)
	}
	return fmt.Sprintf("You are too far from the room (%.0fm away, maximum %.0fm allowed)",
		r.DistanceMeters, fence.RadiusMeters)
}

// Validate checks whether current falls inside the fence. The boundary is
// inclusive: a distance exactly equal to the radius passes.
func Validate(current Coordinate, fence Geofence) Result {
	d := Distance(current, fence.Center)
	return Result{
		Valid:          d <= fence.RadiusMeters,
		DistanceMeters: d,
	}
}
