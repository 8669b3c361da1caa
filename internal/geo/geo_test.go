package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceZero(t *testing.T) {
	p := Coordinate{Latitude: 11.5564, Longitude: 104.9282}
	assert.Equal(t, 0.0, Distance(p, p))
}

func TestDistanceSymmetry(t *testing.T) {
	cases := []struct {
		name string
		a, b Coordinate
	}{
		{"equator", Coordinate{0, 0}, Coordinate{0.001, 0.001}},
		{"city", Coordinate{11.5564, 104.9282}, Coordinate{11.5570, 104.9290}},
		{"hemispheres", Coordinate{51.5, -0.12}, Coordinate{-33.86, 151.2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, Distance(tc.a, tc.b), Distance(tc.b, tc.a), 1e-9)
		})
	}
}

func TestDistanceKnownFixture(t *testing.T) {
	// 0.0009 degrees of latitude at the equator is about 100m.
	a := Coordinate{Latitude: 0, Longitude: 0}
	b := Coordinate{Latitude: 0.0009, Longitude: 0}
	d := Distance(a, b)
	assert.InDelta(t, 100.0, d, 1.0)
}

func TestValidateInclusiveBoundary(t *testing.T) {
	center := Coordinate{Latitude: 0, Longitude: 0}
	current := Coordinate{Latitude: 0.0009, Longitude: 0}
	d := Distance(current, center)

	onBoundary := Validate(current, Geofence{Center: center, RadiusMeters: d})
	assert.True(t, onBoundary.Valid)
	assert.InDelta(t, d, onBoundary.DistanceMeters, 1e-9)

	justInside := Validate(current, Geofence{Center: center, RadiusMeters: d - 1})
	assert.False(t, justInside.Valid)
}

func TestValidateWithinRadius(t *testing.T) {
	fence := Geofence{Center: Coordinate{Latitude: 11.5564, Longitude: 104.9282}, RadiusMeters: 100}
	res := Validate(Coordinate{Latitude: 11.5566, Longitude: 104.9283}, fence)
	assert.True(t, res.Valid)
	assert.Less(t, res.DistanceMeters, 100.0)
}

func TestNewGeofenceClampsRadius(t *testing.T) {
	center := Coordinate{}
	assert.Equal(t, MinRadiusMeters, NewGeofence(center, 10).RadiusMeters)
	assert.Equal(t, MaxRadiusMeters, NewGeofence(center, 500).RadiusMeters)
	assert.Equal(t, 120.0, NewGeofence(center, 120).RadiusMeters)
}

func TestNewGeofenceWithinCustomBounds(t *testing.T) {
	center := Coordinate{Latitude: 11.5564, Longitude: 104.9282}
	bounds := RadiusBounds{Min: 20, Max: 500}

	assert.Equal(t, 400.0, NewGeofenceWithin(center, 400, bounds).RadiusMeters)
	assert.Equal(t, 20.0, NewGeofenceWithin(center, 5, bounds).RadiusMeters)
	assert.Equal(t, 500.0, NewGeofenceWithin(center, 900, bounds).RadiusMeters)

	// zero-value bounds behave like the defaults
	assert.Equal(t, MinRadiusMeters, NewGeofenceWithin(center, 10, RadiusBounds{}).RadiusMeters)
}

func TestResultMessageIncludesDistance(t *testing.T) {
	fence := Geofence{Center: Coordinate{}, RadiusMeters: 50}
	res := Result{Valid: false, DistanceMeters: 142}
	assert.Equal(t, "You are too far from the room (142m away, maximum 50m allowed)", res.Message(fence))
}
