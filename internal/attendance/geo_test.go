package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineZeroDistance(t *testing.T) {
	assert.Zero(t, HaversineMeters(40.0, -73.0, 40.0, -73.0))
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	// One degree of latitude is ~111.19 km on a 6371 km sphere.
	d := HaversineMeters(40.0, -73.0, 41.0, -73.0)
	assert.InDelta(t, 111195, d, 10)
}

func TestHaversineKnownCityPair(t *testing.T) {
	// Paris (48.8566, 2.3522) to London (51.5074, -0.1278) is ~344 km.
	d := HaversineMeters(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 343500, d, 1500)
}

func TestHaversineSymmetry(t *testing.T) {
	a := HaversineMeters(10, 20, -30, 40)
	b := HaversineMeters(-30, 40, 10, 20)
	assert.InDelta(t, a, b, 1e-9)
}

func TestHaversineSmallOffsets(t *testing.T) {
	lat, lng := offsetLat(40.0, -73.0, 100)
	d := HaversineMeters(40.0, -73.0, lat, lng)
	assert.InDelta(t, 100, d, 0.01)
}
