package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	// Douala to Yaounde, roughly 203 km great-circle.
	d := DistanceKm(4.05, 9.7, 3.87, 11.52)
	assert.InDelta(t, 203, d, 3)

	assert.Zero(t, DistanceKm(4.05, 9.7, 4.05, 9.7))
}

func TestValidCoordinate(t *testing.T) {
	assert.True(t, ValidCoordinate(4.05, 9.7))
	assert.True(t, ValidCoordinate(-90, 180))
	assert.False(t, ValidCoordinate(91, 9.7))
	assert.False(t, ValidCoordinate(4.05, -181))
}

func TestZoneCell(t *testing.T) {
	cell := ZoneCell(4.05, 9.7)
	assert.NotEmpty(t, cell)
	// Deterministic for rule matching and keys.
	assert.Equal(t, cell, ZoneCell(4.05, 9.7))
	// A point across town falls in a different zone.
	assert.NotEqual(t, cell, ZoneCell(4.09, 9.76))
}
