package geo

import (
	"github.com/uber/h3-go/v4"
)

// ZoneResolution is the H3 resolution used for pricing and earnings zones
// (~460m edge length).
const ZoneResolution = 8

// ZoneCell returns the H3 cell of a coordinate at the zone resolution, as
// a hex string suitable for rule conditions and keys. Empty on invalid
// input.
func ZoneCell(lat, lng float64) string {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), ZoneResolution)
	if err != nil {
		return ""
	}
	return cell.String()
}
