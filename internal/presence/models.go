package presence

import (
	"time"

	"github.com/google/uuid"
)

// DriverLocation is the live location snapshot kept per online driver.
type DriverLocation struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverMetadata is the session blob stored when a driver comes online.
type DriverMetadata struct {
	DriverID     uuid.UUID `json:"driver_id"`
	Name         string    `json:"name,omitempty"`
	VehicleType  string    `json:"vehicle_type,omitempty"`
	VehiclePlate string    `json:"vehicle_plate,omitempty"`
	VehicleModel string    `json:"vehicle_model,omitempty"`
	Rating       float64   `json:"rating,omitempty"`
	OnlineAt     time.Time `json:"online_at"`
}

// NearbyDriver is one candidate returned by a radius search.
type NearbyDriver struct {
	DriverID   uuid.UUID `json:"driver_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	DistanceKm float64   `json:"distance_km"`
}
