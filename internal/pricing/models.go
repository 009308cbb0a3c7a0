package pricing

import (
	"time"

	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/models"
)

// PriceRule is the active tariff for one (city, vehicle type) pair.
// Monetary fields are integer XAF.
type PriceRule struct {
	ID          uuid.UUID          `json:"id"`
	City        string             `json:"city"`
	VehicleType models.VehicleType `json:"vehicle_type"`
	BaseFare    int64              `json:"base_fare"`
	PerKm       int64              `json:"per_km"`
	PerMin      int64              `json:"per_min"`
	MinFare     int64              `json:"min_fare"`
	SurgeMult   float64            `json:"surge_mult"`
	IsActive    bool               `json:"is_active"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Estimate is a fare quote for a prospective trip.
type Estimate struct {
	City        string             `json:"city"`
	VehicleType models.VehicleType `json:"vehicle_type"`
	DistanceKm  float64            `json:"distance_km"`
	DurationMin float64            `json:"duration_min"`
	SurgeMult   float64            `json:"surge_mult"`
	Fare        int64              `json:"fare"`
}
