package dispatch

import (
	"time"

	"github.com/camride/dispatch/pkg/models"
)

// TripRequestInput is the passenger's trip request payload.
type TripRequestInput struct {
	Pickup        models.Location      `json:"pickup"`
	Dropoff       models.Location      `json:"dropoff"`
	DistanceM     int                  `json:"distance_m"`
	DurationS     int                  `json:"duration_s"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	FareEstimate  int64                `json:"fare_estimate"`
}

// PendingOffer is one entry of a driver's replayable offer list.
type PendingOffer struct {
	TripID        string               `json:"trip_id"`
	PassengerID   string               `json:"passenger_id"`
	Pickup        models.Location      `json:"pickup"`
	Dropoff       models.Location      `json:"dropoff"`
	DistanceM     int                  `json:"distance_m"`
	DurationS     int                  `json:"duration_s"`
	FareEstimate  int64                `json:"fare_estimate"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	DistanceKm    float64              `json:"distance_km"`
	ExpiresAt     time.Time            `json:"expires_at"`
}

// AcceptResult is returned to the winning driver.
type AcceptResult struct {
	Trip      *models.Trip `json:"trip"`
	Passenger interface{}  `json:"passenger,omitempty"`
}
