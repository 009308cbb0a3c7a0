package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the authoritative trip lifecycle state.
type TripStatus string

const (
	TripStatusDraft          TripStatus = "DRAFT"
	TripStatusSearching      TripStatus = "SEARCHING"
	TripStatusMatched        TripStatus = "MATCHED"
	TripStatusDriverAssigned TripStatus = "DRIVER_ASSIGNED"
	TripStatusDriverEnRoute  TripStatus = "DRIVER_EN_ROUTE"
	TripStatusDriverArrived  TripStatus = "DRIVER_ARRIVED"
	TripStatusInProgress     TripStatus = "IN_PROGRESS"
	TripStatusCompleted      TripStatus = "COMPLETED"
	TripStatusCanceled       TripStatus = "CANCELED"
	TripStatusNoShow         TripStatus = "NO_SHOW"
	TripStatusNoDrivers      TripStatus = "NO_DRIVERS"
)

// Terminal reports whether the status permits no further transitions.
func (s TripStatus) Terminal() bool {
	switch s {
	case TripStatusCompleted, TripStatusCanceled, TripStatusNoShow, TripStatusNoDrivers:
		return true
	}
	return false
}

// PaymentMethod enumerates supported in-trip payment methods.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "CASH"
	PaymentMoMo PaymentMethod = "MOMO"
	PaymentOM   PaymentMethod = "OM"
)

// ActorRole identifies who performed an action on a trip.
type ActorRole string

const (
	ActorPassenger ActorRole = "PASSENGER"
	ActorDriver    ActorRole = "DRIVER"
	ActorSystem    ActorRole = "SYSTEM"
)

// Location is a coordinate with an optional human-readable address.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Trip is the durable trip row, created at MATCHED.
type Trip struct {
	ID             uuid.UUID      `json:"id"`
	PassengerID    uuid.UUID      `json:"passenger_id"`
	DriverID       *uuid.UUID     `json:"driver_id,omitempty"`
	Status         TripStatus     `json:"status"`
	Pickup         Location       `json:"pickup"`
	Dropoff        Location       `json:"dropoff"`
	RoutePolyline  *string        `json:"route_polyline,omitempty"`
	DistanceM      int            `json:"distance_m"`
	DurationS      int            `json:"duration_s"`
	FareEstimate   int64          `json:"fare_estimate"`
	FareFinal      *int64         `json:"fare_final,omitempty"`
	PaymentMethod  PaymentMethod  `json:"payment_method"`
	DriverAtMatch  *Location      `json:"driver_at_match,omitempty"`
	MatchedAt      *time.Time     `json:"matched_at,omitempty"`
	DriverEnRouteAt *time.Time    `json:"driver_en_route_at,omitempty"`
	DriverArrivedAt *time.Time    `json:"driver_arrived_at,omitempty"`
	TripStartedAt  *time.Time     `json:"trip_started_at,omitempty"`
	TripCompletedAt *time.Time    `json:"trip_completed_at,omitempty"`
	CanceledAt     *time.Time     `json:"canceled_at,omitempty"`
	CancelReason   *string        `json:"cancel_reason,omitempty"`
	CanceledBy     *ActorRole     `json:"canceled_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// EphemeralTrip is the key-value record of a trip: the only home of a
// SEARCHING trip, and a mirror of the durable row once matched.
type EphemeralTrip struct {
	ID            uuid.UUID     `json:"id"`
	PassengerID   uuid.UUID     `json:"passenger_id"`
	DriverID      *uuid.UUID    `json:"driver_id,omitempty"`
	Status        TripStatus    `json:"status"`
	Pickup        Location      `json:"pickup"`
	Dropoff       Location      `json:"dropoff"`
	DistanceM     int           `json:"distance_m"`
	DurationS     int           `json:"duration_s"`
	FareEstimate  int64         `json:"fare_estimate"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	RequestedAt   time.Time     `json:"requested_at"`
	MatchedAt     *time.Time    `json:"matched_at,omitempty"`
}

// TripEvent is the append-only audit record of a state transition.
type TripEvent struct {
	ID          uuid.UUID `json:"id"`
	TripID      uuid.UUID `json:"trip_id"`
	EventType   string    `json:"event_type"`
	PerformedBy string    `json:"performed_by"`
	Metadata    []byte    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Trip event types.
const (
	EventTripRequested = "TRIP_REQUESTED"
	EventTripMatched   = "TRIP_MATCHED"
	EventDriverEnRoute = "DRIVER_EN_ROUTE"
	EventDriverArrived = "DRIVER_ARRIVED"
	EventTripStarted   = "TRIP_STARTED"
	EventTripCompleted = "TRIP_COMPLETED"
	EventTripCanceled  = "TRIP_CANCELED"
	EventTripNoShow    = "TRIP_NO_SHOW"
	EventTripNoDrivers = "TRIP_NO_DRIVERS"
)

// Rating is one direction of post-trip feedback.
type Rating struct {
	ID         uuid.UUID `json:"id"`
	TripID     uuid.UUID `json:"trip_id"`
	RatedBy    uuid.UUID `json:"rated_by"`
	RatedUser  uuid.UUID `json:"rated_user"`
	RatingType string    `json:"rating_type"`
	Stars      int       `json:"stars"`
	Comment    *string   `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Rating directions.
const (
	RatingDriverToPassenger = "DRIVER_TO_PASSENGER"
	RatingPassengerToDriver = "PASSENGER_TO_DRIVER"
)
