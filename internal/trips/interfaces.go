package trips

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/camride/dispatch/pkg/models"
)

// SettleFunc runs post-trip settlement inside the completion transaction.
// Wired to the earnings engine in main.
type SettleFunc func(ctx context.Context, tx pgx.Tx, trip *models.Trip) error

// Repository is the durable trip store.
type Repository interface {
	Create(ctx context.Context, trip *models.Trip) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.TripStatus, at time.Time) error
	Cancel(ctx context.Context, id uuid.UUID, status models.TripStatus, reason string, by models.ActorRole, at time.Time) error
	CompleteWithSettlement(ctx context.Context, id uuid.UUID, fareFinal *int64, at time.Time, settle SettleFunc) (*models.Trip, error)
	AppendEvent(ctx context.Context, event *models.TripEvent) error
	ListEvents(ctx context.Context, tripID uuid.UUID) ([]*models.TripEvent, error)
	ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Trip, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Trip, error)
}

// EphemeralStore mirrors trip state in Redis, including the reverse
// active-trip indexes for passenger and driver.
type EphemeralStore interface {
	Save(ctx context.Context, trip *models.EphemeralTrip) error
	Get(ctx context.Context, tripID uuid.UUID) (*models.EphemeralTrip, error)
	Delete(ctx context.Context, tripID uuid.UUID) error
	SetActiveIndexes(ctx context.Context, trip *models.EphemeralTrip) error
	ClearActiveIndexes(ctx context.Context, passengerID string, driverID string) error
	ActiveTripForPassenger(ctx context.Context, passengerID string) (*ActiveTripRef, error)
	ActiveTripForDriver(ctx context.Context, driverID string) (*ActiveTripRef, error)
}

// Notifier delivers socket events to users and trip rooms.
type Notifier interface {
	EmitToUser(userID, event string, payload interface{})
	EmitToTrip(tripID, event string, payload interface{})
}

// DriverPool releases or withholds drivers from dispatch.
type DriverPool interface {
	MarkAvailable(ctx context.Context, driverID uuid.UUID) error
	MarkUnavailable(ctx context.Context, driverID uuid.UUID) error
}

// EventPublisher pushes canonical events onto the bus for other processes.
type EventPublisher interface {
	PublishTripEvent(ctx context.Context, subject, eventType string, payload interface{})
}
