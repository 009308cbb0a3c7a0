package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/camride/dispatch/internal/presence"
)

// Presence is the slice of the presence service the dispatcher uses.
type Presence interface {
	FindNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]*presence.NearbyDriver, error)
	GetLocation(ctx context.Context, driverID uuid.UUID) (*presence.DriverLocation, error)
	GetMetadata(ctx context.Context, driverID uuid.UUID) (*presence.DriverMetadata, error)
	MarkUnavailable(ctx context.Context, driverID uuid.UUID) error
}

// Notifier delivers socket events to users.
type Notifier interface {
	EmitToUser(userID, event string, payload interface{})
}

// EventPublisher pushes match lifecycle events onto the bus.
type EventPublisher interface {
	PublishTripEvent(ctx context.Context, subject, eventType string, payload interface{})
}
