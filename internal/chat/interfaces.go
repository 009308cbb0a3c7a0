package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/models"
)

// Store is the persistence surface for chat messages.
type Store interface {
	Save(ctx context.Context, msg *Message) error
	ListByTrip(ctx context.Context, tripID uuid.UUID, limit, offset int) ([]*Message, error)
	MarkRead(ctx context.Context, tripID, recipientID uuid.UUID) (int64, error)
	UnreadCount(ctx context.Context, tripID, recipientID uuid.UUID) (int64, error)
}

// TripLoader provides the trip a message belongs to.
type TripLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
}

// Notifier delivers chat events to connected sockets.
type Notifier interface {
	EmitToUser(userID, event string, payload interface{})
	EmitToTrip(tripID, event string, payload interface{})
}
