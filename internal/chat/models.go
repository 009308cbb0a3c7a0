package chat

import (
	"time"

	"github.com/google/uuid"
)

// maxMessageLength caps message content after whitespace trimming.
const maxMessageLength = 2000

// Message is one durable chat message inside a trip.
type Message struct {
	ID          uuid.UUID  `json:"id"`
	TripID      uuid.UUID  `json:"trip_id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	SenderRole  string     `json:"sender_role"`
	Content     string     `json:"content"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
