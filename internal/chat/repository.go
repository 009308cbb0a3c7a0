package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camride/dispatch/pkg/apperrors"
)

// PostgresRepository persists chat messages.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates the chat repository.
func NewRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Store = (*PostgresRepository)(nil)

// Save persists one message.
func (r *PostgresRepository) Save(ctx context.Context, msg *Message) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_messages (
			id, trip_id, sender_id, recipient_id, sender_role, content, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		msg.ID, msg.TripID, msg.SenderID, msg.RecipientID, msg.SenderRole,
		msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return apperrors.Internal("failed to save chat message", err)
	}
	return nil
}

// ListByTrip returns the trip's messages in send order.
func (r *PostgresRepository) ListByTrip(ctx context.Context, tripID uuid.UUID, limit, offset int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, trip_id, sender_id, recipient_id, sender_role, content, read_at, created_at
		FROM chat_messages
		WHERE trip_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`, tripID, limit, offset)
	if err != nil {
		return nil, apperrors.Internal("failed to list chat messages", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.TripID, &m.SenderID, &m.RecipientID,
			&m.SenderRole, &m.Content, &m.ReadAt, &m.CreatedAt)
		if err != nil {
			return nil, apperrors.Internal("failed to scan chat message", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// MarkRead sets read_at on every unread message of the trip addressed to the
// recipient, returning how many were updated.
func (r *PostgresRepository) MarkRead(ctx context.Context, tripID, recipientID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE chat_messages
		SET read_at = NOW()
		WHERE trip_id = $1 AND recipient_id = $2 AND read_at IS NULL`,
		tripID, recipientID,
	)
	if err != nil {
		return 0, apperrors.Internal("failed to mark chat messages read", err)
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts the recipient's unread messages in a trip.
func (r *PostgresRepository) UnreadCount(ctx context.Context, tripID, recipientID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages
		WHERE trip_id = $1 AND recipient_id = $2 AND read_at IS NULL`,
		tripID, recipientID,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.Internal("failed to count unread chat messages", err)
	}
	return count, nil
}
