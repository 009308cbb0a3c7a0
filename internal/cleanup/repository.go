package cleanup

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camride/dispatch/pkg/apperrors"
)

// ExpiredSignup is a pending signup whose confirmation window has lapsed.
type ExpiredSignup struct {
	ID          uuid.UUID
	DocumentURL *string
}

// SignupStore lists and removes lapsed signups.
type SignupStore interface {
	ListExpired(ctx context.Context, limit int) ([]ExpiredSignup, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PostgresRepository works against the pending_signups table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates the cleanup repository.
func NewRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ SignupStore = (*PostgresRepository)(nil)

// ListExpired returns signups whose expires_at has passed, oldest first.
func (r *PostgresRepository) ListExpired(ctx context.Context, limit int) ([]ExpiredSignup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, document_url
		FROM pending_signups
		WHERE expires_at < NOW()
		ORDER BY expires_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to list expired signups", err)
	}
	defer rows.Close()

	var expired []ExpiredSignup
	for rows.Next() {
		var s ExpiredSignup
		if err := rows.Scan(&s.ID, &s.DocumentURL); err != nil {
			return nil, apperrors.Internal("failed to scan expired signup", err)
		}
		expired = append(expired, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("failed to read expired signups", err)
	}
	return expired, nil
}

// Delete removes a pending signup row.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM pending_signups WHERE id = $1`, id); err != nil {
		return apperrors.Internal("failed to delete pending signup", err)
	}
	return nil
}
