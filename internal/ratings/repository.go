package ratings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

const uniqueViolation = "23505"

// PostgresRepository persists ratings and keeps the rated driver's rolling
// average on the profile row.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates the ratings repository.
func NewRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Store = (*PostgresRepository)(nil)

// Create inserts the rating and, for passenger-to-driver ratings, folds the
// stars into the driver profile's average in the same transaction.
// UNIQUE(trip_id, rated_by) makes a second rating a conflict.
func (r *PostgresRepository) Create(ctx context.Context, rating *models.Rating) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperrors.Internal("failed to begin rating transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ratings (id, trip_id, rated_by, rated_user, rating_type, stars, comment, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		rating.ID, rating.TripID, rating.RatedBy, rating.RatedUser,
		rating.RatingType, rating.Stars, rating.Comment,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict(apperrors.CodeAlreadyRated, "trip already rated by this user")
		}
		return apperrors.Internal("failed to insert rating", err)
	}

	if rating.RatingType == models.RatingPassengerToDriver {
		_, err = tx.Exec(ctx, `
			UPDATE driver_profiles
			SET rating_average = (rating_average * rating_count + $1) / (rating_count + 1),
				rating_count = rating_count + 1,
				updated_at = NOW()
			WHERE account_id = $2`,
			rating.Stars, rating.RatedUser,
		)
		if err != nil {
			return apperrors.Internal("failed to update driver rating average", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Internal("failed to commit rating", err)
	}
	return nil
}

// GetByTrip returns both directions of a trip's feedback.
func (r *PostgresRepository) GetByTrip(ctx context.Context, tripID uuid.UUID) ([]*models.Rating, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, trip_id, rated_by, rated_user, rating_type, stars, comment, created_at
		FROM ratings WHERE trip_id = $1 ORDER BY created_at ASC`, tripID)
	if err != nil {
		return nil, apperrors.Internal("failed to list trip ratings", err)
	}
	defer rows.Close()

	var ratings []*models.Rating
	for rows.Next() {
		var rating models.Rating
		err := rows.Scan(&rating.ID, &rating.TripID, &rating.RatedBy, &rating.RatedUser,
			&rating.RatingType, &rating.Stars, &rating.Comment, &rating.CreatedAt)
		if err != nil {
			return nil, apperrors.Internal("failed to scan rating", err)
		}
		ratings = append(ratings, &rating)
	}
	return ratings, rows.Err()
}

// GetForUser returns ratings received by a user, newest first.
func (r *PostgresRepository) GetForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Rating, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, trip_id, rated_by, rated_user, rating_type, stars, comment, created_at
		FROM ratings WHERE rated_user = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Internal("failed to list user ratings", err)
	}
	defer rows.Close()

	var ratings []*models.Rating
	for rows.Next() {
		var rating models.Rating
		err := rows.Scan(&rating.ID, &rating.TripID, &rating.RatedBy, &rating.RatedUser,
			&rating.RatingType, &rating.Stars, &rating.Comment, &rating.CreatedAt)
		if err != nil {
			return nil, apperrors.Internal("failed to scan rating", err)
		}
		ratings = append(ratings, &rating)
	}
	return ratings, rows.Err()
}
