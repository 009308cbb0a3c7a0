package ratings

import (
	"context"

	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/models"
)

// Store is the persistence surface for ratings.
type Store interface {
	Create(ctx context.Context, rating *models.Rating) error
	GetByTrip(ctx context.Context, tripID uuid.UUID) ([]*models.Rating, error)
	GetForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Rating, error)
}

// TripLoader provides the trip being rated.
type TripLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
}
