package ratings

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

// Service handles post-trip feedback.
type Service struct {
	repo  Store
	trips TripLoader
}

// NewService creates the ratings service.
func NewService(repo Store, trips TripLoader) *Service {
	return &Service{repo: repo, trips: trips}
}

// RateTrip records one direction of feedback on a completed trip. Each
// participant rates a trip at most once.
func (s *Service) RateTrip(ctx context.Context, raterID, tripID uuid.UUID, stars int, comment string) (*models.Rating, error) {
	if stars < 1 || stars > 5 {
		return nil, apperrors.Validation("stars must be between 1 and 5")
	}

	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != models.TripStatusCompleted {
		return nil, apperrors.Precondition("only completed trips can be rated")
	}
	if trip.DriverID == nil {
		return nil, apperrors.Precondition("trip has no driver")
	}

	var ratedUser uuid.UUID
	var ratingType string
	switch raterID {
	case trip.PassengerID:
		ratedUser = *trip.DriverID
		ratingType = models.RatingPassengerToDriver
	case *trip.DriverID:
		ratedUser = trip.PassengerID
		ratingType = models.RatingDriverToPassenger
	default:
		return nil, apperrors.Forbidden("not a participant of this trip")
	}

	rating := &models.Rating{
		ID:         uuid.New(),
		TripID:     tripID,
		RatedBy:    raterID,
		RatedUser:  ratedUser,
		RatingType: ratingType,
		Stars:      stars,
	}
	if trimmed := strings.TrimSpace(comment); trimmed != "" {
		rating.Comment = &trimmed
	}

	if err := s.repo.Create(ctx, rating); err != nil {
		return nil, err
	}
	return rating, nil
}

// TripRatings returns both directions of a trip's feedback for a
// participant.
func (s *Service) TripRatings(ctx context.Context, callerID, tripID uuid.UUID) ([]*models.Rating, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.PassengerID != callerID && (trip.DriverID == nil || *trip.DriverID != callerID) {
		return nil, apperrors.Forbidden("not a participant of this trip")
	}

	ratings, err := s.repo.GetByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if ratings == nil {
		ratings = []*models.Rating{}
	}
	return ratings, nil
}

// ReceivedRatings returns ratings the caller has received.
func (s *Service) ReceivedRatings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Rating, error) {
	ratings, err := s.repo.GetForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if ratings == nil {
		ratings = []*models.Rating{}
	}
	return ratings, nil
}
