package pricing

import (
	"context"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

// Service quotes fares from the active tariffs.
type Service struct {
	repo Store
}

// NewService creates the pricing service.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// Quote returns the fare estimate for a prospective trip.
func (s *Service) Quote(ctx context.Context, city string, vehicleType models.VehicleType, distanceKm, durationMin float64) (*Estimate, error) {
	if city == "" {
		return nil, apperrors.Validation("city is required")
	}
	if distanceKm < 0 || durationMin < 0 {
		return nil, apperrors.Validation("distance and duration must not be negative")
	}

	rule, err := s.repo.GetActiveRule(ctx, city, vehicleType)
	if err != nil {
		return nil, err
	}

	return &Estimate{
		City:        rule.City,
		VehicleType: rule.VehicleType,
		DistanceKm:  distanceKm,
		DurationMin: durationMin,
		SurgeMult:   rule.SurgeMult,
		Fare:        EstimateFare(rule, distanceKm, durationMin),
	}, nil
}
