package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

// Store loads tariffs.
type Store interface {
	GetActiveRule(ctx context.Context, city string, vehicleType models.VehicleType) (*PriceRule, error)
}

// PostgresRepository reads price rules. UNIQUE(city, vehicle_type) holds at
// most one active tariff per pair.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates the pricing repository.
func NewRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Store = (*PostgresRepository)(nil)

// GetActiveRule returns the active tariff for a city and vehicle type.
func (r *PostgresRepository) GetActiveRule(ctx context.Context, city string, vehicleType models.VehicleType) (*PriceRule, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, city, vehicle_type, base_fare, per_km, per_min, min_fare,
			surge_mult, is_active, created_at, updated_at
		FROM price_rules
		WHERE city = $1 AND vehicle_type = $2 AND is_active = TRUE`,
		city, vehicleType)

	var rule PriceRule
	err := row.Scan(&rule.ID, &rule.City, &rule.VehicleType, &rule.BaseFare,
		&rule.PerKm, &rule.PerMin, &rule.MinFare, &rule.SurgeMult,
		&rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("no active price rule for this city and vehicle type")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load price rule", err)
	}
	return &rule, nil
}
