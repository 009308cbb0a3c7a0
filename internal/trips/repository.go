package trips

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

// PostgresRepository is the durable trip store backed by pgx.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates a trip repository.
func NewRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tripColumns = `id, passenger_id, driver_id, status,
	pickup_lat, pickup_lng, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_address,
	route_polyline, distance_m, duration_s,
	fare_estimate, fare_final, payment_method,
	driver_at_match_lat, driver_at_match_lng,
	matched_at, driver_en_route_at, driver_arrived_at,
	trip_started_at, trip_completed_at, canceled_at,
	cancel_reason, canceled_by, created_at, updated_at`

// Create inserts the durable trip row. Called once, at match time.
func (r *PostgresRepository) Create(ctx context.Context, trip *models.Trip) error {
	var matchLat, matchLng *float64
	if trip.DriverAtMatch != nil {
		matchLat = &trip.DriverAtMatch.Latitude
		matchLng = &trip.DriverAtMatch.Longitude
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO trips (
			id, passenger_id, driver_id, status,
			pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address,
			route_polyline, distance_m, duration_s,
			fare_estimate, payment_method,
			driver_at_match_lat, driver_at_match_lng,
			matched_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())`,
		trip.ID, trip.PassengerID, trip.DriverID, trip.Status,
		trip.Pickup.Latitude, trip.Pickup.Longitude, trip.Pickup.Address,
		trip.Dropoff.Latitude, trip.Dropoff.Longitude, trip.Dropoff.Address,
		trip.RoutePolyline, trip.DistanceM, trip.DurationS,
		trip.FareEstimate, trip.PaymentMethod,
		matchLat, matchLng, trip.MatchedAt,
	)
	if err != nil {
		return apperrors.Internal("failed to insert trip", err)
	}
	return nil
}

// GetByID loads one trip.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	trip, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("trip not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load trip", err)
	}
	return trip, nil
}

// UpdateStatus advances the trip status and stamps the matching timestamp
// column for the transition.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TripStatus, at time.Time) error {
	var column string
	switch status {
	case models.TripStatusDriverEnRoute:
		column = "driver_en_route_at"
	case models.TripStatusDriverArrived:
		column = "driver_arrived_at"
	case models.TripStatusInProgress:
		column = "trip_started_at"
	case models.TripStatusCompleted:
		column = "trip_completed_at"
	}

	var err error
	if column != "" {
		_, err = r.db.Exec(ctx,
			`UPDATE trips SET status = $1, `+column+` = $2, updated_at = NOW() WHERE id = $3`,
			status, at, id)
	} else {
		_, err = r.db.Exec(ctx,
			`UPDATE trips SET status = $1, updated_at = NOW() WHERE id = $2`,
			status, id)
	}
	if err != nil {
		return apperrors.Internal("failed to update trip status", err)
	}
	return nil
}

// Cancel terminates the trip as CANCELED or NO_SHOW with attribution.
func (r *PostgresRepository) Cancel(ctx context.Context, id uuid.UUID, status models.TripStatus, reason string, by models.ActorRole, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE trips
		SET status = $1, canceled_at = $2, cancel_reason = $3, canceled_by = $4, updated_at = NOW()
		WHERE id = $5`,
		status, at, reason, by, id)
	if err != nil {
		return apperrors.Internal("failed to cancel trip", err)
	}
	return nil
}

// CompleteWithSettlement marks the trip COMPLETED and runs settlement in the
// same transaction. The row is locked first so two completion attempts for
// the same trip serialize; the settle callback's receipt insert then makes
// the duplicate a no-op.
func (r *PostgresRepository) CompleteWithSettlement(ctx context.Context, id uuid.UUID, fareFinal *int64, at time.Time, settle SettleFunc) (*models.Trip, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, id)
	trip, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("trip not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load trip", err)
	}

	if trip.Status != models.TripStatusInProgress {
		return nil, apperrors.Precondition("trip is not in progress")
	}

	if fareFinal == nil {
		fareFinal = &trip.FareEstimate
	}

	_, err = tx.Exec(ctx, `
		UPDATE trips
		SET status = $1, fare_final = $2, trip_completed_at = $3, updated_at = NOW()
		WHERE id = $4`,
		models.TripStatusCompleted, *fareFinal, at, id)
	if err != nil {
		return nil, apperrors.Internal("failed to complete trip", err)
	}

	trip.Status = models.TripStatusCompleted
	trip.FareFinal = fareFinal
	trip.TripCompletedAt = &at

	if settle != nil {
		if err := settle(ctx, tx, trip); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Internal("failed to commit completion", err)
	}
	return trip, nil
}

// AppendEvent writes one audit record. Callers treat failures as non-fatal.
func (r *PostgresRepository) AppendEvent(ctx context.Context, event *models.TripEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO trip_events (id, trip_id, event_type, performed_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		event.ID, event.TripID, event.EventType, event.PerformedBy, event.Metadata)
	if err != nil {
		return apperrors.Internal("failed to append trip event", err)
	}
	return nil
}

// ListEvents returns the audit trail for one trip, oldest first.
func (r *PostgresRepository) ListEvents(ctx context.Context, tripID uuid.UUID) ([]*models.TripEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, trip_id, event_type, performed_by, metadata, created_at
		FROM trip_events WHERE trip_id = $1 ORDER BY created_at ASC`, tripID)
	if err != nil {
		return nil, apperrors.Internal("failed to list trip events", err)
	}
	defer rows.Close()

	var events []*models.TripEvent
	for rows.Next() {
		var e models.TripEvent
		if err := rows.Scan(&e.ID, &e.TripID, &e.EventType, &e.PerformedBy, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, apperrors.Internal("failed to scan trip event", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ListByPassenger returns the passenger's trips, newest first.
func (r *PostgresRepository) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	return r.list(ctx, "passenger_id", passengerID, limit, offset)
}

// ListByDriver returns the driver's trips, newest first.
func (r *PostgresRepository) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	return r.list(ctx, "driver_id", driverID, limit, offset)
}

func (r *PostgresRepository) list(ctx context.Context, column string, userID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE `+column+` = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, apperrors.Internal("failed to list trips", err)
	}
	defer rows.Close()

	var result []*models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, apperrors.Internal("failed to scan trip", err)
		}
		result = append(result, trip)
	}
	return result, rows.Err()
}

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var t models.Trip
	var matchLat, matchLng *float64
	err := row.Scan(
		&t.ID, &t.PassengerID, &t.DriverID, &t.Status,
		&t.Pickup.Latitude, &t.Pickup.Longitude, &t.Pickup.Address,
		&t.Dropoff.Latitude, &t.Dropoff.Longitude, &t.Dropoff.Address,
		&t.RoutePolyline, &t.DistanceM, &t.DurationS,
		&t.FareEstimate, &t.FareFinal, &t.PaymentMethod,
		&matchLat, &matchLng,
		&t.MatchedAt, &t.DriverEnRouteAt, &t.DriverArrivedAt,
		&t.TripStartedAt, &t.TripCompletedAt, &t.CanceledAt,
		&t.CancelReason, &t.CanceledBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if matchLat != nil && matchLng != nil {
		t.DriverAtMatch = &models.Location{Latitude: *matchLat, Longitude: *matchLng}
	}
	return &t, nil
}

var _ Repository = (*PostgresRepository)(nil)
