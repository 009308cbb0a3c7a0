package trips

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/camride/dispatch/internal/keys"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
	redisClient "github.com/camride/dispatch/pkg/redis"
)

// ActiveTripRef is the reverse-index value pointing a user at their one
// active trip.
type ActiveTripRef struct {
	TripID      string            `json:"trip_id"`
	PassengerID string            `json:"passenger_id"`
	DriverID    string            `json:"driver_id,omitempty"`
	Status      models.TripStatus `json:"status"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RedisStore keeps the ephemeral trip record and the reverse indexes.
// A SEARCHING trip lives only here; once matched the record mirrors the
// durable row until the trip terminates or the TTL reaps it.
type RedisStore struct {
	redis redisClient.ClientInterface
}

// NewRedisStore creates the ephemeral trip store.
func NewRedisStore(redis redisClient.ClientInterface) *RedisStore {
	return &RedisStore{redis: redis}
}

func ephemeralTTL(status models.TripStatus) time.Duration {
	if status == models.TripStatusSearching {
		return keys.TTLTripSearching
	}
	return keys.TTLTripMatched
}

// Save writes the trip record with a TTL chosen from its status.
func (s *RedisStore) Save(ctx context.Context, trip *models.EphemeralTrip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return apperrors.Internal("failed to marshal ephemeral trip", err)
	}
	if err := s.redis.SetWithExpiration(ctx, keys.Trip(trip.ID.String()), data, ephemeralTTL(trip.Status)); err != nil {
		return apperrors.Internal("failed to store ephemeral trip", err)
	}
	return nil
}

// Get returns the trip record, or nil when it has expired or never existed.
func (s *RedisStore) Get(ctx context.Context, tripID uuid.UUID) (*models.EphemeralTrip, error) {
	data, err := s.redis.GetString(ctx, keys.Trip(tripID.String()))
	if err == redisClient.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to read ephemeral trip", err)
	}

	var trip models.EphemeralTrip
	if err := json.Unmarshal([]byte(data), &trip); err != nil {
		return nil, apperrors.Internal("failed to unmarshal ephemeral trip", err)
	}
	return &trip, nil
}

// Delete removes the trip record.
func (s *RedisStore) Delete(ctx context.Context, tripID uuid.UUID) error {
	if err := s.redis.Delete(ctx, keys.Trip(tripID.String())); err != nil {
		return apperrors.Internal("failed to delete ephemeral trip", err)
	}
	return nil
}

// SetActiveIndexes points the passenger (and driver, once assigned) at the
// trip. Both keys share the matched-trip TTL.
func (s *RedisStore) SetActiveIndexes(ctx context.Context, trip *models.EphemeralTrip) error {
	ref := ActiveTripRef{
		TripID:      trip.ID.String(),
		PassengerID: trip.PassengerID.String(),
		Status:      trip.Status,
		UpdatedAt:   time.Now(),
	}
	if trip.DriverID != nil {
		ref.DriverID = trip.DriverID.String()
	}

	data, err := json.Marshal(ref)
	if err != nil {
		return apperrors.Internal("failed to marshal active trip ref", err)
	}

	if err := s.redis.SetWithExpiration(ctx, keys.PassengerActiveTrip(ref.PassengerID), data, keys.TTLActiveTrip); err != nil {
		return apperrors.Internal("failed to set passenger active trip", err)
	}
	if ref.DriverID != "" {
		if err := s.redis.SetWithExpiration(ctx, keys.DriverActiveTrip(ref.DriverID), data, keys.TTLActiveTrip); err != nil {
			return apperrors.Internal("failed to set driver active trip", err)
		}
	}
	return nil
}

// ClearActiveIndexes removes the reverse indexes. Empty ids are skipped.
func (s *RedisStore) ClearActiveIndexes(ctx context.Context, passengerID, driverID string) error {
	toDelete := make([]string, 0, 2)
	if passengerID != "" {
		toDelete = append(toDelete, keys.PassengerActiveTrip(passengerID))
	}
	if driverID != "" {
		toDelete = append(toDelete, keys.DriverActiveTrip(driverID))
	}
	if len(toDelete) == 0 {
		return nil
	}
	if err := s.redis.Delete(ctx, toDelete...); err != nil {
		return apperrors.Internal("failed to clear active trip indexes", err)
	}
	return nil
}

// ActiveTripForPassenger returns the passenger's active trip ref, or nil.
func (s *RedisStore) ActiveTripForPassenger(ctx context.Context, passengerID string) (*ActiveTripRef, error) {
	return s.readRef(ctx, keys.PassengerActiveTrip(passengerID))
}

// ActiveTripForDriver returns the driver's active trip ref, or nil.
func (s *RedisStore) ActiveTripForDriver(ctx context.Context, driverID string) (*ActiveTripRef, error) {
	return s.readRef(ctx, keys.DriverActiveTrip(driverID))
}

func (s *RedisStore) readRef(ctx context.Context, key string) (*ActiveTripRef, error) {
	data, err := s.redis.GetString(ctx, key)
	if err == redisClient.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to read active trip ref", err)
	}

	var ref ActiveTripRef
	if err := json.Unmarshal([]byte(data), &ref); err != nil {
		return nil, apperrors.Internal("failed to unmarshal active trip ref", err)
	}
	return &ref, nil
}

var _ EphemeralStore = (*RedisStore)(nil)
