// Package presence tracks which drivers are online, available for dispatch,
// and where they are. All state is kept in Redis with TTLs so a crashed
// driver app degrades to offline on its own.
package presence

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/internal/keys"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/geo"
	"github.com/camride/dispatch/pkg/logger"
	redisClient "github.com/camride/dispatch/pkg/redis"
)

// Service manages driver presence and the live location index.
type Service struct {
	redis    redisClient.ClientInterface
	notifier Notifier
}

// NewService creates a presence service.
func NewService(redis redisClient.ClientInterface) *Service {
	return &Service{redis: redis}
}

// SetNotifier enables location pushes to passengers with an active trip.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// GoOnline marks a driver online at the given position: metadata, online
// flag, online and available sets, location hash and geo entry in one go.
// Idempotent: calling it again refreshes the TTLs.
func (s *Service) GoOnline(ctx context.Context, driverID uuid.UUID, lat, lng, heading float64, meta *DriverMetadata) error {
	if !geo.ValidCoordinate(lat, lng) {
		return apperrors.Validation("invalid coordinates")
	}

	id := driverID.String()

	if meta == nil {
		meta = &DriverMetadata{}
	}
	meta.DriverID = driverID
	meta.OnlineAt = time.Now()

	data, err := json.Marshal(meta)
	if err != nil {
		return apperrors.Internal("failed to marshal driver metadata", err)
	}

	if err := s.redis.SetWithExpiration(ctx, keys.DriverMetadata(id), data, keys.TTLDriverMetadata); err != nil {
		return apperrors.Internal("failed to store driver metadata", err)
	}
	if err := s.redis.SetWithExpiration(ctx, keys.DriverOnline(id), "1", keys.TTLDriverOnline); err != nil {
		return apperrors.Internal("failed to set online flag", err)
	}
	if err := s.redis.SetAdd(ctx, keys.DriversOnline, id); err != nil {
		return apperrors.Internal("failed to add driver to online set", err)
	}
	if err := s.redis.SetAdd(ctx, keys.DriversAvailable, id); err != nil {
		return apperrors.Internal("failed to add driver to available set", err)
	}
	if err := s.writeLocation(ctx, id, lat, lng, heading, 0, 0); err != nil {
		return err
	}

	logger.InfoContext(ctx, "driver online", zap.String("driver_id", id))
	return nil
}

// GoOffline removes the driver from every presence index. A driver on an
// active trip keeps the trip; only dispatch visibility is cleared.
func (s *Service) GoOffline(ctx context.Context, driverID uuid.UUID) error {
	id := driverID.String()

	if err := s.redis.SetRemove(ctx, keys.DriversAvailable, id); err != nil {
		return apperrors.Internal("failed to remove driver from available set", err)
	}
	if err := s.redis.SetRemove(ctx, keys.DriversOnline, id); err != nil {
		return apperrors.Internal("failed to remove driver from online set", err)
	}
	if err := s.redis.GeoRemove(ctx, keys.DriversGeoLocations, id); err != nil {
		return apperrors.Internal("failed to remove driver from geo index", err)
	}

	// Best-effort: these keys expire on their own anyway.
	if err := s.redis.Delete(ctx, keys.DriverOnline(id), keys.DriverLocation(id), keys.DriverMetadata(id)); err != nil {
		logger.WarnContext(ctx, "failed to clear presence keys", zap.String("driver_id", id), zap.Error(err))
	}

	logger.InfoContext(ctx, "driver offline", zap.String("driver_id", id))
	return nil
}

// UpdateLocation records a driver's position and refreshes the presence TTLs.
// Rejected while the driver is offline; a stray update after GoOffline must
// not resurrect the geo entry. When the driver is on an active trip, the
// passenger gets a live update.
func (s *Service) UpdateLocation(ctx context.Context, driverID uuid.UUID, lat, lng, heading, speed, accuracy float64) error {
	if !geo.ValidCoordinate(lat, lng) {
		return apperrors.Validation("invalid coordinates")
	}

	id := driverID.String()

	online, err := s.redis.SetIsMember(ctx, keys.DriversOnline, id)
	if err != nil {
		return apperrors.Internal("failed to check online set", err)
	}
	if !online {
		return apperrors.Unavailable(apperrors.CodeDriverOffline, "driver is not online")
	}

	if err := s.writeLocation(ctx, id, lat, lng, heading, speed, accuracy); err != nil {
		return err
	}

	// A moving driver is a live driver.
	if err := s.redis.Expire(ctx, keys.DriverOnline(id), keys.TTLDriverOnline); err != nil {
		logger.WarnContext(ctx, "failed to refresh online TTL", zap.String("driver_id", id), zap.Error(err))
	}

	s.pushLocationToPassenger(ctx, id, lat, lng, heading, speed)
	return nil
}

// writeLocation stores the location hash and the geo index entry.
func (s *Service) writeLocation(ctx context.Context, id string, lat, lng, heading, speed, accuracy float64) error {
	fields := map[string]interface{}{
		"lat":       strconv.FormatFloat(lat, 'f', -1, 64),
		"lng":       strconv.FormatFloat(lng, 'f', -1, 64),
		"heading":   strconv.FormatFloat(heading, 'f', -1, 64),
		"speed":     strconv.FormatFloat(speed, 'f', -1, 64),
		"accuracy":  strconv.FormatFloat(accuracy, 'f', -1, 64),
		"timestamp": time.Now().Format(time.RFC3339),
	}

	locKey := keys.DriverLocation(id)
	if err := s.redis.HashSet(ctx, locKey, fields); err != nil {
		return apperrors.Internal("failed to store driver location", err)
	}
	if err := s.redis.Expire(ctx, locKey, keys.TTLDriverLocation); err != nil {
		return apperrors.Internal("failed to set location TTL", err)
	}
	if err := s.redis.GeoAdd(ctx, keys.DriversGeoLocations, lng, lat, id); err != nil {
		return apperrors.Internal("failed to update geo index", err)
	}
	return nil
}

// pushLocationToPassenger forwards the update to the passenger of the
// driver's active trip, if any. Failures here never surface to the driver.
func (s *Service) pushLocationToPassenger(ctx context.Context, driverID string, lat, lng, heading, speed float64) {
	if s.notifier == nil {
		return
	}

	data, err := s.redis.GetString(ctx, keys.DriverActiveTrip(driverID))
	if err != nil {
		return
	}

	var active struct {
		TripID      string `json:"trip_id"`
		PassengerID string `json:"passenger_id"`
	}
	if err := json.Unmarshal([]byte(data), &active); err != nil || active.PassengerID == "" {
		return
	}

	s.notifier.EmitToUser(active.PassengerID, "driver:location_update", map[string]interface{}{
		"trip_id":   active.TripID,
		"latitude":  lat,
		"longitude": lng,
		"heading":   heading,
		"speed":     speed,
	})
}

// MarkAvailable adds the driver to the dispatch pool. The driver must be
// online first; availability is a subset of online.
func (s *Service) MarkAvailable(ctx context.Context, driverID uuid.UUID) error {
	id := driverID.String()

	online, err := s.redis.SetIsMember(ctx, keys.DriversOnline, id)
	if err != nil {
		return apperrors.Internal("failed to check online set", err)
	}
	if !online {
		return apperrors.Unavailable(apperrors.CodeDriverOffline, "driver is not online")
	}

	if err := s.redis.SetAdd(ctx, keys.DriversAvailable, id); err != nil {
		return apperrors.Internal("failed to add driver to available set", err)
	}
	return nil
}

// MarkUnavailable removes the driver from the dispatch pool without taking
// it offline. Used while a driver is occupied with a trip.
func (s *Service) MarkUnavailable(ctx context.Context, driverID uuid.UUID) error {
	if err := s.redis.SetRemove(ctx, keys.DriversAvailable, driverID.String()); err != nil {
		return apperrors.Internal("failed to remove driver from available set", err)
	}
	return nil
}

// IsOnline reports whether the driver is in the online set.
func (s *Service) IsOnline(ctx context.Context, driverID uuid.UUID) (bool, error) {
	online, err := s.redis.SetIsMember(ctx, keys.DriversOnline, driverID.String())
	if err != nil {
		return false, apperrors.Internal("failed to check online set", err)
	}
	return online, nil
}

// IsAvailable reports whether the driver is in the dispatch pool.
func (s *Service) IsAvailable(ctx context.Context, driverID uuid.UUID) (bool, error) {
	available, err := s.redis.SetIsMember(ctx, keys.DriversAvailable, driverID.String())
	if err != nil {
		return false, apperrors.Internal("failed to check available set", err)
	}
	return available, nil
}

// GetLocation returns the driver's last known position.
func (s *Service) GetLocation(ctx context.Context, driverID uuid.UUID) (*DriverLocation, error) {
	fields, err := s.redis.HashGetAll(ctx, keys.DriverLocation(driverID.String()))
	if err != nil {
		return nil, apperrors.Internal("failed to read driver location", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.Unavailable(apperrors.CodeDriverLocationMissing, "driver location not available")
	}

	loc := &DriverLocation{DriverID: driverID}
	loc.Latitude, _ = strconv.ParseFloat(fields["lat"], 64)
	loc.Longitude, _ = strconv.ParseFloat(fields["lng"], 64)
	loc.Heading, _ = strconv.ParseFloat(fields["heading"], 64)
	loc.Speed, _ = strconv.ParseFloat(fields["speed"], 64)
	loc.Accuracy, _ = strconv.ParseFloat(fields["accuracy"], 64)
	if ts, err := time.Parse(time.RFC3339, fields["timestamp"]); err == nil {
		loc.Timestamp = ts
	}
	return loc, nil
}

// GetMetadata returns the session blob stored at GoOnline, or nil if expired.
func (s *Service) GetMetadata(ctx context.Context, driverID uuid.UUID) (*DriverMetadata, error) {
	data, err := s.redis.GetString(ctx, keys.DriverMetadata(driverID.String()))
	if err == redisClient.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to read driver metadata", err)
	}

	var meta DriverMetadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, apperrors.Internal("failed to unmarshal driver metadata", err)
	}
	return &meta, nil
}

// FindNearby returns available drivers within radiusKm of the point,
// closest first, at most limit entries. Drivers without a live location
// hash are skipped even if the geo index still holds a stale entry.
func (s *Service) FindNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]*NearbyDriver, error) {
	if !geo.ValidCoordinate(lat, lng) {
		return nil, apperrors.Validation("invalid coordinates")
	}

	members, err := s.redis.GeoRadius(ctx, keys.DriversGeoLocations, lng, lat, radiusKm, limit*2)
	if err != nil {
		return nil, apperrors.Internal("failed to search geo index", err)
	}

	nearby := make([]*NearbyDriver, 0, limit)
	for _, m := range members {
		if len(nearby) >= limit {
			break
		}

		available, err := s.redis.SetIsMember(ctx, keys.DriversAvailable, m.Name)
		if err != nil || !available {
			continue
		}

		driverID, err := uuid.Parse(m.Name)
		if err != nil {
			continue
		}

		loc, err := s.GetLocation(ctx, driverID)
		if err != nil {
			continue
		}

		nearby = append(nearby, &NearbyDriver{
			DriverID:   driverID,
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			DistanceKm: m.DistanceKm,
		})
	}
	return nearby, nil
}

// Heartbeat refreshes the online flag without a location update.
func (s *Service) Heartbeat(ctx context.Context, driverID uuid.UUID) error {
	if err := s.redis.Expire(ctx, keys.DriverOnline(driverID.String()), keys.TTLDriverOnline); err != nil {
		return apperrors.Internal("failed to refresh online TTL", err)
	}
	return nil
}
