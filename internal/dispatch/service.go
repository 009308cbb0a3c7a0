// Package dispatch runs the offer loop and the acceptance race. A trip
// request fans out to the closest available drivers in waves of growing
// radius; the first driver to win the Redis lock gets the trip, everyone
// else is cascaded a request-expired event.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/internal/gateway"
	"github.com/camride/dispatch/internal/keys"
	"github.com/camride/dispatch/internal/trips"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/config"
	"github.com/camride/dispatch/pkg/eventbus"
	"github.com/camride/dispatch/pkg/geo"
	"github.com/camride/dispatch/pkg/logger"
	"github.com/camride/dispatch/pkg/models"
	redisClient "github.com/camride/dispatch/pkg/redis"
)

// Service coordinates trip requests, offer waves and the acceptance race.
type Service struct {
	redis    redisClient.ClientInterface
	presence Presence
	repo     trips.Repository
	store    trips.EphemeralStore
	notifier Notifier
	bus      EventPublisher
	cfg      config.DispatchConfig
	now      func() time.Time

	// sleep is swapped out by tests to avoid real wave timeouts.
	sleep func(d time.Duration)
}

// NewService creates the dispatcher.
func NewService(redis redisClient.ClientInterface, presence Presence, repo trips.Repository, store trips.EphemeralStore, cfg config.DispatchConfig) *Service {
	return &Service{
		redis:    redis,
		presence: presence,
		repo:     repo,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// SetNotifier wires socket fan-out.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetPublisher wires the cross-process event bus.
func (s *Service) SetPublisher(p EventPublisher) { s.bus = p }

const maxWaves = 4

// RequestTrip stores the ephemeral trip, runs the first offer wave and
// starts the wave watcher. The durable row is not written until a driver
// accepts.
func (s *Service) RequestTrip(ctx context.Context, passengerID uuid.UUID, input *TripRequestInput) (*models.EphemeralTrip, error) {
	if err := validateRequest(input); err != nil {
		return nil, err
	}

	if active, err := s.store.ActiveTripForPassenger(ctx, passengerID.String()); err != nil {
		return nil, err
	} else if active != nil {
		return nil, apperrors.Conflict(apperrors.CodeTripNotAvailable, "passenger already has an active trip").
			WithData(map[string]interface{}{"trip_id": active.TripID})
	}

	trip := &models.EphemeralTrip{
		ID:            uuid.New(),
		PassengerID:   passengerID,
		Status:        models.TripStatusSearching,
		Pickup:        input.Pickup,
		Dropoff:       input.Dropoff,
		DistanceM:     input.DistanceM,
		DurationS:     input.DurationS,
		FareEstimate:  input.FareEstimate,
		PaymentMethod: input.PaymentMethod,
		RequestedAt:   s.now(),
	}

	if err := s.store.Save(ctx, trip); err != nil {
		return nil, err
	}
	if err := s.store.SetActiveIndexes(ctx, trip); err != nil {
		return nil, err
	}

	tripRequestsTotal.Inc()
	s.publish(ctx, eventbus.SubjectTripRequested, models.EventTripRequested, trip)
	logger.InfoContext(ctx, "trip requested",
		zap.String("trip_id", trip.ID.String()),
		zap.String("passenger_id", passengerID.String()))

	s.runWave(ctx, trip, 1)
	go s.watchWaves(trip.ID)

	return trip, nil
}

// waveRadius returns the search radius for a 1-based wave number.
func (s *Service) waveRadius(wave int) float64 {
	r := s.cfg.RadiusKm + float64(wave-1)*s.cfg.RadiusStepKm
	if r > s.cfg.RadiusMaxKm {
		r = s.cfg.RadiusMaxKm
	}
	return r
}

// runWave pushes the trip to the closest candidates not yet offered or
// declined, then arms the wave timeout key.
func (s *Service) runWave(ctx context.Context, trip *models.EphemeralTrip, wave int) {
	tripID := trip.ID.String()
	radius := s.waveRadius(wave)
	wavesTotal.WithLabelValues(strconv.Itoa(wave)).Inc()

	candidates, err := s.presence.FindNearby(ctx, trip.Pickup.Latitude, trip.Pickup.Longitude, radius, s.cfg.WaveSize*3)
	if err != nil {
		logger.ErrorContext(ctx, "candidate search failed", zap.String("trip_id", tripID), zap.Error(err))
		candidates = nil
	}

	expiresAt := s.now().Add(time.Duration(s.cfg.WaveTimeoutSeconds) * time.Second)
	offered := 0
	for _, candidate := range candidates {
		if offered >= s.cfg.WaveSize {
			break
		}
		did := candidate.DriverID.String()

		if declined, err := s.redis.SetIsMember(ctx, keys.TripDeclined(tripID), did); err != nil || declined {
			continue
		}
		if already, err := s.redis.SetIsMember(ctx, keys.TripOffers(tripID), did); err != nil || already {
			continue
		}

		offer := &PendingOffer{
			TripID:        tripID,
			PassengerID:   trip.PassengerID.String(),
			Pickup:        trip.Pickup,
			Dropoff:       trip.Dropoff,
			DistanceM:     trip.DistanceM,
			DurationS:     trip.DurationS,
			FareEstimate:  trip.FareEstimate,
			PaymentMethod: trip.PaymentMethod,
			DistanceKm:    candidate.DistanceKm,
			ExpiresAt:     expiresAt,
		}

		if err := s.redis.SetAdd(ctx, keys.TripOffers(tripID), did); err != nil {
			logger.WarnContext(ctx, "failed to record offer", zap.String("trip_id", tripID), zap.Error(err))
			continue
		}
		s.appendPendingOffer(ctx, did, offer)
		s.emit(did, gateway.EventTripNewRequest, offer)
		offered++
		offersTotal.Inc()
	}

	if err := s.redis.SetWithExpiration(ctx, keys.TripTimeout(tripID), "1", keys.TTLTripTimeout); err != nil {
		logger.WarnContext(ctx, "failed to arm wave timeout", zap.String("trip_id", tripID), zap.Error(err))
	}
	if err := s.redis.SetWithExpiration(ctx, keys.TripWave(tripID), strconv.Itoa(wave), keys.TTLTripSearching); err != nil {
		logger.WarnContext(ctx, "failed to record wave number", zap.String("trip_id", tripID), zap.Error(err))
	}

	logger.InfoContext(ctx, "offer wave dispatched",
		zap.String("trip_id", tripID),
		zap.Int("wave", wave),
		zap.Float64("radius_km", radius),
		zap.Int("offered", offered))
}

// watchWaves expands the search every wave timeout until a driver accepts,
// the passenger cancels, or the waves are exhausted. It runs detached from
// the request so a slow search never holds the socket handler.
func (s *Service) watchWaves(tripID uuid.UUID) {
	ctx := context.Background()

	for wave := 2; wave <= maxWaves+1; wave++ {
		s.sleep(time.Duration(s.cfg.WaveTimeoutSeconds) * time.Second)

		trip, err := s.store.Get(ctx, tripID)
		if err != nil || trip == nil {
			return
		}
		if trip.Status != models.TripStatusSearching || trip.DriverID != nil {
			return
		}

		// An acceptance critical section is in flight; hold expansion.
		if accepting, err := s.redis.Exists(ctx, keys.TripNoExpire(tripID.String())); err == nil && accepting {
			wave--
			continue
		}

		if wave > maxWaves {
			s.exhaust(ctx, trip)
			return
		}

		// Only one process expands a given wave.
		claimed, err := s.redis.SetNX(ctx, keys.TripWave(tripID.String())+":claim:"+strconv.Itoa(wave), "1", keys.TTLTripSearching)
		if err != nil || !claimed {
			return
		}

		s.runWave(ctx, trip, wave)
	}
}

// exhaust terminates the search as NO_DRIVERS and notifies everyone.
func (s *Service) exhaust(ctx context.Context, trip *models.EphemeralTrip) {
	tripID := trip.ID.String()

	trip.Status = models.TripStatusNoDrivers
	if err := s.store.Save(ctx, trip); err != nil {
		logger.WarnContext(ctx, "failed to persist exhausted trip", zap.String("trip_id", tripID), zap.Error(err))
	}
	if err := s.store.ClearActiveIndexes(ctx, trip.PassengerID.String(), ""); err != nil {
		logger.WarnContext(ctx, "failed to clear passenger index", zap.String("trip_id", tripID), zap.Error(err))
	}

	s.expireOffers(ctx, tripID, "")
	s.cleanupSearchKeys(ctx, tripID)

	noDriversTotal.Inc()
	s.emit(trip.PassengerID.String(), gateway.EventTripNoDrivers, map[string]interface{}{
		"trip_id": tripID,
		"status":  models.TripStatusNoDrivers,
	})
	s.publish(ctx, eventbus.SubjectTripCanceled, models.EventTripNoDrivers, trip)
	logger.InfoContext(ctx, "trip search exhausted", zap.String("trip_id", tripID))
}

// AcceptTrip is the acceptance race. Exactly one of N concurrent acceptors
// wins: the SET NX lock arbitrates, the re-read under the lock decides, and
// the nonce-checked release prevents freeing a lock that expired and was
// re-acquired by a rival.
func (s *Service) AcceptTrip(ctx context.Context, tripID, driverID uuid.UUID) (*AcceptResult, error) {
	tid := tripID.String()
	did := driverID.String()
	nonce := uuid.New().String()

	locked, err := s.redis.SetNX(ctx, keys.TripLock(tid), nonce, keys.TTLTripLock)
	if err != nil {
		return nil, apperrors.Internal("failed to acquire trip lock", err)
	}
	if !locked {
		lockConflictsTotal.Inc()
		return nil, apperrors.Conflict(apperrors.CodeTripLocked, "trip is being accepted by another driver")
	}
	defer func() {
		if _, err := s.redis.ReleaseLock(context.WithoutCancel(ctx), keys.TripLock(tid), nonce); err != nil {
			logger.WarnContext(ctx, "failed to release trip lock", zap.String("trip_id", tid), zap.Error(err))
		}
	}()

	// Freeze the wave watcher while the slow path runs.
	if err := s.redis.Delete(ctx, keys.TripTimeout(tid)); err != nil {
		logger.WarnContext(ctx, "failed to delete timeout key", zap.String("trip_id", tid), zap.Error(err))
	}
	s.setMarker(ctx, keys.TripAccepting(tid))
	s.setMarker(ctx, keys.TripNoExpire(tid))
	defer s.clearMarkers(ctx, tid)

	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, apperrors.Conflict(apperrors.CodeTripNotAvailable, "trip is no longer available")
	}
	if trip.DriverID != nil {
		return nil, apperrors.Conflict(apperrors.CodeTripAlreadyAccepted, "trip was already accepted")
	}
	if trip.Status != models.TripStatusSearching {
		return nil, apperrors.Conflict(apperrors.CodeTripNotAvailable, "trip is no longer available")
	}

	// One active trip per driver. Without this a driver holding two offers
	// could win both races and overwrite the first reverse index.
	if active, err := s.store.ActiveTripForDriver(ctx, did); err != nil {
		return nil, err
	} else if active != nil {
		return nil, apperrors.Conflict(apperrors.CodeDriverBusy, "driver already has an active trip").
			WithData(map[string]interface{}{"trip_id": active.TripID})
	}

	loc, err := s.presence.GetLocation(ctx, driverID)
	if err != nil {
		return nil, apperrors.Unavailable(apperrors.CodeDriverLocationMissing, "driver location not available")
	}

	now := s.now()
	trip.DriverID = &driverID
	trip.Status = models.TripStatusMatched
	trip.MatchedAt = &now

	durable := &models.Trip{
		ID:            trip.ID,
		PassengerID:   trip.PassengerID,
		DriverID:      &driverID,
		Status:        models.TripStatusMatched,
		Pickup:        trip.Pickup,
		Dropoff:       trip.Dropoff,
		DistanceM:     trip.DistanceM,
		DurationS:     trip.DurationS,
		FareEstimate:  trip.FareEstimate,
		PaymentMethod: trip.PaymentMethod,
		DriverAtMatch: &models.Location{Latitude: loc.Latitude, Longitude: loc.Longitude},
		MatchedAt:     &now,
		CreatedAt:     trip.RequestedAt,
	}
	if err := s.repo.Create(ctx, durable); err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, trip); err != nil {
		return nil, err
	}
	if err := s.store.SetActiveIndexes(ctx, trip); err != nil {
		return nil, err
	}

	if err := s.repo.AppendEvent(ctx, &models.TripEvent{
		TripID:      trip.ID,
		EventType:   models.EventTripMatched,
		PerformedBy: did,
	}); err != nil {
		logger.WarnContext(ctx, "failed to append match event", zap.String("trip_id", tid), zap.Error(err))
	}

	if err := s.presence.MarkUnavailable(ctx, driverID); err != nil {
		logger.WarnContext(ctx, "failed to withhold driver from pool", zap.String("driver_id", did), zap.Error(err))
	}

	s.prunePendingOffer(ctx, did, tid)
	s.expireOffers(ctx, tid, did)
	s.cleanupSearchKeys(ctx, tid)

	matchesTotal.Inc()
	matchLatency.Observe(now.Sub(trip.RequestedAt).Seconds())

	meta, _ := s.presence.GetMetadata(ctx, driverID)
	s.emit(trip.PassengerID.String(), gateway.EventTripDriverAssigned, map[string]interface{}{
		"trip_id": tid,
		"status":  models.TripStatusMatched,
		"driver": map[string]interface{}{
			"id":        did,
			"latitude":  loc.Latitude,
			"longitude": loc.Longitude,
			"metadata":  meta,
		},
	})
	s.emit(did, gateway.EventTripMatched, map[string]interface{}{
		"trip_id":      tid,
		"status":       models.TripStatusMatched,
		"passenger_id": trip.PassengerID.String(),
		"pickup":       trip.Pickup,
		"dropoff":      trip.Dropoff,
	})
	s.publish(ctx, eventbus.SubjectTripMatched, models.EventTripMatched, durable)

	logger.InfoContext(ctx, "trip matched",
		zap.String("trip_id", tid),
		zap.String("driver_id", did))

	return &AcceptResult{Trip: durable}, nil
}

// DeclineTrip resolves the driver's slot in the current wave. Only drivers
// the trip was actually offered to may write into its declined set.
func (s *Service) DeclineTrip(ctx context.Context, tripID, driverID uuid.UUID) error {
	tid := tripID.String()
	did := driverID.String()

	offered, err := s.redis.SetIsMember(ctx, keys.TripOffers(tid), did)
	if err != nil {
		return apperrors.Internal("failed to check offer set", err)
	}
	if !offered {
		return apperrors.NotFound("no pending offer for this trip")
	}

	if err := s.redis.SetAdd(ctx, keys.TripDeclined(tid), did); err != nil {
		return apperrors.Internal("failed to record decline", err)
	}
	if err := s.redis.Expire(ctx, keys.TripDeclined(tid), keys.TTLTripDeclined); err != nil {
		logger.WarnContext(ctx, "failed to set decline TTL", zap.String("trip_id", tid), zap.Error(err))
	}
	if err := s.redis.SetRemove(ctx, keys.TripOffers(tid), did); err != nil {
		logger.WarnContext(ctx, "failed to remove declined driver from offers", zap.String("trip_id", tid), zap.Error(err))
	}
	s.prunePendingOffer(ctx, did, tid)

	declinesTotal.Inc()
	return nil
}

// CancelSearch is a passenger cancellation while the trip is still
// SEARCHING, before any durable row exists.
func (s *Service) CancelSearch(ctx context.Context, tripID, passengerID uuid.UUID, reason string) error {
	trip, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if trip == nil {
		return apperrors.NotFound("trip not found")
	}
	if trip.PassengerID != passengerID {
		return apperrors.Forbidden("not a participant of this trip")
	}
	if trip.Status != models.TripStatusSearching {
		return apperrors.Precondition("trip is no longer searching")
	}

	if err := s.store.Delete(ctx, tripID); err != nil {
		return err
	}
	if err := s.store.ClearActiveIndexes(ctx, passengerID.String(), ""); err != nil {
		logger.WarnContext(ctx, "failed to clear passenger index", zap.String("trip_id", tripID.String()), zap.Error(err))
	}

	s.expireOffers(ctx, tripID.String(), "")
	s.cleanupSearchKeys(ctx, tripID.String())

	s.emit(passengerID.String(), gateway.EventTripCanceled, map[string]interface{}{
		"trip_id":     tripID.String(),
		"status":      models.TripStatusCanceled,
		"reason":      reason,
		"canceled_by": models.ActorPassenger,
	})
	s.publish(ctx, eventbus.SubjectTripCanceled, models.EventTripCanceled, trip)

	logger.InfoContext(ctx, "trip search canceled",
		zap.String("trip_id", tripID.String()),
		zap.String("reason", reason))
	return nil
}

// PendingOffersFor returns the driver's replayable offers, dropping entries
// whose trip is no longer SEARCHING.
func (s *Service) PendingOffersFor(ctx context.Context, driverID uuid.UUID) ([]*PendingOffer, error) {
	offers, err := s.readPendingOffers(ctx, driverID.String())
	if err != nil {
		return nil, err
	}

	live := make([]*PendingOffer, 0, len(offers))
	for _, offer := range offers {
		id, err := uuid.Parse(offer.TripID)
		if err != nil {
			continue
		}
		trip, err := s.store.Get(ctx, id)
		if err != nil || trip == nil || trip.Status != models.TripStatusSearching {
			continue
		}
		live = append(live, offer)
	}
	return live, nil
}

// expireOffers notifies every offered driver except winnerID and prunes
// their pending-offer entries.
func (s *Service) expireOffers(ctx context.Context, tripID, winnerID string) {
	drivers, err := s.redis.SetMembers(ctx, keys.TripOffers(tripID))
	if err != nil {
		logger.WarnContext(ctx, "failed to read offered drivers", zap.String("trip_id", tripID), zap.Error(err))
		return
	}

	for _, did := range drivers {
		if did == winnerID {
			continue
		}
		s.prunePendingOffer(ctx, did, tripID)
		s.emit(did, gateway.EventTripRequestExpired, map[string]interface{}{"trip_id": tripID})
	}
}

// cleanupSearchKeys removes the bookkeeping of a finished search.
func (s *Service) cleanupSearchKeys(ctx context.Context, tripID string) {
	err := s.redis.Delete(ctx,
		keys.TripTimeout(tripID),
		keys.TripOffers(tripID),
		keys.TripDeclined(tripID),
		keys.TripWave(tripID),
	)
	if err != nil {
		logger.WarnContext(ctx, "failed to clean search keys", zap.String("trip_id", tripID), zap.Error(err))
	}
}

func (s *Service) setMarker(ctx context.Context, key string) {
	if err := s.redis.SetWithExpiration(ctx, key, "1", keys.TTLTripAccepting); err != nil {
		logger.WarnContext(ctx, "failed to set marker", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) clearMarkers(ctx context.Context, tripID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.redis.Delete(ctx, keys.TripAccepting(tripID), keys.TripNoExpire(tripID)); err != nil {
		logger.WarnContext(ctx, "failed to clear accept markers", zap.String("trip_id", tripID), zap.Error(err))
	}
}

// appendPendingOffer read-modify-writes the driver's offer list. The list
// is small (bounded by concurrent searches near one driver) and only this
// driver's events mutate it.
func (s *Service) appendPendingOffer(ctx context.Context, driverID string, offer *PendingOffer) {
	offers, err := s.readPendingOffers(ctx, driverID)
	if err != nil {
		offers = nil
	}

	updated := make([]*PendingOffer, 0, len(offers)+1)
	for _, o := range offers {
		if o.TripID != offer.TripID {
			updated = append(updated, o)
		}
	}
	updated = append(updated, offer)
	s.writePendingOffers(ctx, driverID, updated)
}

func (s *Service) prunePendingOffer(ctx context.Context, driverID, tripID string) {
	offers, err := s.readPendingOffers(ctx, driverID)
	if err != nil || len(offers) == 0 {
		return
	}

	updated := make([]*PendingOffer, 0, len(offers))
	for _, o := range offers {
		if o.TripID != tripID {
			updated = append(updated, o)
		}
	}
	s.writePendingOffers(ctx, driverID, updated)
}

func (s *Service) readPendingOffers(ctx context.Context, driverID string) ([]*PendingOffer, error) {
	data, err := s.redis.GetString(ctx, keys.DriverPendingOffers(driverID))
	if err == redisClient.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to read pending offers", err)
	}

	var offers []*PendingOffer
	if err := json.Unmarshal([]byte(data), &offers); err != nil {
		return nil, apperrors.Internal("failed to unmarshal pending offers", err)
	}
	return offers, nil
}

func (s *Service) writePendingOffers(ctx context.Context, driverID string, offers []*PendingOffer) {
	key := keys.DriverPendingOffers(driverID)
	if len(offers) == 0 {
		if err := s.redis.Delete(ctx, key); err != nil {
			logger.WarnContext(ctx, "failed to delete pending offers", zap.String("driver_id", driverID), zap.Error(err))
		}
		return
	}

	data, err := json.Marshal(offers)
	if err != nil {
		logger.WarnContext(ctx, "failed to marshal pending offers", zap.String("driver_id", driverID), zap.Error(err))
		return
	}
	if err := s.redis.SetWithExpiration(ctx, key, data, keys.TTLPendingOffers); err != nil {
		logger.WarnContext(ctx, "failed to write pending offers", zap.String("driver_id", driverID), zap.Error(err))
	}
}

func (s *Service) emit(userID, event string, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.EmitToUser(userID, event, payload)
}

func (s *Service) publish(ctx context.Context, subject, eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.PublishTripEvent(ctx, subject, eventType, payload)
}

func validateRequest(input *TripRequestInput) error {
	if input == nil {
		return apperrors.Validation("missing trip request payload")
	}
	if !geo.ValidCoordinate(input.Pickup.Latitude, input.Pickup.Longitude) {
		return apperrors.Validation("invalid pickup coordinates")
	}
	if !geo.ValidCoordinate(input.Dropoff.Latitude, input.Dropoff.Longitude) {
		return apperrors.Validation("invalid dropoff coordinates")
	}
	if input.DistanceM <= 0 {
		return apperrors.Validation("distance must be positive")
	}
	if input.DurationS <= 0 {
		return apperrors.Validation("duration must be positive")
	}
	if input.FareEstimate <= 0 {
		return apperrors.Validation("fare estimate must be positive")
	}
	switch input.PaymentMethod {
	case models.PaymentCash, models.PaymentMoMo, models.PaymentOM:
	default:
		return apperrors.Validation("unsupported payment method")
	}
	return nil
}
