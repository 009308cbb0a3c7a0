// Package trips owns the authoritative trip state machine. Every transition
// validates its legal predecessors, updates the durable row, mirrors the
// change into Redis, appends an audit event and fans out the wire event.
package trips

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/internal/gateway"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/eventbus"
	"github.com/camride/dispatch/pkg/logger"
	"github.com/camride/dispatch/pkg/models"
)

// NoShowMinWait is how long a driver must wait at the pickup point before
// reporting a no-show.
const NoShowMinWait = 300 * time.Second

// Service drives trip state transitions.
type Service struct {
	repo     Repository
	store    EphemeralStore
	pool     DriverPool
	notifier Notifier
	settle   SettleFunc
	bus      EventPublisher
	now      func() time.Time
}

// NewService creates the trip state machine service.
func NewService(repo Repository, store EphemeralStore, pool DriverPool) *Service {
	return &Service{repo: repo, store: store, pool: pool, now: time.Now}
}

// SetNotifier wires socket fan-out.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetSettler wires the earnings engine into trip completion.
func (s *Service) SetSettler(fn SettleFunc) { s.settle = fn }

// SetPublisher wires the cross-process event bus.
func (s *Service) SetPublisher(p EventPublisher) { s.bus = p }

// GetTrip returns the trip if the caller is a participant.
func (s *Service) GetTrip(ctx context.Context, tripID, callerID uuid.UUID) (*models.Trip, error) {
	trip, err := s.repo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParticipant(trip, callerID); err != nil {
		return nil, err
	}
	return trip, nil
}

// History returns the caller's past trips.
func (s *Service) History(ctx context.Context, userID uuid.UUID, role models.ActorRole, limit, offset int) ([]*models.Trip, error) {
	if role == models.ActorDriver {
		return s.repo.ListByDriver(ctx, userID, limit, offset)
	}
	return s.repo.ListByPassenger(ctx, userID, limit, offset)
}

// TripEvents returns the audit trail if the caller is a participant.
func (s *Service) TripEvents(ctx context.Context, tripID, callerID uuid.UUID) ([]*models.TripEvent, error) {
	trip, err := s.repo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParticipant(trip, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, tripID)
}

// StartEnRoute records that the driver is heading to the pickup point.
func (s *Service) StartEnRoute(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	trip, err := s.loadForDriver(ctx, tripID, driverID,
		models.TripStatusMatched, models.TripStatusDriverAssigned)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.UpdateStatus(ctx, tripID, models.TripStatusDriverEnRoute, now); err != nil {
		return nil, err
	}
	trip.Status = models.TripStatusDriverEnRoute
	trip.DriverEnRouteAt = &now

	s.mirror(ctx, trip)
	s.audit(ctx, trip, models.EventDriverEnRoute, driverID.String(), nil)
	s.emitToPassenger(trip, gateway.EventTripStateSync, statusPayload(trip))
	s.publish(ctx, eventbus.SubjectTripUpdated, models.EventDriverEnRoute, trip)
	return trip, nil
}

// MarkArrived records the driver's arrival at the pickup point. Tolerates
// a direct jump from MATCHED for drivers who skip the en-route event.
func (s *Service) MarkArrived(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	trip, err := s.loadForDriver(ctx, tripID, driverID,
		models.TripStatusMatched, models.TripStatusDriverAssigned, models.TripStatusDriverEnRoute)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.UpdateStatus(ctx, tripID, models.TripStatusDriverArrived, now); err != nil {
		return nil, err
	}
	trip.Status = models.TripStatusDriverArrived
	trip.DriverArrivedAt = &now

	s.mirror(ctx, trip)
	s.audit(ctx, trip, models.EventDriverArrived, driverID.String(), nil)
	s.emitToPassenger(trip, gateway.EventTripDriverArrived, statusPayload(trip))
	s.publish(ctx, eventbus.SubjectTripUpdated, models.EventDriverArrived, trip)
	return trip, nil
}

// StartTrip begins the ride once the passenger is on board.
func (s *Service) StartTrip(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	trip, err := s.loadForDriver(ctx, tripID, driverID, models.TripStatusDriverArrived)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.UpdateStatus(ctx, tripID, models.TripStatusInProgress, now); err != nil {
		return nil, err
	}
	trip.Status = models.TripStatusInProgress
	trip.TripStartedAt = &now

	s.mirror(ctx, trip)
	s.audit(ctx, trip, models.EventTripStarted, driverID.String(), nil)
	s.emitToPassenger(trip, gateway.EventTripStarted, statusPayload(trip))
	s.publish(ctx, eventbus.SubjectTripUpdated, models.EventTripStarted, trip)
	return trip, nil
}

// CompleteTrip finishes the ride and settles earnings in one transaction.
// The settlement failure rolls back the fare and status together, so a
// retry starts from a clean IN_PROGRESS trip.
func (s *Service) CompleteTrip(ctx context.Context, tripID, driverID uuid.UUID, fareFinal *int64) (*models.Trip, error) {
	trip, err := s.loadForDriver(ctx, tripID, driverID, models.TripStatusInProgress)
	if err != nil {
		return nil, err
	}

	if fareFinal != nil && *fareFinal < 0 {
		return nil, apperrors.Validation("final fare must not be negative")
	}

	now := s.now()
	trip, err = s.repo.CompleteWithSettlement(ctx, tripID, fareFinal, now, s.settle)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, trip, models.EventTripCompleted, driverID.String(), map[string]interface{}{
		"fare_final": trip.FareFinal,
	})
	s.cleanupTerminal(ctx, trip, true)
	s.emitToPassenger(trip, gateway.EventTripCompleted, statusPayload(trip))
	s.publish(ctx, eventbus.SubjectTripCompleted, models.EventTripCompleted, trip)
	return trip, nil
}

// CancelTrip cancels a matched trip. Passengers may cancel in any
// non-terminal state; drivers only before the ride starts.
func (s *Service) CancelTrip(ctx context.Context, tripID, callerID uuid.UUID, role models.ActorRole, reason string) (*models.Trip, error) {
	trip, err := s.repo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	switch role {
	case models.ActorPassenger:
		if trip.PassengerID != callerID {
			return nil, apperrors.Forbidden("not a participant of this trip")
		}
		if trip.Status.Terminal() {
			return nil, apperrors.Precondition("trip already finished")
		}
	case models.ActorDriver:
		if trip.DriverID == nil || *trip.DriverID != callerID {
			return nil, apperrors.Forbidden("not a participant of this trip")
		}
		if !statusIn(trip.Status,
			models.TripStatusMatched, models.TripStatusDriverAssigned,
			models.TripStatusDriverEnRoute, models.TripStatusDriverArrived) {
			return nil, apperrors.Precondition("trip can no longer be canceled by the driver")
		}
	default:
		return nil, apperrors.Forbidden("invalid actor")
	}

	now := s.now()
	if err := s.repo.Cancel(ctx, tripID, models.TripStatusCanceled, reason, role, now); err != nil {
		return nil, err
	}
	trip.Status = models.TripStatusCanceled
	trip.CanceledAt = &now
	trip.CancelReason = &reason
	trip.CanceledBy = &role

	s.audit(ctx, trip, models.EventTripCanceled, callerID.String(), map[string]interface{}{
		"reason": reason,
		"by":     role,
	})
	s.cleanupTerminal(ctx, trip, true)

	payload := statusPayload(trip)
	payload["reason"] = reason
	payload["canceled_by"] = role
	s.emitToPassenger(trip, gateway.EventTripCanceled, payload)
	if trip.DriverID != nil {
		s.emitToUser(trip.DriverID.String(), gateway.EventTripCanceled, payload)
	}
	s.publish(ctx, eventbus.SubjectTripCanceled, models.EventTripCanceled, trip)
	return trip, nil
}

// ReportNoShow terminates the trip when the passenger never showed up.
// Only valid after the driver has waited at least NoShowMinWait at pickup.
func (s *Service) ReportNoShow(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
	trip, err := s.loadForDriver(ctx, tripID, driverID, models.TripStatusDriverArrived)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if trip.DriverArrivedAt == nil || now.Sub(*trip.DriverArrivedAt) < NoShowMinWait {
		return nil, apperrors.Precondition("minimum wait time not reached")
	}

	reason := "passenger no-show"
	if err := s.repo.Cancel(ctx, tripID, models.TripStatusNoShow, reason, models.ActorDriver, now); err != nil {
		return nil, err
	}
	trip.Status = models.TripStatusNoShow
	trip.CanceledAt = &now
	trip.CancelReason = &reason

	s.audit(ctx, trip, models.EventTripNoShow, driverID.String(), nil)
	s.cleanupTerminal(ctx, trip, true)
	s.emitToPassenger(trip, gateway.EventTripNoShow, statusPayload(trip))
	s.publish(ctx, eventbus.SubjectTripCanceled, models.EventTripNoShow, trip)
	return trip, nil
}

// loadForDriver loads the trip, checks the caller drives it and that the
// current status is one of the allowed predecessors.
func (s *Service) loadForDriver(ctx context.Context, tripID, driverID uuid.UUID, allowed ...models.TripStatus) (*models.Trip, error) {
	trip, err := s.repo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.DriverID == nil || *trip.DriverID != driverID {
		return nil, apperrors.Forbidden("not the driver of this trip")
	}
	if !statusIn(trip.Status, allowed...) {
		return nil, apperrors.Precondition("transition not allowed from " + string(trip.Status))
	}
	return trip, nil
}

// mirror updates the Redis record and reverse indexes. Non-fatal.
func (s *Service) mirror(ctx context.Context, trip *models.Trip) {
	eph := &models.EphemeralTrip{
		ID:            trip.ID,
		PassengerID:   trip.PassengerID,
		DriverID:      trip.DriverID,
		Status:        trip.Status,
		Pickup:        trip.Pickup,
		Dropoff:       trip.Dropoff,
		DistanceM:     trip.DistanceM,
		DurationS:     trip.DurationS,
		FareEstimate:  trip.FareEstimate,
		PaymentMethod: trip.PaymentMethod,
		RequestedAt:   trip.CreatedAt,
		MatchedAt:     trip.MatchedAt,
	}
	if err := s.store.Save(ctx, eph); err != nil {
		logger.WarnContext(ctx, "failed to mirror trip state", zap.String("trip_id", trip.ID.String()), zap.Error(err))
		return
	}
	if err := s.store.SetActiveIndexes(ctx, eph); err != nil {
		logger.WarnContext(ctx, "failed to refresh active trip indexes", zap.String("trip_id", trip.ID.String()), zap.Error(err))
	}
}

// cleanupTerminal clears the ephemeral record and indexes and puts the
// driver back into the dispatch pool. All best-effort.
func (s *Service) cleanupTerminal(ctx context.Context, trip *models.Trip, releaseDriver bool) {
	if err := s.store.Delete(ctx, trip.ID); err != nil {
		logger.WarnContext(ctx, "failed to delete ephemeral trip", zap.String("trip_id", trip.ID.String()), zap.Error(err))
	}

	driverID := ""
	if trip.DriverID != nil {
		driverID = trip.DriverID.String()
	}
	if err := s.store.ClearActiveIndexes(ctx, trip.PassengerID.String(), driverID); err != nil {
		logger.WarnContext(ctx, "failed to clear active trip indexes", zap.String("trip_id", trip.ID.String()), zap.Error(err))
	}

	if releaseDriver && trip.DriverID != nil && s.pool != nil {
		if err := s.pool.MarkAvailable(ctx, *trip.DriverID); err != nil {
			logger.WarnContext(ctx, "failed to release driver to pool",
				zap.String("driver_id", trip.DriverID.String()), zap.Error(err))
		}
	}
}

// audit appends a TripEvent row. Failures are logged, never propagated.
func (s *Service) audit(ctx context.Context, trip *models.Trip, eventType, performedBy string, metadata map[string]interface{}) {
	var raw []byte
	if metadata != nil {
		raw, _ = json.Marshal(metadata)
	}
	err := s.repo.AppendEvent(ctx, &models.TripEvent{
		TripID:      trip.ID,
		EventType:   eventType,
		PerformedBy: performedBy,
		Metadata:    raw,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to append trip event",
			zap.String("trip_id", trip.ID.String()),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *Service) emitToPassenger(trip *models.Trip, event string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.EmitToUser(trip.PassengerID.String(), event, payload)
	s.notifier.EmitToTrip(trip.ID.String(), event, payload)
}

func (s *Service) emitToUser(userID, event string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.EmitToUser(userID, event, payload)
}

func (s *Service) publish(ctx context.Context, subject, eventType string, trip *models.Trip) {
	if s.bus == nil {
		return
	}
	s.bus.PublishTripEvent(ctx, subject, eventType, trip)
}

func statusPayload(trip *models.Trip) map[string]interface{} {
	return map[string]interface{}{
		"trip_id":   trip.ID.String(),
		"status":    trip.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func statusIn(status models.TripStatus, allowed ...models.TripStatus) bool {
	for _, a := range allowed {
		if status == a {
			return true
		}
	}
	return false
}

func authorizeParticipant(trip *models.Trip, callerID uuid.UUID) error {
	if trip.PassengerID == callerID {
		return nil
	}
	if trip.DriverID != nil && *trip.DriverID == callerID {
		return nil
	}
	return apperrors.Forbidden("not a participant of this trip")
}
