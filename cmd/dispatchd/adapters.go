package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/internal/chat"
	"github.com/camride/dispatch/internal/dispatch"
	"github.com/camride/dispatch/internal/gateway"
	"github.com/camride/dispatch/internal/presence"
	"github.com/camride/dispatch/internal/trips"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/eventbus"
	"github.com/camride/dispatch/pkg/logger"
	"github.com/camride/dispatch/pkg/models"
)

// services groups everything the socket layer routes into.
type services struct {
	presence *presence.Service
	dispatch *dispatch.Service
	trips    *trips.Service
	chat     *chat.Service
}

// busPublisher adapts the NATS bus to the EventPublisher seam the domain
// services publish through. Nil-safe: a disabled bus publishes nowhere.
type busPublisher struct {
	bus    *eventbus.Bus
	source string
}

func (p *busPublisher) PublishTripEvent(ctx context.Context, subject, eventType string, payload interface{}) {
	if p == nil || p.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(eventType, p.source, payload)
	if err != nil {
		logger.WarnContext(ctx, "failed to build bus event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.bus.Publish(ctx, subject, event); err != nil {
		logger.WarnContext(ctx, "failed to publish bus event", zap.String("subject", subject), zap.Error(err))
	}
}

func sendErr(client *gateway.Client, err error) {
	appErr := apperrors.As(err)
	client.SendError(string(appErr.Kind), appErr.Code, appErr.Message)
}

func sendEvent(client *gateway.Client, event, tripID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	client.SendMessage(&gateway.Message{
		Event:     event,
		TripID:    tripID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func userUUID(client *gateway.Client) (uuid.UUID, bool) {
	id, err := uuid.Parse(client.UserID)
	if err != nil {
		client.SendError(string(apperrors.KindUnauthenticated), "", "malformed user id")
		return uuid.Nil, false
	}
	return id, true
}

func tripUUID(client *gateway.Client, msg *gateway.Message) (uuid.UUID, bool) {
	id, err := uuid.Parse(msg.TripID)
	if err != nil {
		sendErr(client, apperrors.Validation("trip_id is required"))
		return uuid.Nil, false
	}
	return id, true
}

func requireRole(client *gateway.Client, role string) bool {
	if client.Role != role {
		sendErr(client, apperrors.Forbidden("not allowed for this role"))
		return false
	}
	return true
}

// registerSocketHandlers binds every inbound client event to its service
// call. Success responses ride on the emits the services already do; the
// handlers only push structured errors back to the caller.
func registerSocketHandlers(hub *gateway.Hub, svc *services) {
	hub.Handle(gateway.EventDriverOnline, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		var payload struct {
			Latitude  float64                  `json:"latitude"`
			Longitude float64                  `json:"longitude"`
			Heading   float64                  `json:"heading"`
			Metadata  *presence.DriverMetadata `json:"metadata"`
		}
		if len(msg.Data) == 0 {
			sendErr(client, apperrors.Validation("location is required to go online"))
			return
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			sendErr(client, apperrors.Validation("malformed online payload"))
			return
		}
		if err := svc.presence.GoOnline(ctx, driverID, payload.Latitude, payload.Longitude, payload.Heading, payload.Metadata); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventDriverOffline, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		if err := svc.presence.GoOffline(ctx, driverID); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventDriverLocate, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		var loc struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Heading   float64 `json:"heading"`
			Speed     float64 `json:"speed"`
			Accuracy  float64 `json:"accuracy"`
		}
		if err := json.Unmarshal(msg.Data, &loc); err != nil {
			sendErr(client, apperrors.Validation("malformed location payload"))
			return
		}
		if err := svc.presence.UpdateLocation(ctx, driverID, loc.Latitude, loc.Longitude, loc.Heading, loc.Speed, loc.Accuracy); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventDriverPing, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		if err := svc.presence.Heartbeat(ctx, driverID); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventTripRequest, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RolePassenger) {
			return
		}
		passengerID, ok := userUUID(client)
		if !ok {
			return
		}
		var input dispatch.TripRequestInput
		if err := json.Unmarshal(msg.Data, &input); err != nil {
			sendErr(client, apperrors.Validation("malformed trip request payload"))
			return
		}
		trip, err := svc.dispatch.RequestTrip(ctx, passengerID, &input)
		if err != nil {
			sendErr(client, err)
			return
		}
		hub.JoinTrip(client, trip.ID.String())
		sendEvent(client, gateway.EventTripStateSync, trip.ID.String(), trip)
	})

	hub.Handle(gateway.EventTripAccept, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		result, err := svc.dispatch.AcceptTrip(ctx, tripID, driverID)
		if err != nil {
			sendErr(client, err)
			return
		}
		hub.JoinTrip(client, result.Trip.ID.String())
	})

	hub.Handle(gateway.EventTripDecline, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		if err := svc.dispatch.DeclineTrip(ctx, tripID, driverID); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventTripCancel, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		callerID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		var payload struct {
			Reason string `json:"reason"`
		}
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &payload)
		}

		role := models.ActorPassenger
		if client.Role == gateway.RoleDriver {
			role = models.ActorDriver
		}

		// A searching trip exists only in Redis; anything later is durable.
		if role == models.ActorPassenger {
			err := svc.dispatch.CancelSearch(ctx, tripID, callerID, payload.Reason)
			if err == nil {
				return
			}
			if !apperrors.IsKind(err, apperrors.KindPreconditionFailed) && !apperrors.IsKind(err, apperrors.KindNotFound) {
				sendErr(client, err)
				return
			}
		}
		if _, err := svc.trips.CancelTrip(ctx, tripID, callerID, role, payload.Reason); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventDriverEnRoute, driverTransition(svc, func(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
		return svc.trips.StartEnRoute(ctx, tripID, driverID)
	}))
	hub.Handle(gateway.EventDriverArrive, driverTransition(svc, func(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
		return svc.trips.MarkArrived(ctx, tripID, driverID)
	}))
	hub.Handle(gateway.EventTripStart, driverTransition(svc, func(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
		return svc.trips.StartTrip(ctx, tripID, driverID)
	}))
	hub.Handle(gateway.EventTripNoShowRpt, driverTransition(svc, func(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error) {
		return svc.trips.ReportNoShow(ctx, tripID, driverID)
	}))

	hub.Handle(gateway.EventTripComplete, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		var payload struct {
			FareFinal *int64 `json:"fare_final"`
		}
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &payload)
		}
		if _, err := svc.trips.CompleteTrip(ctx, tripID, driverID, payload.FareFinal); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventChatSend, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		senderID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			sendErr(client, apperrors.Validation("malformed chat payload"))
			return
		}
		if _, err := svc.chat.Send(ctx, senderID, tripID, payload.Content); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventChatTyping, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		senderID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		var payload struct {
			IsTyping bool `json:"is_typing"`
		}
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &payload)
		}
		if err := svc.chat.Typing(ctx, senderID, tripID, payload.IsTyping); err != nil {
			sendErr(client, err)
		}
	})

	hub.Handle(gateway.EventChatMarkRead, func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		callerID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		if err := svc.chat.MarkRead(ctx, callerID, tripID); err != nil {
			sendErr(client, err)
		}
	})
}

// driverTransition wraps the common shape of driver-initiated state moves.
func driverTransition(svc *services, fn func(ctx context.Context, tripID, driverID uuid.UUID) (*models.Trip, error)) gateway.Handler {
	return func(ctx context.Context, client *gateway.Client, msg *gateway.Message) {
		if !requireRole(client, gateway.RoleDriver) {
			return
		}
		driverID, ok := userUUID(client)
		if !ok {
			return
		}
		tripID, ok := tripUUID(client, msg)
		if !ok {
			return
		}
		if _, err := fn(ctx, tripID, driverID); err != nil {
			sendErr(client, err)
		}
	}
}

// newReplayHandler returns the OnConnect hook: a reconnecting client gets
// its live state pushed again so nothing is lost between sessions.
func newReplayHandler(hub *gateway.Hub, svc *services, store trips.EphemeralStore) func(ctx context.Context, client *gateway.Client) {
	return func(ctx context.Context, client *gateway.Client) {
		userID, err := uuid.Parse(client.UserID)
		if err != nil {
			return
		}

		if client.Role == gateway.RoleDriver {
			offers, err := svc.dispatch.PendingOffersFor(ctx, userID)
			if err != nil {
				logger.WarnContext(ctx, "replay failed to load pending offers",
					zap.String("driver_id", client.UserID), zap.Error(err))
			}
			for _, offer := range offers {
				sendEvent(client, gateway.EventTripNewRequest, offer.TripID, offer)
			}

			active, err := store.ActiveTripForDriver(ctx, client.UserID)
			if err != nil {
				logger.WarnContext(ctx, "replay failed to load active trip",
					zap.String("driver_id", client.UserID), zap.Error(err))
				return
			}
			syncActiveTrip(hub, client, active)
			return
		}

		active, err := store.ActiveTripForPassenger(ctx, client.UserID)
		if err != nil {
			logger.WarnContext(ctx, "replay failed to load active trip",
				zap.String("passenger_id", client.UserID), zap.Error(err))
			return
		}
		syncActiveTrip(hub, client, active)
	}
}

func syncActiveTrip(hub *gateway.Hub, client *gateway.Client, active *trips.ActiveTripRef) {
	if active == nil {
		return
	}
	hub.JoinTrip(client, active.TripID)
	sendEvent(client, gateway.EventTripStateSync, active.TripID, active)
}
