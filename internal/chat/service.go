package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/camride/dispatch/internal/gateway"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

// Service implements per-trip messaging. Messages are durable; typing
// indicators are delivered and forgotten.
type Service struct {
	repo     Store
	trips    TripLoader
	notifier Notifier

	now func() time.Time
}

// NewService creates the chat service.
func NewService(repo Store, trips TripLoader, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		trips:    trips,
		notifier: notifier,
		now:      time.Now,
	}
}

// Send persists a message and delivers it to the counterparty and the trip
// room.
func (s *Service) Send(ctx context.Context, senderID, tripID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.Validation("message must not be empty")
	}
	if len(content) > maxMessageLength {
		return nil, apperrors.Validation("message exceeds 2000 characters")
	}

	trip, recipient, role, err := s.loadConversation(ctx, senderID, tripID)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:          uuid.New(),
		TripID:      trip.ID,
		SenderID:    senderID,
		RecipientID: recipient,
		SenderRole:  role,
		Content:     content,
		CreatedAt:   s.now(),
	}
	if err := s.repo.Save(ctx, msg); err != nil {
		return nil, err
	}

	s.notifier.EmitToUser(recipient.String(), gateway.EventChatNewMessage, msg)
	s.notifier.EmitToTrip(trip.ID.String(), gateway.EventChatNewMessage, msg)
	return msg, nil
}

// Typing forwards a typing indicator to the counterparty. Nothing is stored.
func (s *Service) Typing(ctx context.Context, senderID, tripID uuid.UUID, isTyping bool) error {
	trip, recipient, _, err := s.loadConversation(ctx, senderID, tripID)
	if err != nil {
		return err
	}

	s.notifier.EmitToUser(recipient.String(), gateway.EventChatTyping, map[string]interface{}{
		"trip_id":   trip.ID.String(),
		"sender_id": senderID.String(),
		"is_typing": isTyping,
	})
	return nil
}

// MarkRead sets read receipts on every message addressed to the caller and
// tells the counterparty.
func (s *Service) MarkRead(ctx context.Context, callerID, tripID uuid.UUID) error {
	trip, counterparty, _, err := s.loadConversation(ctx, callerID, tripID)
	if err != nil {
		return err
	}

	if _, err := s.repo.MarkRead(ctx, trip.ID, callerID); err != nil {
		return err
	}

	s.notifier.EmitToUser(counterparty.String(), gateway.EventChatMessagesRead, map[string]interface{}{
		"trip_id": trip.ID.String(),
		"read_by": callerID.String(),
	})
	return nil
}

// History returns a page of the trip's messages for a participant.
func (s *Service) History(ctx context.Context, callerID, tripID uuid.UUID, limit, offset int) ([]*Message, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(trip, callerID) {
		return nil, apperrors.Forbidden("not a participant of this trip")
	}

	messages, err := s.repo.ListByTrip(ctx, tripID, limit, offset)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*Message{}
	}
	return messages, nil
}

// Unread counts the caller's unread messages in a trip.
func (s *Service) Unread(ctx context.Context, callerID, tripID uuid.UUID) (int64, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return 0, err
	}
	if !isParticipant(trip, callerID) {
		return 0, apperrors.Forbidden("not a participant of this trip")
	}
	return s.repo.UnreadCount(ctx, tripID, callerID)
}

// loadConversation resolves the trip, checks the chat window and the
// sender's membership, and returns the counterparty.
func (s *Service) loadConversation(ctx context.Context, senderID, tripID uuid.UUID) (*models.Trip, uuid.UUID, string, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, uuid.Nil, "", err
	}
	if !chatOpen(trip.Status) {
		return nil, uuid.Nil, "", apperrors.Precondition("chat is closed for this trip")
	}
	if trip.DriverID == nil {
		return nil, uuid.Nil, "", apperrors.Precondition("trip has no driver yet")
	}

	switch senderID {
	case trip.PassengerID:
		return trip, *trip.DriverID, "passenger", nil
	case *trip.DriverID:
		return trip, trip.PassengerID, "driver", nil
	default:
		return nil, uuid.Nil, "", apperrors.Forbidden("not a participant of this trip")
	}
}

func chatOpen(status models.TripStatus) bool {
	switch status {
	case models.TripStatusMatched, models.TripStatusDriverAssigned,
		models.TripStatusDriverEnRoute, models.TripStatusDriverArrived,
		models.TripStatusInProgress:
		return true
	}
	return false
}

func isParticipant(trip *models.Trip, userID uuid.UUID) bool {
	if trip.PassengerID == userID {
		return true
	}
	return trip.DriverID != nil && *trip.DriverID == userID
}
