package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/camride/dispatch/internal/gateway"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Save(ctx context.Context, msg *Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockRepo) ListByTrip(ctx context.Context, tripID uuid.UUID, limit, offset int) ([]*Message, error) {
	args := m.Called(ctx, tripID, limit, offset)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]*Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepo) MarkRead(ctx context.Context, tripID, recipientID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tripID, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepo) UnreadCount(ctx context.Context, tripID, recipientID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tripID, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

type mockTrips struct {
	mock.Mock
}

func (m *mockTrips) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	args := m.Called(ctx, id)
	if trip := args.Get(0); trip != nil {
		return trip.(*models.Trip), args.Error(1)
	}
	return nil, args.Error(1)
}

type emitted struct {
	target  string
	event   string
	payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	toUser []emitted
	toTrip []emitted
}

func (n *recordingNotifier) EmitToUser(userID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toUser = append(n.toUser, emitted{userID, event, payload})
}

func (n *recordingNotifier) EmitToTrip(tripID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toTrip = append(n.toTrip, emitted{tripID, event, payload})
}

func activeTrip(status models.TripStatus) *models.Trip {
	driverID := uuid.New()
	return &models.Trip{
		ID:          uuid.New(),
		PassengerID: uuid.New(),
		DriverID:    &driverID,
		Status:      status,
	}
}

func newTestService(repo *mockRepo, trips *mockTrips, notifier *recordingNotifier) *Service {
	svc := NewService(repo, trips, notifier)
	svc.now = func() time.Time { return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestSend_DeliversToRecipientAndTripRoom(t *testing.T) {
	repo := new(mockRepo)
	trips := new(mockTrips)
	notifier := &recordingNotifier{}
	trip := activeTrip(models.TripStatusInProgress)

	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("Save", mock.Anything, mock.MatchedBy(func(m *Message) bool {
		return m.TripID == trip.ID &&
			m.SenderID == trip.PassengerID &&
			m.RecipientID == *trip.DriverID &&
			m.SenderRole == "passenger" &&
			m.Content == "I'm by the pharmacy"
	})).Return(nil)

	msg, err := newTestService(repo, trips, notifier).
		Send(context.Background(), trip.PassengerID, trip.ID, "  I'm by the pharmacy  ")
	require.NoError(t, err)
	assert.Equal(t, "I'm by the pharmacy", msg.Content)

	require.Len(t, notifier.toUser, 1)
	assert.Equal(t, trip.DriverID.String(), notifier.toUser[0].target)
	assert.Equal(t, gateway.EventChatNewMessage, notifier.toUser[0].event)
	require.Len(t, notifier.toTrip, 1)
	assert.Equal(t, trip.ID.String(), notifier.toTrip[0].target)
}

func TestSend_RejectsEmptyAfterTrim(t *testing.T) {
	svc := newTestService(new(mockRepo), new(mockTrips), &recordingNotifier{})

	_, err := svc.Send(context.Background(), uuid.New(), uuid.New(), "   \n\t ")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSend_RejectsOverlongMessage(t *testing.T) {
	svc := newTestService(new(mockRepo), new(mockTrips), &recordingNotifier{})

	_, err := svc.Send(context.Background(), uuid.New(), uuid.New(), strings.Repeat("a", 2001))
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSend_AcceptsMaxLengthMessage(t *testing.T) {
	repo := new(mockRepo)
	trips := new(mockTrips)
	trip := activeTrip(models.TripStatusMatched)
	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	_, err := newTestService(repo, trips, &recordingNotifier{}).
		Send(context.Background(), *trip.DriverID, trip.ID, strings.Repeat("a", 2000))
	assert.NoError(t, err)
}

func TestSend_RejectsClosedTrip(t *testing.T) {
	for _, status := range []models.TripStatus{
		models.TripStatusSearching,
		models.TripStatusCompleted,
		models.TripStatusCanceled,
	} {
		trips := new(mockTrips)
		trip := activeTrip(status)
		trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)

		_, err := newTestService(new(mockRepo), trips, &recordingNotifier{}).
			Send(context.Background(), trip.PassengerID, trip.ID, "hello")
		assert.True(t, apperrors.IsKind(err, apperrors.KindPreconditionFailed), "status %s", status)
	}
}

func TestSend_RejectsNonParticipant(t *testing.T) {
	trips := new(mockTrips)
	trip := activeTrip(models.TripStatusInProgress)
	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)

	_, err := newTestService(new(mockRepo), trips, &recordingNotifier{}).
		Send(context.Background(), uuid.New(), trip.ID, "hello")
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}

func TestTyping_OnlyCounterpartySees(t *testing.T) {
	repo := new(mockRepo)
	trips := new(mockTrips)
	notifier := &recordingNotifier{}
	trip := activeTrip(models.TripStatusDriverEnRoute)
	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)

	err := newTestService(repo, trips, notifier).
		Typing(context.Background(), *trip.DriverID, trip.ID, true)
	require.NoError(t, err)

	require.Len(t, notifier.toUser, 1)
	assert.Equal(t, trip.PassengerID.String(), notifier.toUser[0].target)
	assert.Equal(t, gateway.EventChatTyping, notifier.toUser[0].event)
	assert.Empty(t, notifier.toTrip)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestMarkRead_NotifiesCounterparty(t *testing.T) {
	repo := new(mockRepo)
	trips := new(mockTrips)
	notifier := &recordingNotifier{}
	trip := activeTrip(models.TripStatusDriverArrived)
	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("MarkRead", mock.Anything, trip.ID, trip.PassengerID).Return(int64(3), nil)

	err := newTestService(repo, trips, notifier).
		MarkRead(context.Background(), trip.PassengerID, trip.ID)
	require.NoError(t, err)

	require.Len(t, notifier.toUser, 1)
	assert.Equal(t, trip.DriverID.String(), notifier.toUser[0].target)
	assert.Equal(t, gateway.EventChatMessagesRead, notifier.toUser[0].event)
}

func TestHistory_RequiresParticipant(t *testing.T) {
	trips := new(mockTrips)
	trip := activeTrip(models.TripStatusCompleted)
	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)

	_, err := newTestService(new(mockRepo), trips, &recordingNotifier{}).
		History(context.Background(), uuid.New(), trip.ID, 50, 0)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}

func TestHistory_ReadableAfterCompletion(t *testing.T) {
	repo := new(mockRepo)
	trips := new(mockTrips)
	trip := activeTrip(models.TripStatusCompleted)
	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("ListByTrip", mock.Anything, trip.ID, 50, 0).Return([]*Message{
		{ID: uuid.New(), TripID: trip.ID, Content: "thanks"},
	}, nil)

	messages, err := newTestService(repo, trips, &recordingNotifier{}).
		History(context.Background(), trip.PassengerID, trip.ID, 50, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestUnread_CountsOnlyForParticipants(t *testing.T) {
	repo := new(mockRepo)
	trips := new(mockTrips)
	trip := activeTrip(models.TripStatusInProgress)
	trips.On("GetByID", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("UnreadCount", mock.Anything, trip.ID, trip.PassengerID).Return(int64(3), nil)

	svc := newTestService(repo, trips, &recordingNotifier{})

	unread, err := svc.Unread(context.Background(), trip.PassengerID, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	_, err = svc.Unread(context.Background(), uuid.New(), trip.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}
