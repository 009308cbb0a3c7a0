package trips

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, trip *models.Trip) error {
	return m.Called(ctx, trip).Error(0)
}

func (m *mockRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *mockRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TripStatus, at time.Time) error {
	return m.Called(ctx, id, status, at).Error(0)
}

func (m *mockRepository) Cancel(ctx context.Context, id uuid.UUID, status models.TripStatus, reason string, by models.ActorRole, at time.Time) error {
	return m.Called(ctx, id, status, reason, by, at).Error(0)
}

func (m *mockRepository) CompleteWithSettlement(ctx context.Context, id uuid.UUID, fareFinal *int64, at time.Time, settle SettleFunc) (*models.Trip, error) {
	args := m.Called(ctx, id, fareFinal, at, settle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *mockRepository) AppendEvent(ctx context.Context, event *models.TripEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockRepository) ListEvents(ctx context.Context, tripID uuid.UUID) ([]*models.TripEvent, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TripEvent), args.Error(1)
}

func (m *mockRepository) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	args := m.Called(ctx, passengerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Trip), args.Error(1)
}

func (m *mockRepository) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	args := m.Called(ctx, driverID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Trip), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, trip *models.EphemeralTrip) error {
	return m.Called(ctx, trip).Error(0)
}

func (m *mockStore) Get(ctx context.Context, tripID uuid.UUID) (*models.EphemeralTrip, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EphemeralTrip), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, tripID uuid.UUID) error {
	return m.Called(ctx, tripID).Error(0)
}

func (m *mockStore) SetActiveIndexes(ctx context.Context, trip *models.EphemeralTrip) error {
	return m.Called(ctx, trip).Error(0)
}

func (m *mockStore) ClearActiveIndexes(ctx context.Context, passengerID, driverID string) error {
	return m.Called(ctx, passengerID, driverID).Error(0)
}

func (m *mockStore) ActiveTripForPassenger(ctx context.Context, passengerID string) (*ActiveTripRef, error) {
	args := m.Called(ctx, passengerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ActiveTripRef), args.Error(1)
}

func (m *mockStore) ActiveTripForDriver(ctx context.Context, driverID string) (*ActiveTripRef, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ActiveTripRef), args.Error(1)
}

type mockPool struct {
	mock.Mock
}

func (m *mockPool) MarkAvailable(ctx context.Context, driverID uuid.UUID) error {
	return m.Called(ctx, driverID).Error(0)
}

func (m *mockPool) MarkUnavailable(ctx context.Context, driverID uuid.UUID) error {
	return m.Called(ctx, driverID).Error(0)
}

func matchedTrip(passengerID, driverID uuid.UUID) *models.Trip {
	now := time.Now()
	return &models.Trip{
		ID:            uuid.New(),
		PassengerID:   passengerID,
		DriverID:      &driverID,
		Status:        models.TripStatusMatched,
		Pickup:        models.Location{Latitude: 4.05, Longitude: 9.7},
		Dropoff:       models.Location{Latitude: 4.06, Longitude: 9.75},
		FareEstimate:  2500,
		PaymentMethod: models.PaymentCash,
		MatchedAt:     &now,
		CreatedAt:     now,
	}
}

func newTestService(repo *mockRepository, store *mockStore, pool *mockPool) *Service {
	return NewService(repo, store, pool)
}

func TestService_StartEnRoute_FromMatched(t *testing.T) {
	repo := new(mockRepository)
	store := new(mockStore)
	pool := new(mockPool)
	service := newTestService(repo, store, pool)
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)
	repo.On("UpdateStatus", ctx, trip.ID, models.TripStatusDriverEnRoute, mock.Anything).Return(nil)
	repo.On("AppendEvent", ctx, mock.Anything).Return(nil)
	store.On("Save", ctx, mock.Anything).Return(nil)
	store.On("SetActiveIndexes", ctx, mock.Anything).Return(nil)

	updated, err := service.StartEnRoute(ctx, trip.ID, driverID)

	assert.NoError(t, err)
	assert.Equal(t, models.TripStatusDriverEnRoute, updated.Status)
	assert.NotNil(t, updated.DriverEnRouteAt)
	repo.AssertExpectations(t)
}

func TestService_StartEnRoute_WrongDriver(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockStore), new(mockPool))
	ctx := context.Background()

	trip := matchedTrip(uuid.New(), uuid.New())
	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)

	_, err := service.StartEnRoute(ctx, trip.ID, uuid.New())

	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
	repo.AssertNotCalled(t, "UpdateStatus")
}

func TestService_StartTrip_RequiresArrived(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockStore), new(mockPool))
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)
	trip.Status = models.TripStatusMatched

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)

	_, err := service.StartTrip(ctx, trip.ID, driverID)

	assert.True(t, apperrors.IsKind(err, apperrors.KindPreconditionFailed))
}

func TestService_MarkArrived_DirectFromMatched(t *testing.T) {
	repo := new(mockRepository)
	store := new(mockStore)
	service := newTestService(repo, store, new(mockPool))
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)
	repo.On("UpdateStatus", ctx, trip.ID, models.TripStatusDriverArrived, mock.Anything).Return(nil)
	repo.On("AppendEvent", ctx, mock.Anything).Return(nil)
	store.On("Save", ctx, mock.Anything).Return(nil)
	store.On("SetActiveIndexes", ctx, mock.Anything).Return(nil)

	updated, err := service.MarkArrived(ctx, trip.ID, driverID)

	assert.NoError(t, err)
	assert.Equal(t, models.TripStatusDriverArrived, updated.Status)
}

func TestService_CompleteTrip_ReleasesDriver(t *testing.T) {
	repo := new(mockRepository)
	store := new(mockStore)
	pool := new(mockPool)
	service := newTestService(repo, store, pool)
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)
	trip.Status = models.TripStatusInProgress

	completed := *trip
	completed.Status = models.TripStatusCompleted
	fare := int64(3000)
	completed.FareFinal = &fare

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)
	repo.On("CompleteWithSettlement", ctx, trip.ID, &fare, mock.Anything, mock.Anything).Return(&completed, nil)
	repo.On("AppendEvent", ctx, mock.Anything).Return(nil)
	store.On("Delete", ctx, trip.ID).Return(nil)
	store.On("ClearActiveIndexes", ctx, passengerID.String(), driverID.String()).Return(nil)
	pool.On("MarkAvailable", ctx, driverID).Return(nil)

	updated, err := service.CompleteTrip(ctx, trip.ID, driverID, &fare)

	assert.NoError(t, err)
	assert.Equal(t, models.TripStatusCompleted, updated.Status)
	pool.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestService_CompleteTrip_SettlementFailurePropagates(t *testing.T) {
	repo := new(mockRepository)
	store := new(mockStore)
	pool := new(mockPool)
	service := newTestService(repo, store, pool)
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)
	trip.Status = models.TripStatusInProgress

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)
	repo.On("CompleteWithSettlement", ctx, trip.ID, (*int64)(nil), mock.Anything, mock.Anything).
		Return(nil, errors.New("settlement failed"))

	_, err := service.CompleteTrip(ctx, trip.ID, driverID, nil)

	assert.Error(t, err)
	pool.AssertNotCalled(t, "MarkAvailable")
}

func TestService_CancelTrip_PassengerAnyNonTerminal(t *testing.T) {
	repo := new(mockRepository)
	store := new(mockStore)
	pool := new(mockPool)
	service := newTestService(repo, store, pool)
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)
	trip.Status = models.TripStatusDriverArrived

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)
	repo.On("Cancel", ctx, trip.ID, models.TripStatusCanceled, "changed plans", models.ActorPassenger, mock.Anything).Return(nil)
	repo.On("AppendEvent", ctx, mock.Anything).Return(nil)
	store.On("Delete", ctx, trip.ID).Return(nil)
	store.On("ClearActiveIndexes", ctx, passengerID.String(), driverID.String()).Return(nil)
	pool.On("MarkAvailable", ctx, driverID).Return(nil)

	updated, err := service.CancelTrip(ctx, trip.ID, passengerID, models.ActorPassenger, "changed plans")

	assert.NoError(t, err)
	assert.Equal(t, models.TripStatusCanceled, updated.Status)
}

func TestService_CancelTrip_DriverAfterStartRejected(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockStore), new(mockPool))
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)
	trip.Status = models.TripStatusInProgress

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)

	_, err := service.CancelTrip(ctx, trip.ID, driverID, models.ActorDriver, "emergency")

	assert.True(t, apperrors.IsKind(err, apperrors.KindPreconditionFailed))
	repo.AssertNotCalled(t, "Cancel")
}

func TestService_CancelTrip_TerminalRejected(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockStore), new(mockPool))
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	trip := matchedTrip(passengerID, driverID)
	trip.Status = models.TripStatusCompleted

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)

	_, err := service.CancelTrip(ctx, trip.ID, passengerID, models.ActorPassenger, "too late")

	assert.True(t, apperrors.IsKind(err, apperrors.KindPreconditionFailed))
}

func TestService_ReportNoShow_WaitBoundary(t *testing.T) {
	repo := new(mockRepository)
	store := new(mockStore)
	pool := new(mockPool)
	service := newTestService(repo, store, pool)
	ctx := context.Background()

	passengerID, driverID := uuid.New(), uuid.New()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	trip := matchedTrip(passengerID, driverID)
	trip.Status = models.TripStatusDriverArrived
	arrived := base
	trip.DriverArrivedAt = &arrived

	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)

	// 299 seconds of waiting is not enough.
	service.now = func() time.Time { return base.Add(299 * time.Second) }
	_, err := service.ReportNoShow(ctx, trip.ID, driverID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindPreconditionFailed))
	repo.AssertNotCalled(t, "Cancel")

	// 300 seconds is.
	service.now = func() time.Time { return base.Add(300 * time.Second) }
	repo.On("Cancel", ctx, trip.ID, models.TripStatusNoShow, "passenger no-show", models.ActorDriver, mock.Anything).Return(nil)
	repo.On("AppendEvent", ctx, mock.Anything).Return(nil)
	store.On("Delete", ctx, trip.ID).Return(nil)
	store.On("ClearActiveIndexes", ctx, passengerID.String(), driverID.String()).Return(nil)
	pool.On("MarkAvailable", ctx, driverID).Return(nil)

	updated, err := service.ReportNoShow(ctx, trip.ID, driverID)
	assert.NoError(t, err)
	assert.Equal(t, models.TripStatusNoShow, updated.Status)
}

func TestService_GetTrip_NonParticipantDenied(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockStore), new(mockPool))
	ctx := context.Background()

	trip := matchedTrip(uuid.New(), uuid.New())
	repo.On("GetByID", ctx, trip.ID).Return(trip, nil)

	_, err := service.GetTrip(ctx, trip.ID, uuid.New())

	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}
