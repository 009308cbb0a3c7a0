package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/camride/dispatch/internal/gateway"
	"github.com/camride/dispatch/internal/keys"
	"github.com/camride/dispatch/internal/presence"
	"github.com/camride/dispatch/internal/trips"
	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/config"
	"github.com/camride/dispatch/pkg/models"
	redisClient "github.com/camride/dispatch/pkg/redis"
	"github.com/camride/dispatch/test/mocks"
)

type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) FindNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]*presence.NearbyDriver, error) {
	args := m.Called(ctx, lat, lng, radiusKm, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*presence.NearbyDriver), args.Error(1)
}

func (m *mockPresence) GetLocation(ctx context.Context, driverID uuid.UUID) (*presence.DriverLocation, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*presence.DriverLocation), args.Error(1)
}

func (m *mockPresence) GetMetadata(ctx context.Context, driverID uuid.UUID) (*presence.DriverMetadata, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*presence.DriverMetadata), args.Error(1)
}

func (m *mockPresence) MarkUnavailable(ctx context.Context, driverID uuid.UUID) error {
	return m.Called(ctx, driverID).Error(0)
}

type mockTripRepo struct {
	mock.Mock
}

func (m *mockTripRepo) Create(ctx context.Context, trip *models.Trip) error {
	return m.Called(ctx, trip).Error(0)
}

func (m *mockTripRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *mockTripRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TripStatus, at time.Time) error {
	return m.Called(ctx, id, status, at).Error(0)
}

func (m *mockTripRepo) Cancel(ctx context.Context, id uuid.UUID, status models.TripStatus, reason string, by models.ActorRole, at time.Time) error {
	return m.Called(ctx, id, status, reason, by, at).Error(0)
}

func (m *mockTripRepo) CompleteWithSettlement(ctx context.Context, id uuid.UUID, fareFinal *int64, at time.Time, settle trips.SettleFunc) (*models.Trip, error) {
	args := m.Called(ctx, id, fareFinal, at, settle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *mockTripRepo) AppendEvent(ctx context.Context, event *models.TripEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockTripRepo) ListEvents(ctx context.Context, tripID uuid.UUID) ([]*models.TripEvent, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TripEvent), args.Error(1)
}

func (m *mockTripRepo) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	args := m.Called(ctx, passengerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Trip), args.Error(1)
}

func (m *mockTripRepo) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Trip, error) {
	args := m.Called(ctx, driverID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Trip), args.Error(1)
}

type mockEphemeralStore struct {
	mock.Mock
}

func (m *mockEphemeralStore) Save(ctx context.Context, trip *models.EphemeralTrip) error {
	return m.Called(ctx, trip).Error(0)
}

func (m *mockEphemeralStore) Get(ctx context.Context, tripID uuid.UUID) (*models.EphemeralTrip, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EphemeralTrip), args.Error(1)
}

func (m *mockEphemeralStore) Delete(ctx context.Context, tripID uuid.UUID) error {
	return m.Called(ctx, tripID).Error(0)
}

func (m *mockEphemeralStore) SetActiveIndexes(ctx context.Context, trip *models.EphemeralTrip) error {
	return m.Called(ctx, trip).Error(0)
}

func (m *mockEphemeralStore) ClearActiveIndexes(ctx context.Context, passengerID, driverID string) error {
	return m.Called(ctx, passengerID, driverID).Error(0)
}

func (m *mockEphemeralStore) ActiveTripForPassenger(ctx context.Context, passengerID string) (*trips.ActiveTripRef, error) {
	args := m.Called(ctx, passengerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trips.ActiveTripRef), args.Error(1)
}

func (m *mockEphemeralStore) ActiveTripForDriver(ctx context.Context, driverID string) (*trips.ActiveTripRef, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trips.ActiveTripRef), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []emittedEvent
}

type emittedEvent struct {
	UserID string
	Event  string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{}
}

func (n *recordingNotifier) EmitToUser(userID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, emittedEvent{UserID: userID, Event: event})
}

func (n *recordingNotifier) has(userID, event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.UserID == userID && e.Event == event {
			return true
		}
	}
	return false
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		RadiusKm:           5,
		RadiusStepKm:       3,
		RadiusMaxKm:        15,
		WaveSize:           5,
		WaveTimeoutSeconds: 30,
	}
}

func newTestDispatcher(redis redisClient.ClientInterface, pres Presence, repo trips.Repository, store trips.EphemeralStore) *Service {
	s := NewService(redis, pres, repo, store, testConfig())
	s.sleep = func(time.Duration) {}
	return s
}

func searchingTrip(passengerID uuid.UUID) *models.EphemeralTrip {
	return &models.EphemeralTrip{
		ID:            uuid.New(),
		PassengerID:   passengerID,
		Status:        models.TripStatusSearching,
		Pickup:        models.Location{Latitude: 4.05, Longitude: 9.7, Address: "Akwa"},
		Dropoff:       models.Location{Latitude: 4.08, Longitude: 9.74, Address: "Bonapriso"},
		DistanceM:     5200,
		DurationS:     900,
		FareEstimate:  2500,
		PaymentMethod: models.PaymentCash,
		RequestedAt:   time.Now().Add(-10 * time.Second),
	}
}

func TestService_RequestTrip_Validation(t *testing.T) {
	service := newTestDispatcher(new(mocks.MockRedisClient), new(mockPresence), new(mockTripRepo), new(mockEphemeralStore))
	ctx := context.Background()

	cases := []struct {
		name  string
		input *TripRequestInput
	}{
		{"bad pickup latitude", &TripRequestInput{
			Pickup:        models.Location{Latitude: 90.0001, Longitude: 9.7},
			Dropoff:       models.Location{Latitude: 4.08, Longitude: 9.74},
			DistanceM:     1000, DurationS: 300, FareEstimate: 1000, PaymentMethod: models.PaymentCash,
		}},
		{"zero fare", &TripRequestInput{
			Pickup:        models.Location{Latitude: 4.05, Longitude: 9.7},
			Dropoff:       models.Location{Latitude: 4.08, Longitude: 9.74},
			DistanceM:     1000, DurationS: 300, FareEstimate: 0, PaymentMethod: models.PaymentCash,
		}},
		{"unknown payment method", &TripRequestInput{
			Pickup:        models.Location{Latitude: 4.05, Longitude: 9.7},
			Dropoff:       models.Location{Latitude: 4.08, Longitude: 9.74},
			DistanceM:     1000, DurationS: 300, FareEstimate: 1000, PaymentMethod: "CHECK",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.RequestTrip(ctx, uuid.New(), tc.input)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
		})
	}
}

func TestService_RequestTrip_RejectsSecondActiveTrip(t *testing.T) {
	store := new(mockEphemeralStore)
	service := newTestDispatcher(new(mocks.MockRedisClient), new(mockPresence), new(mockTripRepo), store)
	ctx := context.Background()
	passengerID := uuid.New()

	store.On("ActiveTripForPassenger", ctx, passengerID.String()).
		Return(&trips.ActiveTripRef{TripID: uuid.New().String()}, nil)

	_, err := service.RequestTrip(ctx, passengerID, &TripRequestInput{
		Pickup:        models.Location{Latitude: 4.05, Longitude: 9.7},
		Dropoff:       models.Location{Latitude: 4.08, Longitude: 9.74},
		DistanceM:     1000, DurationS: 300, FareEstimate: 1000, PaymentMethod: models.PaymentCash,
	})

	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestService_RequestTrip_DispatchesFirstWave(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	pres := new(mockPresence)
	store := new(mockEphemeralStore)
	service := newTestDispatcher(mockRedis, pres, new(mockTripRepo), store)
	notifier := newRecordingNotifier()
	service.SetNotifier(notifier)
	ctx := context.Background()
	passengerID := uuid.New()
	driverID := uuid.New()

	store.On("ActiveTripForPassenger", ctx, passengerID.String()).Return(nil, nil)
	store.On("Save", ctx, mock.Anything).Return(nil)
	store.On("SetActiveIndexes", ctx, mock.Anything).Return(nil)
	store.On("Get", mock.Anything, mock.Anything).Return(nil, nil).Maybe()

	pres.On("FindNearby", ctx, 4.05, 9.7, 5.0, 15).Return([]*presence.NearbyDriver{
		{DriverID: driverID, Latitude: 4.051, Longitude: 9.701, DistanceKm: 0.2},
	}, nil)

	mockRedis.On("SetIsMember", ctx, mock.Anything, driverID.String()).Return(false, nil)
	mockRedis.On("SetAdd", ctx, mock.Anything, driverID.String()).Return(nil)
	mockRedis.On("GetString", ctx, keys.DriverPendingOffers(driverID.String())).Return("", redisClient.Nil)
	mockRedis.On("SetWithExpiration", ctx, keys.DriverPendingOffers(driverID.String()), mock.Anything, keys.TTLPendingOffers).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, mock.Anything, "1", keys.TTLTripTimeout).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, mock.Anything, "1", keys.TTLTripSearching).Return(nil)

	trip, err := service.RequestTrip(ctx, passengerID, &TripRequestInput{
		Pickup:        models.Location{Latitude: 4.05, Longitude: 9.7},
		Dropoff:       models.Location{Latitude: 4.08, Longitude: 9.74},
		DistanceM:     5200, DurationS: 900, FareEstimate: 2500, PaymentMethod: models.PaymentCash,
	})

	assert.NoError(t, err)
	assert.Equal(t, models.TripStatusSearching, trip.Status)
	assert.True(t, notifier.has(driverID.String(), gateway.EventTripNewRequest))
}

func TestService_AcceptTrip_LockConflict(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	service := newTestDispatcher(mockRedis, new(mockPresence), new(mockTripRepo), new(mockEphemeralStore))
	ctx := context.Background()
	tripID := uuid.New()

	mockRedis.On("SetNX", ctx, keys.TripLock(tripID.String()), mock.Anything, keys.TTLTripLock).Return(false, nil)

	_, err := service.AcceptTrip(ctx, tripID, uuid.New())

	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
	assert.Equal(t, apperrors.CodeTripLocked, appErr.Code)
}

func TestService_AcceptTrip_AlreadyAccepted(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	store := new(mockEphemeralStore)
	service := newTestDispatcher(mockRedis, new(mockPresence), new(mockTripRepo), store)
	ctx := context.Background()

	passengerID := uuid.New()
	winner := uuid.New()
	trip := searchingTrip(passengerID)
	trip.DriverID = &winner
	trip.Status = models.TripStatusMatched
	tid := trip.ID.String()

	mockRedis.On("SetNX", ctx, keys.TripLock(tid), mock.Anything, keys.TTLTripLock).Return(true, nil)
	mockRedis.On("Delete", ctx, keys.TripTimeout(tid)).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, keys.TripAccepting(tid), "1", keys.TTLTripAccepting).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, keys.TripNoExpire(tid), "1", keys.TTLTripAccepting).Return(nil)
	mockRedis.On("Delete", mock.Anything, keys.TripAccepting(tid), keys.TripNoExpire(tid)).Return(nil)
	mockRedis.On("ReleaseLock", mock.Anything, keys.TripLock(tid), mock.Anything).Return(true, nil)
	store.On("Get", ctx, trip.ID).Return(trip, nil)

	_, err := service.AcceptTrip(ctx, trip.ID, winner)

	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.CodeTripAlreadyAccepted, appErr.Code)
	mockRedis.AssertExpectations(t)
}

func TestService_AcceptTrip_ExpiredTrip(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	store := new(mockEphemeralStore)
	service := newTestDispatcher(mockRedis, new(mockPresence), new(mockTripRepo), store)
	ctx := context.Background()
	tripID := uuid.New()
	tid := tripID.String()

	mockRedis.On("SetNX", ctx, keys.TripLock(tid), mock.Anything, keys.TTLTripLock).Return(true, nil)
	mockRedis.On("Delete", ctx, keys.TripTimeout(tid)).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, mock.Anything, "1", keys.TTLTripAccepting).Return(nil)
	mockRedis.On("Delete", mock.Anything, keys.TripAccepting(tid), keys.TripNoExpire(tid)).Return(nil)
	mockRedis.On("ReleaseLock", mock.Anything, keys.TripLock(tid), mock.Anything).Return(true, nil)
	store.On("Get", ctx, tripID).Return(nil, nil)

	_, err := service.AcceptTrip(ctx, tripID, uuid.New())

	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.CodeTripNotAvailable, appErr.Code)
}

func TestService_AcceptTrip_MissingLocation(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	store := new(mockEphemeralStore)
	pres := new(mockPresence)
	service := newTestDispatcher(mockRedis, pres, new(mockTripRepo), store)
	ctx := context.Background()

	trip := searchingTrip(uuid.New())
	tid := trip.ID.String()
	driverID := uuid.New()

	mockRedis.On("SetNX", ctx, keys.TripLock(tid), mock.Anything, keys.TTLTripLock).Return(true, nil)
	mockRedis.On("Delete", ctx, keys.TripTimeout(tid)).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, mock.Anything, "1", keys.TTLTripAccepting).Return(nil)
	mockRedis.On("Delete", mock.Anything, keys.TripAccepting(tid), keys.TripNoExpire(tid)).Return(nil)
	mockRedis.On("ReleaseLock", mock.Anything, keys.TripLock(tid), mock.Anything).Return(true, nil)
	store.On("Get", ctx, trip.ID).Return(trip, nil)
	store.On("ActiveTripForDriver", ctx, driverID.String()).Return(nil, nil)
	pres.On("GetLocation", ctx, driverID).Return(nil, apperrors.Unavailable(apperrors.CodeDriverLocationMissing, "missing"))

	_, err := service.AcceptTrip(ctx, trip.ID, driverID)

	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.CodeDriverLocationMissing, appErr.Code)
}

func TestService_AcceptTrip_DriverAlreadyOnTrip(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	store := new(mockEphemeralStore)
	repo := new(mockTripRepo)
	service := newTestDispatcher(mockRedis, new(mockPresence), repo, store)
	ctx := context.Background()

	trip := searchingTrip(uuid.New())
	tid := trip.ID.String()
	driverID := uuid.New()

	mockRedis.On("SetNX", ctx, keys.TripLock(tid), mock.Anything, keys.TTLTripLock).Return(true, nil)
	mockRedis.On("Delete", ctx, keys.TripTimeout(tid)).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, mock.Anything, "1", keys.TTLTripAccepting).Return(nil)
	mockRedis.On("Delete", mock.Anything, keys.TripAccepting(tid), keys.TripNoExpire(tid)).Return(nil)
	mockRedis.On("ReleaseLock", mock.Anything, keys.TripLock(tid), mock.Anything).Return(true, nil)
	store.On("Get", ctx, trip.ID).Return(trip, nil)
	store.On("ActiveTripForDriver", ctx, driverID.String()).
		Return(&trips.ActiveTripRef{TripID: uuid.New().String()}, nil)

	_, err := service.AcceptTrip(ctx, trip.ID, driverID)

	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
	assert.Equal(t, apperrors.CodeDriverBusy, appErr.Code)
	// No second durable row, no reverse index overwrite.
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "SetActiveIndexes", mock.Anything, mock.Anything)
}

func TestService_AcceptTrip_WinnerPath(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	store := new(mockEphemeralStore)
	pres := new(mockPresence)
	repo := new(mockTripRepo)
	service := newTestDispatcher(mockRedis, pres, repo, store)
	notifier := newRecordingNotifier()
	service.SetNotifier(notifier)
	ctx := context.Background()

	passengerID := uuid.New()
	trip := searchingTrip(passengerID)
	tid := trip.ID.String()
	winner := uuid.New()
	rival := uuid.New()

	mockRedis.On("SetNX", ctx, keys.TripLock(tid), mock.Anything, keys.TTLTripLock).Return(true, nil)
	mockRedis.On("Delete", ctx, keys.TripTimeout(tid)).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, keys.TripAccepting(tid), "1", keys.TTLTripAccepting).Return(nil)
	mockRedis.On("SetWithExpiration", ctx, keys.TripNoExpire(tid), "1", keys.TTLTripAccepting).Return(nil)
	store.On("Get", ctx, trip.ID).Return(trip, nil)
	store.On("ActiveTripForDriver", ctx, winner.String()).Return(nil, nil)
	pres.On("GetLocation", ctx, winner).Return(&presence.DriverLocation{
		DriverID: winner, Latitude: 4.052, Longitude: 9.702,
	}, nil)
	repo.On("Create", ctx, mock.MatchedBy(func(t *models.Trip) bool {
		return t.ID == trip.ID && t.DriverID != nil && *t.DriverID == winner &&
			t.Status == models.TripStatusMatched && t.DriverAtMatch != nil
	})).Return(nil)
	store.On("Save", ctx, mock.Anything).Return(nil)
	store.On("SetActiveIndexes", ctx, mock.Anything).Return(nil)
	repo.On("AppendEvent", ctx, mock.Anything).Return(nil)
	pres.On("MarkUnavailable", ctx, winner).Return(nil)
	pres.On("GetMetadata", ctx, winner).Return(&presence.DriverMetadata{DriverID: winner}, nil)

	// Winner's pending offer pruned, rival notified and pruned.
	mockRedis.On("GetString", ctx, keys.DriverPendingOffers(winner.String())).
		Return(`[{"trip_id":"`+tid+`"}]`, nil)
	mockRedis.On("Delete", ctx, keys.DriverPendingOffers(winner.String())).Return(nil)
	mockRedis.On("SetMembers", ctx, keys.TripOffers(tid)).Return([]string{winner.String(), rival.String()}, nil)
	mockRedis.On("GetString", ctx, keys.DriverPendingOffers(rival.String())).
		Return(`[{"trip_id":"`+tid+`"}]`, nil)
	mockRedis.On("Delete", ctx, keys.DriverPendingOffers(rival.String())).Return(nil)

	mockRedis.On("Delete", ctx, keys.TripTimeout(tid), keys.TripOffers(tid), keys.TripDeclined(tid), keys.TripWave(tid)).Return(nil)
	mockRedis.On("Delete", mock.Anything, keys.TripAccepting(tid), keys.TripNoExpire(tid)).Return(nil)
	mockRedis.On("ReleaseLock", mock.Anything, keys.TripLock(tid), mock.Anything).Return(true, nil)

	result, err := service.AcceptTrip(ctx, trip.ID, winner)

	assert.NoError(t, err)
	assert.Equal(t, models.TripStatusMatched, result.Trip.Status)
	assert.True(t, notifier.has(passengerID.String(), gateway.EventTripDriverAssigned))
	assert.True(t, notifier.has(winner.String(), gateway.EventTripMatched))
	assert.True(t, notifier.has(rival.String(), gateway.EventTripRequestExpired))
	repo.AssertExpectations(t)
}

func TestService_AcceptTrip_RaceSecondAcceptorLoses(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	service := newTestDispatcher(mockRedis, new(mockPresence), new(mockTripRepo), new(mockEphemeralStore))
	ctx := context.Background()
	tripID := uuid.New()

	// First acceptor holds the lock; the second's SET NX fails.
	mockRedis.On("SetNX", ctx, keys.TripLock(tripID.String()), mock.Anything, keys.TTLTripLock).
		Return(false, nil).Once()

	_, err := service.AcceptTrip(ctx, tripID, uuid.New())

	appErr := apperrors.As(err)
	assert.Equal(t, apperrors.CodeTripLocked, appErr.Code)
	mockRedis.AssertNotCalled(t, "ReleaseLock")
}

func TestService_DeclineTrip(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	service := newTestDispatcher(mockRedis, new(mockPresence), new(mockTripRepo), new(mockEphemeralStore))
	ctx := context.Background()
	tripID := uuid.New()
	driverID := uuid.New()
	tid := tripID.String()
	did := driverID.String()

	mockRedis.On("SetIsMember", ctx, keys.TripOffers(tid), did).Return(true, nil)
	mockRedis.On("SetAdd", ctx, keys.TripDeclined(tid), did).Return(nil)
	mockRedis.On("Expire", ctx, keys.TripDeclined(tid), keys.TTLTripDeclined).Return(nil)
	mockRedis.On("SetRemove", ctx, keys.TripOffers(tid), did).Return(nil)
	mockRedis.On("GetString", ctx, keys.DriverPendingOffers(did)).
		Return(`[{"trip_id":"`+tid+`"},{"trip_id":"other"}]`, nil)
	mockRedis.On("SetWithExpiration", ctx, keys.DriverPendingOffers(did), mock.Anything, keys.TTLPendingOffers).Return(nil)

	err := service.DeclineTrip(ctx, tripID, driverID)

	assert.NoError(t, err)
	mockRedis.AssertExpectations(t)
}

func TestService_DeclineTrip_RequiresOffer(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	service := newTestDispatcher(mockRedis, new(mockPresence), new(mockTripRepo), new(mockEphemeralStore))
	ctx := context.Background()
	tripID := uuid.New()
	driverID := uuid.New()

	mockRedis.On("SetIsMember", ctx, keys.TripOffers(tripID.String()), driverID.String()).Return(false, nil)

	err := service.DeclineTrip(ctx, tripID, driverID)

	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	mockRedis.AssertNotCalled(t, "SetAdd", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CancelSearch_WrongPassenger(t *testing.T) {
	store := new(mockEphemeralStore)
	service := newTestDispatcher(new(mocks.MockRedisClient), new(mockPresence), new(mockTripRepo), store)
	ctx := context.Background()

	trip := searchingTrip(uuid.New())
	store.On("Get", ctx, trip.ID).Return(trip, nil)

	err := service.CancelSearch(ctx, trip.ID, uuid.New(), "mistake")

	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))
}

func TestService_CancelSearch_NotifiesOfferedDrivers(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	store := new(mockEphemeralStore)
	service := newTestDispatcher(mockRedis, new(mockPresence), new(mockTripRepo), store)
	notifier := newRecordingNotifier()
	service.SetNotifier(notifier)
	ctx := context.Background()

	passengerID := uuid.New()
	trip := searchingTrip(passengerID)
	tid := trip.ID.String()
	offered := uuid.New().String()

	store.On("Get", ctx, trip.ID).Return(trip, nil)
	store.On("Delete", ctx, trip.ID).Return(nil)
	store.On("ClearActiveIndexes", ctx, passengerID.String(), "").Return(nil)
	mockRedis.On("SetMembers", ctx, keys.TripOffers(tid)).Return([]string{offered}, nil)
	mockRedis.On("GetString", ctx, keys.DriverPendingOffers(offered)).Return("", redisClient.Nil)
	mockRedis.On("Delete", ctx, keys.TripTimeout(tid), keys.TripOffers(tid), keys.TripDeclined(tid), keys.TripWave(tid)).Return(nil)

	err := service.CancelSearch(ctx, trip.ID, passengerID, "changed plans")

	assert.NoError(t, err)
	assert.True(t, notifier.has(offered, gateway.EventTripRequestExpired))
	assert.True(t, notifier.has(passengerID.String(), gateway.EventTripCanceled))
}

func TestService_WatchWaves_ExhaustsToNoDrivers(t *testing.T) {
	mockRedis := new(mocks.MockRedisClient)
	store := new(mockEphemeralStore)
	pres := new(mockPresence)
	service := newTestDispatcher(mockRedis, pres, new(mockTripRepo), store)
	notifier := newRecordingNotifier()
	service.SetNotifier(notifier)

	passengerID := uuid.New()
	trip := searchingTrip(passengerID)
	tid := trip.ID.String()

	store.On("Get", mock.Anything, trip.ID).Return(trip, nil)
	mockRedis.On("Exists", mock.Anything, keys.TripNoExpire(tid)).Return(false, nil)
	mockRedis.On("SetNX", mock.Anything, mock.Anything, "1", keys.TTLTripSearching).Return(true, nil)

	// Waves 2..4 find nobody.
	pres.On("FindNearby", mock.Anything, 4.05, 9.7, 8.0, 15).Return(nil, nil)
	pres.On("FindNearby", mock.Anything, 4.05, 9.7, 11.0, 15).Return(nil, nil)
	pres.On("FindNearby", mock.Anything, 4.05, 9.7, 14.0, 15).Return(nil, nil)
	mockRedis.On("SetWithExpiration", mock.Anything, keys.TripTimeout(tid), "1", keys.TTLTripTimeout).Return(nil)
	mockRedis.On("SetWithExpiration", mock.Anything, keys.TripWave(tid), mock.Anything, keys.TTLTripSearching).Return(nil)

	// Exhaustion path.
	store.On("Save", mock.Anything, mock.MatchedBy(func(tr *models.EphemeralTrip) bool {
		return tr.Status == models.TripStatusNoDrivers
	})).Return(nil)
	store.On("ClearActiveIndexes", mock.Anything, passengerID.String(), "").Return(nil)
	mockRedis.On("SetMembers", mock.Anything, keys.TripOffers(tid)).Return(nil, nil)
	mockRedis.On("Delete", mock.Anything, keys.TripTimeout(tid), keys.TripOffers(tid), keys.TripDeclined(tid), keys.TripWave(tid)).Return(nil)

	service.watchWaves(trip.ID)

	assert.True(t, notifier.has(passengerID.String(), gateway.EventTripNoDrivers))
	pres.AssertExpectations(t)
}
