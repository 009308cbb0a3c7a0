package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/camride/dispatch/internal/keys"
	"github.com/camride/dispatch/pkg/eventbus"
	"github.com/camride/dispatch/test/mocks"
)

func newTestHub() (*Hub, *mocks.MockRedisClient) {
	mockRedis := new(mocks.MockRedisClient)
	mockRedis.On("SetWithExpiration", mock.Anything, mock.Anything, mock.Anything, keys.TTLUserSocket).Return(nil).Maybe()
	mockRedis.On("Delete", mock.Anything, mock.Anything).Return(nil).Maybe()
	return NewHub(mockRedis), mockRedis
}

func testClient(hub *Hub, role string) *Client {
	return &Client{
		UserID: uuid.New().String(),
		Role:   role,
		ConnID: uuid.New().String(),
		Send:   make(chan *Message, 16),
		Hub:    hub,
		rooms:  make(map[string]bool),
	}
}

func TestHub_RegisterJoinsRooms(t *testing.T) {
	hub, mockRedis := newTestHub()
	client := testClient(hub, RoleDriver)

	hub.registerClient(client)

	assert.True(t, hub.IsConnected(client.UserID))
	assert.True(t, client.rooms[userRoom(client.UserID)])
	assert.True(t, client.rooms[RoomDrivers])
	mockRedis.AssertCalled(t, "SetWithExpiration", mock.Anything, keys.UserSocket(client.UserID), client.ConnID, keys.TTLUserSocket)
}

func TestHub_EmitToUser(t *testing.T) {
	hub, _ := newTestHub()
	client := testClient(hub, RolePassenger)
	hub.registerClient(client)

	hub.EmitToUser(client.UserID, EventTripStateSync, map[string]interface{}{"status": "MATCHED"})

	msg := <-client.Send
	assert.Equal(t, EventTripStateSync, msg.Event)

	var data map[string]interface{}
	assert.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "MATCHED", data["status"])
}

func TestHub_EmitToUser_NotConnected(t *testing.T) {
	hub, _ := newTestHub()

	// Must not panic or block.
	hub.EmitToUser(uuid.New().String(), EventTripStateSync, nil)
}

func TestHub_TripRoom(t *testing.T) {
	hub, _ := newTestHub()
	passenger := testClient(hub, RolePassenger)
	driver := testClient(hub, RoleDriver)
	hub.registerClient(passenger)
	hub.registerClient(driver)

	tripID := uuid.New().String()
	hub.JoinTrip(passenger, tripID)
	hub.JoinTrip(driver, tripID)

	hub.EmitToTrip(tripID, EventChatNewMessage, map[string]interface{}{"text": "hello"})

	assert.Equal(t, EventChatNewMessage, (<-passenger.Send).Event)
	assert.Equal(t, EventChatNewMessage, (<-driver.Send).Event)

	hub.LeaveTrip(driver, tripID)
	hub.EmitToTrip(tripID, EventChatNewMessage, map[string]interface{}{"text": "again"})

	assert.Len(t, passenger.Send, 1)
	assert.Len(t, driver.Send, 0)
}

func TestHub_UnregisterCleansUp(t *testing.T) {
	hub, mockRedis := newTestHub()
	client := testClient(hub, RoleDriver)
	hub.registerClient(client)
	hub.JoinTrip(client, uuid.New().String())

	hub.unregisterClient(client)

	assert.False(t, hub.IsConnected(client.UserID))
	mockRedis.AssertCalled(t, "Delete", mock.Anything, keys.UserSocket(client.UserID))
}

func TestHub_ReconnectReplacesOldConnection(t *testing.T) {
	hub, _ := newTestHub()
	userID := uuid.New().String()

	first := testClient(hub, RolePassenger)
	first.UserID = userID
	second := testClient(hub, RolePassenger)
	second.UserID = userID

	hub.registerClient(first)
	hub.registerClient(second)

	// The stale connection's unregister must not evict the new one.
	hub.unregisterClient(first)
	assert.True(t, hub.IsConnected(userID))

	hub.EmitToUser(userID, EventTripStateSync, nil)
	assert.Len(t, second.Send, 1)
}

func TestHub_SendToReplacedConnectionIsDropped(t *testing.T) {
	hub, _ := newTestHub()
	userID := uuid.New().String()

	first := testClient(hub, RoleDriver)
	first.UserID = userID
	second := testClient(hub, RoleDriver)
	second.UserID = userID

	hub.registerClient(first)
	hub.registerClient(second)

	// A replay goroutine or in-flight handler may still hold the stale
	// client; its sends must be silently dropped, never panic.
	assert.NotPanics(t, func() {
		first.SendMessage(&Message{Event: EventTripStateSync})
		first.SendError("CONFLICT", "", "late reply")
	})
	assert.Len(t, second.Send, 0)

	// The stale connection's own unregister is also a no-op on the channel.
	assert.NotPanics(t, func() { hub.unregisterClient(first) })
}

func TestHub_OnConnectRunsAfterRegistration(t *testing.T) {
	hub, _ := newTestHub()
	done := make(chan string, 1)
	hub.OnConnect = func(ctx context.Context, client *Client) {
		done <- client.UserID
	}

	client := testClient(hub, RoleDriver)
	hub.registerClient(client)

	assert.Equal(t, client.UserID, <-done)
}

type mockBus struct {
	mock.Mock
	handler eventbus.HandlerFunc
}

func (m *mockBus) Publish(ctx context.Context, subject string, event *eventbus.Event) error {
	return m.Called(ctx, subject, event).Error(0)
}

func (m *mockBus) Subscribe(ctx context.Context, subject, consumerName string, handler eventbus.HandlerFunc) error {
	m.handler = handler
	return m.Called(ctx, subject, consumerName).Error(0)
}

func TestFanout_BridgesEmits(t *testing.T) {
	hub, _ := newTestHub()
	bus := new(mockBus)
	fanout := NewFanout(hub, bus)

	client := testClient(hub, RolePassenger)
	hub.registerClient(client)

	bus.On("Publish", mock.Anything, eventbus.SubjectGatewayEmit, mock.MatchedBy(func(e *eventbus.Event) bool {
		var emit remoteEmit
		if err := json.Unmarshal(e.Data, &emit); err != nil {
			return false
		}
		return emit.TargetType == targetUser && emit.TargetID == client.UserID && emit.Event == EventTripStarted
	})).Return(nil)

	fanout.EmitToUser(client.UserID, EventTripStarted, map[string]interface{}{"trip_id": "t1"})

	assert.Len(t, client.Send, 1)
	bus.AssertExpectations(t)
}

func TestFanout_SkipsOwnOriginOnReceive(t *testing.T) {
	hub, _ := newTestHub()
	bus := new(mockBus)
	fanout := NewFanout(hub, bus)

	client := testClient(hub, RolePassenger)
	hub.registerClient(client)

	bus.On("Subscribe", mock.Anything, eventbus.SubjectGatewayEmit, mock.Anything).Return(nil)
	assert.NoError(t, fanout.Start(context.Background()))

	own, _ := eventbus.NewEvent(EventTripStarted, fanout.origin, remoteEmit{
		Origin: fanout.origin, TargetType: targetUser, TargetID: client.UserID, Event: EventTripStarted,
	})
	assert.NoError(t, bus.handler(context.Background(), own))
	assert.Len(t, client.Send, 0)

	remote, _ := eventbus.NewEvent(EventTripStarted, "other", remoteEmit{
		Origin: "other-process", TargetType: targetUser, TargetID: client.UserID, Event: EventTripStarted,
	})
	assert.NoError(t, bus.handler(context.Background(), remote))
	assert.Len(t, client.Send, 1)
}
