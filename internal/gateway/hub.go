// Package gateway is the socket layer: authenticated bidirectional sessions
// addressed by user and trip rooms, with replay on reconnect. Domain
// services emit through the hub; inbound events are routed to handlers
// registered by the process entry point.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camride/dispatch/internal/keys"
	"github.com/camride/dispatch/pkg/logger"
	redisClient "github.com/camride/dispatch/pkg/redis"
)

// Message is the wire envelope in both directions.
type Message struct {
	Event     string          `json:"event"`
	TripID    string          `json:"trip_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Handler processes one inbound client event. Handlers on the same
// connection run serialized; cross-connection races are arbitrated by the
// Redis locks in the services they call.
type Handler func(ctx context.Context, client *Client, msg *Message)

// Room name builders.
func userRoom(userID string) string { return "user:" + userID }
func tripRoom(tripID string) string { return "trip:" + tripID }

// Role rooms.
const (
	RoomDrivers    = "drivers"
	RoomPassengers = "passengers"
)

// Hub maintains active clients, their room membership, and the inbound
// event handlers.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	Register   chan *Client
	Unregister chan *Client

	handlers map[string]Handler
	redis    redisClient.ClientInterface

	// OnConnect runs after a client is registered and its socket id is
	// persisted. Wired to reconnect replay by the entry point.
	OnConnect func(ctx context.Context, client *Client)

	mu sync.RWMutex
}

// NewHub creates a hub. The Redis client backs the user:socket index.
func NewHub(redis redisClient.ClientInterface) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		handlers:   make(map[string]Handler),
		redis:      redis,
	}
}

// Handle registers the handler for an inbound event name.
func (h *Hub) Handle(event string, handler Handler) {
	h.handlers[event] = handler
}

// Run processes register and unregister requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	logger.Info("socket hub started")
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		}
	}
}

// registerClient admits a client: room membership first, socket index
// second. The order closes the gap during which a fan-out aimed at a
// just-connected user would find the index but miss the rooms.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[client.UserID]; ok {
		h.removeLocked(existing)
		existing.closeSend()
	}

	h.clients[client.UserID] = client
	h.joinLocked(client, userRoom(client.UserID))
	if client.Role == RoleDriver {
		h.joinLocked(client, RoomDrivers)
	} else {
		h.joinLocked(client, RoomPassengers)
	}
	h.mu.Unlock()

	ctx := context.Background()
	if err := h.redis.SetWithExpiration(ctx, keys.UserSocket(client.UserID), client.ConnID, keys.TTLUserSocket); err != nil {
		logger.Warn("failed to persist socket id", zap.String("user_id", client.UserID), zap.Error(err))
	}

	logger.Info("client connected",
		zap.String("user_id", client.UserID),
		zap.String("role", client.Role))

	if h.OnConnect != nil {
		go h.OnConnect(ctx, client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.UserID]
	if !ok || current != client {
		// A newer connection replaced this one; nothing to clean up.
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.UserID)
	h.removeLocked(client)
	client.closeSend()
	h.mu.Unlock()

	if err := h.redis.Delete(context.Background(), keys.UserSocket(client.UserID)); err != nil {
		logger.Warn("failed to delete socket id", zap.String("user_id", client.UserID), zap.Error(err))
	}

	logger.Info("client disconnected", zap.String("user_id", client.UserID))
}

func (h *Hub) joinLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][client.UserID] = client
	client.rooms[room] = true
}

func (h *Hub) removeLocked(client *Client) {
	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client.UserID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	client.rooms = make(map[string]bool)
}

// JoinTrip subscribes the client to a trip room.
func (h *Hub) JoinTrip(client *Client, tripID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(client, tripRoom(tripID))
}

// LeaveTrip removes the client from a trip room.
func (h *Hub) LeaveTrip(client *Client, tripID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := tripRoom(tripID)
	if members, ok := h.rooms[room]; ok {
		delete(members, client.UserID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

// EmitToUser delivers an event to one connected user. Dropped silently if
// the user is connected to another process; the fan-out bridge covers that.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) {
	h.emitToRoom(userRoom(userID), event, payload)
}

// EmitToTrip delivers an event to every participant in the trip room.
func (h *Hub) EmitToTrip(tripID, event string, payload interface{}) {
	h.emitToRoom(tripRoom(tripID), event, payload)
}

// EmitToRole delivers an event to every connected driver or passenger.
func (h *Hub) EmitToRole(role, event string, payload interface{}) {
	room := RoomPassengers
	if role == RoleDriver {
		room = RoomDrivers
	}
	h.emitToRoom(room, event, payload)
}

func (h *Hub) emitToRoom(room, event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		logger.Warn("failed to build message", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.rooms[room] {
		client.SendMessage(msg)
	}
}

// IsConnected reports whether the user has a live local connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// dispatch routes an inbound message to its handler.
func (h *Hub) dispatch(ctx context.Context, client *Client, msg *Message) {
	handler, ok := h.handlers[msg.Event]
	if !ok {
		client.SendError("VALIDATION", "", "unknown event: "+msg.Event)
		return
	}
	handler(ctx, client, msg)
}

func newMessage(event string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
