package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/camride/dispatch/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client roles.
const (
	RoleDriver    = "driver"
	RolePassenger = "passenger"
)

// Client is one authenticated socket connection.
type Client struct {
	UserID string
	Role   string
	ConnID string

	Conn *websocket.Conn
	Send chan *Message
	Hub  *Hub

	rooms map[string]bool

	sendMu sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(userID, role string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		UserID: userID,
		Role:   role,
		ConnID: uuid.New().String(),
		Conn:   conn,
		Send:   make(chan *Message, 256),
		Hub:    hub,
		rooms:  make(map[string]bool),
	}
}

// SendMessage queues a message; a slow consumer drops rather than blocks
// the emitter. A no-op once the connection is closed, so in-flight handlers
// and replay goroutines racing a reconnect cannot hit a closed channel.
func (c *Client) SendMessage(msg *Message) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		logger.Warn("send buffer full, dropping message",
			zap.String("user_id", c.UserID),
			zap.String("event", msg.Event))
	}
}

// closeSend marks the client closed and releases WritePump. Idempotent.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// SendError pushes a structured error payload to the client.
func (c *Client) SendError(kind, code, message string) {
	payload := map[string]interface{}{
		"error":   kind,
		"message": message,
	}
	if code != "" {
		payload["code"] = code
	}
	msg, err := newMessage(EventError, payload)
	if err != nil {
		return
	}
	c.SendMessage(msg)
}

// ReadPump reads inbound events and routes them through the hub. Handlers
// are invoked in order on this goroutine, so a single connection cannot
// race itself.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("socket read error", zap.String("user_id", c.UserID), zap.Error(err))
			}
			return
		}
		msg.UserID = c.UserID
		msg.Timestamp = time.Now()

		c.Hub.dispatch(ctx, c, &msg)
	}
}

// WritePump flushes queued messages and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warn("failed to marshal outbound message", zap.Error(err))
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
