package gateway

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/pkg/eventbus"
	"github.com/camride/dispatch/pkg/logger"
)

// Bus is the slice of the event bus the fan-out bridge needs.
type Bus interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
	Subscribe(ctx context.Context, subject, consumerName string, handler eventbus.HandlerFunc) error
}

// remoteEmit is the bridged payload: which room, which event, which body.
type remoteEmit struct {
	Origin     string          `json:"origin"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

const (
	targetUser = "user"
	targetTrip = "trip"
)

// Fanout emits locally through the hub and mirrors every emit onto the
// bus, so users connected to other gateway processes receive it too.
// Events arriving from the bus are delivered locally unless this process
// originated them.
type Fanout struct {
	hub    *Hub
	bus    Bus
	origin string
}

// NewFanout wraps a hub with cross-process delivery.
func NewFanout(hub *Hub, bus Bus) *Fanout {
	host, _ := os.Hostname()
	return &Fanout{
		hub:    hub,
		bus:    bus,
		origin: host + "-" + strconv.Itoa(os.Getpid()) + "-" + uuid.New().String()[:8],
	}
}

// Start subscribes to bridged emits from other processes.
func (f *Fanout) Start(ctx context.Context) error {
	return f.bus.Subscribe(ctx, eventbus.SubjectGatewayEmit, "gateway-"+f.origin, func(ctx context.Context, event *eventbus.Event) error {
		var emit remoteEmit
		if err := json.Unmarshal(event.Data, &emit); err != nil {
			logger.Warn("malformed bridged emit", zap.Error(err))
			return nil
		}
		if emit.Origin == f.origin {
			return nil
		}

		switch emit.TargetType {
		case targetUser:
			f.hub.EmitToUser(emit.TargetID, emit.Event, emit.Payload)
		case targetTrip:
			f.hub.EmitToTrip(emit.TargetID, emit.Event, emit.Payload)
		}
		return nil
	})
}

// EmitToUser delivers locally and bridges to other processes.
func (f *Fanout) EmitToUser(userID, event string, payload interface{}) {
	f.hub.EmitToUser(userID, event, payload)
	f.bridge(targetUser, userID, event, payload)
}

// EmitToTrip delivers locally and bridges to other processes.
func (f *Fanout) EmitToTrip(tripID, event string, payload interface{}) {
	f.hub.EmitToTrip(tripID, event, payload)
	f.bridge(targetTrip, tripID, event, payload)
}

func (f *Fanout) bridge(targetType, targetID, event string, payload interface{}) {
	if f.bus == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to marshal bridged payload", zap.String("event", event), zap.Error(err))
		return
	}

	busEvent, err := eventbus.NewEvent(event, f.origin, remoteEmit{
		Origin:     f.origin,
		TargetType: targetType,
		TargetID:   targetID,
		Event:      event,
		Payload:    raw,
	})
	if err != nil {
		logger.Warn("failed to build bridged event", zap.String("event", event), zap.Error(err))
		return
	}

	if err := f.bus.Publish(context.Background(), eventbus.SubjectGatewayEmit, busEvent); err != nil {
		logger.Warn("failed to bridge emit", zap.String("event", event), zap.Error(err))
	}
}
