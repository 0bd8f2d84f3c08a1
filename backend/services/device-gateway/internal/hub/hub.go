package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event types published on the change feed.
const (
	EventRelay   = "relay"
	EventOnline  = "online"
	EventOffline = "offline"
)

// Event is one change-feed entry. Port is zero for device-level events.
type Event struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Port     int    `json:"port,omitempty"`
}

const subscriberBuffer = 16

// Subscriber receives marshaled feed events. The channel closes on
// Unsubscribe.
type Subscriber struct {
	ch     chan []byte
	device string
}

// C returns the event channel.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Hub fans device change events out to feed subscribers. Delivery is best
// effort: consumers poll the full state anyway, events only wake them early.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	logger *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		logger: logger.With(zap.String("component", "feed-hub")),
	}
}

// Subscribe registers a new feed consumer. A non-empty deviceID narrows the
// subscription to that device's events; empty receives everything.
func (h *Hub) Subscribe(deviceID string) *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, subscriberBuffer), device: deviceID}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers an event to every subscriber, dropping it for consumers
// whose buffer is full.
func (h *Hub) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal feed event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.device != "" && sub.device != event.DeviceID {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			h.logger.Warn("dropping feed event, subscriber buffer full",
				zap.String("type", event.Type), zap.String("device_id", event.DeviceID))
		}
	}
}
