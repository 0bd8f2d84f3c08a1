package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/metrics"
)

const (
	readLimit    = 1024 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Subscriber keeps a WebSocket subscription to the device gateway's
// change feed and invokes onEvent for every frame. The feed is
// advisory: polling remains the source of truth, so a dropped feed
// only means slower updates until the next reconnect.
type Subscriber struct {
	url     string
	onEvent func()
	logger  *zap.Logger
}

func NewSubscriber(url string, onEvent func(), logger *zap.Logger) *Subscriber {
	return &Subscriber{
		url:     url,
		onEvent: onEvent,
		logger:  logger.With(zap.String("component", "feed")),
	}
}

// Run dials the feed and consumes events until ctx is cancelled,
// reconnecting with capped backoff after every drop.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("feed dial failed", zap.String("url", s.url), zap.Error(err))
			metrics.IncFeedReconnect()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
		s.logger.Info("feed connected", zap.String("url", s.url))
		s.consume(ctx, conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.IncFeedReconnect()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(initialBackoff):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("feed read closed", zap.Error(err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		metrics.IncFeedEvent()
		s.logEvent(message)
		s.onEvent()
	}
}

func (s *Subscriber) logEvent(message []byte) {
	var ev struct {
		Type     string `json:"type"`
		DeviceID string `json:"device_id"`
		Port     int    `json:"port"`
	}
	if err := json.Unmarshal(message, &ev); err != nil || ev.Type == "" {
		return
	}
	s.logger.Debug("feed event",
		zap.String("type", ev.Type),
		zap.String("device_id", ev.DeviceID),
		zap.Int("port", ev.Port))
}
