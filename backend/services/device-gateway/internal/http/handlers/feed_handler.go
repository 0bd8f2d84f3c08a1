package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solarcharge/backend/services/device-gateway/internal/hub"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingInterval = 30 * time.Second
)

// FeedHandler streams change-feed events to websocket consumers.
type FeedHandler struct {
	hub      *hub.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewFeedHandler builds the handler.
func NewFeedHandler(h *hub.Hub, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve handles GET /internal/feed. An optional device_id query parameter
// narrows the feed to one device.
func (h *FeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("feed upgrade failed", zap.Error(err))
		return
	}

	sub := h.hub.Subscribe(deviceID)
	defer h.hub.Unsubscribe(sub)
	defer conn.Close()

	h.logger.Info("feed consumer connected",
		zap.String("remote", r.RemoteAddr), zap.String("device_id", deviceID))

	// Consumers send nothing meaningful; the read side only services pongs
	// and surfaces the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(feedPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("feed consumer disconnected", zap.String("remote", r.RemoteAddr))
			return
		case raw, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}
