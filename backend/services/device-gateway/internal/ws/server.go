package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solarcharge/backend/services/device-gateway/internal/auth"
	"solarcharge/backend/services/device-gateway/internal/models"
)

// Authenticator verifies a device key at connect time.
type Authenticator interface {
	Authenticate(ctx context.Context, deviceID, secret string) (*models.Device, error)
}

// Server upgrades device connections on the ingress endpoint.
type Server struct {
	manager      *Manager
	processor    Processor
	auth         Authenticator
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewServer builds the ingress server.
func NewServer(manager *Manager, processor Processor, authenticator Authenticator, writeTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		manager:      manager,
		processor:    processor,
		auth:         authenticator,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleDeviceWS is the HTTP handler for the /devices/ws endpoint. Devices
// identify with ?device_id= and prove the key via the X-Device-Key header.
func (s *Server) HandleDeviceWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	device, err := s.auth.Authenticate(r.Context(), deviceID, r.Header.Get("X-Device-Key"))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			s.logger.Warn("device auth rejected", zap.String("device_id", deviceID))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.logger.Error("device auth failed", zap.String("device_id", deviceID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("device_id", device.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	var connection *Connection
	connection = NewConnection(device.ID, conn, s.processor, s.writeTimeout, s.logger, func(id string) {
		s.manager.Remove(connection)
		if !s.manager.Connected(id) {
			s.processor.Disconnected(id)
		}
		cancel()
	})
	s.manager.Add(connection)
	s.processor.Connected(device.ID)

	go connection.Start(ctx)
	s.logger.Info("device connected",
		zap.String("device_id", device.ID), zap.String("station_id", device.StationID))
}
