package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/models"
	"solarcharge/backend/services/charging-service/internal/service"
)

// SessionControl owns session ownership transitions and queries.
type SessionControl interface {
	Acquire(ctx context.Context, userID int64, key models.PortKey) (*models.ChargingSession, error)
	Release(ctx context.Context, userID int64, key models.PortKey) (*service.ReleaseResult, error)
	Sessions(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error)
	ActiveSessions(ctx context.Context, userID int64) ([]models.ChargingSession, error)
}

// SessionHandlers serves acquire/release and session history.
type SessionHandlers struct {
	ctrl   SessionControl
	logger *zap.Logger
}

// NewSessionHandlers builds handler set.
func NewSessionHandlers(ctrl SessionControl, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{ctrl: ctrl, logger: logger}
}

type portRequest struct {
	DeviceID string `json:"device_id"`
	Port     int    `json:"port"`
}

func (p portRequest) key() models.PortKey {
	return models.PortKey{DeviceID: p.DeviceID, PortNumber: p.Port}
}

func decodePortRequest(w http.ResponseWriter, r *http.Request) (portRequest, bool) {
	var req portRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return portRequest{}, false
	}
	if req.DeviceID == "" || req.Port <= 0 {
		writeError(w, http.StatusBadRequest, "device_id and port are required")
		return portRequest{}, false
	}
	return req, true
}

// Acquire handles POST /api/ports/acquire.
func (h *SessionHandlers) Acquire(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	req, ok := decodePortRequest(w, r)
	if !ok {
		return
	}

	session, err := h.ctrl.Acquire(r.Context(), userID, req.key())
	if err != nil {
		h.logger.Info("acquire rejected",
			zap.Int64("user_id", userID),
			zap.String("port", req.key().String()),
			zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"session": session})
}

// Release handles POST /api/ports/release.
func (h *SessionHandlers) Release(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	req, ok := decodePortRequest(w, r)
	if !ok {
		return
	}

	result, err := h.ctrl.Release(r.Context(), userID, req.key())
	if err != nil {
		h.logger.Info("release rejected",
			zap.Int64("user_id", userID),
			zap.String("port", req.key().String()),
			zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Me handles GET /api/sessions/me.
func (h *SessionHandlers) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	sessions, err := h.ctrl.Sessions(r.Context(), userID, 50)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Active handles GET /api/sessions/active.
func (h *SessionHandlers) Active(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	sessions, err := h.ctrl.ActiveSessions(r.Context(), userID)
	if err != nil {
		h.logger.Error("list active sessions failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}
