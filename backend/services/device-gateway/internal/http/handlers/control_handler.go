package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"solarcharge/backend/services/device-gateway/internal/commands"
)

// CommandExecutor drives a relay to a requested state.
type CommandExecutor interface {
	Execute(ctx context.Context, deviceID string, port int, on bool) error
}

type relayRequest struct {
	DeviceID string `json:"device_id"`
	Port     int    `json:"port"`
	On       bool   `json:"on"`
	UserID   int64  `json:"user_id"`
}

type relayResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ControlHandler serves relay commands from the charging service.
type ControlHandler struct {
	executor CommandExecutor
	logger   *zap.Logger
}

// NewControlHandler builds the handler.
func NewControlHandler(executor CommandExecutor, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{executor: executor, logger: logger}
}

// Relay handles POST /internal/commands/relay. Rejections the caller can
// act on come back as 200 with accepted=false so they are distinguishable
// from transport failures.
func (h *ControlHandler) Relay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" || req.Port < 1 {
		writeError(w, http.StatusBadRequest, "device_id and port are required")
		return
	}

	err := h.executor.Execute(r.Context(), req.DeviceID, req.Port, req.On)
	switch {
	case err == nil:
		h.logger.Info("relay command confirmed",
			zap.String("device_id", req.DeviceID), zap.Int("port", req.Port),
			zap.Bool("on", req.On), zap.Int64("user_id", req.UserID))
		writeJSON(w, http.StatusOK, relayResponse{Accepted: true})
	case errors.Is(err, commands.ErrDeviceOffline):
		writeJSON(w, http.StatusOK, relayResponse{Accepted: false, Reason: "device_offline"})
	case errors.Is(err, commands.ErrTimeout):
		writeJSON(w, http.StatusOK, relayResponse{Accepted: false, Reason: "command_timeout"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusOK, relayResponse{Accepted: false, Reason: "command_timeout"})
	default:
		h.logger.Error("relay command failed",
			zap.String("device_id", req.DeviceID), zap.Int("port", req.Port), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
