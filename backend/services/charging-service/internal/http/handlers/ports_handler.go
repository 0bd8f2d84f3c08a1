package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/models"
)

// PortViews answers read-path questions about port state.
type PortViews interface {
	AllPorts(ctx context.Context, userID int64) ([]models.PortView, error)
	StationPorts(ctx context.Context, userID int64, stationID string) ([]models.PortView, error)
	PortView(ctx context.Context, userID int64, key models.PortKey) (models.PortView, error)
	Stations(ctx context.Context) ([]models.Station, error)
}

// PortsHandlers serves the merged port views.
type PortsHandlers struct {
	views  PortViews
	logger *zap.Logger
}

// NewPortsHandlers builds handler set.
func NewPortsHandlers(views PortViews, logger *zap.Logger) *PortsHandlers {
	return &PortsHandlers{views: views, logger: logger}
}

// Stations handles GET /api/stations.
func (h *PortsHandlers) Stations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.views.Stations(r.Context())
	if err != nil {
		h.logger.Error("list stations failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stations": stations})
}

// List handles GET /api/ports.
func (h *PortsHandlers) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	views, err := h.views.AllPorts(r.Context(), userID)
	if err != nil {
		h.logger.Error("list ports failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ports": views})
}

// StationPorts handles GET /api/stations/ports?station_id=...
func (h *PortsHandlers) StationPorts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	stationID := r.URL.Query().Get("station_id")
	if stationID == "" {
		writeError(w, http.StatusBadRequest, "station_id is required")
		return
	}
	views, err := h.views.StationPorts(r.Context(), userID, stationID)
	if err != nil {
		h.logger.Error("list station ports failed", zap.String("station_id", stationID), zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ports": views})
}

// View handles GET /api/ports/view?device_id=...&port=...
func (h *PortsHandlers) View(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	key, ok := portKeyFromQuery(w, r)
	if !ok {
		return
	}
	view, err := h.views.PortView(r.Context(), userID, key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"port": view})
}

func portKeyFromQuery(w http.ResponseWriter, r *http.Request) (models.PortKey, bool) {
	deviceID := r.URL.Query().Get("device_id")
	portStr := r.URL.Query().Get("port")
	if deviceID == "" || portStr == "" {
		writeError(w, http.StatusBadRequest, "device_id and port are required")
		return models.PortKey{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		writeError(w, http.StatusBadRequest, "invalid port")
		return models.PortKey{}, false
	}
	return models.PortKey{DeviceID: deviceID, PortNumber: port}, true
}
