package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"solarcharge/backend/services/device-gateway/internal/energy"
	"solarcharge/backend/services/device-gateway/internal/models"
	"solarcharge/backend/services/device-gateway/internal/state"
)

// DeviceLister enumerates the device registry.
type DeviceLister interface {
	List(ctx context.Context) ([]models.Device, error)
}

type statusRow struct {
	DeviceID     string    `json:"device_id"`
	Port         int       `json:"port"`
	Online       bool      `json:"online"`
	RelayOn      bool      `json:"relay_on"`
	LastReportAt time.Time `json:"last_report_at"`
}

type consumptionRow struct {
	DeviceID      string    `json:"device_id"`
	Port          int       `json:"port"`
	CurrentMah    float64   `json:"current_mah"`
	TotalMahToday float64   `json:"total_mah_today"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PortsHandler serves the per-port status and consumption feeds. Rows cover
// every registered device, so a controller that never connected still shows
// up offline.
type PortsHandler struct {
	devices DeviceLister
	state   *state.Store
	energy  *energy.Accumulator
	logger  *zap.Logger
}

// NewPortsHandler builds the handler.
func NewPortsHandler(devices DeviceLister, st *state.Store, acc *energy.Accumulator, logger *zap.Logger) *PortsHandler {
	return &PortsHandler{devices: devices, state: st, energy: acc, logger: logger}
}

// Status handles GET /internal/ports/status.
func (h *PortsHandler) Status(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list devices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rows := make([]statusRow, 0, len(devices)*2)
	for _, device := range devices {
		for _, port := range h.state.Status(device.ID, device.Ports) {
			rows = append(rows, statusRow{
				DeviceID:     port.DeviceID,
				Port:         port.Port,
				Online:       port.Online,
				RelayOn:      port.RelayOn,
				LastReportAt: port.LastReportAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Consumption handles GET /internal/ports/consumption.
func (h *PortsHandler) Consumption(w http.ResponseWriter, r *http.Request) {
	rows := make([]consumptionRow, 0)
	for _, row := range h.energy.Rows() {
		rows = append(rows, consumptionRow{
			DeviceID:      row.DeviceID,
			Port:          row.Port,
			CurrentMah:    row.CurrentMah,
			TotalMahToday: row.TotalMahToday,
			UpdatedAt:     row.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}
