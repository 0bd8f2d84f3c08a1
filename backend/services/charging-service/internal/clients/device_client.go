package clients

import (
	"context"
	"net/http"
	"time"

	"solarcharge/backend/services/charging-service/internal/models"
	"solarcharge/backend/services/charging-service/internal/service"
)

// DeviceClient calls the device gateway's internal API: the two polling
// feeds and the relay control endpoint.
type DeviceClient struct {
	base *BaseClient
}

// NewDeviceClient returns client instance.
func NewDeviceClient(baseURL string, httpClient HTTPDoer) *DeviceClient {
	return &DeviceClient{base: NewBaseClient(baseURL, httpClient)}
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

// ListStatus fetches the status feed for every known port.
func (c *DeviceClient) ListStatus(ctx context.Context) ([]models.DeviceStatusRow, error) {
	var rows []statusRow
	if err := c.base.DoJSON(ctx, http.MethodGet, "/internal/ports/status", nil, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]models.DeviceStatusRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.DeviceStatusRow{
			Key:          models.PortKey{DeviceID: r.DeviceID, PortNumber: r.Port},
			Online:       r.Online,
			RelayOn:      r.RelayOn,
			LastReportAt: r.LastReportAt,
		})
	}
	return out, nil
}

// ListConsumption fetches the consumption feed for every known port.
func (c *DeviceClient) ListConsumption(ctx context.Context) ([]models.ConsumptionRow, error) {
	var rows []consumptionRow
	if err := c.base.DoJSON(ctx, http.MethodGet, "/internal/ports/consumption", nil, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]models.ConsumptionRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ConsumptionRow{
			Key:           models.PortKey{DeviceID: r.DeviceID, PortNumber: r.Port},
			CurrentMah:    r.CurrentMah,
			TotalMahToday: r.TotalMahToday,
			UpdatedAt:     r.UpdatedAt,
		})
	}
	return out, nil
}

// SendControlCommand asks the gateway to switch a port relay. A reply
// arrives only after the device confirmed the new relay state, so the
// caller's context bounds the whole round trip.
func (c *DeviceClient) SendControlCommand(ctx context.Context, key models.PortKey, turnOn bool, userID int64) (*service.CommandResult, error) {
	req := relayRequest{
		DeviceID: key.DeviceID,
		Port:     key.PortNumber,
		On:       turnOn,
		UserID:   userID,
	}
	var resp relayResponse
	if err := c.base.DoJSON(ctx, http.MethodPost, "/internal/commands/relay", nil, req, &resp); err != nil {
		return nil, err
	}
	return &service.CommandResult{Accepted: resp.Accepted, Reason: resp.Reason}, nil
}
