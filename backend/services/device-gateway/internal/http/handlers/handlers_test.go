package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solarcharge/backend/services/device-gateway/internal/commands"
	"solarcharge/backend/services/device-gateway/internal/energy"
	"solarcharge/backend/services/device-gateway/internal/hub"
	"solarcharge/backend/services/device-gateway/internal/models"
	"solarcharge/backend/services/device-gateway/internal/protocol"
	"solarcharge/backend/services/device-gateway/internal/state"
)

type fakeDeviceLister struct {
	devices []models.Device
}

func (f *fakeDeviceLister) List(_ context.Context) ([]models.Device, error) {
	return f.devices, nil
}

type fakeExecutor struct {
	err      error
	deviceID string
	port     int
	on       bool
}

func (f *fakeExecutor) Execute(_ context.Context, deviceID string, port int, on bool) error {
	f.deviceID = deviceID
	f.port = port
	f.on = on
	return f.err
}

func TestStatusCoversRegisteredDevices(t *testing.T) {
	st := state.NewStore(time.Minute)
	st.SetConnected("esp32-001", true)
	st.Apply("esp32-001", &protocol.Report{Relays: [protocol.MaxPorts]bool{true, false}})

	lister := &fakeDeviceLister{devices: []models.Device{
		{ID: "esp32-001", StationID: "station-01", Ports: 2},
		{ID: "esp32-002", StationID: "station-01", Ports: 2},
	}}
	h := NewPortsHandler(lister, st, energy.NewAccumulator(), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/internal/ports/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var rows []statusRow
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}

	byKey := make(map[string]statusRow)
	for _, row := range rows {
		byKey[row.DeviceID+":"+strconv.Itoa(row.Port)] = row
	}
	if row := byKey["esp32-001:1"]; !row.Online || !row.RelayOn {
		t.Fatalf("esp32-001 port 1 = %+v, want online with relay on", row)
	}
	if row := byKey["esp32-002:1"]; row.Online || row.RelayOn {
		t.Fatalf("esp32-002 port 1 = %+v, want offline", row)
	}
}

func TestConsumptionReturnsAccumulatorRows(t *testing.T) {
	acc := energy.NewAccumulator()
	// Samples must fall on today's UTC date or Rows resets the totals.
	now := time.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	on := [protocol.MaxPorts]bool{true, false}
	acc.Apply("esp32-001", on, 1.0, day.Add(8*time.Hour))
	acc.Apply("esp32-001", on, 1.0, day.Add(9*time.Hour))

	h := NewPortsHandler(&fakeDeviceLister{}, state.NewStore(time.Minute), acc, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Consumption(rec, httptest.NewRequest(http.MethodGet, "/internal/ports/consumption", nil))

	var rows []consumptionRow
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != protocol.MaxPorts {
		t.Fatalf("rows = %d, want %d", len(rows), protocol.MaxPorts)
	}
	if rows[0].DeviceID != "esp32-001" || rows[0].Port != 1 {
		t.Fatalf("row = %+v", rows[0])
	}
	if rows[0].TotalMahToday < 999 || rows[0].TotalMahToday > 1001 {
		t.Fatalf("total = %v, want ~1000", rows[0].TotalMahToday)
	}
}

func TestRelayCommandOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		execErr    error
		wantCode   int
		wantOK     bool
		wantReason string
	}{
		{"confirmed", nil, http.StatusOK, true, ""},
		{"offline", commands.ErrDeviceOffline, http.StatusOK, false, "device_offline"},
		{"timeout", commands.ErrTimeout, http.StatusOK, false, "command_timeout"},
		{"caller gone", context.DeadlineExceeded, http.StatusOK, false, "command_timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExecutor{err: tc.execErr}
			h := NewControlHandler(exec, zap.NewNop())

			body := strings.NewReader(`{"device_id":"esp32-001","port":2,"on":true,"user_id":42}`)
			rec := httptest.NewRecorder()
			h.Relay(rec, httptest.NewRequest(http.MethodPost, "/internal/commands/relay", body))

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			var resp relayResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Accepted != tc.wantOK || resp.Reason != tc.wantReason {
				t.Fatalf("resp = %+v, want accepted=%v reason=%q", resp, tc.wantOK, tc.wantReason)
			}
			if exec.deviceID != "esp32-001" || exec.port != 2 || !exec.on {
				t.Fatalf("executor got %s/%d/%v", exec.deviceID, exec.port, exec.on)
			}
		})
	}
}

func TestRelayRejectsBadRequest(t *testing.T) {
	h := NewControlHandler(&fakeExecutor{}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Relay(rec, httptest.NewRequest(http.MethodPost, "/internal/commands/relay", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Relay(rec, httptest.NewRequest(http.MethodPost, "/internal/commands/relay", strings.NewReader(`{"port":1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing device_id", rec.Code)
	}
}

func TestFeedStreamsEvents(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	handler := NewFeedHandler(h, zap.NewNop())

	server := httptest.NewServer(http.HandlerFunc(handler.Serve))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Publish until the subscriber registers; subscription happens after
	// the dial returns.
	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	received := make(chan hub.Event, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var event hub.Event
			if json.Unmarshal(raw, &event) == nil {
				received <- event
				return
			}
		}
	}()

	for time.Now().Before(deadline) {
		h.Publish(hub.Event{Type: hub.EventRelay, DeviceID: "esp32-001", Port: 1})
		select {
		case event := <-received:
			if event.Type != hub.EventRelay || event.DeviceID != "esp32-001" {
				t.Fatalf("event = %+v", event)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("feed consumer never received the event")
}

func TestFeedScopedToDevice(t *testing.T) {
	h := hub.NewHub(zap.NewNop())
	handler := NewFeedHandler(h, zap.NewNop())

	server := httptest.NewServer(http.HandlerFunc(handler.Serve))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?device_id=esp32-002"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	conn.SetReadDeadline(deadline)
	received := make(chan hub.Event, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var event hub.Event
			if json.Unmarshal(raw, &event) == nil {
				received <- event
				return
			}
		}
	}()

	// The filtered device's events are interleaved with another device's;
	// only esp32-002 may come through.
	for time.Now().Before(deadline) {
		h.Publish(hub.Event{Type: hub.EventRelay, DeviceID: "esp32-001", Port: 1})
		h.Publish(hub.Event{Type: hub.EventRelay, DeviceID: "esp32-002", Port: 2})
		select {
		case event := <-received:
			if event.DeviceID != "esp32-002" || event.Port != 2 {
				t.Fatalf("event = %+v, want esp32-002 port 2", event)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
	t.Fatal("scoped feed consumer never received its device's event")
}
