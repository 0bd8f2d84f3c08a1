package state

import (
	"sync"
	"time"

	"solarcharge/backend/services/device-gateway/internal/protocol"
)

// PortStatus is one relay output's runtime view.
type PortStatus struct {
	DeviceID     string
	Port         int
	Online       bool
	RelayOn      bool
	LastReportAt time.Time
}

type deviceState struct {
	connected    bool
	lastReportAt time.Time
	relays       [protocol.MaxPorts]bool
}

// Store keeps in-memory runtime state per device for quick lookups. A port
// counts as online only while its device socket is attached and the last
// report is within the freshness window; a connected device that has not
// reported yet is still offline.
type Store struct {
	mu        sync.RWMutex
	devices   map[string]*deviceState
	freshness time.Duration
	now       func() time.Time
}

// NewStore returns an empty state store.
func NewStore(freshness time.Duration) *Store {
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	return &Store{
		devices:   make(map[string]*deviceState),
		freshness: freshness,
		now:       time.Now,
	}
}

// SetConnected records socket presence. Disconnect keeps the last report;
// staleness is judged against the freshness window on read.
func (s *Store) SetConnected(deviceID string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.devices[deviceID]
	if !ok {
		st = &deviceState{}
		s.devices[deviceID] = st
	}
	st.connected = connected
}

// Apply folds a parsed report in and returns the ports whose relay state
// changed.
func (s *Store) Apply(deviceID string, report *protocol.Report) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.devices[deviceID]
	if !ok {
		st = &deviceState{}
		s.devices[deviceID] = st
	}

	var changed []int
	for i := 0; i < protocol.MaxPorts; i++ {
		if st.relays[i] != report.Relays[i] {
			changed = append(changed, i+1)
		}
	}
	st.relays = report.Relays
	st.lastReportAt = s.now()
	return changed
}

// Relay reports one port's relay and liveness. known is false when the
// device has never been seen or the port is out of range.
func (s *Store) Relay(deviceID string, port int) (on, online, known bool) {
	if port < 1 || port > protocol.MaxPorts {
		return false, false, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.devices[deviceID]
	if !ok {
		return false, false, false
	}
	return st.relays[port-1], s.isOnline(st), true
}

// Status returns the runtime view for every port of one device. Devices the
// store has never seen come back offline with zero report time.
func (s *Store) Status(deviceID string, ports int) []PortStatus {
	if ports <= 0 || ports > protocol.MaxPorts {
		ports = protocol.MaxPorts
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.devices[deviceID]
	rows := make([]PortStatus, 0, ports)
	for port := 1; port <= ports; port++ {
		row := PortStatus{DeviceID: deviceID, Port: port}
		if st != nil {
			row.Online = s.isOnline(st)
			row.RelayOn = st.relays[port-1]
			row.LastReportAt = st.lastReportAt
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *Store) isOnline(st *deviceState) bool {
	if !st.connected || st.lastReportAt.IsZero() {
		return false
	}
	return s.now().Sub(st.lastReportAt) <= s.freshness
}
