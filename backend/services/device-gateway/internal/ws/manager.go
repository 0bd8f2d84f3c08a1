package ws

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotConnected reports a command targeting a device without an open
// socket.
var ErrNotConnected = errors.New("ws: device not connected")

// Manager tracks device connections. A reconnecting device replaces its old
// entry; the stale socket is closed by its own read pump.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
}

// NewManager builds a connection manager.
func NewManager(pingInterval time.Duration) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
	}
}

// Add registers a new connection.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.DeviceID()] = conn
}

// Remove drops a connection. A newer connection under the same ID stays.
func (m *Manager) Remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.connections[conn.DeviceID()]; ok && current == conn {
		delete(m.connections, conn.DeviceID())
	}
}

// Connected reports whether the device has an open socket.
func (m *Manager) Connected(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connections[deviceID]
	return ok
}

// Send enqueues a payload on the device's socket.
func (m *Manager) Send(deviceID string, payload []byte) error {
	m.mu.RLock()
	conn, ok := m.connections[deviceID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	conn.Send(payload)
	return nil
}

// Start begins the ping loop keeping idle connections alive.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			for _, conn := range m.connections {
				_ = conn.Ping()
			}
			m.mu.RUnlock()
		}
	}
}
