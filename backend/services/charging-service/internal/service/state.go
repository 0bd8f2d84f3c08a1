package service

import (
	"sync"
	"time"

	"solarcharge/backend/services/charging-service/internal/models"
)

// ViewCache keeps the last fetched copy of each upstream feed so port reads
// stay in-memory. Refreshes replace a feed wholesale; session transitions are
// also echoed in directly so a just-started session is visible before the
// next sessions refresh lands.
type ViewCache struct {
	mu            sync.RWMutex
	status        map[models.PortKey]models.DeviceStatusRow
	consumption   map[models.PortKey]models.ConsumptionRow
	sessions      map[models.PortKey]models.ChargingSession
	statusAt      time.Time
	consumptionAt time.Time
	sessionsAt    time.Time
}

// CacheSnapshot is a point-in-time copy of all three feeds.
type CacheSnapshot struct {
	Status        map[models.PortKey]models.DeviceStatusRow
	Consumption   map[models.PortKey]models.ConsumptionRow
	Sessions      map[models.PortKey]models.ChargingSession
	StatusAt      time.Time
	ConsumptionAt time.Time
	SessionsAt    time.Time
}

// NewViewCache returns an empty cache.
func NewViewCache() *ViewCache {
	return &ViewCache{
		status:      make(map[models.PortKey]models.DeviceStatusRow),
		consumption: make(map[models.PortKey]models.ConsumptionRow),
		sessions:    make(map[models.PortKey]models.ChargingSession),
	}
}

// ReplaceStatus swaps in a fresh device status feed.
func (c *ViewCache) ReplaceStatus(rows []models.DeviceStatusRow, at time.Time) {
	next := make(map[models.PortKey]models.DeviceStatusRow, len(rows))
	for _, row := range rows {
		next[row.Key] = row
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = next
	c.statusAt = at
}

// ReplaceConsumption swaps in a fresh consumption feed.
func (c *ViewCache) ReplaceConsumption(rows []models.ConsumptionRow, at time.Time) {
	next := make(map[models.PortKey]models.ConsumptionRow, len(rows))
	for _, row := range rows {
		next[row.Key] = row
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumption = next
	c.consumptionAt = at
}

// ReplaceSessions swaps in the authoritative open-session set.
func (c *ViewCache) ReplaceSessions(sessions []models.ChargingSession, at time.Time) {
	next := make(map[models.PortKey]models.ChargingSession, len(sessions))
	for _, s := range sessions {
		next[s.Port()] = s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = next
	c.sessionsAt = at
}

// PutSession echoes a session transition into the cache ahead of the next
// authoritative refresh.
func (c *ViewCache) PutSession(s models.ChargingSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.Port()] = s
}

// DropSession removes a session echo. The ID guard keeps a late drop from
// clobbering a newer session on the same port.
func (c *ViewCache) DropSession(key models.PortKey, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.sessions[key]; ok && current.ID == sessionID {
		delete(c.sessions, key)
	}
}

// Snapshot returns a copy of the current feeds.
func (c *ViewCache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := CacheSnapshot{
		Status:        make(map[models.PortKey]models.DeviceStatusRow, len(c.status)),
		Consumption:   make(map[models.PortKey]models.ConsumptionRow, len(c.consumption)),
		Sessions:      make(map[models.PortKey]models.ChargingSession, len(c.sessions)),
		StatusAt:      c.statusAt,
		ConsumptionAt: c.consumptionAt,
		SessionsAt:    c.sessionsAt,
	}
	for k, v := range c.status {
		snap.Status[k] = v
	}
	for k, v := range c.consumption {
		snap.Consumption[k] = v
	}
	for k, v := range c.sessions {
		snap.Sessions[k] = v
	}
	return snap
}
