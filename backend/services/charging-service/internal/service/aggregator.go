package service

import (
	"time"

	"solarcharge/backend/services/charging-service/internal/models"
)

// Aggregator merges the three cached feeds into per-port views. Session
// records are authoritative for ownership: a caller's open session reports
// OwnedByCaller even when the device has gone quiet or its relay flag
// disagrees. Raw relay state only decides between occupied and available for
// ports nobody holds a session on.
type Aggregator struct {
	freshness time.Duration
	now       func() time.Time
}

// NewAggregator returns an aggregator treating device reports older than
// freshness as offline.
func NewAggregator(freshness time.Duration) *Aggregator {
	return &Aggregator{
		freshness: freshness,
		now:       time.Now,
	}
}

// PortView derives the caller-specific view of one port.
func (a *Aggregator) PortView(userID int64, key models.PortKey, snap CacheSnapshot) models.PortView {
	now := a.now().UTC()
	view := models.PortView{
		Key:       key,
		State:     models.PortUnknown,
		Stale:     a.stale(now, snap),
		CheckedAt: now,
	}

	if row, ok := snap.Consumption[key]; ok {
		view.CurrentMah = row.CurrentMah
		view.TotalMahToday = row.TotalMahToday
	}

	session, hasSession := snap.Sessions[key]
	if hasSession && session.UserID == userID {
		view.State = models.PortOwnedByCaller
		view.SessionID = session.ID
		start := session.StartTime
		view.SessionStart = &start
		return view
	}

	status, hasStatus := snap.Status[key]
	if hasStatus && (!status.Online || now.Sub(status.LastReportAt) > a.freshness) {
		view.State = models.PortOffline
		return view
	}

	switch {
	case hasSession:
		view.State = models.PortOccupiedByOther
	case hasStatus && status.RelayOn:
		view.State = models.PortOccupiedByOther
	case hasStatus:
		view.State = models.PortAvailable
	}
	return view
}

// Ports derives views for every listed port.
func (a *Aggregator) Ports(userID int64, keys []models.PortKey, snap CacheSnapshot) []models.PortView {
	views := make([]models.PortView, 0, len(keys))
	for _, key := range keys {
		views = append(views, a.PortView(userID, key, snap))
	}
	return views
}

// stale reports whether any feed has not been refreshed within the freshness
// window, e.g. while sync is paused.
func (a *Aggregator) stale(now time.Time, snap CacheSnapshot) bool {
	for _, at := range []time.Time{snap.StatusAt, snap.ConsumptionAt, snap.SessionsAt} {
		if at.IsZero() || now.Sub(at) > a.freshness {
			return true
		}
	}
	return false
}
