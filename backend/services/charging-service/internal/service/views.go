package service

import (
	"context"

	"solarcharge/backend/services/charging-service/internal/models"
)

// PortCatalog lists the outlets the system knows about.
// FindPort returns (nil, nil) for an uncatalogued port.
type PortCatalog interface {
	AllPorts(ctx context.Context) ([]models.StationPort, error)
	PortsByStation(ctx context.Context, stationID string) ([]models.StationPort, error)
	FindPort(ctx context.Context, key models.PortKey) (*models.StationPort, error)
	ListStations(ctx context.Context) ([]models.Station, error)
}

// Views answers read-path port state questions from the cache. Reads never
// touch upstreams; the scheduler keeps the cache fresh.
type Views struct {
	cache   *ViewCache
	agg     *Aggregator
	catalog PortCatalog
}

// NewViews builds the read facade.
func NewViews(cache *ViewCache, agg *Aggregator, catalog PortCatalog) *Views {
	return &Views{cache: cache, agg: agg, catalog: catalog}
}

// View derives the caller's view of one port from the current cache.
func (v *Views) View(userID int64, key models.PortKey) models.PortView {
	return v.agg.PortView(userID, key, v.cache.Snapshot())
}

// PortView resolves the port against the catalog first, so callers can tell
// an unknown outlet apart from a known one with no data.
func (v *Views) PortView(ctx context.Context, userID int64, key models.PortKey) (models.PortView, error) {
	port, err := v.catalog.FindPort(ctx, key)
	if err != nil {
		return models.PortView{}, err
	}
	if port == nil {
		return models.PortView{}, ErrPortNotFound
	}
	return v.View(userID, key), nil
}

// StationPorts derives views for every port of one station.
func (v *Views) StationPorts(ctx context.Context, userID int64, stationID string) ([]models.PortView, error) {
	ports, err := v.catalog.PortsByStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	keys := make([]models.PortKey, 0, len(ports))
	for _, p := range ports {
		keys = append(keys, p.Key())
	}
	return v.agg.Ports(userID, keys, v.cache.Snapshot()), nil
}

// AllPorts derives views for the whole catalog.
func (v *Views) AllPorts(ctx context.Context, userID int64) ([]models.PortView, error) {
	ports, err := v.catalog.AllPorts(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]models.PortKey, 0, len(ports))
	for _, p := range ports {
		keys = append(keys, p.Key())
	}
	return v.agg.Ports(userID, keys, v.cache.Snapshot()), nil
}

// Stations lists the catalogued stations.
func (v *Views) Stations(ctx context.Context) ([]models.Station, error) {
	return v.catalog.ListStations(ctx)
}
