package repository

import (
	"context"
	"database/sql"
	"errors"

	"solarcharge/backend/services/charging-service/internal/models"
)

// StationRepository serves the port catalog: stations and the outlets
// they host.
type StationRepository struct {
	db *sql.DB
}

// NewStationRepository returns repository.
func NewStationRepository(db *sql.DB) *StationRepository {
	return &StationRepository{db: db}
}

// ListStations returns all stations.
func (r *StationRepository) ListStations(ctx context.Context) ([]models.Station, error) {
	const query = `
		SELECT id, name, location, created_at, updated_at
		FROM stations
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var s models.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Location, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stations, nil
}

// AllPorts returns every catalogued port.
func (r *StationRepository) AllPorts(ctx context.Context) ([]models.StationPort, error) {
	const query = `
		SELECT station_id, device_id, port_number, premium, created_at
		FROM station_ports
		ORDER BY station_id, device_id, port_number
	`
	return r.scanPorts(ctx, query)
}

// PortsByStation returns the station's catalogued ports.
func (r *StationRepository) PortsByStation(ctx context.Context, stationID string) ([]models.StationPort, error) {
	const query = `
		SELECT station_id, device_id, port_number, premium, created_at
		FROM station_ports
		WHERE station_id = $1
		ORDER BY device_id, port_number
	`
	return r.scanPorts(ctx, query, stationID)
}

// FindPort returns the catalogued port, or nil when it is unknown.
func (r *StationRepository) FindPort(ctx context.Context, key models.PortKey) (*models.StationPort, error) {
	const query = `
		SELECT station_id, device_id, port_number, premium, created_at
		FROM station_ports
		WHERE device_id = $1 AND port_number = $2
	`
	var p models.StationPort
	err := r.db.QueryRowContext(ctx, query, key.DeviceID, key.PortNumber).Scan(
		&p.StationID,
		&p.DeviceID,
		&p.PortNumber,
		&p.Premium,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *StationRepository) scanPorts(ctx context.Context, query string, args ...any) ([]models.StationPort, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ports []models.StationPort
	for rows.Next() {
		var p models.StationPort
		if err := rows.Scan(&p.StationID, &p.DeviceID, &p.PortNumber, &p.Premium, &p.CreatedAt); err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ports, nil
}
