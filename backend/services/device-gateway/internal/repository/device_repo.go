package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"solarcharge/backend/services/device-gateway/internal/models"
)

const deviceColumns = `id, station_id, secret_hash, ports, last_seen_at, created_at`

// DeviceRepository reads the device registry.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository builds the repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get loads one device. Returns (nil, nil) for an unknown ID.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// List returns all registered devices.
func (r *DeviceRepository) List(ctx context.Context) ([]models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// UpdateLastSeen stamps the device's most recent report time.
func (r *DeviceRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE devices SET last_seen_at = $2 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var device models.Device
	var lastSeen sql.NullTime
	if err := row.Scan(
		&device.ID,
		&device.StationID,
		&device.SecretHash,
		&device.Ports,
		&lastSeen,
		&device.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		device.LastSeenAt = &lastSeen.Time
	}
	return &device, nil
}
