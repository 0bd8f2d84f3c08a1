package repository

import (
	"context"
	"database/sql"
	"fmt"

	"solarcharge/backend/services/device-gateway/internal/models"
)

// ReportRepository appends sensor frames to the report log.
type ReportRepository struct {
	db *sql.DB
}

// NewReportRepository builds the repository.
func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Insert stores one sensor report.
func (r *ReportRepository) Insert(ctx context.Context, report models.SensorReport) error {
	query := `
		INSERT INTO device_reports (
			device_id, solar_voltage, solar_current, battery_voltage,
			charge_status, relay1_on, relay2_on, reported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := r.db.ExecContext(ctx, query,
		report.DeviceID,
		report.SolarVoltage,
		report.SolarCurrent,
		report.BatteryVoltage,
		report.ChargeStatus,
		report.Relay1On,
		report.Relay2On,
		report.ReportedAt,
	); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}
