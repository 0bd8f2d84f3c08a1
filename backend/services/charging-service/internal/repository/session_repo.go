package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"solarcharge/backend/services/charging-service/internal/models"
)

const uniqueViolation = "23505"

const sessionColumns = `id, user_id, device_id, port_number, status, start_time, end_time, energy_mah, created_at, updated_at`

// SessionRepository handles persistence of charging sessions.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateRequested inserts a requested session only when the port has no
// open session. The ux_charging_sessions_open_port partial unique index
// backs the check, so a losing racer either scans no row or trips the
// unique violation; both report created=false.
func (r *SessionRepository) CreateRequested(ctx context.Context, s *models.ChargingSession) (bool, error) {
	const query = `
		INSERT INTO charging_sessions (id, user_id, device_id, port_number, status, start_time, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, NOW(), NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM charging_sessions
			WHERE device_id = $3 AND port_number = $4 AND status IN ('requested', 'active', 'closing')
		)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		s.ID,
		s.UserID,
		s.DeviceID,
		s.PortNumber,
		s.Status,
		s.StartTime,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkActive moves a requested session to active.
func (r *SessionRepository) MarkActive(ctx context.Context, id string) error {
	return r.transition(ctx, id, "requested", "active")
}

// MarkClosing moves an active session to closing.
func (r *SessionRepository) MarkClosing(ctx context.Context, id string) error {
	return r.transition(ctx, id, "active", "closing")
}

func (r *SessionRepository) transition(ctx context.Context, id, from, to string) error {
	const query = `
		UPDATE charging_sessions
		SET status = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Close finalizes a session regardless of its open status.
func (r *SessionRepository) Close(ctx context.Context, id string, endTime time.Time) error {
	const query = `
		UPDATE charging_sessions
		SET status = 'closed',
		    end_time = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status <> 'closed'
	`
	result, err := r.db.ExecContext(ctx, query, id, endTime)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a requested session that never activated.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	const query = `
		DELETE FROM charging_sessions
		WHERE id = $1 AND status = 'requested'
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// AddEnergy accumulates measured energy on an active session.
func (r *SessionRepository) AddEnergy(ctx context.Context, id string, deltaMah float64) error {
	const query = `
		UPDATE charging_sessions
		SET energy_mah = energy_mah + $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, id, deltaMah)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// OpenByPort returns the port's open session, or nil when the port is free.
func (r *SessionRepository) OpenByPort(ctx context.Context, key models.PortKey) (*models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE device_id = $1 AND port_number = $2 AND status IN ('requested', 'active', 'closing')
		ORDER BY created_at
		LIMIT 1
	`
	s, err := r.scanOne(r.db.QueryRowContext(ctx, query, key.DeviceID, key.PortNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ActiveByUser returns the user's active sessions.
func (r *SessionRepository) ActiveByUser(ctx context.Context, userID int64) ([]models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY start_time DESC
	`
	return r.scanMany(ctx, query, userID)
}

// OpenAll returns every session not yet closed.
func (r *SessionRepository) OpenAll(ctx context.Context) ([]models.ChargingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE status IN ('requested', 'active', 'closing')
		ORDER BY start_time DESC
	`
	return r.scanMany(ctx, query)
}

// ListByUser returns last N sessions for user.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`
	return r.scanMany(ctx, query, userID, limit)
}

func (r *SessionRepository) scanOne(row *sql.Row) (*models.ChargingSession, error) {
	var s models.ChargingSession
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.DeviceID,
		&s.PortNumber,
		&s.Status,
		&s.StartTime,
		&s.EndTime,
		&s.EnergyMah,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) scanMany(ctx context.Context, query string, args ...any) ([]models.ChargingSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ChargingSession
	for rows.Next() {
		var s models.ChargingSession
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.DeviceID,
			&s.PortNumber,
			&s.Status,
			&s.StartTime,
			&s.EndTime,
			&s.EnergyMah,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
