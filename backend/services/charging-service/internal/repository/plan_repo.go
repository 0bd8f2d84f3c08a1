package repository

import (
	"context"
	"database/sql"
	"errors"

	"solarcharge/backend/services/charging-service/internal/models"
)

// PlanRepository handles persistence of subscription plans.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository returns repository.
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Get returns the plan, or nil when the id is unknown.
func (r *PlanRepository) Get(ctx context.Context, id string) (*models.Plan, error) {
	const query = `
		SELECT id, name, daily_limit_mah, max_concurrent, duration_days, premium_access, created_at, updated_at
		FROM plans
		WHERE id = $1
	`
	var p models.Plan
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.DailyLimitMah,
		&p.MaxConcurrent,
		&p.DurationDays,
		&p.PremiumAccess,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns all plans.
func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	const query = `
		SELECT id, name, daily_limit_mah, max_concurrent, duration_days, premium_access, created_at, updated_at
		FROM plans
		ORDER BY daily_limit_mah
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.DailyLimitMah,
			&p.MaxConcurrent,
			&p.DurationDays,
			&p.PremiumAccess,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return plans, nil
}
