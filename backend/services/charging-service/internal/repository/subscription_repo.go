package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"solarcharge/backend/services/charging-service/internal/models"
)

const subscriptionColumns = `id, user_id, plan_id, base_limit_mah, day_limit_mah, consumed_mah, borrowed_mah, pending_mah, start_date, end_date, active, rolled_at, created_at, updated_at`

// SubscriptionRepository handles persistence of subscriptions and their
// quota ledgers.
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository returns repository.
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// ActiveByUser returns the user's current subscription, or nil when the
// user has none.
func (r *SubscriptionRepository) ActiveByUser(ctx context.Context, userID int64) (*models.Subscription, error) {
	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND active AND start_date <= NOW() AND end_date > NOW()
		ORDER BY end_date DESC
		LIMIT 1
	`
	sub, err := r.scanOne(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

// UpdateLedger persists the quota ledger fields after a roll, a borrow,
// a purchase or recorded consumption.
func (r *SubscriptionRepository) UpdateLedger(ctx context.Context, sub *models.Subscription) error {
	const query = `
		UPDATE subscriptions
		SET day_limit_mah = $2,
		    consumed_mah = $3,
		    borrowed_mah = $4,
		    pending_mah = $5,
		    rolled_at = $6,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.DayLimitMah,
		sub.ConsumedMah,
		sub.BorrowedMah,
		sub.PendingMah,
		sub.RolledAt,
	)
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

// ListDueForRoll returns active subscriptions whose ledger predates the
// given day start.
func (r *SubscriptionRepository) ListDueForRoll(ctx context.Context, dayStart time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE active AND rolled_at < $1
		ORDER BY rolled_at
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, dayStart, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var s models.Subscription
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.PlanID,
			&s.BaseLimitMah,
			&s.DayLimitMah,
			&s.ConsumedMah,
			&s.BorrowedMah,
			&s.PendingMah,
			&s.StartDate,
			&s.EndDate,
			&s.Active,
			&s.RolledAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *SubscriptionRepository) scanOne(row *sql.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PlanID,
		&s.BaseLimitMah,
		&s.DayLimitMah,
		&s.ConsumedMah,
		&s.BorrowedMah,
		&s.PendingMah,
		&s.StartDate,
		&s.EndDate,
		&s.Active,
		&s.RolledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
