package models

import "time"

// Plan describes a purchasable subscription tier.
type Plan struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	DailyLimitMah float64   `db:"daily_limit_mah" json:"daily_limit_mah"`
	MaxConcurrent int       `db:"max_concurrent" json:"max_concurrent"`
	DurationDays  int       `db:"duration_days" json:"duration_days"`
	PremiumAccess bool      `db:"premium_access" json:"premium_access"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Subscription carries a user's plan membership plus the daily quota ledger.
// BaseLimitMah is the plan's advertised daily quota; DayLimitMah is the limit
// in force for the current day, which sinks below base after a borrow rolls
// over. BorrowedMah and PendingMah track the current-day borrow and the debt
// (principal plus penalty) waiting to be applied at the next day boundary.
type Subscription struct {
	ID           string    `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	PlanID       string    `db:"plan_id" json:"plan_id"`
	BaseLimitMah float64   `db:"base_limit_mah" json:"base_limit_mah"`
	DayLimitMah  float64   `db:"day_limit_mah" json:"day_limit_mah"`
	ConsumedMah  float64   `db:"consumed_mah" json:"consumed_mah"`
	BorrowedMah  float64   `db:"borrowed_mah" json:"borrowed_mah"`
	PendingMah   float64   `db:"pending_mah" json:"pending_mah"`
	StartDate    time.Time `db:"start_date" json:"start_date"`
	EndDate      time.Time `db:"end_date" json:"end_date"`
	Active       bool      `db:"active" json:"active"`
	RolledAt     time.Time `db:"rolled_at" json:"rolled_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
