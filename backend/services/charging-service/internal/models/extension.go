package models

import "time"

// Extension types.
const (
	ExtensionDirectPurchase = "direct_purchase"
	ExtensionBorrowNextDay  = "borrow_next_day"
)

// ExtensionTransaction records one quota extension, either a paid top-up or a
// borrow against tomorrow's quota.
type ExtensionTransaction struct {
	ID             string    `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	SubscriptionID string    `db:"subscription_id" json:"subscription_id"`
	Type           string    `db:"type" json:"type"`
	AmountMah      float64   `db:"amount_mah" json:"amount_mah"`
	Price          float64   `db:"price" json:"price"`
	PenaltyPct     int       `db:"penalty_pct" json:"penalty_pct"`
	PenaltyMah     float64   `db:"penalty_mah" json:"penalty_mah"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// QuotaPricing is the billing-side price sheet for extensions.
type QuotaPricing struct {
	DirectPurchase struct {
		Price              float64 `json:"price"`
		ExtensionAmountMah float64 `json:"extension_amount_mah"`
	} `json:"direct_purchase"`
	BorrowNextDay struct {
		BaseFee           float64 `json:"base_fee"`
		PenaltyPercentage int     `json:"penalty_percentage"`
		MinPurchaseMah    float64 `json:"min_purchase_mah"`
		MaxPurchaseMah    float64 `json:"max_purchase_mah"`
	} `json:"borrow_next_day"`
}
