package repository

import (
	"context"
	"database/sql"

	"solarcharge/backend/services/charging-service/internal/models"
)

// ExtensionRepository persists the extension audit trail.
type ExtensionRepository struct {
	db *sql.DB
}

// NewExtensionRepository returns repository.
func NewExtensionRepository(db *sql.DB) *ExtensionRepository {
	return &ExtensionRepository{db: db}
}

// Insert records one extension transaction.
func (r *ExtensionRepository) Insert(ctx context.Context, tx *models.ExtensionTransaction) error {
	const query = `
		INSERT INTO extension_transactions (id, user_id, subscription_id, type, amount_mah, price, penalty_pct, penalty_mah, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		tx.SubscriptionID,
		tx.Type,
		tx.AmountMah,
		tx.Price,
		tx.PenaltyPct,
		tx.PenaltyMah,
		tx.CreatedAt,
	)
	return err
}

// ListByUser returns last N extension transactions for user.
func (r *ExtensionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.ExtensionTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, user_id, subscription_id, type, amount_mah, price, penalty_pct, penalty_mah, created_at
		FROM extension_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.ExtensionTransaction
	for rows.Next() {
		var t models.ExtensionTransaction
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.SubscriptionID,
			&t.Type,
			&t.AmountMah,
			&t.Price,
			&t.PenaltyPct,
			&t.PenaltyMah,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
