package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/models"
	"solarcharge/backend/services/charging-service/internal/service"
)

// QuotaReader answers quota ledger questions.
type QuotaReader interface {
	CurrentSubscription(ctx context.Context, userID int64) (*models.Subscription, error)
}

// ExtensionOps covers extension purchases and history.
type ExtensionOps interface {
	PurchaseDirect(ctx context.Context, userID int64) (*service.ExtensionResult, error)
	BorrowNextDay(ctx context.Context, userID int64, amountMah float64) (*service.ExtensionResult, error)
	History(ctx context.Context, userID int64, limit int) ([]models.ExtensionTransaction, error)
	Pricing(ctx context.Context) (*models.QuotaPricing, error)
}

// QuotaHandlers serves the quota ledger and extension endpoints.
type QuotaHandlers struct {
	quota  QuotaReader
	ext    ExtensionOps
	logger *zap.Logger
}

// NewQuotaHandlers builds handler set.
func NewQuotaHandlers(quota QuotaReader, ext ExtensionOps, logger *zap.Logger) *QuotaHandlers {
	return &QuotaHandlers{quota: quota, ext: ext, logger: logger}
}

// Me handles GET /api/quota/me.
func (h *QuotaHandlers) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	sub, err := h.quota.CurrentSubscription(r.Context(), userID)
	if err != nil {
		h.logger.Error("load subscription failed", zap.Int64("user_id", userID), zap.Error(err))
		writeServiceError(w, err)
		return
	}
	if sub == nil {
		writeServiceError(w, service.ErrNoSubscription)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plan_id":        sub.PlanID,
		"remaining_mah":  service.RemainingQuota(sub),
		"base_limit_mah": sub.BaseLimitMah,
		"day_limit_mah":  sub.DayLimitMah,
		"consumed_mah":   sub.ConsumedMah,
		"borrowed_mah":   sub.BorrowedMah,
		"pending_mah":    sub.PendingMah,
	})
}

// Pricing handles GET /api/quota/pricing.
func (h *QuotaHandlers) Pricing(w http.ResponseWriter, r *http.Request) {
	pricing, err := h.ext.Pricing(r.Context())
	if err != nil {
		h.logger.Error("load pricing failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing)
}

// PurchaseDirect handles POST /api/quota/extensions/direct.
func (h *QuotaHandlers) PurchaseDirect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	result, err := h.ext.PurchaseDirect(r.Context(), userID)
	if err != nil {
		h.logger.Info("direct purchase rejected", zap.Int64("user_id", userID), zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type borrowRequest struct {
	AmountMah float64 `json:"amount_mah"`
}

// Borrow handles POST /api/quota/extensions/borrow.
func (h *QuotaHandlers) Borrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.AmountMah <= 0 {
		writeError(w, http.StatusBadRequest, "amount_mah must be positive")
		return
	}

	result, err := h.ext.BorrowNextDay(r.Context(), userID, req.AmountMah)
	if err != nil {
		h.logger.Info("borrow rejected",
			zap.Int64("user_id", userID),
			zap.Float64("amount_mah", req.AmountMah),
			zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// History handles GET /api/quota/extensions.
func (h *QuotaHandlers) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	txs, err := h.ext.History(r.Context(), userID, 50)
	if err != nil {
		h.logger.Error("list extensions failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"extensions": txs})
}
