package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/metrics"
	"solarcharge/backend/services/charging-service/internal/models"
)

// ExtensionStore persists the immutable extension audit trail.
type ExtensionStore interface {
	Insert(ctx context.Context, tx *models.ExtensionTransaction) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.ExtensionTransaction, error)
}

// PurchaseReceipt is the billing side's answer to an extension purchase.
type PurchaseReceipt struct {
	Message     string `json:"message"`
	PaymentLink string `json:"payment_link,omitempty"`
}

// BillingGateway exposes the billing collaborator: the price sheet and the
// payment leg of an extension. Payment capture itself happens elsewhere.
type BillingGateway interface {
	GetQuotaPricing(ctx context.Context) (*models.QuotaPricing, error)
	PurchaseExtension(ctx context.Context, userID int64, extType string, amountMah float64) (*PurchaseReceipt, error)
}

// ExtensionResult bundles the recorded transaction with the post-grant state.
type ExtensionResult struct {
	Transaction  models.ExtensionTransaction `json:"transaction"`
	RemainingMah float64                     `json:"remaining_mah"`
	Message      string                      `json:"message,omitempty"`
	PaymentLink  string                      `json:"payment_link,omitempty"`
}

// ExtensionService grants quota extensions: immediate paid top-ups and
// borrows against tomorrow's allowance.
type ExtensionService struct {
	quota   *QuotaService
	subs    SubscriptionStore
	exts    ExtensionStore
	billing BillingGateway
	logger  *zap.Logger
	newID   func() string
	now     func() time.Time
}

// NewExtensionService builds the service.
func NewExtensionService(
	quota *QuotaService,
	subs SubscriptionStore,
	exts ExtensionStore,
	billing BillingGateway,
	logger *zap.Logger,
) *ExtensionService {
	return &ExtensionService{
		quota:   quota,
		subs:    subs,
		exts:    exts,
		billing: billing,
		logger:  logger,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// PurchaseDirect grants the configured fixed allotment for today, usable
// right away, with no carry-over debt.
func (s *ExtensionService) PurchaseDirect(ctx context.Context, userID int64) (*ExtensionResult, error) {
	sub, err := s.quota.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	pricing, err := s.fetchPricing(ctx)
	if err != nil {
		return nil, err
	}
	amount := pricing.DirectPurchase.ExtensionAmountMah
	if amount <= 0 {
		return nil, fmt.Errorf("%w: direct purchase amount not set", ErrNoPricing)
	}

	receipt, err := s.billing.PurchaseExtension(ctx, userID, models.ExtensionDirectPurchase, amount)
	if err != nil {
		return nil, fmt.Errorf("billing purchase: %w", err)
	}

	ApplyDirectPurchase(sub, amount)
	if err := s.subs.UpdateLedger(ctx, sub); err != nil {
		return nil, err
	}

	tx := models.ExtensionTransaction{
		ID:             s.newID(),
		UserID:         userID,
		SubscriptionID: sub.ID,
		Type:           models.ExtensionDirectPurchase,
		AmountMah:      amount,
		Price:          pricing.DirectPurchase.Price,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.exts.Insert(ctx, &tx); err != nil {
		return nil, err
	}
	metrics.IncExtension(models.ExtensionDirectPurchase)

	return s.result(tx, sub, receipt), nil
}

// BorrowNextDay advances amountMah from tomorrow's quota. The amount is
// usable immediately; principal plus penalty reduce tomorrow's limit when the
// day rolls.
func (s *ExtensionService) BorrowNextDay(ctx context.Context, userID int64, amountMah float64) (*ExtensionResult, error) {
	sub, err := s.quota.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	pricing, err := s.fetchPricing(ctx)
	if err != nil {
		return nil, err
	}
	borrow := pricing.BorrowNextDay
	if borrow.MaxPurchaseMah <= 0 {
		return nil, fmt.Errorf("%w: borrow bounds not set", ErrNoPricing)
	}
	if amountMah < borrow.MinPurchaseMah || amountMah > borrow.MaxPurchaseMah {
		return nil, &AmountOutOfRangeError{
			AmountMah: amountMah,
			MinMah:    borrow.MinPurchaseMah,
			MaxMah:    borrow.MaxPurchaseMah,
		}
	}

	receipt, err := s.billing.PurchaseExtension(ctx, userID, models.ExtensionBorrowNextDay, amountMah)
	if err != nil {
		return nil, fmt.Errorf("billing purchase: %w", err)
	}

	penalty := ApplyBorrow(sub, amountMah, borrow.PenaltyPercentage)
	if err := s.subs.UpdateLedger(ctx, sub); err != nil {
		return nil, err
	}

	tx := models.ExtensionTransaction{
		ID:             s.newID(),
		UserID:         userID,
		SubscriptionID: sub.ID,
		Type:           models.ExtensionBorrowNextDay,
		AmountMah:      amountMah,
		Price:          borrow.BaseFee,
		PenaltyPct:     borrow.PenaltyPercentage,
		PenaltyMah:     penalty,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.exts.Insert(ctx, &tx); err != nil {
		return nil, err
	}
	metrics.IncExtension(models.ExtensionBorrowNextDay)

	return s.result(tx, sub, receipt), nil
}

// History returns the user's extension records, newest first.
func (s *ExtensionService) History(ctx context.Context, userID int64, limit int) ([]models.ExtensionTransaction, error) {
	return s.exts.ListByUser(ctx, userID, limit)
}

// Pricing returns the current extension price sheet.
func (s *ExtensionService) Pricing(ctx context.Context) (*models.QuotaPricing, error) {
	return s.fetchPricing(ctx)
}

func (s *ExtensionService) fetchPricing(ctx context.Context) (*models.QuotaPricing, error) {
	pricing, err := s.billing.GetQuotaPricing(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPricing, err)
	}
	if pricing == nil {
		return nil, ErrNoPricing
	}
	return pricing, nil
}

func (s *ExtensionService) result(tx models.ExtensionTransaction, sub *models.Subscription, receipt *PurchaseReceipt) *ExtensionResult {
	res := &ExtensionResult{
		Transaction:  tx,
		RemainingMah: RemainingQuota(sub),
	}
	if receipt != nil {
		res.Message = receipt.Message
		res.PaymentLink = receipt.PaymentLink
	}
	return res
}
