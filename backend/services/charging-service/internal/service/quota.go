package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/metrics"
	"solarcharge/backend/services/charging-service/internal/models"
)

// SubscriptionStore persists subscription ledgers.
// ActiveByUser returns (nil, nil) when the user has no active subscription.
type SubscriptionStore interface {
	ActiveByUser(ctx context.Context, userID int64) (*models.Subscription, error)
	UpdateLedger(ctx context.Context, sub *models.Subscription) error
	ListDueForRoll(ctx context.Context, dayStart time.Time, limit int) ([]models.Subscription, error)
}

// RemainingQuota computes how many mAh the subscription may still draw today.
// The base allotment drains first; borrowed energy only counts once the base
// is exhausted. Consumption is measured against the day's effective limit,
// which a borrow does not reduce until the next roll. Never negative.
func RemainingQuota(sub *models.Subscription) float64 {
	base := sub.DayLimitMah - sub.ConsumedMah
	if base < 0 {
		base = 0
	}
	if sub.ConsumedMah >= sub.DayLimitMah {
		return base + sub.BorrowedMah
	}
	return base
}

// RecordDelta adds measured consumption to the ledger. Telemetry is recorded
// as fact even past the limit; gating happens at acquisition time. Negative
// deltas are rejected.
func RecordDelta(sub *models.Subscription, deltaMah float64) error {
	if deltaMah < 0 {
		return ErrNegativeDelta
	}
	sub.ConsumedMah += deltaMah
	return nil
}

// ApplyDirectPurchase grants a purchased allotment, usable immediately.
func ApplyDirectPurchase(sub *models.Subscription, amountMah float64) {
	sub.BorrowedMah += amountMah
}

// ApplyBorrow advances amountMah from tomorrow's quota and queues the debt,
// principal plus penalty, for the next roll. Returns the penalty in mAh.
func ApplyBorrow(sub *models.Subscription, amountMah float64, penaltyPct int) float64 {
	penalty := amountMah * float64(penaltyPct) / 100
	sub.BorrowedMah += amountMah
	sub.PendingMah += amountMah + penalty
	return penalty
}

// RollDay closes out the ledger at a day boundary: pending debt is deducted
// from the new day's limit (floored at zero), counters reset. This is the
// only place borrow penalties take effect.
func RollDay(sub *models.Subscription, at time.Time) {
	limit := sub.BaseLimitMah - sub.PendingMah
	if limit < 0 {
		limit = 0
	}
	sub.DayLimitMah = limit
	sub.ConsumedMah = 0
	sub.BorrowedMah = 0
	sub.PendingMah = 0
	sub.RolledAt = at.UTC()
}

// QuotaService answers quota questions and applies consumption, rolling the
// ledger lazily whenever it is touched across a day boundary so correctness
// does not depend on the roll worker's cadence.
type QuotaService struct {
	subs   SubscriptionStore
	logger *zap.Logger
	now    func() time.Time
}

// NewQuotaService builds the service.
func NewQuotaService(subs SubscriptionStore, logger *zap.Logger) *QuotaService {
	return &QuotaService{
		subs:   subs,
		logger: logger,
		now:    time.Now,
	}
}

// CurrentSubscription loads the user's active subscription, rolled up to the
// current day. Returns ErrNoSubscription when none is active.
func (s *QuotaService) CurrentSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := s.subs.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoSubscription
	}
	if s.rollIfDue(sub) {
		if err := s.subs.UpdateLedger(ctx, sub); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// Remaining reports the user's remaining allowance for today.
func (s *QuotaService) Remaining(ctx context.Context, userID int64) (float64, error) {
	sub, err := s.CurrentSubscription(ctx, userID)
	if err != nil {
		return 0, err
	}
	return RemainingQuota(sub), nil
}

// RecordConsumption folds a measured delta into the user's ledger.
func (s *QuotaService) RecordConsumption(ctx context.Context, userID int64, deltaMah float64) error {
	sub, err := s.CurrentSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if err := RecordDelta(sub, deltaMah); err != nil {
		return err
	}
	return s.subs.UpdateLedger(ctx, sub)
}

// RollDue rolls every subscription whose ledger predates today. Invoked by
// the roll worker; safe to run repeatedly.
func (s *QuotaService) RollDue(ctx context.Context) (int, error) {
	const batchSize = 200
	dayStart := dayStartUTC(s.now())
	rolled := 0
	for {
		due, err := s.subs.ListDueForRoll(ctx, dayStart, batchSize)
		if err != nil {
			return rolled, err
		}
		if len(due) == 0 {
			return rolled, nil
		}
		for i := range due {
			sub := &due[i]
			RollDay(sub, s.now())
			if err := s.subs.UpdateLedger(ctx, sub); err != nil {
				return rolled, err
			}
			metrics.IncQuotaRoll()
			rolled++
		}
		if len(due) < batchSize {
			return rolled, nil
		}
	}
}

func (s *QuotaService) rollIfDue(sub *models.Subscription) bool {
	if !sub.RolledAt.Before(dayStartUTC(s.now())) {
		return false
	}
	RollDay(sub, s.now())
	metrics.IncQuotaRoll()
	return true
}

func dayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
