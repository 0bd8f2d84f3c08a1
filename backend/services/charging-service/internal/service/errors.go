package service

import (
	"errors"
	"fmt"
)

// Sentinel errors for session and quota operations. Handlers map these to
// HTTP statuses; errors.Is works through the typed variants below.
var (
	ErrPortUnavailable  = errors.New("port unavailable")
	ErrDeviceOffline    = errors.New("device offline")
	ErrCommandTimeout   = errors.New("command timed out")
	ErrConcurrencyLimit = errors.New("concurrent session limit reached")
	ErrQuotaExhausted   = errors.New("daily quota exhausted")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrNoPricing        = errors.New("no pricing configured")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotSessionOwner  = errors.New("session owned by another user")
	ErrNoSubscription   = errors.New("no active subscription")
	ErrPortNotFound     = errors.New("port not found")
	ErrPremiumRequired  = errors.New("premium plan required for this port")
	ErrNegativeDelta    = errors.New("negative consumption delta")
)

// QuotaExhaustedError carries the remaining allowance so callers can show it.
type QuotaExhaustedError struct {
	RemainingMah float64
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("daily quota exhausted: %.0f mAh remaining", e.RemainingMah)
}

func (e *QuotaExhaustedError) Is(target error) bool {
	return target == ErrQuotaExhausted
}

// AmountOutOfRangeError carries the allowed bounds for a borrow request.
type AmountOutOfRangeError struct {
	AmountMah float64
	MinMah    float64
	MaxMah    float64
}

func (e *AmountOutOfRangeError) Error() string {
	return fmt.Sprintf("amount %.0f mAh out of range [%.0f, %.0f]", e.AmountMah, e.MinMah, e.MaxMah)
}

func (e *AmountOutOfRangeError) Is(target error) bool {
	return target == ErrAmountOutOfRange
}
