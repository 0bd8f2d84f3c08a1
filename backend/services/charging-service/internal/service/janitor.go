package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const janitorRunTimeout = 30 * time.Second

// Janitor runs the background bookkeeping loops: day-boundary quota
// rolls, stale requested-session sweeps and forced-close reconciliation.
// These run regardless of the sync scheduler's pause state.
type Janitor struct {
	quota    *QuotaService
	ctrl     *Controller
	interval time.Duration
	logger   *zap.Logger
}

// NewJanitor builds the worker. interval defaults to one minute.
func NewJanitor(quota *QuotaService, ctrl *Controller, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		quota:    quota,
		ctrl:     ctrl,
		interval: interval,
		logger:   logger.With(zap.String("component", "janitor")),
	}
}

// Run ticks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, janitorRunTimeout)
	defer cancel()

	if n, err := j.quota.RollDue(runCtx); err != nil {
		j.logger.Warn("quota roll failed", zap.Error(err))
	} else if n > 0 {
		j.logger.Info("rolled quota ledgers", zap.Int("count", n))
	}

	if n, err := j.ctrl.SweepStaleRequested(runCtx); err != nil {
		j.logger.Warn("stale requested sweep failed", zap.Error(err))
	} else if n > 0 {
		j.logger.Info("cleared stale requested sessions", zap.Int("count", n))
	}

	if n, err := j.ctrl.Reconcile(runCtx); err != nil {
		j.logger.Warn("reconcile pass failed", zap.Error(err))
	} else if n > 0 {
		j.logger.Info("reconciled forced closes", zap.Int("count", n))
	}
}
