package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/models"
)

// ConsumptionDelta computes incremental energy between two cumulative
// per-port readings. A drop means the gateway's counter reset at the day
// boundary; the post-reset amount counts from zero.
func ConsumptionDelta(prev, current float64) float64 {
	if current < prev {
		return current
	}
	return current - prev
}

// ConsumptionIngester turns consumption feed refreshes into session energy
// and ledger consumption. Deltas attribute to whoever holds the port's open
// session at ingest time; ports without a session advance the watermark
// without billing anyone.
type ConsumptionIngester struct {
	sessions SessionStore
	quota    *QuotaService
	logger   *zap.Logger

	mu         sync.Mutex
	lastTotals map[models.PortKey]float64
}

// NewConsumptionIngester builds the ingester.
func NewConsumptionIngester(sessions SessionStore, quota *QuotaService, logger *zap.Logger) *ConsumptionIngester {
	return &ConsumptionIngester{
		sessions:   sessions,
		quota:      quota,
		logger:     logger,
		lastTotals: make(map[models.PortKey]float64),
	}
}

// Ingest applies one consumption feed snapshot. A failure on one port does
// not stop the others; the watermark only advances for ports that recorded
// cleanly, so missed deltas are retried on the next refresh.
func (i *ConsumptionIngester) Ingest(ctx context.Context, rows []models.ConsumptionRow, open map[models.PortKey]models.ChargingSession) {
	for _, row := range rows {
		i.mu.Lock()
		prev, seen := i.lastTotals[row.Key]
		i.mu.Unlock()

		if !seen {
			// First observation establishes the watermark; billing starts
			// from the next refresh.
			i.advance(row.Key, row.TotalMahToday)
			continue
		}

		delta := ConsumptionDelta(prev, row.TotalMahToday)
		if delta == 0 {
			i.advance(row.Key, row.TotalMahToday)
			continue
		}

		session, held := open[row.Key]
		if !held || session.Status != SessionStatusActive {
			i.advance(row.Key, row.TotalMahToday)
			continue
		}

		if err := i.sessions.AddEnergy(ctx, session.ID, delta); err != nil {
			i.logger.Warn("failed to add session energy",
				zap.String("session_id", session.ID),
				zap.Float64("delta_mah", delta),
				zap.Error(err))
			continue
		}
		// Past this point the watermark must advance even if the ledger
		// write fails, or the session energy would double on retry.
		i.advance(row.Key, row.TotalMahToday)
		if err := i.quota.RecordConsumption(ctx, session.UserID, delta); err != nil {
			i.logger.Error("ledger consumption lost",
				zap.Int64("user_id", session.UserID),
				zap.Float64("delta_mah", delta),
				zap.Error(err))
		}
	}
}

func (i *ConsumptionIngester) advance(key models.PortKey, total float64) {
	i.mu.Lock()
	i.lastTotals[key] = total
	i.mu.Unlock()
}
