package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/metrics"
	"solarcharge/backend/services/charging-service/internal/models"
)

// Session status constants.
const (
	SessionStatusRequested = "requested"
	SessionStatusActive    = "active"
	SessionStatusClosing   = "closing"
	SessionStatusClosed    = "closed"
)

// SessionStore persists charging sessions. CreateRequested inserts only when
// the port has no open session and reports whether the insert won; this is
// the durable tie-break between racing acquisitions. OpenByPort returns
// (nil, nil) when the port is free.
type SessionStore interface {
	CreateRequested(ctx context.Context, s *models.ChargingSession) (bool, error)
	MarkActive(ctx context.Context, id string) error
	MarkClosing(ctx context.Context, id string) error
	Close(ctx context.Context, id string, endTime time.Time) error
	Delete(ctx context.Context, id string) error
	AddEnergy(ctx context.Context, id string, deltaMah float64) error
	OpenByPort(ctx context.Context, key models.PortKey) (*models.ChargingSession, error)
	ActiveByUser(ctx context.Context, userID int64) ([]models.ChargingSession, error)
	OpenAll(ctx context.Context) ([]models.ChargingSession, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error)
}

// PlanStore resolves plans. Get returns (nil, nil) when the plan is unknown.
type PlanStore interface {
	Get(ctx context.Context, id string) (*models.Plan, error)
}

// PortGuard serializes acquisitions on one port across service instances.
// TryLock reports ok=false when someone else holds the guard.
type PortGuard interface {
	TryLock(ctx context.Context, key models.PortKey, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key models.PortKey, token string) error
}

// CommandResult is the gateway's verdict on a control command.
type CommandResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Rejection reasons understood by the controller.
const (
	CommandReasonOffline = "device_offline"
)

// CommandSender delivers relay commands to the device gateway and waits for
// hardware acknowledgment within the caller's deadline.
type CommandSender interface {
	SendControlCommand(ctx context.Context, key models.PortKey, turnOn bool, userID int64) (*CommandResult, error)
}

// ActiveSessionCache mirrors open sessions into a shared cache. Failures are
// advisory; the database stays authoritative.
type ActiveSessionCache interface {
	Save(ctx context.Context, s models.ChargingSession) error
	Delete(ctx context.Context, sessionID string) error
}

// ReconcileFlags marks ports whose hardware state must be re-checked because
// a session was force-closed without an acknowledged OFF.
type ReconcileFlags interface {
	Flag(ctx context.Context, key models.PortKey) error
	Clear(ctx context.Context, key models.PortKey) error
	List(ctx context.Context) ([]models.PortKey, error)
}

// ReleaseResult reports how a session ended. Forced means the hardware never
// acknowledged the OFF and the session was closed locally, leaving the port
// flagged for reconciliation.
type ReleaseResult struct {
	Session *models.ChargingSession `json:"session"`
	Forced  bool                    `json:"forced"`
}

// Controller owns every session ownership transition. Acquisition runs
// optimistically: the requested row is written before the hardware command
// and rolled back if the command is not acknowledged, so no port is ever
// left stuck between states.
type Controller struct {
	sessions    SessionStore
	plans       PlanStore
	catalog     PortCatalog
	quota       *QuotaService
	views       *Views
	cache       *ViewCache
	guard       PortGuard
	sender      CommandSender
	activeCache ActiveSessionCache
	reconcile   ReconcileFlags
	logger      *zap.Logger
	cmdTimeout  time.Duration
	newID       func() string
	now         func() time.Time
}

// ControllerDeps collects the controller's collaborators.
type ControllerDeps struct {
	Sessions    SessionStore
	Plans       PlanStore
	Catalog     PortCatalog
	Quota       *QuotaService
	Views       *Views
	Cache       *ViewCache
	Guard       PortGuard
	Sender      CommandSender
	ActiveCache ActiveSessionCache
	Reconcile   ReconcileFlags
	Logger      *zap.Logger
}

// NewController builds the controller. cmdTimeout bounds the wait for
// hardware acknowledgment on both acquire and release.
func NewController(deps ControllerDeps, cmdTimeout time.Duration) *Controller {
	return &Controller{
		sessions:    deps.Sessions,
		plans:       deps.Plans,
		catalog:     deps.Catalog,
		quota:       deps.Quota,
		views:       deps.Views,
		cache:       deps.Cache,
		guard:       deps.Guard,
		sender:      deps.Sender,
		activeCache: deps.ActiveCache,
		reconcile:   deps.Reconcile,
		logger:      deps.Logger,
		cmdTimeout:  cmdTimeout,
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// Acquire starts a session on the port for the user. Preconditions: the port
// reads Available for this caller, the user is under the plan's concurrency
// limit, and the quota ledger has allowance left. The winner is whoever's
// requested row commits first; everyone else gets ErrPortUnavailable.
func (c *Controller) Acquire(ctx context.Context, userID int64, key models.PortKey) (*models.ChargingSession, error) {
	port, err := c.catalog.FindPort(ctx, key)
	if err != nil {
		return nil, err
	}
	if port == nil {
		return nil, ErrPortNotFound
	}

	switch view := c.views.View(userID, key); view.State {
	case models.PortOwnedByCaller:
		// Retry against an established session is a no-op success. A row
		// still in requested is another in-flight acquire that may yet roll
		// back, so it cannot be handed out.
		existing, err := c.sessions.OpenByPort(ctx, key)
		if err == nil && existing != nil && existing.UserID == userID && existing.Status == SessionStatusActive {
			metrics.IncAcquire("noop")
			return existing, nil
		}
		metrics.IncAcquire("port_unavailable")
		return nil, ErrPortUnavailable
	case models.PortOccupiedByOther:
		metrics.IncAcquire("port_unavailable")
		return nil, ErrPortUnavailable
	case models.PortOffline, models.PortUnknown:
		metrics.IncAcquire("device_offline")
		return nil, ErrDeviceOffline
	}

	sub, err := c.quota.CurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := c.plans.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrNoSubscription
	}
	if port.Premium && !plan.PremiumAccess {
		metrics.IncAcquire("premium_required")
		return nil, ErrPremiumRequired
	}

	own, err := c.sessions.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if plan.MaxConcurrent > 0 && len(own) >= plan.MaxConcurrent {
		metrics.IncAcquire("concurrency_limit")
		return nil, ErrConcurrencyLimit
	}

	if RemainingQuota(sub) <= 0 {
		metrics.IncAcquire("quota_exhausted")
		return nil, &QuotaExhaustedError{RemainingMah: 0}
	}

	token, ok := c.lockPort(ctx, key)
	if !ok {
		metrics.IncAcquire("port_unavailable")
		return nil, ErrPortUnavailable
	}
	defer c.unlockPort(ctx, key, token)

	session := &models.ChargingSession{
		ID:         c.newID(),
		UserID:     userID,
		DeviceID:   key.DeviceID,
		PortNumber: key.PortNumber,
		Status:     SessionStatusRequested,
		StartTime:  c.now().UTC(),
	}
	created, err := c.sessions.CreateRequested(ctx, session)
	if err != nil {
		return nil, err
	}
	if !created {
		metrics.IncAcquire("port_unavailable")
		return nil, ErrPortUnavailable
	}
	c.cache.PutSession(*session)

	if err := c.command(ctx, key, true, userID); err != nil {
		c.rollbackRequested(ctx, session)
		metrics.IncAcquire(acquireOutcome(err))
		return nil, err
	}

	session.Status = SessionStatusActive
	if err := c.sessions.MarkActive(ctx, session.ID); err != nil {
		c.logger.Error("failed to activate committed session",
			zap.String("session_id", session.ID), zap.Error(err))
		c.commandBestEffort(key, false, userID)
		c.rollbackRequested(ctx, session)
		return nil, err
	}
	c.cache.PutSession(*session)

	if cacheErr := c.activeCache.Save(ctx, *session); cacheErr != nil {
		c.logger.Warn("failed to cache active session", zap.Error(cacheErr))
	}

	metrics.IncAcquire("granted")
	c.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.Int64("user_id", userID),
		zap.String("port", key.String()))
	return session, nil
}

// Release ends the caller's session on the port. If the hardware never
// acknowledges the OFF the session is closed locally anyway and the port is
// flagged for a forced re-check, so a stuck relay cannot keep billing the
// user or wedge the UI.
func (c *Controller) Release(ctx context.Context, userID int64, key models.PortKey) (*ReleaseResult, error) {
	session, err := c.sessions.OpenByPort(ctx, key)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.UserID != userID {
		return nil, ErrNotSessionOwner
	}

	if session.Status != SessionStatusClosing {
		if err := c.sessions.MarkClosing(ctx, session.ID); err != nil {
			return nil, err
		}
		session.Status = SessionStatusClosing
		c.cache.PutSession(*session)
	}

	forced := false
	if err := c.command(ctx, key, false, userID); err != nil {
		forced = true
		metrics.IncForcedClose()
		c.logger.Warn("off command unacknowledged, force-closing session",
			zap.String("session_id", session.ID),
			zap.String("port", key.String()),
			zap.Error(err))
		if flagErr := c.reconcile.Flag(ctx, key); flagErr != nil {
			c.logger.Warn("failed to flag port for reconciliation", zap.Error(flagErr))
		}
	}

	end := c.now().UTC()
	if err := c.sessions.Close(ctx, session.ID, end); err != nil {
		return nil, err
	}
	session.Status = SessionStatusClosed
	session.EndTime = &end
	c.cache.DropSession(key, session.ID)

	if cacheErr := c.activeCache.Delete(ctx, session.ID); cacheErr != nil {
		c.logger.Warn("failed to drop active session cache", zap.Error(cacheErr))
	}
	if !forced {
		if clearErr := c.reconcile.Clear(ctx, key); clearErr != nil {
			c.logger.Warn("failed to clear reconcile flag", zap.Error(clearErr))
		}
		metrics.IncRelease("closed")
	} else {
		metrics.IncRelease("forced")
	}

	c.logger.Info("session closed",
		zap.String("session_id", session.ID),
		zap.Int64("user_id", userID),
		zap.Bool("forced", forced))
	return &ReleaseResult{Session: session, Forced: forced}, nil
}

// Sessions returns the user's session history, newest first.
func (c *Controller) Sessions(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error) {
	return c.sessions.ListByUser(ctx, userID, limit)
}

// SweepStaleRequested deletes requested rows that outlived the command
// timeout, e.g. after a crash mid-acquire. Without the sweep such a row
// would hold its port's tie-break forever.
func (c *Controller) SweepStaleRequested(ctx context.Context) (int, error) {
	open, err := c.sessions.OpenAll(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := c.now().UTC().Add(-2 * c.cmdTimeout)
	swept := 0
	for i := range open {
		s := &open[i]
		if s.Status != SessionStatusRequested || !s.StartTime.Before(cutoff) {
			continue
		}
		if err := c.sessions.Delete(ctx, s.ID); err != nil {
			c.logger.Warn("failed to sweep stale requested session",
				zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		c.cache.DropSession(s.Port(), s.ID)
		c.logger.Info("swept stale requested session",
			zap.String("session_id", s.ID), zap.String("port", s.Port().String()))
		swept++
	}
	return swept, nil
}

// ActiveSessions returns the user's currently open sessions.
func (c *Controller) ActiveSessions(ctx context.Context, userID int64) ([]models.ChargingSession, error) {
	return c.sessions.ActiveByUser(ctx, userID)
}

// Reconcile retries the relay OFF for flagged ports. A flag clears once
// the device reports the relay off or acknowledges a fresh OFF; offline
// ports stay flagged for the next pass. Ports with a new legitimate
// session are left alone.
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	keys, err := c.reconcile.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	snap := c.cache.Snapshot()
	cleared := 0
	for _, key := range keys {
		row, ok := snap.Status[key]
		if !ok || !row.Online {
			continue
		}
		if row.RelayOn {
			open, err := c.sessions.OpenByPort(ctx, key)
			if err != nil {
				continue
			}
			if open != nil {
				if clearErr := c.reconcile.Clear(ctx, key); clearErr == nil {
					cleared++
				}
				continue
			}
			if err := c.command(ctx, key, false, 0); err != nil {
				c.logger.Warn("reconcile off unacknowledged",
					zap.String("port", key.String()), zap.Error(err))
				continue
			}
		}
		if err := c.reconcile.Clear(ctx, key); err != nil {
			c.logger.Warn("failed to clear reconcile flag",
				zap.String("port", key.String()), zap.Error(err))
			continue
		}
		c.logger.Info("port reconciled", zap.String("port", key.String()))
		cleared++
	}
	return cleared, nil
}

const guardTTLSlack = 5 * time.Second

// lockPort takes the cross-instance guard. A guard held elsewhere means a
// concurrent acquire is mid-flight. Guard store failures degrade to the
// database tie-break alone rather than blocking acquisitions.
func (c *Controller) lockPort(ctx context.Context, key models.PortKey) (string, bool) {
	token, ok, err := c.guard.TryLock(ctx, key, c.cmdTimeout+guardTTLSlack)
	if err != nil {
		c.logger.Warn("port guard unavailable, relying on durable tie-break",
			zap.String("port", key.String()), zap.Error(err))
		return "", true
	}
	return token, ok
}

func (c *Controller) unlockPort(ctx context.Context, key models.PortKey, token string) {
	if token == "" {
		return
	}
	if err := c.guard.Unlock(ctx, key, token); err != nil {
		c.logger.Warn("failed to release port guard",
			zap.String("port", key.String()), zap.Error(err))
	}
}

// command sends a relay command and normalizes the outcome into the error
// taxonomy: deadline expiry becomes ErrCommandTimeout, an offline rejection
// ErrDeviceOffline, any other rejection ErrPortUnavailable.
func (c *Controller) command(ctx context.Context, key models.PortKey, on bool, userID int64) error {
	name := "off"
	if on {
		name = "on"
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	started := time.Now()
	res, err := c.sender.SendControlCommand(cmdCtx, key, on, userID)
	latencyMs := time.Since(started).Milliseconds()

	if err != nil {
		metrics.ObserveCommand(name, latencyMs, false)
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrCommandTimeout
		}
		c.logger.Warn("control command transport failure",
			zap.String("port", key.String()), zap.Error(err))
		return ErrCommandTimeout
	}
	if !res.Accepted {
		metrics.ObserveCommand(name, latencyMs, false)
		if res.Reason == CommandReasonOffline {
			return ErrDeviceOffline
		}
		return ErrPortUnavailable
	}
	metrics.ObserveCommand(name, latencyMs, true)
	return nil
}

// commandBestEffort fires a command without tying it to the request lifetime.
func (c *Controller) commandBestEffort(key models.PortKey, on bool, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cmdTimeout)
	defer cancel()
	if _, err := c.sender.SendControlCommand(ctx, key, on, userID); err != nil {
		c.logger.Warn("best-effort command failed",
			zap.String("port", key.String()), zap.Bool("on", on), zap.Error(err))
	}
}

// rollbackRequested removes a requested row whose command never completed.
func (c *Controller) rollbackRequested(ctx context.Context, session *models.ChargingSession) {
	if err := c.sessions.Delete(ctx, session.ID); err != nil {
		c.logger.Error("failed to roll back requested session",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	c.cache.DropSession(session.Port(), session.ID)
}

func acquireOutcome(err error) string {
	switch {
	case errors.Is(err, ErrCommandTimeout):
		return "command_timeout"
	case errors.Is(err, ErrDeviceOffline):
		return "device_offline"
	default:
		return "port_unavailable"
	}
}
