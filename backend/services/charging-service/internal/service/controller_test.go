package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/models"
)

type controllerFixture struct {
	ctrl      *Controller
	sessions  *memSessionStore
	subs      *memSubscriptionStore
	plans     *memPlanStore
	cache     *ViewCache
	sender    *fakeSender
	guard     *fakeGuard
	active    *fakeActiveCache
	reconcile *fakeReconcile
	key       models.PortKey
	key2      models.PortKey
}

const commandTimeout = 100 * time.Millisecond

func newControllerFixture(subs ...models.Subscription) *controllerFixture {
	key := models.PortKey{DeviceID: "dev-1", PortNumber: 1}
	key2 := models.PortKey{DeviceID: "dev-1", PortNumber: 2}

	catalog := &memCatalog{
		ports: []models.StationPort{
			{StationID: "st-1", DeviceID: key.DeviceID, PortNumber: key.PortNumber},
			{StationID: "st-1", DeviceID: key2.DeviceID, PortNumber: key2.PortNumber},
			{StationID: "st-1", DeviceID: "dev-2", PortNumber: 1, Premium: true},
		},
		stations: []models.Station{{ID: "st-1", Name: "North Lot"}},
	}

	cache := NewViewCache()
	now := time.Now().UTC()
	cache.ReplaceStatus([]models.DeviceStatusRow{
		{Key: key, Online: true, RelayOn: false, LastReportAt: now},
		{Key: key2, Online: true, RelayOn: false, LastReportAt: now},
		{Key: models.PortKey{DeviceID: "dev-2", PortNumber: 1}, Online: true, RelayOn: false, LastReportAt: now},
	}, now)
	cache.ReplaceConsumption(nil, now)
	cache.ReplaceSessions(nil, now)

	if len(subs) == 0 {
		subs = []models.Subscription{testSubscription(2000)}
	}
	subStore := newMemSubscriptionStore(subs...)
	planStore := newMemPlanStore(models.Plan{
		ID:            "plan-basic",
		Name:          "Basic",
		DailyLimitMah: 2000,
		MaxConcurrent: 1,
	})

	quota := NewQuotaService(subStore, zap.NewNop())
	// Pin the ledger clock inside testSubscription's day so no lazy roll
	// fires mid-test.
	quota.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	agg := NewAggregator(30 * time.Second)
	views := NewViews(cache, agg, catalog)

	fx := &controllerFixture{
		sessions:  newMemSessionStore(),
		subs:      subStore,
		plans:     planStore,
		cache:     cache,
		sender:    &fakeSender{mode: senderModeOK},
		guard:     newFakeGuard(),
		active:    newFakeActiveCache(),
		reconcile: newFakeReconcile(),
		key:       key,
		key2:      key2,
	}
	fx.ctrl = NewController(ControllerDeps{
		Sessions:    fx.sessions,
		Plans:       planStore,
		Catalog:     catalog,
		Quota:       quota,
		Views:       views,
		Cache:       cache,
		Guard:       fx.guard,
		Sender:      fx.sender,
		ActiveCache: fx.active,
		Reconcile:   fx.reconcile,
		Logger:      zap.NewNop(),
	}, commandTimeout)
	return fx
}

func TestAcquireHappyPath(t *testing.T) {
	fx := newControllerFixture()

	session, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if session.Status != SessionStatusActive {
		t.Fatalf("status = %s, want active", session.Status)
	}
	if session.EndTime != nil {
		t.Fatal("end time set on an open session")
	}

	stored, ok := fx.sessions.get(session.ID)
	if !ok || stored.Status != SessionStatusActive {
		t.Fatalf("persisted status = %s, want active", stored.Status)
	}
	if fx.active.size() != 1 {
		t.Fatalf("active cache size = %d, want 1", fx.active.size())
	}

	view := fx.ctrl.views.View(42, fx.key)
	if view.State != models.PortOwnedByCaller {
		t.Fatalf("view after acquire = %s, want owned_by_caller", view.State)
	}
	if view.SessionID != session.ID {
		t.Fatalf("view session = %q, want %q", view.SessionID, session.ID)
	}
}

func TestAcquireMutualExclusionAcrossUsers(t *testing.T) {
	const racers = 6
	subs := make([]models.Subscription, 0, racers)
	for i := 0; i < racers; i++ {
		sub := testSubscription(2000)
		sub.ID = fmt.Sprintf("sub-%d", i+1)
		sub.UserID = int64(100 + i)
		subs = append(subs, sub)
	}
	fx := newControllerFixture(subs...)
	fx.sender.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]error, racers)
	granted := make([]*models.ChargingSession, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			granted[i], results[i] = fx.ctrl.Acquire(context.Background(), int64(100+i), fx.key)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
			if granted[i] == nil {
				t.Fatalf("racer %d won without a session", i)
			}
		case errors.Is(err, ErrPortUnavailable):
		default:
			t.Fatalf("racer %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if fx.sessions.count() != 1 {
		t.Fatalf("session rows = %d, want 1", fx.sessions.count())
	}
}

func TestAcquireSameUserTwoTabs(t *testing.T) {
	fx := newControllerFixture()
	fx.sender.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	var errA, errB error
	var sessA, sessB *models.ChargingSession
	wg.Add(2)
	go func() { defer wg.Done(); sessA, errA = fx.ctrl.Acquire(context.Background(), 42, fx.key) }()
	go func() { defer wg.Done(); sessB, errB = fx.ctrl.Acquire(context.Background(), 42, fx.key) }()
	wg.Wait()

	if fx.sessions.count() != 1 {
		t.Fatalf("session rows = %d, want 1 (no duplicate grant)", fx.sessions.count())
	}
	failures := 0
	for _, err := range []error{errA, errB} {
		if err != nil {
			if !errors.Is(err, ErrPortUnavailable) {
				t.Fatalf("loser error = %v, want ErrPortUnavailable", err)
			}
			failures++
		}
	}
	if failures == 2 {
		t.Fatal("both tabs failed; one must win")
	}
	if errA == nil && errB == nil && sessA.ID != sessB.ID {
		t.Fatalf("two distinct sessions granted: %s vs %s", sessA.ID, sessB.ID)
	}
}

func TestAcquireIdempotentRetry(t *testing.T) {
	fx := newControllerFixture()

	first, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	commandsAfterFirst := fx.sender.callCount()

	second, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("retry created a new session %s, want %s", second.ID, first.ID)
	}
	if fx.sessions.count() != 1 {
		t.Fatalf("session rows = %d, want 1", fx.sessions.count())
	}
	if fx.sender.callCount() != commandsAfterFirst {
		t.Fatal("retry must not re-command the hardware")
	}
}

func TestAcquireCommandTimeoutRollsBack(t *testing.T) {
	fx := newControllerFixture()
	fx.sender.setMode(senderModeHang)

	start := time.Now()
	_, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("err = %v, want ErrCommandTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*commandTimeout {
		t.Fatalf("acquire blocked %v, want bounded by command timeout", elapsed)
	}

	if fx.sessions.count() != 0 {
		t.Fatalf("session rows = %d, want 0 after rollback", fx.sessions.count())
	}
	if view := fx.ctrl.views.View(42, fx.key); view.State != models.PortAvailable {
		t.Fatalf("view after rollback = %s, want available", view.State)
	}

	// The port is immediately acquirable again.
	fx.sender.setMode(senderModeOK)
	if _, err := fx.ctrl.Acquire(context.Background(), 42, fx.key); err != nil {
		t.Fatalf("acquire after rollback: %v", err)
	}
}

func TestAcquireRejectionMapping(t *testing.T) {
	tests := []struct {
		mode string
		want error
	}{
		{senderModeOffline, ErrDeviceOffline},
		{senderModeReject, ErrPortUnavailable},
	}
	for _, tc := range tests {
		fx := newControllerFixture()
		fx.sender.setMode(tc.mode)

		if _, err := fx.ctrl.Acquire(context.Background(), 42, fx.key); !errors.Is(err, tc.want) {
			t.Fatalf("mode %s: err = %v, want %v", tc.mode, err, tc.want)
		}
		if fx.sessions.count() != 0 {
			t.Fatalf("mode %s: session rows = %d, want 0", tc.mode, fx.sessions.count())
		}
	}
}

func TestAcquireQuotaExhausted(t *testing.T) {
	sub := testSubscription(2000)
	sub.ConsumedMah = 2000
	fx := newControllerFixture(sub)

	_, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}
	var qe *QuotaExhaustedError
	if !errors.As(err, &qe) || qe.RemainingMah != 0 {
		t.Fatalf("error carries no remaining detail: %v", err)
	}
	if fx.sender.callCount() != 0 {
		t.Fatal("hardware commanded despite exhausted quota")
	}
}

func TestAcquireConcurrencyLimit(t *testing.T) {
	fx := newControllerFixture()

	if _, err := fx.ctrl.Acquire(context.Background(), 42, fx.key); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	_, err := fx.ctrl.Acquire(context.Background(), 42, fx.key2)
	if !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("err = %v, want ErrConcurrencyLimit", err)
	}
}

func TestAcquireOfflinePort(t *testing.T) {
	fx := newControllerFixture()
	stale := time.Now().UTC().Add(-time.Hour)
	fx.cache.ReplaceStatus([]models.DeviceStatusRow{
		{Key: fx.key, Online: true, RelayOn: false, LastReportAt: stale},
	}, time.Now().UTC())

	_, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if !errors.Is(err, ErrDeviceOffline) {
		t.Fatalf("err = %v, want ErrDeviceOffline", err)
	}
	if fx.sender.callCount() != 0 {
		t.Fatal("hardware commanded despite offline device")
	}
}

func TestAcquireUnknownPort(t *testing.T) {
	fx := newControllerFixture()
	missing := models.PortKey{DeviceID: "ghost", PortNumber: 9}
	if _, err := fx.ctrl.Acquire(context.Background(), 42, missing); !errors.Is(err, ErrPortNotFound) {
		t.Fatalf("err = %v, want ErrPortNotFound", err)
	}
}

func TestAcquirePremiumGate(t *testing.T) {
	fx := newControllerFixture()
	premium := models.PortKey{DeviceID: "dev-2", PortNumber: 1}
	if _, err := fx.ctrl.Acquire(context.Background(), 42, premium); !errors.Is(err, ErrPremiumRequired) {
		t.Fatalf("err = %v, want ErrPremiumRequired", err)
	}
}

func TestAcquireProceedsWhenGuardStoreDown(t *testing.T) {
	fx := newControllerFixture()
	fx.guard.broken = true

	if _, err := fx.ctrl.Acquire(context.Background(), 42, fx.key); err != nil {
		t.Fatalf("acquire with broken guard: %v", err)
	}
	if fx.sessions.count() != 1 {
		t.Fatalf("session rows = %d, want 1", fx.sessions.count())
	}
}

func TestReleaseHappyPath(t *testing.T) {
	fx := newControllerFixture()
	session, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	res, err := fx.ctrl.Release(context.Background(), 42, fx.key)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Forced {
		t.Fatal("clean release reported as forced")
	}
	if res.Session.ID != session.ID || res.Session.Status != SessionStatusClosed {
		t.Fatalf("released session = %+v, want closed %s", res.Session, session.ID)
	}
	if res.Session.EndTime == nil {
		t.Fatal("closed session has no end time")
	}
	if fx.active.size() != 0 {
		t.Fatalf("active cache size = %d, want 0", fx.active.size())
	}
	if view := fx.ctrl.views.View(42, fx.key); view.State != models.PortAvailable {
		t.Fatalf("view after release = %s, want available", view.State)
	}
}

func TestReleaseTimeoutForcesCloseAndFlags(t *testing.T) {
	fx := newControllerFixture()
	session, err := fx.ctrl.Acquire(context.Background(), 42, fx.key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	fx.sender.setMode(senderModeHang)

	res, err := fx.ctrl.Release(context.Background(), 42, fx.key)
	if err != nil {
		t.Fatalf("forced release must not error: %v", err)
	}
	if !res.Forced {
		t.Fatal("expected forced close")
	}
	stored, _ := fx.sessions.get(session.ID)
	if stored.Status != SessionStatusClosed {
		t.Fatalf("persisted status = %s, want closed", stored.Status)
	}
	if !fx.reconcile.isFlagged(fx.key) {
		t.Fatal("port not flagged for reconciliation")
	}
}

func TestReleaseRequiresOwnership(t *testing.T) {
	fx := newControllerFixture()
	if _, err := fx.ctrl.Acquire(context.Background(), 42, fx.key); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := fx.ctrl.Release(context.Background(), 7, fx.key); !errors.Is(err, ErrNotSessionOwner) {
		t.Fatalf("err = %v, want ErrNotSessionOwner", err)
	}
	if _, err := fx.ctrl.Release(context.Background(), 42, fx.key2); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSweepStaleRequested(t *testing.T) {
	fx := newControllerFixture()
	stale := &models.ChargingSession{
		ID:         "stuck-1",
		UserID:     42,
		DeviceID:   fx.key.DeviceID,
		PortNumber: fx.key.PortNumber,
		Status:     SessionStatusRequested,
		StartTime:  time.Now().UTC().Add(-time.Minute),
	}
	if created, err := fx.sessions.CreateRequested(context.Background(), stale); err != nil || !created {
		t.Fatalf("seed stale row: created=%v err=%v", created, err)
	}

	swept, err := fx.ctrl.SweepStaleRequested(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if fx.sessions.count() != 0 {
		t.Fatalf("session rows = %d, want 0", fx.sessions.count())
	}

	// The port acquires normally again.
	if _, err := fx.ctrl.Acquire(context.Background(), 42, fx.key); err != nil {
		t.Fatalf("acquire after sweep: %v", err)
	}
}

func (fx *controllerFixture) setPortStatus(key models.PortKey, online, relayOn bool) {
	now := time.Now().UTC()
	fx.cache.ReplaceStatus([]models.DeviceStatusRow{
		{Key: key, Online: online, RelayOn: relayOn, LastReportAt: now},
	}, now)
}

func TestReconcileClearsWhenRelayAlreadyOff(t *testing.T) {
	fx := newControllerFixture()
	if err := fx.reconcile.Flag(context.Background(), fx.key); err != nil {
		t.Fatalf("flag: %v", err)
	}
	fx.setPortStatus(fx.key, true, false)

	cleared, err := fx.ctrl.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if fx.reconcile.isFlagged(fx.key) {
		t.Fatal("flag survived a clean reconcile")
	}
	if fx.sender.callCount() != 0 {
		t.Fatalf("sender calls = %d, want 0", fx.sender.callCount())
	}
}

func TestReconcileRetriesOffForStuckRelay(t *testing.T) {
	fx := newControllerFixture()
	if err := fx.reconcile.Flag(context.Background(), fx.key); err != nil {
		t.Fatalf("flag: %v", err)
	}
	fx.setPortStatus(fx.key, true, true)

	cleared, err := fx.ctrl.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if fx.sender.callCount() != 1 {
		t.Fatalf("sender calls = %d, want 1", fx.sender.callCount())
	}
	if fx.reconcile.isFlagged(fx.key) {
		t.Fatal("flag survived an acknowledged off")
	}
}

func TestReconcileKeepsOfflinePortFlagged(t *testing.T) {
	fx := newControllerFixture()
	if err := fx.reconcile.Flag(context.Background(), fx.key); err != nil {
		t.Fatalf("flag: %v", err)
	}
	fx.setPortStatus(fx.key, false, true)

	cleared, err := fx.ctrl.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cleared != 0 {
		t.Fatalf("cleared = %d, want 0", cleared)
	}
	if !fx.reconcile.isFlagged(fx.key) {
		t.Fatal("offline port lost its flag")
	}
	if fx.sender.callCount() != 0 {
		t.Fatalf("sender calls = %d, want 0", fx.sender.callCount())
	}
}

func TestReconcileLeavesNewSessionAlone(t *testing.T) {
	fx := newControllerFixture()

	// A new session legitimately owns the port by the time the pass runs.
	if _, err := fx.ctrl.Acquire(context.Background(), 42, fx.key); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	onCommands := fx.sender.callCount()

	if err := fx.reconcile.Flag(context.Background(), fx.key); err != nil {
		t.Fatalf("flag: %v", err)
	}
	fx.setPortStatus(fx.key, true, true)

	cleared, err := fx.ctrl.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if fx.sender.callCount() != onCommands {
		t.Fatal("reconcile sent a command against an owned port")
	}
}
