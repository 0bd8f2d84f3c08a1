package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"solarcharge/backend/services/charging-service/internal/http/middleware"
	"solarcharge/backend/services/charging-service/internal/models"
	"solarcharge/backend/services/charging-service/internal/service"
)

const testSecret = "test-secret"

func authedRequest(t *testing.T, method, target string, body []byte, userID int64) *http.Request {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return req
}

func protect(h http.HandlerFunc) http.Handler {
	return middleware.Chain(h, middleware.AuthMiddleware(testSecret))
}

type fakeControl struct {
	session *models.ChargingSession
	release *service.ReleaseResult
	list    []models.ChargingSession
	err     error
	gotUser int64
	gotKey  models.PortKey
}

func (f *fakeControl) Acquire(ctx context.Context, userID int64, key models.PortKey) (*models.ChargingSession, error) {
	f.gotUser, f.gotKey = userID, key
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeControl) Release(ctx context.Context, userID int64, key models.PortKey) (*service.ReleaseResult, error) {
	f.gotUser, f.gotKey = userID, key
	if f.err != nil {
		return nil, f.err
	}
	return f.release, nil
}

func (f *fakeControl) Sessions(ctx context.Context, userID int64, limit int) ([]models.ChargingSession, error) {
	return f.list, f.err
}

func (f *fakeControl) ActiveSessions(ctx context.Context, userID int64) ([]models.ChargingSession, error) {
	return f.list, f.err
}

func TestAcquireHappyPath(t *testing.T) {
	ctrl := &fakeControl{session: &models.ChargingSession{
		ID:         "sess-1",
		UserID:     42,
		DeviceID:   "dev-1",
		PortNumber: 1,
		Status:     service.SessionStatusActive,
		StartTime:  time.Now().UTC(),
	}}
	h := NewSessionHandlers(ctrl, zap.NewNop())

	body := []byte(`{"device_id":"dev-1","port":1}`)
	rec := httptest.NewRecorder()
	protect(h.Acquire).ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/ports/acquire", body, 42))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rec.Code, rec.Body.String())
	}
	if ctrl.gotUser != 42 {
		t.Fatalf("controller saw user %d, want 42", ctrl.gotUser)
	}
	if ctrl.gotKey != (models.PortKey{DeviceID: "dev-1", PortNumber: 1}) {
		t.Fatalf("controller saw key %v", ctrl.gotKey)
	}
	var resp struct {
		Session models.ChargingSession `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Session.ID != "sess-1" {
		t.Fatalf("session id = %q", resp.Session.ID)
	}
}

func TestAcquireRequiresToken(t *testing.T) {
	h := NewSessionHandlers(&fakeControl{}, zap.NewNop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ports/acquire", bytes.NewReader([]byte(`{"device_id":"dev-1","port":1}`)))
	protect(h.Acquire).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAcquireRejectsBadBody(t *testing.T) {
	h := NewSessionHandlers(&fakeControl{}, zap.NewNop())
	for _, body := range []string{`not json`, `{"device_id":"","port":1}`, `{"device_id":"dev-1","port":0}`} {
		rec := httptest.NewRecorder()
		protect(h.Acquire).ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/ports/acquire", []byte(body), 42))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestAcquireErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"port unavailable", service.ErrPortUnavailable, http.StatusConflict},
		{"device offline", service.ErrDeviceOffline, http.StatusConflict},
		{"command timeout", service.ErrCommandTimeout, http.StatusGatewayTimeout},
		{"concurrency limit", service.ErrConcurrencyLimit, http.StatusConflict},
		{"no subscription", service.ErrNoSubscription, http.StatusForbidden},
		{"premium required", service.ErrPremiumRequired, http.StatusForbidden},
		{"unknown port", service.ErrPortNotFound, http.StatusNotFound},
		{"quota exhausted", &service.QuotaExhaustedError{RemainingMah: 0}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSessionHandlers(&fakeControl{err: tt.err}, zap.NewNop())
			rec := httptest.NewRecorder()
			body := []byte(`{"device_id":"dev-1","port":1}`)
			protect(h.Acquire).ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/ports/acquire", body, 42))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestQuotaExhaustedCarriesRemaining(t *testing.T) {
	h := NewSessionHandlers(&fakeControl{err: &service.QuotaExhaustedError{RemainingMah: 120}}, zap.NewNop())
	rec := httptest.NewRecorder()
	body := []byte(`{"device_id":"dev-1","port":1}`)
	protect(h.Acquire).ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/ports/acquire", body, 42))

	var resp struct {
		Error        string  `json:"error"`
		RemainingMah float64 `json:"remaining_mah"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "quota_exhausted" || resp.RemainingMah != 120 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestReleaseReportsForcedClose(t *testing.T) {
	end := time.Now().UTC()
	ctrl := &fakeControl{release: &service.ReleaseResult{
		Session: &models.ChargingSession{ID: "sess-1", Status: service.SessionStatusClosed, EndTime: &end},
		Forced:  true,
	}}
	h := NewSessionHandlers(ctrl, zap.NewNop())
	rec := httptest.NewRecorder()
	body := []byte(`{"device_id":"dev-1","port":1}`)
	protect(h.Release).ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/ports/release", body, 42))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp service.ReleaseResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Forced {
		t.Fatal("forced flag not reported")
	}
}

type fakeQuota struct {
	sub *models.Subscription
	err error
}

func (f *fakeQuota) CurrentSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	return f.sub, f.err
}

type fakeExtensions struct {
	result  *service.ExtensionResult
	pricing *models.QuotaPricing
	err     error
}

func (f *fakeExtensions) PurchaseDirect(ctx context.Context, userID int64) (*service.ExtensionResult, error) {
	return f.result, f.err
}

func (f *fakeExtensions) BorrowNextDay(ctx context.Context, userID int64, amountMah float64) (*service.ExtensionResult, error) {
	return f.result, f.err
}

func (f *fakeExtensions) History(ctx context.Context, userID int64, limit int) ([]models.ExtensionTransaction, error) {
	return nil, f.err
}

func (f *fakeExtensions) Pricing(ctx context.Context) (*models.QuotaPricing, error) {
	return f.pricing, f.err
}

func TestQuotaMeReportsLedger(t *testing.T) {
	sub := &models.Subscription{
		PlanID:       "plan-basic",
		BaseLimitMah: 2000,
		DayLimitMah:  2000,
		ConsumedMah:  600,
		BorrowedMah:  0,
		PendingMah:   0,
	}
	h := NewQuotaHandlers(&fakeQuota{sub: sub}, &fakeExtensions{}, zap.NewNop())
	rec := httptest.NewRecorder()
	protect(h.Me).ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/quota/me", nil, 42))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		PlanID       string  `json:"plan_id"`
		RemainingMah float64 `json:"remaining_mah"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PlanID != "plan-basic" {
		t.Fatalf("plan_id = %q, want plan-basic", resp.PlanID)
	}
	if resp.RemainingMah != 1400 {
		t.Fatalf("remaining_mah = %v, want 1400", resp.RemainingMah)
	}
}

func TestQuotaMeWithoutSubscription(t *testing.T) {
	h := NewQuotaHandlers(&fakeQuota{}, &fakeExtensions{}, zap.NewNop())
	rec := httptest.NewRecorder()
	protect(h.Me).ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/quota/me", nil, 42))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestBorrowOutOfRangeCarriesBounds(t *testing.T) {
	h := NewQuotaHandlers(&fakeQuota{}, &fakeExtensions{
		err: &service.AmountOutOfRangeError{AmountMah: 50, MinMah: 100, MaxMah: 1000},
	}, zap.NewNop())
	rec := httptest.NewRecorder()
	body := []byte(`{"amount_mah":50}`)
	protect(h.Borrow).ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/quota/extensions/borrow", body, 42))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Error  string  `json:"error"`
		MinMah float64 `json:"min_mah"`
		MaxMah float64 `json:"max_mah"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "amount_out_of_range" || resp.MinMah != 100 || resp.MaxMah != 1000 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestBorrowRejectsNonPositiveAmount(t *testing.T) {
	h := NewQuotaHandlers(&fakeQuota{}, &fakeExtensions{}, zap.NewNop())
	rec := httptest.NewRecorder()
	body := []byte(`{"amount_mah":-5}`)
	protect(h.Borrow).ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/quota/extensions/borrow", body, 42))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
