package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"solarcharge/backend/services/charging-service/internal/http/middleware"
	"solarcharge/backend/services/charging-service/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireUserID pulls the authenticated user from the request context.
func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return 0, false
	}
	return userID, true
}

// writeServiceError maps service errors onto HTTP statuses. The typed
// quota and range errors keep their detail in the payload.
func writeServiceError(w http.ResponseWriter, err error) {
	var quotaErr *service.QuotaExhaustedError
	var rangeErr *service.AmountOutOfRangeError
	switch {
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":         "quota_exhausted",
			"remaining_mah": quotaErr.RemainingMah,
		})
	case errors.As(err, &rangeErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      "amount_out_of_range",
			"amount_mah": rangeErr.AmountMah,
			"min_mah":    rangeErr.MinMah,
			"max_mah":    rangeErr.MaxMah,
		})
	case errors.Is(err, service.ErrPortNotFound):
		writeError(w, http.StatusNotFound, "unknown port")
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "no open session on port")
	case errors.Is(err, service.ErrPortUnavailable):
		writeError(w, http.StatusConflict, "port unavailable")
	case errors.Is(err, service.ErrConcurrencyLimit):
		writeError(w, http.StatusConflict, "concurrent session limit reached")
	case errors.Is(err, service.ErrDeviceOffline):
		writeError(w, http.StatusConflict, "device offline")
	case errors.Is(err, service.ErrCommandTimeout):
		writeError(w, http.StatusGatewayTimeout, "device did not confirm command")
	case errors.Is(err, service.ErrNotSessionOwner):
		writeError(w, http.StatusForbidden, "session belongs to another user")
	case errors.Is(err, service.ErrNoSubscription):
		writeError(w, http.StatusForbidden, "no active subscription")
	case errors.Is(err, service.ErrPremiumRequired):
		writeError(w, http.StatusForbidden, "premium plan required")
	case errors.Is(err, service.ErrQuotaExhausted):
		writeError(w, http.StatusForbidden, "quota exhausted")
	case errors.Is(err, service.ErrNoPricing):
		writeError(w, http.StatusServiceUnavailable, "pricing unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
