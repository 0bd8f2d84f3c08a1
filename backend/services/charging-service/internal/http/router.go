package httpserver

import (
	"net/http"

	"solarcharge/backend/services/charging-service/internal/http/handlers"
	"solarcharge/backend/services/charging-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	PortsHandlers   *handlers.PortsHandlers
	SessionHandlers *handlers.SessionHandlers
	QuotaHandlers   *handlers.QuotaHandlers
	SyncHandlers    *handlers.SyncHandlers
	HealthHandler   http.HandlerFunc
	MetricsHandler  http.Handler
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))
	if deps.MetricsHandler != nil {
		mux.Handle("/metrics", method(http.MethodGet, deps.MetricsHandler))
	}

	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	mux.Handle("/api/stations", method(http.MethodGet, authenticated(deps.PortsHandlers.Stations)))
	mux.Handle("/api/stations/ports", method(http.MethodGet, authenticated(deps.PortsHandlers.StationPorts)))
	mux.Handle("/api/ports", method(http.MethodGet, authenticated(deps.PortsHandlers.List)))
	mux.Handle("/api/ports/view", method(http.MethodGet, authenticated(deps.PortsHandlers.View)))
	mux.Handle("/api/ports/acquire", method(http.MethodPost, authenticated(deps.SessionHandlers.Acquire)))
	mux.Handle("/api/ports/release", method(http.MethodPost, authenticated(deps.SessionHandlers.Release)))

	mux.Handle("/api/sessions/me", method(http.MethodGet, authenticated(deps.SessionHandlers.Me)))
	mux.Handle("/api/sessions/active", method(http.MethodGet, authenticated(deps.SessionHandlers.Active)))

	mux.Handle("/api/quota/me", method(http.MethodGet, authenticated(deps.QuotaHandlers.Me)))
	mux.Handle("/api/quota/pricing", method(http.MethodGet, authenticated(deps.QuotaHandlers.Pricing)))
	mux.Handle("/api/quota/extensions", method(http.MethodGet, authenticated(deps.QuotaHandlers.History)))
	mux.Handle("/api/quota/extensions/direct", method(http.MethodPost, authenticated(deps.QuotaHandlers.PurchaseDirect)))
	mux.Handle("/api/quota/extensions/borrow", method(http.MethodPost, authenticated(deps.QuotaHandlers.Borrow)))

	mux.Handle("/api/sync/pause", method(http.MethodPost, authenticated(deps.SyncHandlers.Pause)))
	mux.Handle("/api/sync/resume", method(http.MethodPost, authenticated(deps.SyncHandlers.Resume)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
