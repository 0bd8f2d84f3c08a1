package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// SyncControl gates the polling scheduler.
type SyncControl interface {
	Pause()
	Resume(ctx context.Context)
}

// SyncHandlers lets clients signal visibility so polling stops while
// nobody is watching.
type SyncHandlers struct {
	sched  SyncControl
	logger *zap.Logger
}

// NewSyncHandlers builds handler set.
func NewSyncHandlers(sched SyncControl, logger *zap.Logger) *SyncHandlers {
	return &SyncHandlers{sched: sched, logger: logger}
}

// Pause handles POST /api/sync/pause.
func (h *SyncHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	h.sched.Pause()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "paused"})
}

// Resume handles POST /api/sync/resume. The reply is sent only after the
// immediate refresh completes, so the next read sees fresh state.
func (h *SyncHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	h.sched.Resume(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}
