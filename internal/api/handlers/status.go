package handlers

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Status handles GET /api/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sync := map[string]any{}
	if rep, running := h.Syncer.Running(); running {
		sync["running"] = rep
	}
	if rep, found := h.Syncer.Last(); found {
		sync["last"] = rep
	}
	ok(w, map[string]any{
		"queue":      h.Engine.Stats(),
		"providers":  h.Pool.Snapshot(),
		"sync":       sync,
		"ws_clients": h.Hub.ClientCount(),
		"started_at": h.started.Format(time.RFC3339),
	})
}

// ListFailures handles GET /api/v1/failures.
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	ok(w, h.Engine.Failures())
}

// RetryFailures handles POST /api/v1/failures/retry.
func (h *Handler) RetryFailures(w http.ResponseWriter, r *http.Request) {
	n := h.Engine.RetryFailed()
	log.Printf("api: %d failed item(s) requeued", n)
	ok(w, map[string]int{"requeued": n})
}

// ReloadProviders handles POST /api/v1/providers/reload.
func (h *Handler) ReloadProviders(w http.ResponseWriter, r *http.Request) {
	// Workers outlive the request.
	if err := h.Pool.Reload(context.WithoutCancel(r.Context())); err != nil {
		fail(w, http.StatusInternalServerError, "reload: "+err.Error())
		return
	}
	ok(w, h.Pool.Snapshot())
}
