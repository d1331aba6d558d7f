// Package api sets up the HTTP routes and middleware for the shoptrans REST API.
package api

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/api/handlers"
	"github.com/lizhenmiao/shopify-translation/internal/auth"
	"github.com/lizhenmiao/shopify-translation/internal/db"
)

// SetupRoutes registers all HTTP routes on the given ServeMux.
// Uses Go 1.22 method+pattern routing syntax. ws may be nil.
func SetupRoutes(mux *http.ServeMux, database *db.DB, deps handlers.Deps, ws http.HandlerFunc) {
	h := handlers.New(deps)

	requireAuth := func(next http.HandlerFunc) http.Handler {
		return auth.RequireAPIKey(database, next)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Translation and sync
	mux.Handle("POST /api/v1/translations/batch", requireAuth(h.SubmitBatch))
	mux.Handle("POST /api/v1/resources/sync", requireAuth(h.StartSync))
	mux.Handle("GET /api/v1/locales", requireAuth(h.ListLocales))
	mux.Handle("GET /api/v1/resource-types", requireAuth(h.ListResourceTypes))

	// Engine state
	mux.Handle("GET /api/v1/status", requireAuth(h.Status))
	mux.Handle("GET /api/v1/failures", requireAuth(h.ListFailures))
	mux.Handle("POST /api/v1/failures/retry", requireAuth(h.RetryFailures))

	// Providers
	mux.Handle("GET /api/v1/providers", requireAuth(h.ListProviders))
	mux.Handle("POST /api/v1/providers", requireAuth(h.CreateProvider))
	mux.Handle("PUT /api/v1/providers/{id}/active", requireAuth(h.SetProviderActive))
	mux.Handle("POST /api/v1/providers/reload", requireAuth(h.ReloadProviders))

	// Usage
	mux.Handle("GET /api/v1/usage", requireAuth(h.GetUsage))

	// Schedules
	mux.Handle("GET /api/v1/schedules", requireAuth(h.ListSchedules))
	mux.Handle("POST /api/v1/schedules", requireAuth(h.CreateSchedule))
	mux.Handle("GET /api/v1/schedules/{id}", requireAuth(h.GetSchedule))
	mux.Handle("PUT /api/v1/schedules/{id}", requireAuth(h.UpdateSchedule))
	mux.Handle("DELETE /api/v1/schedules/{id}", requireAuth(h.DeleteSchedule))

	// Webhooks
	mux.Handle("GET /api/v1/webhooks", requireAuth(h.ListWebhooks))
	mux.Handle("POST /api/v1/webhooks/test", requireAuth(h.TestWebhook))

	// WebSocket event stream
	if ws != nil {
		mux.Handle("GET /ws", requireAuth(ws))
	}
}

// Middleware wraps the router with panic recovery and request logging.
func Middleware(next http.Handler) http.Handler {
	return loggingMiddleware(recoveryMiddleware(next))
}

// loggingMiddleware logs each request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("api: %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				log.Printf("api: panic: %v", rv)
				http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
