// Package handlers provides HTTP handler implementations for the shoptrans REST API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/jobs"
	"github.com/lizhenmiao/shopify-translation/internal/ledger"
	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
	"github.com/lizhenmiao/shopify-translation/internal/worker"
)

// Translator accepts batch-translate submissions.
type Translator interface {
	Submit(ctx context.Context, req jobs.Request) (jobs.Ack, error)
}

// Syncer runs content syncs in the background.
type Syncer interface {
	Start(ctx context.Context, types, locales []string) (*shopify.Report, error)
	Running() (shopify.Report, bool)
	Last() (shopify.Report, bool)
}

// Locales lists the shop's locales.
type Locales interface {
	ShopLocales(ctx context.Context, refresh bool) ([]shopify.Locale, error)
}

// Engine is the scheduling manager.
type Engine interface {
	Stats() manager.Stats
	Failures() []manager.Failure
	RetryFailed() int
}

// Pool is the running provider workers.
type Pool interface {
	Snapshot() []worker.Status
	Reload(ctx context.Context) error
}

// Ledger stores providers and their usage.
type Ledger interface {
	ListProviders(ctx context.Context) ([]db.Provider, error)
	CreateProvider(ctx context.Context, p *db.Provider) error
	SetActive(ctx context.Context, id int64, active bool) error
	UsageSummary(ctx context.Context, since time.Time) ([]ledger.ProviderUsage, error)
}

// Schedules manages cron schedules.
type Schedules interface {
	List(ctx context.Context) ([]db.Schedule, error)
	Get(ctx context.Context, id int) (db.Schedule, error)
	Create(ctx context.Context, s *db.Schedule) error
	SetEnabled(ctx context.Context, id int, enabled bool) error
	Delete(ctx context.Context, id int) error
}

// Webhooks is the outbound webhook dispatcher.
type Webhooks interface {
	URLs() []string
	Test(ctx context.Context, url string) error
}

// Hub streams events over WebSocket.
type Hub interface {
	ClientCount() int
}

// Deps holds the dependencies injected into the handlers.
type Deps struct {
	Translator Translator
	Syncer     Syncer
	Locales    Locales
	Engine     Engine
	Pool       Pool
	Ledger     Ledger
	Schedules  Schedules
	Webhooks   Webhooks
	Hub        Hub
}

// Handler holds all shared dependencies for API handler methods.
type Handler struct {
	Deps
	started time.Time
	now     func() time.Time
}

// New creates a Handler with all dependencies.
func New(deps Deps) *Handler {
	return &Handler{Deps: deps, started: time.Now(), now: time.Now}
}

// ── Response helpers ──────────────────────────────────────────────────────────

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

func accepted(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

func fail(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response{Success: false, Error: msg})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathID(r *http.Request, name string) string {
	return r.PathValue(name)
}
