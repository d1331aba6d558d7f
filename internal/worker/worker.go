// Package worker runs one pull loop per translation provider. Each loop
// admits requests against the provider's quotas, pulls a right-sized batch
// from the manager, calls the provider and reports the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/clock"
	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/ledger"
	"github.com/lizhenmiao/shopify-translation/internal/limiter"
	"github.com/lizhenmiao/shopify-translation/internal/llm"
	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/prompt"
)

// Event names emitted through Notifier.
const (
	EventBatchDispatched   = "batch.dispatched"
	EventBatchCompleted    = "batch.completed"
	EventProviderThrottled = "provider.throttled"
	EventProviderResumed   = "provider.resumed"
)

// Scheduler hands out batches and takes their outcomes.
type Scheduler interface {
	RequestBatch(model string, budget int) manager.Batch
	ReportSuccess(ctx context.Context, items []*manager.WorkItem, translations []string)
	ReportFailure(ctx context.Context, items []*manager.WorkItem, err error)
}

// Ledger persists usage.
type Ledger interface {
	RecordUsage(ctx context.Context, u *db.UsageLog) error
	UpdateCounters(ctx context.Context, providerID int64, day string, windowRequests, windowTokens, addRequests, addTokens int) error
}

// Notifier receives engine events.
type Notifier interface {
	Send(event string, payload any)
}

// Options tunes a Worker.
type Options struct {
	MaxTokens       int           // hard cap on a single request
	RequestTimeout  time.Duration // per translation call
	RescheduleDelay time.Duration // pause between iterations
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 2 * time.Minute
	}
	if o.RescheduleDelay <= 0 {
		o.RescheduleDelay = 100 * time.Millisecond
	}
	return o
}

// Status is a point-in-time view of a Worker.
type Status struct {
	ProviderID       int64          `json:"provider_id"`
	Name             string         `json:"name"`
	Model            string         `json:"model"`
	Running          bool           `json:"running"`
	Available        bool           `json:"available"`
	UnavailableUntil *time.Time     `json:"unavailable_until,omitempty"`
	Limits           limiter.Limits `json:"limits"`
	Usage            limiter.Usage  `json:"usage"`
	Batches          int            `json:"batches"`
	Failures         int            `json:"failures"`
	LastError        string         `json:"last_error,omitempty"`
}

// Worker drives one provider. Iterations are scheduled on the clock, never
// overlap, and stop when the queue has nothing this provider can take; Start
// resumes them.
type Worker struct {
	provider db.Provider
	window   *limiter.Window
	client   llm.Translator
	asm      *prompt.Assembler
	sched    Scheduler
	ledger   Ledger
	notifier Notifier
	clock    clock.Clock
	opts     Options

	stepMu sync.Mutex // held for the duration of an iteration

	mu               sync.Mutex
	running          bool
	kicked           bool // Start arrived while an iteration was in progress
	available        bool
	stopped          bool
	timer            clock.Timer
	unavailableUntil time.Time
	batches          int
	failures         int
	lastError        string
}

// New creates a Worker for provider. The window must already hold the
// provider's restored usage.
func New(provider db.Provider, window *limiter.Window, client llm.Translator, asm *prompt.Assembler,
	sched Scheduler, usage Ledger, notifier Notifier, clk clock.Clock, opts Options) *Worker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Worker{
		provider:  provider,
		window:    window,
		client:    client,
		asm:       asm,
		sched:     sched,
		ledger:    usage,
		notifier:  notifier,
		clock:     clk,
		opts:      opts.withDefaults(),
		available: true,
	}
}

// Start begins polling. It is a no-op while the loop is already running,
// while the provider is cooling down after a throttle, and after Stop.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || !w.available {
		return
	}
	if w.running {
		w.kicked = true
		return
	}
	w.running = true
	w.kicked = false
	w.timer = w.clock.AfterFunc(0, w.step)
}

// Wake is Start that also pulls a pending wait forward, for when the quota
// changed under a sleeping loop.
func (w *Worker) Wake() {
	w.mu.Lock()
	if w.running && !w.stopped && w.available && w.timer != nil && w.timer.Stop() {
		w.timer = w.clock.AfterFunc(0, w.step)
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.Start()
}

// Stop ends the loop for good and waits for an in-progress iteration.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	// Wait out a running step.
	w.stepMu.Lock()
	defer w.stepMu.Unlock()
}

// Provider returns the provider row the worker was built from.
func (w *Worker) Provider() db.Provider { return w.provider }

// Window returns the provider's quota window.
func (w *Worker) Window() *limiter.Window { return w.window }

// Status returns a snapshot for the status endpoint.
func (w *Worker) Status() Status {
	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		ProviderID: w.provider.ID,
		Name:       w.provider.Name,
		Model:      w.provider.Model,
		Running:    w.running,
		Available:  w.available,
		Limits:     w.window.Limits(),
		Usage:      w.window.Usage(now),
		Batches:    w.batches,
		Failures:   w.failures,
		LastError:  w.lastError,
	}
	if !w.available {
		until := w.unavailableUntil
		s.UnavailableUntil = &until
	}
	return s
}

func (w *Worker) step() {
	w.stepMu.Lock()
	defer w.stepMu.Unlock()

	w.mu.Lock()
	if w.stopped || !w.available {
		w.running = false
		w.mu.Unlock()
		return
	}
	w.kicked = false
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker[%d]: panic recovered: %v", w.provider.ID, r)
			w.reschedule(w.opts.RescheduleDelay)
		}
	}()

	now := w.clock.Now()
	if ok, wait := w.window.CanSend(now); !ok {
		w.reschedule(wait)
		return
	}

	budget := w.window.FreeBudget(now, w.opts.MaxTokens)
	batch := w.sched.RequestBatch(w.provider.Model, budget)
	if batch.Reason == manager.ReasonInsufficientBudget {
		if wait, ok := w.window.UntilBudgetGrows(now); ok {
			w.reschedule(wait)
			return
		}
		// Nothing is counted against the budget, so it cannot grow.
		log.Printf("worker[%d]: no pending item fits a budget of %d tokens, idling", w.provider.ID, budget)
		w.idle()
		return
	}
	if len(batch.Items) == 0 {
		w.idle()
		return
	}

	if cooldown, throttled := w.dispatch(batch); throttled {
		w.throttle(cooldown)
		return
	}
	w.reschedule(w.opts.RescheduleDelay)
}

// dispatch performs one provider call for batch and reports the outcome.
// It returns the cooldown when the provider throttled the call.
func (w *Worker) dispatch(batch manager.Batch) (time.Duration, bool) {
	segments := make([]string, len(batch.Items))
	for i, it := range batch.Items {
		segments[i] = it.SourceText
	}
	req := llm.Request{
		Model:    w.provider.Model,
		System:   w.asm.SystemPrompt(batch.SourceLocale, batch.TargetLocale),
		User:     w.asm.Assemble(segments),
		JSONMode: w.asm.Strategy() == prompt.JSON,
	}

	start := w.clock.Now()
	w.window.MarkRequest(start)
	log.Printf("worker[%d]: dispatching %d item(s) %s-%s, ~%d tokens", w.provider.ID, len(batch.Items),
		batch.SourceLocale, batch.TargetLocale, batch.TotalTokens)
	w.notify(EventBatchDispatched, map[string]any{
		"provider": w.provider.Name,
		"items":    len(batch.Items),
		"tokens":   batch.TotalTokens,
		"pair":     batch.SourceLocale + "-" + batch.TargetLocale,
	})

	ctx, cancel := context.WithTimeout(context.Background(), w.opts.RequestTimeout)
	resp, err := w.client.Complete(ctx, req)
	cancel()
	end := w.clock.Now()

	// Bookkeeping outlives the call's timeout.
	bg := context.Background()
	usage := &db.UsageLog{
		ProviderID:           w.provider.ID,
		Model:                w.provider.Model,
		APIKey:               w.provider.APIKey,
		EstimatedInputTokens: batch.TotalTokens,
		RequestStartTime:     start.UnixMilli(),
		RequestEndTime:       end.UnixMilli(),
		RequestParams:        fmt.Sprintf(`{"items":%d,"source":%q,"target":%q}`, len(batch.Items), batch.SourceLocale, batch.TargetLocale),
	}

	if err != nil {
		err = w.classify(err)
		usage.Status = ledger.StatusError
		usage.ErrorMsg = err.Error()
		if lerr := w.ledger.RecordUsage(bg, usage); lerr != nil {
			log.Printf("worker[%d]: warning: record usage: %v", w.provider.ID, lerr)
		}
		w.mu.Lock()
		w.failures++
		w.lastError = err.Error()
		w.mu.Unlock()
		log.Printf("worker[%d]: call failed: %v", w.provider.ID, err)

		w.sched.ReportFailure(bg, batch.Items, err)

		var rl *limiter.ErrRateLimit
		if errors.As(err, &rl) {
			return rl.Cooldown, true
		}
		return 0, false
	}

	tokens := resp.Usage.TotalTokens
	if tokens <= 0 {
		tokens = batch.TotalTokens
	}
	w.window.Add(limiter.Record{Start: start, Tokens: tokens}, end)
	u := w.window.Usage(end)
	if err := w.ledger.UpdateCounters(bg, w.provider.ID, u.Day, u.WindowRequests, u.WindowTokens, 1, tokens); err != nil {
		log.Printf("worker[%d]: warning: update counters: %v", w.provider.ID, err)
	}
	usage.Status = ledger.StatusSuccess
	usage.InputTokens = resp.Usage.PromptTokens
	usage.OutputTokens = resp.Usage.CompletionTokens
	usage.TokensUsed = tokens
	usage.ResponseData = resp.ID
	if err := w.ledger.RecordUsage(bg, usage); err != nil {
		log.Printf("worker[%d]: warning: record usage: %v", w.provider.ID, err)
	}

	translations := w.asm.Split(resp.Text)
	w.sched.ReportSuccess(bg, batch.Items, translations)

	w.mu.Lock()
	w.batches++
	w.mu.Unlock()
	w.notify(EventBatchCompleted, map[string]any{
		"provider":    w.provider.Name,
		"items":       len(batch.Items),
		"segments":    len(translations),
		"tokens":      tokens,
		"duration_ms": end.Sub(start).Milliseconds(),
	})
	return 0, false
}

// classify turns throttling replies into *limiter.ErrRateLimit: HTTP 429,
// throttling wording, or an explicit "retry after" hint.
func (w *Worker) classify(err error) error {
	msg := err.Error()
	status := 0
	retryAfter := ""
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
		status = apiErr.Status
		retryAfter = apiErr.RetryAfter
	}

	cooldown, hinted := limiter.RetryHint(msg)
	throttled := status == http.StatusTooManyRequests || limiter.LooksRateLimited(msg) || hinted
	if !throttled || (apiErr != nil && apiErr.Terminal()) {
		return err
	}
	if !hinted {
		// No usable hint means retry right away; the minimum interval still
		// spaces the calls.
		cooldown = 0
		if secs, perr := strconv.Atoi(strings.TrimSpace(retryAfter)); perr == nil && secs > 0 {
			cooldown = time.Duration(secs) * time.Second
		}
	}
	return &limiter.ErrRateLimit{Cooldown: cooldown, Message: msg}
}

// throttle marks the provider unavailable for cooldown and schedules its
// return.
func (w *Worker) throttle(cooldown time.Duration) {
	until := w.clock.Now().Add(cooldown)
	w.mu.Lock()
	w.available = false
	w.running = false
	w.unavailableUntil = until
	w.timer = w.clock.AfterFunc(cooldown, w.resume)
	w.mu.Unlock()

	log.Printf("worker[%d]: throttled, unavailable until %s", w.provider.ID, until.Format(time.RFC3339))
	w.notify(EventProviderThrottled, map[string]any{
		"provider": w.provider.Name,
		"cooldown": cooldown.String(),
		"until":    until,
	})
}

func (w *Worker) resume() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.available = true
	w.unavailableUntil = time.Time{}
	w.timer = nil
	w.mu.Unlock()

	log.Printf("worker[%d]: cooldown over, resuming", w.provider.ID)
	w.notify(EventProviderResumed, map[string]any{"provider": w.provider.Name})
	w.Start()
}

func (w *Worker) reschedule(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || !w.available {
		w.running = false
		return
	}
	w.timer = w.clock.AfterFunc(d, w.step)
}

// idle parks the loop unless Start was called during the iteration.
func (w *Worker) idle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.kicked && !w.stopped && w.available {
		w.kicked = false
		w.timer = w.clock.AfterFunc(0, w.step)
		return
	}
	w.running = false
	w.timer = nil
}

func (w *Worker) notify(event string, payload any) {
	if w.notifier != nil {
		w.notifier.Send(event, payload)
	}
}
