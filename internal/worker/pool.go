package worker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/clock"
	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/limiter"
	"github.com/lizhenmiao/shopify-translation/internal/llm"
	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/prompt"
)

// Store is the provider side of the usage ledger.
type Store interface {
	Ledger
	ActiveProviders(ctx context.Context) ([]db.Provider, error)
	WindowRecords(ctx context.Context, providerID int64, since time.Time) ([]limiter.Record, error)
}

// Registry is the part of the manager the pool wires workers into.
type Registry interface {
	Scheduler
	AddModel(model string)
	Register(w manager.Starter)
	Unregister(w manager.Starter)
}

// ClientFactory builds the translation client of a provider.
type ClientFactory func(p db.Provider, timeout time.Duration) llm.Translator

// DefaultClientFactory returns an OpenAI-compatible client.
func DefaultClientFactory(p db.Provider, timeout time.Duration) llm.Translator {
	return llm.New(p.BaseURL, p.APIKey, timeout)
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Worker      Options
	MinInterval time.Duration
	NewClient   ClientFactory // optional
	Clock       clock.Clock   // optional
}

// Pool keeps one Worker per active provider.
type Pool struct {
	mu       sync.Mutex
	workers  map[int64]*Worker
	store    Store
	registry Registry
	asm      *prompt.Assembler
	notifier Notifier
	clock    clock.Clock
	opts     PoolOptions
}

// NewPool creates a Pool with all the shared dependencies.
func NewPool(store Store, registry Registry, asm *prompt.Assembler, notifier Notifier, opts PoolOptions) *Pool {
	if opts.NewClient == nil {
		opts.NewClient = DefaultClientFactory
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Pool{
		workers:  make(map[int64]*Worker),
		store:    store,
		registry: registry,
		asm:      asm,
		notifier: notifier,
		clock:    opts.Clock,
		opts:     opts,
	}
}

// LoadWorkers reads active providers and starts a worker for each one not
// already running.
func (p *Pool) LoadWorkers(ctx context.Context) error {
	providers, err := p.store.ActiveProviders(ctx)
	if err != nil {
		return fmt.Errorf("pool.LoadWorkers: %w", err)
	}
	for _, prov := range providers {
		p.mu.Lock()
		_, running := p.workers[prov.ID]
		p.mu.Unlock()
		if running {
			continue
		}
		if err := p.startOne(ctx, prov); err != nil {
			log.Printf("pool: provider %q: %v", prov.Name, err)
		}
	}
	log.Printf("pool: %d provider worker(s) active", p.Len())
	return nil
}

// startOne restores the provider's window from the last minute of usage
// logs and its persisted daily counters, makes its model known to the
// scheduler, then registers and starts the worker.
func (p *Pool) startOne(ctx context.Context, prov db.Provider) error {
	now := p.clock.Now()
	records, err := p.store.WindowRecords(ctx, prov.ID, now.Add(-limiter.WindowSpan))
	if err != nil {
		return fmt.Errorf("pool.startOne: %w", err)
	}
	day := limiter.DayKey(now)
	dailyReq, dailyTok := 0, 0
	if prov.CounterDate == day {
		dailyReq, dailyTok = prov.DailyRequestCount, prov.DailyTokenCount
	}
	window := limiter.NewWindow(limitsOf(prov), p.opts.MinInterval)
	window.Restore(records, day, dailyReq, dailyTok)

	p.registry.AddModel(prov.Model)

	w := New(prov, window, p.opts.NewClient(prov, p.opts.Worker.RequestTimeout), p.asm,
		p.registry, p.store, p.notifier, p.clock, p.opts.Worker)
	p.mu.Lock()
	p.workers[prov.ID] = w
	p.mu.Unlock()
	p.registry.Register(w)
	w.Start()

	log.Printf("worker[%d]: started for %s (%s), %d request(s) in window", prov.ID, prov.Name, prov.Model, len(records))
	return nil
}

// Reload brings the pool in line with the providers table: new providers
// get a worker, deactivated ones are stopped, changed endpoints or keys are
// restarted and changed limits are applied in place.
func (p *Pool) Reload(ctx context.Context) error {
	providers, err := p.store.ActiveProviders(ctx)
	if err != nil {
		return fmt.Errorf("pool.Reload: %w", err)
	}
	active := make(map[int64]db.Provider, len(providers))
	for _, prov := range providers {
		active[prov.ID] = prov
	}

	p.mu.Lock()
	var stale []*Worker
	for id, w := range p.workers {
		prov, ok := active[id]
		old := w.Provider()
		if ok && prov.BaseURL == old.BaseURL && prov.APIKey == old.APIKey && prov.Model == old.Model {
			w.Window().SetLimits(limitsOf(prov))
			continue
		}
		stale = append(stale, w)
		delete(p.workers, id)
	}
	p.mu.Unlock()

	for _, w := range stale {
		p.registry.Unregister(w)
		w.Stop()
		log.Printf("worker[%d]: stopped", w.Provider().ID)
	}
	return p.LoadWorkers(ctx)
}

// ResetDaily clears every worker's in-memory daily counters and wakes the
// workers that idled on an exhausted daily quota.
func (p *Pool) ResetDaily() {
	now := p.clock.Now()
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		w.Window().ResetDaily(now)
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		w.Wake()
	}
}

// Snapshot returns the status of every worker ordered by provider id.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	out := make([]Status, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Len returns the number of workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// StopAll stops every worker and waits for in-progress calls to finish.
func (p *Pool) StopAll() {
	p.mu.Lock()
	workers := p.workers
	p.workers = make(map[int64]*Worker)
	p.mu.Unlock()

	for _, w := range workers {
		p.registry.Unregister(w)
		w.Stop()
	}
}

func limitsOf(p db.Provider) limiter.Limits {
	return limiter.Limits{
		RequestsPerMinute: p.RequestsPerMinute,
		RequestsPerDay:    p.RequestsPerDay,
		TokensPerMinute:   p.TokensPerMinute,
		TokensPerDay:      p.TokensPerDay,
	}
}
