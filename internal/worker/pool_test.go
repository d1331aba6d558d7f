package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/clock"
	"github.com/lizhenmiao/shopify-translation/internal/config"
	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/ledger"
	"github.com/lizhenmiao/shopify-translation/internal/llm"
	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/prompt"
	"github.com/lizhenmiao/shopify-translation/internal/tokenizer"
)

type poolFixture struct {
	clk     *clock.Fake
	ledger  *ledger.Ledger
	mgr     *manager.Manager
	pool    *Pool
	clients map[string]*fakeClient
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	asm, err := prompt.New(prompt.Options{Strategy: prompt.JSON})
	require.NoError(t, err)
	counter := tokenizer.NewWithLoader(func(string) (tokenizer.Encoder, error) {
		return nil, errors.New("offline")
	})

	f := &poolFixture{
		clk:     clock.NewFake(t0),
		ledger:  ledger.New(database),
		clients: map[string]*fakeClient{},
	}
	f.mgr = manager.New(manager.Options{Assembler: asm, Counter: counter, Store: &fakeCatalog{}, Clock: f.clk})
	f.pool = NewPool(f.ledger, f.mgr, asm, nil, PoolOptions{
		Clock: f.clk,
		NewClient: func(p db.Provider, _ time.Duration) llm.Translator {
			c := &fakeClient{}
			f.clients[p.Name] = c
			return c
		},
	})
	t.Cleanup(f.pool.StopAll)
	return f
}

func (f *poolFixture) seed(t *testing.T, seeds ...config.ProviderSeed) {
	t.Helper()
	_, err := f.ledger.SeedProviders(context.Background(), seeds)
	require.NoError(t, err)
}

func (f *poolFixture) provider(t *testing.T, name string) db.Provider {
	t.Helper()
	all, err := f.ledger.ListProviders(context.Background())
	require.NoError(t, err)
	for _, p := range all {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("provider %q not found", name)
	return db.Provider{}
}

func TestPool_LoadWorkersRestoresWindow(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	f.seed(t, config.ProviderSeed{Name: "gemini", BaseURL: "https://g.example", Model: "gemini-2.0-flash", APIKey: "k1", RequestsPerMinute: 10})
	p := f.provider(t, "gemini")

	require.NoError(t, f.ledger.UpdateCounters(ctx, p.ID, "2026-05-04", 0, 0, 5, 500))
	for _, u := range []db.UsageLog{
		{ProviderID: p.ID, Status: ledger.StatusSuccess, TokensUsed: 100, RequestStartTime: t0.Add(-90 * time.Second).UnixMilli()},
		{ProviderID: p.ID, Status: ledger.StatusSuccess, TokensUsed: 120, RequestStartTime: t0.Add(-30 * time.Second).UnixMilli()},
		{ProviderID: p.ID, Status: ledger.StatusError, RequestStartTime: t0.Add(-20 * time.Second).UnixMilli()},
		{ProviderID: p.ID, Status: ledger.StatusSuccess, TokensUsed: 80, RequestStartTime: t0.Add(-10 * time.Second).UnixMilli()},
	} {
		u := u
		require.NoError(t, f.ledger.RecordUsage(ctx, &u))
	}

	require.NoError(t, f.pool.LoadWorkers(ctx))
	require.Equal(t, 1, f.pool.Len())

	snap := f.pool.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "gemini", snap[0].Name)
	assert.Equal(t, 10, snap[0].Limits.RequestsPerMinute)
	assert.Equal(t, 2, snap[0].Usage.WindowRequests)
	assert.Equal(t, 200, snap[0].Usage.WindowTokens)
	assert.Equal(t, 5, snap[0].Usage.DailyRequests)
	assert.Equal(t, 500, snap[0].Usage.DailyTokens)

	// A second load does not duplicate the worker.
	require.NoError(t, f.pool.LoadWorkers(ctx))
	assert.Equal(t, 1, f.pool.Len())

	f.pool.ResetDaily()
	assert.Zero(t, f.pool.Snapshot()[0].Usage.DailyRequests)
}

func TestPool_StaleDailyCountersAreIgnored(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	f.seed(t, config.ProviderSeed{Name: "groq", BaseURL: "https://q.example", Model: "llama-3.3-70b", APIKey: "k"})
	p := f.provider(t, "groq")
	require.NoError(t, f.ledger.UpdateCounters(ctx, p.ID, "2026-05-03", 0, 0, 40, 4000))

	require.NoError(t, f.pool.LoadWorkers(ctx))
	assert.Zero(t, f.pool.Snapshot()[0].Usage.DailyTokens)
}

func TestPool_ReloadAppliesProviderChanges(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	f.seed(t,
		config.ProviderSeed{Name: "gemini", BaseURL: "https://g.example", Model: "gemini-2.0-flash", APIKey: "k1", TokensPerMinute: 1000},
		config.ProviderSeed{Name: "groq", BaseURL: "https://q.example", Model: "llama-3.3-70b", APIKey: "k2"},
	)
	require.NoError(t, f.pool.LoadWorkers(ctx))
	require.Equal(t, 2, f.pool.Len())
	geminiClient := f.clients["gemini"]

	// Limits change in place; the key change on groq restarts its worker.
	f.seed(t,
		config.ProviderSeed{Name: "gemini", BaseURL: "https://g.example", Model: "gemini-2.0-flash", APIKey: "k1", TokensPerMinute: 5000},
		config.ProviderSeed{Name: "groq", BaseURL: "https://q.example", Model: "llama-3.3-70b", APIKey: "k3"},
	)
	require.NoError(t, f.pool.Reload(ctx))
	require.Equal(t, 2, f.pool.Len())
	assert.Same(t, geminiClient, f.clients["gemini"])
	assert.Equal(t, 5000, f.pool.Snapshot()[0].Limits.TokensPerMinute)

	require.NoError(t, f.ledger.SetActive(ctx, f.provider(t, "groq").ID, false))
	require.NoError(t, f.pool.Reload(ctx))
	snap := f.pool.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "gemini", snap[0].Name)
}

func TestPool_WorkersDrainQueue(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	f.seed(t, config.ProviderSeed{Name: "gemini", BaseURL: "https://g.example", Model: "gemini-2.0-flash", APIKey: "k1"})
	require.NoError(t, f.pool.LoadWorkers(ctx))

	f.mgr.Enqueue(ctx, []catalog.Candidate{cand("1", "fr", "Hello"), cand("2", "fr", "Goodbye")})
	f.clk.Advance(0)

	assert.Equal(t, 1, f.clients["gemini"].callCount())
	assert.Equal(t, 2, f.mgr.Stats().Succeeded)

	summary, err := f.ledger.UsageSummary(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, 1, summary[0].Requests)
	assert.Equal(t, 42, summary[0].TotalTok)
}

func TestPool_ResetDailyWakesWaitingWorkers(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	f.seed(t, config.ProviderSeed{Name: "gemini", BaseURL: "https://g.example", Model: "gemini-2.0-flash", APIKey: "k1", TokensPerDay: 1000})
	p := f.provider(t, "gemini")
	require.NoError(t, f.ledger.UpdateCounters(ctx, p.ID, "2026-05-04", 0, 0, 9, 995))
	require.NoError(t, f.pool.LoadWorkers(ctx))

	f.mgr.Enqueue(ctx, []catalog.Candidate{cand("1", "fr", "Hello")})
	f.clk.Advance(0)
	require.Zero(t, f.clients["gemini"].callCount())

	f.pool.ResetDaily()
	f.clk.Advance(0)
	assert.Equal(t, 1, f.clients["gemini"].callCount())
	assert.Equal(t, 1, f.mgr.Stats().Succeeded)
}
