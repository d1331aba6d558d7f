package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhenmiao/shopify-translation/internal/config"
	"github.com/lizhenmiao/shopify-translation/internal/db"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return New(database)
}

func boolPtr(b bool) *bool { return &b }

func TestSeedProviders_UpsertByName(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	n, err := l.SeedProviders(ctx, []config.ProviderSeed{
		{Name: "gemini", BaseURL: "https://g.example", ProviderType: "openai", Model: "gemini-2.0-flash", TokensPerMinute: 1000},
		{Name: "groq", BaseURL: "https://q.example", ProviderType: "openai", Model: "llama-3.3-70b", Active: boolPtr(false)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := l.ActiveProviders(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "gemini", active[0].Name)
	assert.Equal(t, 1000, active[0].TokensPerMinute)

	_, err = l.SeedProviders(ctx, []config.ProviderSeed{
		{Name: "gemini", BaseURL: "https://g.example", ProviderType: "openai", Model: "gemini-2.5-flash", TokensPerMinute: 5000},
	})
	require.NoError(t, err)

	all, err := l.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "gemini-2.5-flash", all[0].Model)
	assert.Equal(t, 5000, all[0].TokensPerMinute)
}

func TestUpdateCounters_DayRollover(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	p := &db.Provider{Name: "p", BaseURL: "https://x", Model: "m", IsActive: true}
	require.NoError(t, l.CreateProvider(ctx, p))

	require.NoError(t, l.UpdateCounters(ctx, p.ID, "2026-01-01", 1, 100, 1, 100))
	require.NoError(t, l.UpdateCounters(ctx, p.ID, "2026-01-01", 2, 250, 1, 150))

	got, err := l.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.DailyRequestCount)
	assert.Equal(t, 250, got.DailyTokenCount)
	assert.Equal(t, 2, got.MinuteRequestCount)
	assert.Equal(t, 250, got.MinuteTokenCount)

	require.NoError(t, l.UpdateCounters(ctx, p.ID, "2026-01-02", 1, 40, 1, 40))
	got, err = l.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DailyRequestCount)
	assert.Equal(t, 40, got.DailyTokenCount)
	assert.Equal(t, "2026-01-02", got.CounterDate)

	require.NoError(t, l.ResetDaily(ctx, "2026-01-03"))
	got, err = l.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.DailyRequestCount)
	assert.Zero(t, got.DailyTokenCount)
}

func TestWindowRecords_OnlyRecentSuccesses(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	p := &db.Provider{Name: "p", BaseURL: "https://x", Model: "m", IsActive: true}
	require.NoError(t, l.CreateProvider(ctx, p))

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	logs := []db.UsageLog{
		{ProviderID: p.ID, Model: "m", Status: StatusSuccess, TokensUsed: 10, RequestStartTime: now.Add(-90 * time.Second).UnixMilli()},
		{ProviderID: p.ID, Model: "m", Status: StatusSuccess, TokensUsed: 20, RequestStartTime: now.Add(-30 * time.Second).UnixMilli()},
		{ProviderID: p.ID, Model: "m", Status: StatusError, TokensUsed: 0, RequestStartTime: now.Add(-20 * time.Second).UnixMilli()},
		{ProviderID: p.ID, Model: "m", Status: StatusSuccess, TokensUsed: 30, RequestStartTime: now.Add(-10 * time.Second).UnixMilli()},
	}
	for i := range logs {
		logs[i].RequestEndTime = logs[i].RequestStartTime + 500
		require.NoError(t, l.RecordUsage(ctx, &logs[i]))
		assert.NotEmpty(t, logs[i].RequestID)
		assert.EqualValues(t, 500, logs[i].DurationMs)
	}

	recs, err := l.WindowRecords(ctx, p.ID, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 20, recs[0].Tokens)
	assert.Equal(t, 30, recs[1].Tokens)
	assert.True(t, recs[0].Start.Before(recs[1].Start))
}

func TestUsageSummary(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	a := &db.Provider{Name: "a", BaseURL: "https://x", Model: "m1", IsActive: true}
	b := &db.Provider{Name: "b", BaseURL: "https://y", Model: "m2", IsActive: true}
	require.NoError(t, l.CreateProvider(ctx, a))
	require.NoError(t, l.CreateProvider(ctx, b))

	start := time.Now().UnixMilli()
	require.NoError(t, l.RecordUsage(ctx, &db.UsageLog{ProviderID: a.ID, Model: "m1", Status: StatusSuccess, InputTokens: 70, OutputTokens: 30, TokensUsed: 100, RequestStartTime: start, RequestEndTime: start}))
	require.NoError(t, l.RecordUsage(ctx, &db.UsageLog{ProviderID: a.ID, Model: "m1", Status: StatusError, ErrorMsg: "boom", RequestStartTime: start, RequestEndTime: start}))

	sum, err := l.UsageSummary(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, sum, 2)
	assert.Equal(t, 2, sum[0].Requests)
	assert.Equal(t, 1, sum[0].Errors)
	assert.Equal(t, 100, sum[0].TotalTok)
	assert.Equal(t, 0, sum[1].Requests)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "***", MaskKey("short"))
	assert.Equal(t, "sk-a…3456", MaskKey("sk-abcdef123456"))
}
