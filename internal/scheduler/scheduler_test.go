package scheduler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/jobs"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
)

type fakeTranslator struct{ reqs []jobs.Request }

func (f *fakeTranslator) Submit(_ context.Context, req jobs.Request) (jobs.Ack, error) {
	f.reqs = append(f.reqs, req)
	return jobs.Ack{Enqueued: 3}, nil
}

type syncCall struct{ types, locales []string }

type fakeSyncer struct{ calls []syncCall }

func (f *fakeSyncer) Start(_ context.Context, types, locales []string) (*shopify.Report, error) {
	f.calls = append(f.calls, syncCall{types, locales})
	return &shopify.Report{}, nil
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return New(database, opts)
}

func TestCreateListDelete(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	s := &db.Schedule{Name: "nightly fr", CronExpr: "0 30 2 * * *", TargetLocale: "fr", ResourceTypes: "PRODUCT,PAGE", Enabled: true}
	require.NoError(t, e.Create(ctx, s))
	assert.NotZero(t, s.ID)
	assert.Equal(t, KindTranslate, s.Kind)
	assert.Equal(t, 1, e.Jobs())

	off := &db.Schedule{Name: "weekly sync", CronExpr: "@weekly", Kind: KindSync}
	require.NoError(t, e.Create(ctx, off))
	assert.Equal(t, 1, e.Jobs(), "disabled schedules are not registered")

	list, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "nightly fr", list[0].Name)
	assert.True(t, list[0].Enabled)
	assert.True(t, list[0].NextRun.Valid)
	assert.False(t, list[1].Enabled)

	require.NoError(t, e.SetEnabled(ctx, off.ID, true))
	assert.Equal(t, 2, e.Jobs())

	require.NoError(t, e.Delete(ctx, s.ID))
	assert.Equal(t, 1, e.Jobs())
	list, err = e.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		s    db.Schedule
		ok   bool
	}{
		{"translate", db.Schedule{Name: "a", CronExpr: "0 0 * * * *", Kind: KindTranslate, TargetLocale: "de"}, true},
		{"sync descriptor", db.Schedule{Name: "a", CronExpr: "@daily", Kind: KindSync}, true},
		{"five fields", db.Schedule{Name: "a", CronExpr: "0 * * * *", Kind: KindSync}, false},
		{"no target", db.Schedule{Name: "a", CronExpr: "@hourly", Kind: KindTranslate}, false},
		{"bad kind", db.Schedule{Name: "a", CronExpr: "@hourly", Kind: "push"}, false},
		{"no name", db.Schedule{CronExpr: "@hourly", Kind: KindSync}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.s)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			}
		})
	}
}

func TestRun(t *testing.T) {
	tr := &fakeTranslator{}
	sy := &fakeSyncer{}
	e := newTestEngine(t, Options{Translator: tr, Syncer: sy})
	ctx := context.Background()

	require.NoError(t, e.run(ctx, db.Schedule{ID: 1, Kind: KindTranslate, SourceLocale: "en", TargetLocale: "fr", ResourceTypes: " PRODUCT , PAGE,"}))
	require.Len(t, tr.reqs, 1)
	assert.Equal(t, jobs.Request{SourceLocale: "en", TargetLocale: "fr", ResourceTypes: []string{"PRODUCT", "PAGE"}}, tr.reqs[0])

	require.NoError(t, e.run(ctx, db.Schedule{ID: 2, Kind: KindSync, TargetLocale: "fr,de"}))
	require.Len(t, sy.calls, 1)
	assert.Nil(t, sy.calls[0].types)
	assert.Equal(t, []string{"fr", "de"}, sy.calls[0].locales)

	assert.Error(t, newTestEngine(t, Options{}).run(ctx, db.Schedule{Kind: KindSync}))
}

func TestStart_RegistersBuiltins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newTestEngine(t, Options{
		Syncer:     &fakeSyncer{},
		DailyReset: func(context.Context, string) {},
		SyncCron:   "0 0 */6 * * *",
	})
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, 2, e.Jobs())

	bad := newTestEngine(t, Options{Syncer: &fakeSyncer{}, SyncCron: "every day"})
	assert.Error(t, bad.Start(ctx))
}
