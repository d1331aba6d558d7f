package shopify

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/db"
)

type fakeSource struct {
	locales      []Locale
	resources    map[string][]Resource            // by type
	translations map[string]map[string][]Resource // by locale, then resource id
}

func (f *fakeSource) ShopLocales(context.Context, bool) ([]Locale, error) { return f.locales, nil }

func (f *fakeSource) TranslatableResources(_ context.Context, rt string) ([]Resource, error) {
	return f.resources[rt], nil
}

func (f *fakeSource) TranslatableResourcesByIDs(_ context.Context, ids []string, locale string) ([]Resource, error) {
	var out []Resource
	for _, id := range ids {
		out = append(out, f.translations[locale][id]...)
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Send(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

const (
	hat   = "gid://shopify/Product/1"
	scarf = "gid://shopify/Product/2"
)

func newSyncFixture(t *testing.T) (*Syncer, *catalog.Catalog, *fakeSource, *recorder) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	cat := catalog.New(database)

	src := &fakeSource{
		locales: []Locale{{Locale: "en", Primary: true}, {Locale: "fr"}, {Locale: "de"}},
		resources: map[string][]Resource{
			"PRODUCT": {
				{ResourceID: hat, TranslatableContent: []Content{
					{Key: "title", Value: "Hat", Digest: "h1", Locale: "en"},
					{Key: "body_html", Value: "<p>Warm</p>", Digest: "h2", Locale: "en"},
				}},
				{ResourceID: scarf, TranslatableContent: []Content{
					{Key: "title", Value: "Scarf", Digest: "s1", Locale: "en"},
				}},
			},
		},
		translations: map[string]map[string][]Resource{"fr": {}},
	}
	rec := &recorder{}
	s := NewSyncer(src, cat, rec)
	s.StepDelay = 0
	return s, cat, src, rec
}

func frNode(id string, content []Content, trs ...Translation) Resource {
	return Resource{ResourceID: id, TranslatableContent: content, Translations: trs}
}

func status(t *testing.T, cat *catalog.Catalog, id, key, locale string) (db.SyncStatus, sql.NullString) {
	t.Helper()
	it, ok, err := cat.Item(context.Background(), catalog.Slot{ResourceID: id, Key: key}, locale)
	require.NoError(t, err)
	require.True(t, ok, "row %s %s %s missing", id, key, locale)
	return it.SyncStatus, it.Content
}

func TestSync_DerivesTargetStatuses(t *testing.T) {
	s, cat, src, rec := newSyncFixture(t)
	ctx := context.Background()
	hatContent := src.resources["PRODUCT"][0].TranslatableContent
	scarfContent := src.resources["PRODUCT"][1].TranslatableContent
	src.translations["fr"][hat] = []Resource{frNode(hat, hatContent,
		Translation{Key: "title", Value: "Chapeau", UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		Translation{Key: "body_html", Value: "<p>Chaud</p>", Outdated: true},
		Translation{Key: "legacy", Value: "Ancien"},
	)}
	src.translations["fr"][scarf] = []Resource{frNode(scarf, scarfContent)}

	rep, err := s.Sync(ctx, []string{"PRODUCT", "NOT_A_TYPE"}, []string{"fr", "en", "xx"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PRODUCT"}, rep.ResourceTypes)
	assert.Equal(t, []string{"fr"}, rep.Locales)
	assert.Equal(t, "en", rep.PrimaryLocale)
	assert.Equal(t, 2, rep.Resources)
	assert.Equal(t, 3, rep.SourceItems)
	assert.Equal(t, 4, rep.TargetItems)
	assert.Empty(t, rep.Error)

	st, content := status(t, cat, hat, "title", "en")
	assert.Equal(t, db.StatusSynced, st)
	assert.Equal(t, "Hat", content.String)

	st, content = status(t, cat, hat, "title", "fr")
	assert.Equal(t, db.StatusSynced, st)
	assert.Equal(t, "Chapeau", content.String)

	st, _ = status(t, cat, hat, "body_html", "fr")
	assert.Equal(t, db.StatusStale, st)

	st, content = status(t, cat, scarf, "title", "fr")
	assert.Equal(t, db.StatusNeedsTranslation, st)
	assert.False(t, content.Valid)

	st, content = status(t, cat, hat, "legacy", "fr")
	assert.Equal(t, db.StatusSynced, st)
	assert.Equal(t, "Ancien", content.String)

	cands, err := cat.Candidates(ctx, catalog.Query{SourceLocale: "en", TargetLocale: "fr"})
	require.NoError(t, err)
	assert.Len(t, cands, 2)

	assert.Equal(t, []string{EventSyncCompleted}, rec.events)
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last.SourceItems)
	_, running := s.Running()
	assert.False(t, running)
}

func TestSync_KeepsLocalWorkAndMarksMissingRows(t *testing.T) {
	s, cat, src, _ := newSyncFixture(t)
	ctx := context.Background()
	hatContent := src.resources["PRODUCT"][0].TranslatableContent
	src.translations["fr"][hat] = []Resource{frNode(hat, hatContent)}
	src.translations["fr"][scarf] = []Resource{frNode(scarf, src.resources["PRODUCT"][1].TranslatableContent)}
	_, err := s.Sync(ctx, []string{"PRODUCT"}, []string{"fr"})
	require.NoError(t, err)

	// Local work between syncs.
	require.NoError(t, cat.ApplyTranslation(ctx, catalog.Slot{ResourceID: hat, Key: "title"}, "fr", "Chapeau"))
	require.NoError(t, cat.UpsertItems(ctx, []db.ResourceItem{{
		ResourceID: hat, Key: "body_html", Locale: "fr", SyncStatus: db.StatusLocallyDeleted,
	}}))

	// Shopify drops the scarf's title and still has no translations.
	src.resources["PRODUCT"][1].TranslatableContent = []Content{{Key: "description", Value: "Long", Digest: "s2", Locale: "en"}}
	src.translations["fr"][scarf] = []Resource{frNode(scarf, src.resources["PRODUCT"][1].TranslatableContent)}

	rep, err := s.Sync(ctx, []string{"PRODUCT"}, []string{"fr"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)

	st, content := status(t, cat, hat, "title", "fr")
	assert.Equal(t, db.StatusTranslated, st)
	assert.Equal(t, "Chapeau", content.String)

	st, _ = status(t, cat, hat, "body_html", "fr")
	assert.Equal(t, db.StatusLocallyDeleted, st)

	st, _ = status(t, cat, scarf, "title", "fr")
	assert.Equal(t, db.StatusDeleted, st)
	st, _ = status(t, cat, scarf, "title", "en")
	assert.Equal(t, db.StatusDeleted, st)
	st, _ = status(t, cat, scarf, "description", "fr")
	assert.Equal(t, db.StatusNeedsTranslation, st)
}

func TestSync_RejectsUnsupportedRequest(t *testing.T) {
	s, _, _, _ := newSyncFixture(t)
	_, err := s.Sync(context.Background(), []string{"COOKIE_BANNER"}, []string{"fr"})
	assert.ErrorIs(t, err, ErrNothingToSync)
	_, err = s.Sync(context.Background(), []string{"PRODUCT"}, []string{"en"})
	assert.ErrorIs(t, err, ErrNothingToSync)
}

func TestValidate_EmptyMeansAll(t *testing.T) {
	s, _, _, _ := newSyncFixture(t)
	types, locales, err := s.Validate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, catalog.SupportedResourceTypes(), types)
	assert.Equal(t, []string{"fr", "de"}, locales)
}

func TestSync_OneRunAtATime(t *testing.T) {
	s, _, _, _ := newSyncFixture(t)
	_, err := s.begin([]string{"PRODUCT"}, []string{"fr"})
	require.NoError(t, err)
	_, err = s.Start(context.Background(), []string{"PRODUCT"}, []string{"fr"})
	assert.ErrorIs(t, err, ErrSyncRunning)
}

func TestDeriveStatus(t *testing.T) {
	fresh := Translation{Key: "k", Value: "v"}
	stale := Translation{Key: "k", Value: "v", Outdated: true}
	cases := []struct {
		name       string
		prev       db.SyncStatus
		existed    bool
		tr         Translation
		translated bool
		want       db.SyncStatus
	}{
		{"new row untranslated", 0, false, Translation{}, false, db.StatusNeedsTranslation},
		{"new row translated", 0, false, fresh, true, db.StatusSynced},
		{"new row outdated", 0, false, stale, true, db.StatusStale},
		{"local translation kept", db.StatusTranslated, true, fresh, true, db.StatusTranslated},
		{"local translation without remote", db.StatusTranslated, true, Translation{}, false, db.StatusTranslated},
		{"local translation outdated", db.StatusTranslated, true, stale, true, db.StatusStale},
		{"local deletion kept", db.StatusLocallyDeleted, true, fresh, true, db.StatusLocallyDeleted},
		{"deleted row revived", db.StatusDeleted, true, Translation{}, false, db.StatusNeedsTranslation},
		{"synced row went stale", db.StatusSynced, true, stale, true, db.StatusStale},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.prev, tc.existed, tc.tr, tc.translated))
		})
	}
}
