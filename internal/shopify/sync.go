package shopify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/db"
)

// EventSyncCompleted is emitted after every sync run, failed or not.
const EventSyncCompleted = "sync.completed"

var (
	// ErrSyncRunning is returned when a sync is requested while one runs.
	ErrSyncRunning = errors.New("a sync is already running")
	// ErrNothingToSync is returned when no requested type or locale is supported.
	ErrNothingToSync = errors.New("no supported resource type or locale requested")
)

// Source is the read side of the Shopify API the syncer needs.
type Source interface {
	ShopLocales(ctx context.Context, refresh bool) ([]Locale, error)
	TranslatableResources(ctx context.Context, resourceType string) ([]Resource, error)
	TranslatableResourcesByIDs(ctx context.Context, ids []string, locale string) ([]Resource, error)
}

// Store is the catalog side of a sync.
type Store interface {
	UpsertResources(ctx context.Context, resources []db.Resource) error
	UpsertItems(ctx context.Context, items []db.ResourceItem) error
	MarkDeleted(ctx context.Context, resourceType, locale string) (int64, error)
	MarkSlotsDeleted(ctx context.Context, slots []catalog.Slot, locale string) error
	Statuses(ctx context.Context, resourceIDs []string, locale string) (map[catalog.Slot]db.SyncStatus, error)
}

// Notifier receives the sync.completed event.
type Notifier interface {
	Send(event string, payload any)
}

// Report summarises one sync run.
type Report struct {
	ResourceTypes []string  `json:"resource_types"`
	Locales       []string  `json:"locales"`
	PrimaryLocale string    `json:"primary_locale"`
	Resources     int       `json:"resources"`
	SourceItems   int       `json:"source_items"`
	TargetItems   int       `json:"target_items"`
	Deleted       int       `json:"deleted"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Syncer mirrors Shopify content into the catalog. One run at a time.
type Syncer struct {
	source   Source
	store    Store
	notifier Notifier
	// StepDelay is the pause between resource types and locales.
	StepDelay time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running *Report
	last    *Report
}

// NewSyncer creates a Syncer.
func NewSyncer(source Source, store Store, notifier Notifier) *Syncer {
	return &Syncer{source: source, store: store, notifier: notifier, StepDelay: 5 * time.Second, now: time.Now}
}

// Validate keeps the supported resource types and the shop's non-primary
// locales of the request. An empty list selects every type or locale.
func (s *Syncer) Validate(ctx context.Context, types, locales []string) ([]string, []string, error) {
	shopLocales, err := s.source.ShopLocales(ctx, false)
	if err != nil {
		return nil, nil, fmt.Errorf("shopify.Validate: %w", err)
	}
	known := make(map[string]bool, len(shopLocales))
	var all []string
	for _, l := range shopLocales {
		if !l.Primary {
			known[l.Locale] = true
			all = append(all, l.Locale)
		}
	}
	if len(types) == 0 {
		types = catalog.SupportedResourceTypes()
	}
	if len(locales) == 0 {
		locales = all
	}
	var okTypes, okLocales []string
	for _, t := range types {
		if catalog.IsSupportedResourceType(t) {
			okTypes = append(okTypes, t)
		}
	}
	for _, l := range locales {
		if known[l] {
			okLocales = append(okLocales, l)
		}
	}
	if len(okTypes) == 0 || len(okLocales) == 0 {
		return nil, nil, ErrNothingToSync
	}
	return okTypes, okLocales, nil
}

// Start validates the request and runs the sync in the background.
func (s *Syncer) Start(ctx context.Context, types, locales []string) (*Report, error) {
	types, locales, err := s.Validate(ctx, types, locales)
	if err != nil {
		return nil, err
	}
	rep, err := s.begin(types, locales)
	if err != nil {
		return nil, err
	}
	snapshot := *rep
	go s.run(context.Background(), rep)
	return &snapshot, nil
}

// Sync validates the request and runs the sync in the calling goroutine.
func (s *Syncer) Sync(ctx context.Context, types, locales []string) (Report, error) {
	types, locales, err := s.Validate(ctx, types, locales)
	if err != nil {
		return Report{}, err
	}
	rep, err := s.begin(types, locales)
	if err != nil {
		return Report{}, err
	}
	err = s.run(ctx, rep)
	return *rep, err
}

// Running returns the in-progress run, if any.
func (s *Syncer) Running() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return Report{}, false
	}
	return *s.running, true
}

// Last returns the most recent finished run, if any.
func (s *Syncer) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

func (s *Syncer) begin(types, locales []string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != nil {
		return nil, ErrSyncRunning
	}
	s.running = &Report{ResourceTypes: types, Locales: locales, StartedAt: s.now()}
	return s.running, nil
}

func (s *Syncer) run(ctx context.Context, rep *Report) error {
	err := s.syncAll(ctx, rep)

	s.mu.Lock()
	rep.FinishedAt = s.now()
	if err != nil {
		rep.Error = err.Error()
	}
	done := *rep
	s.last = &done
	s.running = nil
	s.mu.Unlock()

	if err != nil {
		log.Printf("shopify: sync failed: %v", err)
	} else {
		log.Printf("shopify: sync done: %d resource(s), %d source row(s), %d target row(s), %d deleted",
			done.Resources, done.SourceItems, done.TargetItems, done.Deleted)
	}
	if s.notifier != nil {
		s.notifier.Send(EventSyncCompleted, done)
	}
	return err
}

func (s *Syncer) syncAll(ctx context.Context, rep *Report) error {
	ids := make(map[string][]string, len(rep.ResourceTypes))
	for _, rt := range rep.ResourceTypes {
		log.Printf("shopify: [%s] fetching primary-locale content", rt)
		got, err := s.syncSource(ctx, rt, rep)
		if err != nil {
			return err
		}
		ids[rt] = got
	}

	for _, locale := range rep.Locales {
		for _, rt := range rep.ResourceTypes {
			if len(ids[rt]) == 0 {
				continue
			}
			log.Printf("shopify: [%s %s] fetching translations", rt, locale)
			for start := 0; start < len(ids[rt]); start += PageSize {
				chunk := ids[rt][start:min(start+PageSize, len(ids[rt]))]
				if err := s.syncTarget(ctx, rt, locale, chunk, rep); err != nil {
					return err
				}
			}
			if err := sleep(ctx, s.StepDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncSource refreshes the primary-locale rows of one resource type: every
// row is marked deleted, then the rows Shopify still returns are revived
// with status synced. It returns the resource ids seen.
func (s *Syncer) syncSource(ctx context.Context, resourceType string, rep *Report) ([]string, error) {
	resources, err := s.source.TranslatableResources(ctx, resourceType)
	if err != nil {
		return nil, fmt.Errorf("shopify.syncSource: %w", err)
	}
	if len(resources) == 0 {
		return nil, nil
	}
	primary := ""
	for _, r := range resources {
		if len(r.TranslatableContent) > 0 {
			primary = r.TranslatableContent[0].Locale
			break
		}
	}
	if primary == "" {
		return nil, fmt.Errorf("shopify.syncSource: %s: no primary locale in content", resourceType)
	}
	rep.PrimaryLocale = primary

	if _, err := s.store.MarkDeleted(ctx, resourceType, primary); err != nil {
		return nil, fmt.Errorf("shopify.syncSource: %w", err)
	}

	now := s.now()
	var res []db.Resource
	var items []db.ResourceItem
	var ids []string
	for _, r := range resources {
		if r.ResourceID == "" || len(r.TranslatableContent) == 0 {
			continue
		}
		ids = append(ids, r.ResourceID)
		res = append(res, db.Resource{ResourceID: r.ResourceID, ResourceType: resourceType, LastSynced: now})
		for _, c := range r.TranslatableContent {
			items = append(items, db.ResourceItem{
				ResourceID:   r.ResourceID,
				Key:          c.Key,
				Locale:       c.Locale,
				Content:      sql.NullString{String: c.Value, Valid: true},
				DigestHash:   c.Digest,
				SyncStatus:   db.StatusSynced,
				LastSynced:   sql.NullTime{Time: now, Valid: true},
				LastModified: sql.NullTime{Time: now, Valid: true},
			})
		}
	}
	if err := s.store.UpsertResources(ctx, res); err != nil {
		return nil, fmt.Errorf("shopify.syncSource: %w", err)
	}
	if err := s.store.UpsertItems(ctx, items); err != nil {
		return nil, fmt.Errorf("shopify.syncSource: %w", err)
	}
	rep.Resources += len(res)
	rep.SourceItems += len(items)
	log.Printf("shopify: [%s] %d resource(s), %d row(s) in %s", resourceType, len(res), len(items), primary)
	return ids, nil
}

// syncTarget refreshes the rows of one locale for a chunk of resources.
// Rows that Shopify no longer returns are marked deleted.
func (s *Syncer) syncTarget(ctx context.Context, resourceType, locale string, ids []string, rep *Report) error {
	resources, err := s.source.TranslatableResourcesByIDs(ctx, ids, locale)
	if err != nil {
		return fmt.Errorf("shopify.syncTarget: %w", err)
	}
	previous, err := s.store.Statuses(ctx, ids, locale)
	if err != nil {
		return fmt.Errorf("shopify.syncTarget: %w", err)
	}

	now := s.now()
	seen := make(map[catalog.Slot]bool)
	kept := 0
	var res []db.Resource
	var items []db.ResourceItem
	for _, r := range resources {
		if r.ResourceID == "" || len(r.TranslatableContent) == 0 {
			continue
		}
		res = append(res, db.Resource{ResourceID: r.ResourceID, ResourceType: resourceType, LastSynced: now})

		byKey := make(map[string]Translation, len(r.Translations))
		for _, t := range r.Translations {
			byKey[t.Key] = t
		}
		hasContent := make(map[string]bool, len(r.TranslatableContent))

		for _, c := range r.TranslatableContent {
			hasContent[c.Key] = true
			slot := catalog.Slot{ResourceID: r.ResourceID, Key: c.Key}
			seen[slot] = true
			prev, existed := previous[slot]
			tr, translated := byKey[c.Key]
			status := DeriveStatus(prev, existed, tr, translated)
			if keepsLocalContent(prev, existed, status) {
				kept++
				continue
			}

			item := db.ResourceItem{
				ResourceID:   r.ResourceID,
				Key:          c.Key,
				Locale:       locale,
				DigestHash:   c.Digest,
				SyncStatus:   status,
				LastSynced:   sql.NullTime{Time: now, Valid: true},
				LastModified: sql.NullTime{Time: now, Valid: true},
			}
			if translated {
				item.Content = sql.NullString{String: tr.Value, Valid: true}
				if !tr.Outdated && !tr.UpdatedAt.IsZero() {
					item.LastSynced.Time = tr.UpdatedAt
				}
			}
			items = append(items, item)
		}

		// Translations of keys that no longer carry source content.
		for _, tr := range r.Translations {
			if hasContent[tr.Key] {
				continue
			}
			slot := catalog.Slot{ResourceID: r.ResourceID, Key: tr.Key}
			seen[slot] = true
			prev, existed := previous[slot]
			status := DeriveStatus(prev, existed, tr, true)
			if keepsLocalContent(prev, existed, status) {
				kept++
				continue
			}
			item := db.ResourceItem{
				ResourceID:   r.ResourceID,
				Key:          tr.Key,
				Locale:       locale,
				Content:      sql.NullString{String: tr.Value, Valid: true},
				SyncStatus:   status,
				LastSynced:   sql.NullTime{Time: now, Valid: true},
				LastModified: sql.NullTime{Time: now, Valid: true},
			}
			if !tr.UpdatedAt.IsZero() {
				item.LastSynced.Time = tr.UpdatedAt
			}
			items = append(items, item)
		}
	}

	if err := s.store.UpsertResources(ctx, res); err != nil {
		return fmt.Errorf("shopify.syncTarget: %w", err)
	}
	if err := s.store.UpsertItems(ctx, items); err != nil {
		return fmt.Errorf("shopify.syncTarget: %w", err)
	}

	var gone []catalog.Slot
	for slot, st := range previous {
		if !seen[slot] && st != db.StatusDeleted {
			gone = append(gone, slot)
		}
	}
	if err := s.store.MarkSlotsDeleted(ctx, gone, locale); err != nil {
		return fmt.Errorf("shopify.syncTarget: %w", err)
	}
	rep.TargetItems += len(items)
	rep.Deleted += len(gone)
	if kept > 0 {
		log.Printf("shopify: [%s %s] %d locally translated row(s) left untouched", resourceType, locale, kept)
	}
	return nil
}

// keepsLocalContent reports whether a row holds a local translation or a
// local deletion that Shopify does not know about yet. Such rows are not
// overwritten.
func keepsLocalContent(prev db.SyncStatus, existed bool, status db.SyncStatus) bool {
	return existed && prev == status && (status == db.StatusTranslated || status == db.StatusLocallyDeleted)
}

// DeriveStatus computes the status of a target-locale row from its previous
// status and the translation Shopify holds for it:
//
//	translated locally (1): 2 when the translation went outdated, else 1
//	deleted locally (4):    stays 4
//	otherwise:              2 outdated, 3 translated, 0 untranslated
func DeriveStatus(prev db.SyncStatus, existed bool, tr Translation, translated bool) db.SyncStatus {
	if existed {
		switch prev {
		case db.StatusTranslated:
			if translated && tr.Outdated {
				return db.StatusStale
			}
			return db.StatusTranslated
		case db.StatusLocallyDeleted:
			return db.StatusLocallyDeleted
		}
	}
	switch {
	case !translated:
		return db.StatusNeedsTranslation
	case tr.Outdated:
		return db.StatusStale
	default:
		return db.StatusSynced
	}
}
