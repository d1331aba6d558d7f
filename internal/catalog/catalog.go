// Package catalog is the storage side of content sync: it reads translation
// candidates from resource_items and writes translations back.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lizhenmiao/shopify-translation/internal/db"
)

var (
	// ErrRowNotPending means the target row exists but is no longer in a
	// translatable status, usually because another batch already filled it.
	ErrRowNotPending = errors.New("target row is not awaiting translation")
	// ErrRowMissing means no target row exists for the slot.
	ErrRowMissing = errors.New("target row not found")
)

var translatableStatuses = []int{int(db.StatusNeedsTranslation), int(db.StatusStale)}

// Candidate is one source string awaiting translation into TargetLocale.
type Candidate struct {
	SourceText   string `json:"source_text"`
	SourceLocale string `json:"source_locale"`
	TargetLocale string `json:"target_locale"`
	ResourceID   string `json:"resource_id"`
	Key          string `json:"key"`
	DigestHash   string `json:"digest_hash"`
}

// Query selects candidates.
type Query struct {
	SourceLocale  string
	TargetLocale  string
	ResourceTypes []string // platform names, e.g. PRODUCT; empty means all
	Limit         uint64
}

// Slot identifies a (resource, key) pair across locales.
type Slot struct {
	ResourceID string `json:"resource_id"`
	Key        string `json:"key"`
}

// Catalog reads and writes resources and resource_items.
type Catalog struct {
	db  *db.DB
	sq  sq.StatementBuilderType
	now func() time.Time
}

// New creates a Catalog over database.
func New(database *db.DB) *Catalog {
	return &Catalog{db: database, sq: sq.StatementBuilder, now: time.Now}
}

// Candidates joins source rows with their target rows: the target must be
// awaiting translation and the source must carry non-empty content.
func (c *Catalog) Candidates(ctx context.Context, q Query) ([]Candidate, error) {
	sel := c.sq.Select("s.resource_id", "s.key", "s.content", "s.digest_hash").
		From("resource_items s").
		Join("resource_items t ON t.resource_id = s.resource_id AND t.key = s.key AND t.locale = ?", q.TargetLocale).
		Where(sq.Eq{"s.locale": q.SourceLocale, "t.sync_status": translatableStatuses}).
		Where(sq.NotEq{"s.sync_status": int(db.StatusDeleted)}).
		Where("s.content IS NOT NULL AND s.content <> ''").
		OrderBy("s.id")
	if like := resourceTypeFilter("s.resource_id", q.ResourceTypes); like != nil {
		sel = sel.Where(like)
	}
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}

	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("catalog.Candidates: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog.Candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		cand := Candidate{SourceLocale: q.SourceLocale, TargetLocale: q.TargetLocale}
		if err := rows.Scan(&cand.ResourceID, &cand.Key, &cand.SourceText, &cand.DigestHash); err != nil {
			return nil, fmt.Errorf("catalog.Candidates: scan: %w", err)
		}
		out = append(out, cand)
	}
	return out, rows.Err()
}

// ApplyTranslation writes a translation into the target row of slot and moves
// it to status 1. Only rows in status 0 or 2 are touched; otherwise the error
// is ErrRowNotPending or ErrRowMissing.
func (c *Catalog) ApplyTranslation(ctx context.Context, slot Slot, locale, text string) error {
	now := c.now().UTC()
	query, args, err := c.sq.Update("resource_items").
		Set("content", text).
		Set("sync_status", int(db.StatusTranslated)).
		Set("last_translated", now).
		Set("last_modified", now).
		Set("updated_at", now).
		Where(sq.Eq{
			"resource_id": slot.ResourceID,
			"key":         slot.Key,
			"locale":      locale,
			"sync_status": translatableStatuses,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("catalog.ApplyTranslation: %w", err)
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("catalog.ApplyTranslation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, found, err := c.Item(ctx, slot, locale)
	if err != nil {
		return fmt.Errorf("catalog.ApplyTranslation: %w", err)
	}
	if !found {
		return fmt.Errorf("catalog.ApplyTranslation: %s/%s/%s: %w", slot.ResourceID, slot.Key, locale, ErrRowMissing)
	}
	return fmt.Errorf("catalog.ApplyTranslation: %s/%s/%s: %w", slot.ResourceID, slot.Key, locale, ErrRowNotPending)
}

// Propagate reuses a fresh translation: every other slot whose source-locale
// content equals sourceText and whose target row awaits translation receives
// translated. It returns the slots that were updated.
func (c *Catalog) Propagate(ctx context.Context, origin Slot, sourceLocale, targetLocale, sourceText, translated string) ([]Slot, error) {
	query, args, err := c.sq.Select("s.resource_id", "s.key").
		From("resource_items s").
		Join("resource_items t ON t.resource_id = s.resource_id AND t.key = s.key AND t.locale = ?", targetLocale).
		Where(sq.Eq{"s.locale": sourceLocale, "s.content": sourceText, "t.sync_status": translatableStatuses}).
		Where("NOT (s.resource_id = ? AND s.key = ?)", origin.ResourceID, origin.Key).
		OrderBy("s.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("catalog.Propagate: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog.Propagate: %w", err)
	}
	var slots []Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ResourceID, &s.Key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("catalog.Propagate: scan: %w", err)
		}
		slots = append(slots, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog.Propagate: %w", err)
	}

	// Re-checked per row by ApplyTranslation: a concurrent batch may have
	// filled some of these since the select.
	var updated []Slot
	for _, s := range slots {
		if err := c.ApplyTranslation(ctx, s, targetLocale, translated); err != nil {
			if errors.Is(err, ErrRowNotPending) || errors.Is(err, ErrRowMissing) {
				continue
			}
			return updated, fmt.Errorf("catalog.Propagate: %w", err)
		}
		updated = append(updated, s)
	}
	return updated, nil
}

// Item loads the row of slot in locale.
func (c *Catalog) Item(ctx context.Context, slot Slot, locale string) (db.ResourceItem, bool, error) {
	query, args, err := c.sq.Select("id", "resource_id", "key", "locale", "content", "digest_hash", "sync_status",
		"last_synced", "last_translated", "last_sync_to_shopify", "last_modified").
		From("resource_items").
		Where(sq.Eq{"resource_id": slot.ResourceID, "key": slot.Key, "locale": locale}).
		ToSql()
	if err != nil {
		return db.ResourceItem{}, false, fmt.Errorf("catalog.Item: %w", err)
	}
	var it db.ResourceItem
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&it.ID, &it.ResourceID, &it.Key, &it.Locale, &it.Content,
		&it.DigestHash, &it.SyncStatus, &it.LastSynced, &it.LastTranslated, &it.LastSyncToShopify, &it.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ResourceItem{}, false, nil
	}
	if err != nil {
		return db.ResourceItem{}, false, fmt.Errorf("catalog.Item: %w", err)
	}
	return it, true, nil
}

// Statuses returns the current sync status of every existing row of the given
// resources in locale.
func (c *Catalog) Statuses(ctx context.Context, resourceIDs []string, locale string) (map[Slot]db.SyncStatus, error) {
	out := make(map[Slot]db.SyncStatus)
	if len(resourceIDs) == 0 {
		return out, nil
	}
	query, args, err := c.sq.Select("resource_id", "key", "sync_status").
		From("resource_items").
		Where(sq.Eq{"resource_id": resourceIDs, "locale": locale}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("catalog.Statuses: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog.Statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s Slot
		var st db.SyncStatus
		if err := rows.Scan(&s.ResourceID, &s.Key, &st); err != nil {
			return nil, fmt.Errorf("catalog.Statuses: scan: %w", err)
		}
		out[s] = st
	}
	return out, rows.Err()
}

// StatusCounts counts rows per sync status, optionally restricted to locale.
func (c *Catalog) StatusCounts(ctx context.Context, locale string) (map[db.SyncStatus]int, error) {
	sel := c.sq.Select("sync_status", "COUNT(*)").From("resource_items").GroupBy("sync_status")
	if locale != "" {
		sel = sel.Where(sq.Eq{"locale": locale})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("catalog.StatusCounts: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog.StatusCounts: %w", err)
	}
	defer rows.Close()
	out := make(map[db.SyncStatus]int)
	for rows.Next() {
		var st db.SyncStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("catalog.StatusCounts: scan: %w", err)
		}
		out[st] = n
	}
	return out, rows.Err()
}

// resourceTypeFilter builds `col LIKE 'gid://shopify/<Type>/%' OR ...`.
func resourceTypeFilter(col string, types []string) sq.Sqlizer {
	if len(types) == 0 {
		return nil
	}
	or := sq.Or{}
	for _, t := range types {
		or = append(or, sq.Like{col: ResourceIDPrefix(t) + "%"})
	}
	return or
}

// ResourceIDPrefix is the gid prefix shared by every resource of a type.
func ResourceIDPrefix(resourceType string) string {
	return "gid://shopify/" + FormatResourceType(resourceType) + "/"
}

// FormatResourceType converts a platform enum name to its gid segment:
// EMAIL_TEMPLATE -> EmailTemplate.
func FormatResourceType(resourceType string) string {
	parts := strings.Split(strings.ToLower(resourceType), "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// ResourceTypeFromID extracts the type segment of a gid:
// gid://shopify/Article/556884557887 -> Article.
func ResourceTypeFromID(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	if len(parts) > 2 {
		return parts[len(parts)-2]
	}
	return "Unknown"
}

var supportedResourceTypes = []string{
	"ARTICLE",
	"BLOG",
	"COLLECTION",
	"DELIVERY_METHOD_DEFINITION",
	"EMAIL_TEMPLATE",
	"FILTER",
	"LINK",
	"MENU",
	"METAFIELD",
	"METAOBJECT",
	"ONLINE_STORE_THEME",
	"ONLINE_STORE_THEME_APP_EMBED",
	"ONLINE_STORE_THEME_JSON_TEMPLATE",
	"ONLINE_STORE_THEME_LOCALE_CONTENT",
	"ONLINE_STORE_THEME_SECTION_GROUP",
	"ONLINE_STORE_THEME_SETTINGS_CATEGORY",
	"ONLINE_STORE_THEME_SETTINGS_DATA_SECTIONS",
	"PACKING_SLIP_TEMPLATE",
	"PAGE",
	"PAYMENT_GATEWAY",
	"PRODUCT",
	"PRODUCT_OPTION",
	"PRODUCT_OPTION_VALUE",
	"SELLING_PLAN",
	"SELLING_PLAN_GROUP",
	"SHOP",
	"SHOP_POLICY",
}

// SupportedResourceTypes lists the translatable resource types the sync
// understands.
func SupportedResourceTypes() []string {
	return append([]string(nil), supportedResourceTypes...)
}

// IsSupportedResourceType reports whether t is in SupportedResourceTypes.
func IsSupportedResourceType(t string) bool {
	for _, s := range supportedResourceTypes {
		if s == t {
			return true
		}
	}
	return false
}
