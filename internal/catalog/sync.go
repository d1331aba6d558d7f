package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lizhenmiao/shopify-translation/internal/db"
)

// UpsertResources inserts resources or refreshes their last_synced stamp.
func (c *Catalog) UpsertResources(ctx context.Context, resources []db.Resource) error {
	if len(resources) == 0 {
		return nil
	}
	now := c.now().UTC()
	ins := c.sq.Insert("resources").Columns("resource_id", "resource_type", "last_synced", "updated_at")
	for _, r := range resources {
		synced := r.LastSynced
		if synced.IsZero() {
			synced = now
		}
		ins = ins.Values(r.ResourceID, r.ResourceType, synced.UTC(), now)
	}
	ins = ins.Suffix("ON CONFLICT(resource_id) DO UPDATE SET last_synced=excluded.last_synced, updated_at=excluded.updated_at")
	query, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("catalog.UpsertResources: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("catalog.UpsertResources: %w", err)
	}
	return nil
}

// upsertChunk keeps a multi-row insert below SQLite's bound-parameter limit.
const upsertChunk = 200

// UpsertItems inserts rows or overwrites content, digest, status and sync
// stamps on (resource_id, key, locale) conflicts.
func (c *Catalog) UpsertItems(ctx context.Context, items []db.ResourceItem) error {
	now := c.now().UTC()
	for start := 0; start < len(items); start += upsertChunk {
		end := min(start+upsertChunk, len(items))
		ins := c.sq.Insert("resource_items").
			Columns("resource_id", "key", "locale", "content", "digest_hash", "sync_status",
				"last_synced", "last_modified", "updated_at")
		for _, it := range items[start:end] {
			ins = ins.Values(it.ResourceID, it.Key, it.Locale, it.Content, it.DigestHash, int(it.SyncStatus),
				nullTimeOr(it.LastSynced, now), nullTimeOr(it.LastModified, now), now)
		}
		ins = ins.Suffix(`ON CONFLICT(resource_id, key, locale) DO UPDATE SET
			content=excluded.content, digest_hash=excluded.digest_hash, sync_status=excluded.sync_status,
			last_synced=excluded.last_synced, last_modified=excluded.last_modified, updated_at=excluded.updated_at`)

		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("catalog.UpsertItems: %w", err)
		}
		if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("catalog.UpsertItems: %w", err)
		}
	}
	return nil
}

// MarkDeleted moves every row of resourceType in locale to status -1. Rows
// that the following upsert does not revive stay deleted.
func (c *Catalog) MarkDeleted(ctx context.Context, resourceType, locale string) (int64, error) {
	query, args, err := c.sq.Update("resource_items").
		Set("sync_status", int(db.StatusDeleted)).
		Set("updated_at", c.now().UTC()).
		Where(sq.Eq{"locale": locale}).
		Where(sq.Like{"resource_id": ResourceIDPrefix(resourceType) + "%"}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("catalog.MarkDeleted: %w", err)
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("catalog.MarkDeleted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkSlotsDeleted moves the rows of slots in locale to status -1.
func (c *Catalog) MarkSlotsDeleted(ctx context.Context, slots []Slot, locale string) error {
	now := c.now().UTC()
	for _, s := range slots {
		query, args, err := c.sq.Update("resource_items").
			Set("sync_status", int(db.StatusDeleted)).
			Set("updated_at", now).
			Where(sq.Eq{"resource_id": s.ResourceID, "key": s.Key, "locale": locale}).
			ToSql()
		if err != nil {
			return fmt.Errorf("catalog.MarkSlotsDeleted: %w", err)
		}
		if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("catalog.MarkSlotsDeleted: %w", err)
		}
	}
	return nil
}

func nullTimeOr(t sql.NullTime, fallback time.Time) time.Time {
	if t.Valid {
		return t.Time.UTC()
	}
	return fallback
}
