// Package db provides the SQLite database wrapper and model types for shoptrans.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps *sql.DB and provides migration support.
type DB struct {
	*sql.DB
}

// New opens a SQLite connection with WAL mode and foreign keys enabled.
// Driver name is "sqlite" (modernc.org/sqlite).
func New(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db.New: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("db.New: ping: %w", err)
	}
	// Limit to 1 writer at a time to avoid SQLITE_BUSY in WAL mode.
	sqlDB.SetMaxOpenConns(1)
	return &DB{sqlDB}, nil
}

// Migrate runs all CREATE TABLE IF NOT EXISTS migrations exactly once per schema version.
func (d *DB) Migrate() error {
	if _, err := d.Exec(ddlSettings); err != nil {
		return fmt.Errorf("db.Migrate: settings table: %w", err)
	}

	var version int
	row := d.QueryRow(`SELECT value FROM settings WHERE key='schema_version' LIMIT 1`)
	_ = row.Scan(&version) // row may not exist yet (version=0)

	if version >= schemaVersion {
		return nil
	}

	stmts := []string{
		ddlResources,
		ddlResourceItems,
		idxResourceItemsContent,
		idxResourceItemsStatus,
		ddlProviders,
		ddlUsageLogs,
		idxUsageLogsWindow,
		ddlSchedules,
		ddlAuthAttempts,
	}
	for _, ddl := range stmts {
		if _, err := d.Exec(ddl); err != nil {
			return fmt.Errorf("db.Migrate: %w", err)
		}
	}

	_, err := d.Exec(`INSERT INTO settings (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, schemaVersion)
	if err != nil {
		return fmt.Errorf("db.Migrate: schema_version upsert: %w", err)
	}
	return nil
}

// GetSetting returns a settings value, or "" when the key is absent.
func (d *DB) GetSetting(key string) (string, error) {
	var v string
	err := d.QueryRow(`SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("db.GetSetting: %w", err)
	}
	return v, nil
}

// SetSetting upserts a settings value.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("db.SetSetting: %w", err)
	}
	return nil
}

const schemaVersion = 1

// ── Sync status ──────────────────────────────────────────────────────────────

// SyncStatus is the lifecycle code of a translation slot.
type SyncStatus int

const (
	StatusDeleted          SyncStatus = -1
	StatusNeedsTranslation SyncStatus = 0
	StatusTranslated       SyncStatus = 1 // translated, not yet pushed to Shopify
	StatusStale            SyncStatus = 2
	StatusSynced           SyncStatus = 3
	StatusLocallyDeleted   SyncStatus = 4
)

// Translatable reports whether a row in this status may receive a translation.
func (s SyncStatus) Translatable() bool {
	return s == StatusNeedsTranslation || s == StatusStale
}

// ── Model Types ──────────────────────────────────────────────────────────────

// Resource is one translatable Shopify resource (product, page, theme...).
type Resource struct {
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	LastSynced   time.Time `json:"last_synced"`
}

// ResourceItem is one (resource, key, locale) translation slot.
type ResourceItem struct {
	ID                int64          `json:"id"`
	ResourceID        string         `json:"resource_id"`
	Key               string         `json:"key"`
	Locale            string         `json:"locale"`
	Content           sql.NullString `json:"content"`
	DigestHash        string         `json:"digest_hash"`
	SyncStatus        SyncStatus     `json:"sync_status"`
	LastSynced        sql.NullTime   `json:"last_synced,omitempty"`
	LastTranslated    sql.NullTime   `json:"last_translated,omitempty"`
	LastSyncToShopify sql.NullTime   `json:"last_sync_to_shopify,omitempty"`
	LastModified      sql.NullTime   `json:"last_modified,omitempty"`
}

// Provider is a configured LLM translation endpoint with its quota state.
type Provider struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BaseURL            string `json:"base_url"`
	ProviderType       string `json:"provider_type"`
	Model              string `json:"model"`
	APIKey             string `json:"-"`
	IsActive           bool   `json:"is_active"`
	RequestsPerMinute  int    `json:"requests_per_minute"`
	RequestsPerDay     int    `json:"requests_per_day"`
	TokensPerMinute    int    `json:"tokens_per_minute"`
	TokensPerDay       int    `json:"tokens_per_day"`
	MinuteRequestCount int    `json:"minute_request_count"`
	MinuteTokenCount   int    `json:"minute_token_count"`
	DailyRequestCount  int    `json:"daily_request_count"`
	DailyTokenCount    int    `json:"daily_token_count"`
	CounterDate        string `json:"counter_date"`
}

// UsageLog is one translation call attempt. Times are unix milliseconds.
type UsageLog struct {
	ID                   int64  `json:"id"`
	RequestID            string `json:"request_id"`
	ProviderID           int64  `json:"provider_id"`
	Model                string `json:"model"`
	APIKey               string `json:"api_key"`
	EstimatedInputTokens int    `json:"estimated_input_tokens"`
	InputTokens          int    `json:"input_tokens"`
	OutputTokens         int    `json:"output_tokens"`
	TokensUsed           int    `json:"tokens_used"`
	RequestType          string `json:"request_type"`
	Status               string `json:"status"`
	ErrorMsg             string `json:"error_msg,omitempty"`
	RequestStartTime     int64  `json:"request_start_time"`
	RequestEndTime       int64  `json:"request_end_time"`
	DurationMs           int64  `json:"duration_ms"`
	RequestParams        string `json:"request_params,omitempty"`
	ResponseData         string `json:"response_data,omitempty"`
}

// Schedule is a cron-triggered translate or sync run.
type Schedule struct {
	ID            int          `json:"id"`
	Name          string       `json:"name"`
	CronExpr      string       `json:"cron_expr"`
	Kind          string       `json:"kind"`
	SourceLocale  string       `json:"source_locale"`
	TargetLocale  string       `json:"target_locale"`
	ResourceTypes string       `json:"resource_types"`
	Enabled       bool         `json:"enabled"`
	NextRun       sql.NullTime `json:"next_run,omitempty"`
	LastRun       sql.NullTime `json:"last_run,omitempty"`
}

// ── DDL Statements ───────────────────────────────────────────────────────────

const ddlSettings = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);`

const ddlResources = `CREATE TABLE IF NOT EXISTS resources (
	resource_id   TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	last_synced   DATETIME,
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlResourceItems = `CREATE TABLE IF NOT EXISTS resource_items (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_id          TEXT    NOT NULL,
	key                  TEXT    NOT NULL,
	locale               TEXT    NOT NULL,
	content              TEXT,
	digest_hash          TEXT    NOT NULL DEFAULT '',
	sync_status          INTEGER NOT NULL DEFAULT 0,
	last_synced          DATETIME,
	last_translated      DATETIME,
	last_sync_to_shopify DATETIME,
	last_modified        DATETIME,
	created_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (resource_id, key, locale)
);`

const idxResourceItemsContent = `CREATE INDEX IF NOT EXISTS idx_resource_items_locale_content
	ON resource_items (locale, content);`

const idxResourceItemsStatus = `CREATE INDEX IF NOT EXISTS idx_resource_items_locale_status
	ON resource_items (locale, sync_status);`

const ddlProviders = `CREATE TABLE IF NOT EXISTS providers (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT    NOT NULL UNIQUE,
	base_url             TEXT    NOT NULL,
	provider_type        TEXT    NOT NULL DEFAULT 'openai',
	model                TEXT    NOT NULL,
	api_key              TEXT    NOT NULL DEFAULT '',
	is_active            INTEGER NOT NULL DEFAULT 1,
	requests_per_minute  INTEGER NOT NULL DEFAULT 0,
	requests_per_day     INTEGER NOT NULL DEFAULT 0,
	tokens_per_minute    INTEGER NOT NULL DEFAULT 0,
	tokens_per_day       INTEGER NOT NULL DEFAULT 0,
	minute_request_count INTEGER NOT NULL DEFAULT 0,
	minute_token_count   INTEGER NOT NULL DEFAULT 0,
	daily_request_count  INTEGER NOT NULL DEFAULT 0,
	daily_token_count    INTEGER NOT NULL DEFAULT 0,
	counter_date         TEXT    NOT NULL DEFAULT '',
	created_at           DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at           DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlUsageLogs = `CREATE TABLE IF NOT EXISTS api_key_usage_logs (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id             TEXT    NOT NULL,
	provider_id            INTEGER NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	model                  TEXT    NOT NULL,
	api_key                TEXT    NOT NULL DEFAULT '',
	estimated_input_tokens INTEGER NOT NULL DEFAULT 0,
	input_tokens           INTEGER NOT NULL DEFAULT 0,
	output_tokens          INTEGER NOT NULL DEFAULT 0,
	tokens_used            INTEGER NOT NULL DEFAULT 0,
	request_type           TEXT    NOT NULL DEFAULT 'translate',
	status                 TEXT    NOT NULL,
	error_msg              TEXT    NOT NULL DEFAULT '',
	request_start_time     INTEGER NOT NULL,
	request_end_time       INTEGER NOT NULL,
	duration_ms            INTEGER NOT NULL DEFAULT 0,
	request_params         TEXT    NOT NULL DEFAULT '',
	response_data          TEXT    NOT NULL DEFAULT '',
	created_at             DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const idxUsageLogsWindow = `CREATE INDEX IF NOT EXISTS idx_usage_logs_provider_start
	ON api_key_usage_logs (provider_id, request_start_time);`

const ddlSchedules = `CREATE TABLE IF NOT EXISTS schedules (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT    NOT NULL,
	cron_expr      TEXT    NOT NULL,
	kind           TEXT    NOT NULL DEFAULT 'translate',
	source_locale  TEXT    NOT NULL DEFAULT '',
	target_locale  TEXT    NOT NULL DEFAULT '',
	resource_types TEXT    NOT NULL DEFAULT '',
	enabled        INTEGER NOT NULL DEFAULT 1,
	next_run       DATETIME,
	last_run       DATETIME,
	created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlAuthAttempts = `CREATE TABLE IF NOT EXISTS auth_attempts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ip         TEXT    NOT NULL,
	success    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`
