// Package ledger persists provider quota state and per-call usage logs.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/lizhenmiao/shopify-translation/internal/config"
	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/limiter"
)

// Usage log statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var providerColumns = []string{
	"id", "name", "base_url", "provider_type", "model", "api_key", "is_active",
	"requests_per_minute", "requests_per_day", "tokens_per_minute", "tokens_per_day",
	"minute_request_count", "minute_token_count", "daily_request_count", "daily_token_count",
	"counter_date",
}

// Ledger reads and writes the providers and api_key_usage_logs tables.
type Ledger struct {
	db *db.DB
	sq sq.StatementBuilderType
}

// New creates a Ledger over database.
func New(database *db.DB) *Ledger {
	return &Ledger{db: database, sq: sq.StatementBuilder}
}

// ActiveProviders returns providers with is_active = 1, ordered by id.
func (l *Ledger) ActiveProviders(ctx context.Context) ([]db.Provider, error) {
	out, err := l.queryProviders(ctx, sq.Eq{"is_active": 1})
	if err != nil {
		return nil, fmt.Errorf("ledger.ActiveProviders: %w", err)
	}
	return out, nil
}

// ListProviders returns every configured provider.
func (l *Ledger) ListProviders(ctx context.Context) ([]db.Provider, error) {
	out, err := l.queryProviders(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger.ListProviders: %w", err)
	}
	return out, nil
}

// GetProvider loads one provider. Missing rows yield sql.ErrNoRows.
func (l *Ledger) GetProvider(ctx context.Context, id int64) (*db.Provider, error) {
	out, err := l.queryProviders(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("ledger.GetProvider: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ledger.GetProvider: %d: %w", id, sql.ErrNoRows)
	}
	return &out[0], nil
}

func (l *Ledger) queryProviders(ctx context.Context, where sq.Sqlizer) ([]db.Provider, error) {
	q := l.sq.Select(providerColumns...).From("providers").OrderBy("id")
	if where != nil {
		q = q.Where(where)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []db.Provider
	for rows.Next() {
		var p db.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &p.ProviderType, &p.Model, &p.APIKey, &p.IsActive,
			&p.RequestsPerMinute, &p.RequestsPerDay, &p.TokensPerMinute, &p.TokensPerDay,
			&p.MinuteRequestCount, &p.MinuteTokenCount, &p.DailyRequestCount, &p.DailyTokenCount,
			&p.CounterDate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProvider inserts p and sets its ID.
func (l *Ledger) CreateProvider(ctx context.Context, p *db.Provider) error {
	if p.ProviderType == "" {
		p.ProviderType = "openai"
	}
	query, args, err := l.sq.Insert("providers").
		Columns("name", "base_url", "provider_type", "model", "api_key", "is_active",
			"requests_per_minute", "requests_per_day", "tokens_per_minute", "tokens_per_day").
		Values(p.Name, p.BaseURL, p.ProviderType, p.Model, p.APIKey, p.IsActive,
			p.RequestsPerMinute, p.RequestsPerDay, p.TokensPerMinute, p.TokensPerDay).
		ToSql()
	if err != nil {
		return fmt.Errorf("ledger.CreateProvider: %w", err)
	}
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger.CreateProvider: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	log.Printf("ledger: provider %q created (model=%s key=%s)", p.Name, p.Model, MaskKey(p.APIKey))
	return nil
}

// SetActive enables or disables a provider.
func (l *Ledger) SetActive(ctx context.Context, id int64, active bool) error {
	query, args, err := l.sq.Update("providers").
		Set("is_active", active).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("ledger.SetActive: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ledger.SetActive: %w", err)
	}
	return nil
}

// SeedProviders upserts the seed file entries by name. Counters of existing
// rows are left alone. Returns the number of rows written.
func (l *Ledger) SeedProviders(ctx context.Context, seeds []config.ProviderSeed) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	ins := l.sq.Insert("providers").
		Columns("name", "base_url", "provider_type", "model", "api_key", "is_active",
			"requests_per_minute", "requests_per_day", "tokens_per_minute", "tokens_per_day")
	for _, s := range seeds {
		ins = ins.Values(s.Name, s.BaseURL, s.ProviderType, s.Model, s.APIKey, s.IsActive(),
			s.RequestsPerMinute, s.RequestsPerDay, s.TokensPerMinute, s.TokensPerDay)
	}
	ins = ins.Suffix(`ON CONFLICT(name) DO UPDATE SET
		base_url=excluded.base_url, provider_type=excluded.provider_type, model=excluded.model,
		api_key=excluded.api_key, is_active=excluded.is_active,
		requests_per_minute=excluded.requests_per_minute, requests_per_day=excluded.requests_per_day,
		tokens_per_minute=excluded.tokens_per_minute, tokens_per_day=excluded.tokens_per_day,
		updated_at=CURRENT_TIMESTAMP`)

	query, args, err := ins.ToSql()
	if err != nil {
		return 0, fmt.Errorf("ledger.SeedProviders: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("ledger.SeedProviders: %w", err)
	}
	log.Printf("ledger: seeded %d provider(s)", len(seeds))
	return len(seeds), nil
}

// WindowRecords returns the successful requests of a provider that started
// at or after since, oldest first.
func (l *Ledger) WindowRecords(ctx context.Context, providerID int64, since time.Time) ([]limiter.Record, error) {
	query, args, err := l.sq.Select("request_start_time", "tokens_used").
		From("api_key_usage_logs").
		Where(sq.Eq{"provider_id": providerID, "status": StatusSuccess}).
		Where(sq.GtOrEq{"request_start_time": since.UnixMilli()}).
		OrderBy("request_start_time").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger.WindowRecords: %w", err)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger.WindowRecords: %w", err)
	}
	defer rows.Close()

	var out []limiter.Record
	for rows.Next() {
		var startMs int64
		var tokens int
		if err := rows.Scan(&startMs, &tokens); err != nil {
			return nil, fmt.Errorf("ledger.WindowRecords: scan: %w", err)
		}
		out = append(out, limiter.Record{Start: time.UnixMilli(startMs), Tokens: tokens})
	}
	return out, rows.Err()
}

// RecordUsage appends a usage-log row. A request id is generated when empty;
// the API key is stored masked.
func (l *Ledger) RecordUsage(ctx context.Context, u *db.UsageLog) error {
	if u.RequestID == "" {
		u.RequestID = uuid.NewString()
	}
	if u.RequestType == "" {
		u.RequestType = "translate"
	}
	if u.DurationMs == 0 && u.RequestEndTime > u.RequestStartTime {
		u.DurationMs = u.RequestEndTime - u.RequestStartTime
	}
	query, args, err := l.sq.Insert("api_key_usage_logs").
		Columns("request_id", "provider_id", "model", "api_key", "estimated_input_tokens",
			"input_tokens", "output_tokens", "tokens_used", "request_type", "status", "error_msg",
			"request_start_time", "request_end_time", "duration_ms", "request_params", "response_data").
		Values(u.RequestID, u.ProviderID, u.Model, MaskKey(u.APIKey), u.EstimatedInputTokens,
			u.InputTokens, u.OutputTokens, u.TokensUsed, u.RequestType, u.Status, u.ErrorMsg,
			u.RequestStartTime, u.RequestEndTime, u.DurationMs, u.RequestParams, u.ResponseData).
		ToSql()
	if err != nil {
		return fmt.Errorf("ledger.RecordUsage: %w", err)
	}
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ledger.RecordUsage: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

// UpdateCounters overwrites the minute counters of a provider and adds to
// its daily counters. When the stored counter_date differs from day the
// daily counters restart from the added amounts.
func (l *Ledger) UpdateCounters(ctx context.Context, providerID int64, day string, windowRequests, windowTokens, addRequests, addTokens int) error {
	query, args, err := l.sq.Update("providers").
		Set("minute_request_count", windowRequests).
		Set("minute_token_count", windowTokens).
		Set("daily_request_count", sq.Expr("CASE WHEN counter_date = ? THEN daily_request_count + ? ELSE ? END", day, addRequests, addRequests)).
		Set("daily_token_count", sq.Expr("CASE WHEN counter_date = ? THEN daily_token_count + ? ELSE ? END", day, addTokens, addTokens)).
		Set("counter_date", day).
		Set("updated_at", sq.Expr("CURRENT_TIMESTAMP")).
		Where(sq.Eq{"id": providerID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("ledger.UpdateCounters: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ledger.UpdateCounters: %w", err)
	}
	return nil
}

// ResetDaily zeroes every provider's daily counters and stamps day.
func (l *Ledger) ResetDaily(ctx context.Context, day string) error {
	query, args, err := l.sq.Update("providers").
		Set("daily_request_count", 0).
		Set("daily_token_count", 0).
		Set("counter_date", day).
		ToSql()
	if err != nil {
		return fmt.Errorf("ledger.ResetDaily: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ledger.ResetDaily: %w", err)
	}
	log.Printf("ledger: daily counters reset for %s", day)
	return nil
}

// ProviderUsage aggregates usage-log rows of one provider.
type ProviderUsage struct {
	ProviderID int64  `json:"provider_id"`
	Name       string `json:"name"`
	Model      string `json:"model"`
	Requests   int    `json:"requests"`
	Errors     int    `json:"errors"`
	InputTok   int    `json:"input_tokens"`
	OutputTok  int    `json:"output_tokens"`
	TotalTok   int    `json:"total_tokens"`
}

// UsageSummary aggregates usage logs started at or after since, per provider.
func (l *Ledger) UsageSummary(ctx context.Context, since time.Time) ([]ProviderUsage, error) {
	query, args, err := l.sq.Select(
		"p.id", "p.name", "p.model",
		"COUNT(u.id)",
		"COALESCE(SUM(CASE WHEN u.status = 'error' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(u.input_tokens), 0)",
		"COALESCE(SUM(u.output_tokens), 0)",
		"COALESCE(SUM(u.tokens_used), 0)",
	).
		From("providers p").
		LeftJoin("api_key_usage_logs u ON u.provider_id = p.id AND u.request_start_time >= ?", since.UnixMilli()).
		GroupBy("p.id", "p.name", "p.model").
		OrderBy("p.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger.UsageSummary: %w", err)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger.UsageSummary: %w", err)
	}
	defer rows.Close()

	var out []ProviderUsage
	for rows.Next() {
		var u ProviderUsage
		if err := rows.Scan(&u.ProviderID, &u.Name, &u.Model, &u.Requests, &u.Errors,
			&u.InputTok, &u.OutputTok, &u.TotalTok); err != nil {
			return nil, fmt.Errorf("ledger.UsageSummary: scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MaskKey shortens a secret for logs: "sk-abcdef123456" -> "sk-a…3456".
func MaskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "***"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
