// Package scheduler wraps robfig/cron to run the daily quota reset and the
// translate and sync schedules stored in the database.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/jobs"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
)

// Schedule kinds.
const (
	KindTranslate = "translate"
	KindSync      = "sync"
)

// DailyResetSpec fires at local midnight.
const DailyResetSpec = "0 0 0 * * *"

var ErrInvalidSchedule = errors.New("invalid schedule")

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Translator submits batch-translate jobs.
type Translator interface {
	Submit(ctx context.Context, req jobs.Request) (jobs.Ack, error)
}

// Syncer starts content syncs.
type Syncer interface {
	Start(ctx context.Context, types, locales []string) (*shopify.Report, error)
}

// Options wires the jobs an Engine runs. Nil fields disable the matching job.
type Options struct {
	Translator Translator
	Syncer     Syncer
	DailyReset func(ctx context.Context, day string)
	SyncCron   string // optional full sync of every type and locale
}

// Engine manages the cron scheduler.
type Engine struct {
	cron     *cron.Cron
	database *db.DB
	opts     Options

	mu      sync.Mutex
	entries map[int]cron.EntryID
}

// New creates a new cron-based Engine.
func New(database *db.DB, opts Options) *Engine {
	return &Engine{
		cron:     cron.New(cron.WithSeconds()),
		database: database,
		opts:     opts,
		entries:  make(map[int]cron.EntryID),
	}
}

// Start registers the built-in jobs, loads enabled schedules and begins the
// cron engine. It stops when ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.DailyReset != nil {
		if _, err := e.cron.AddFunc(DailyResetSpec, func() {
			day := time.Now().Format("2006-01-02")
			log.Printf("scheduler: daily counter reset for %s", day)
			e.opts.DailyReset(context.Background(), day)
		}); err != nil {
			return fmt.Errorf("scheduler.Start: %w", err)
		}
	}
	if e.opts.SyncCron != "" && e.opts.Syncer != nil {
		if _, err := e.cron.AddFunc(e.opts.SyncCron, func() {
			if _, err := e.opts.Syncer.Start(context.Background(), nil, nil); err != nil {
				log.Printf("scheduler: periodic sync: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduler.Start: SYNC_CRON: %w", err)
		}
	}
	if err := e.LoadSchedules(ctx); err != nil {
		return fmt.Errorf("scheduler.Start: %w", err)
	}
	e.cron.Start()
	go func() {
		<-ctx.Done()
		<-e.cron.Stop().Done()
	}()
	return nil
}

const scheduleColumns = `id, name, cron_expr, kind, source_locale, target_locale, resource_types, enabled, next_run, last_run`

func scanSchedule(row interface{ Scan(...any) error }) (db.Schedule, error) {
	var s db.Schedule
	err := row.Scan(&s.ID, &s.Name, &s.CronExpr, &s.Kind, &s.SourceLocale, &s.TargetLocale,
		&s.ResourceTypes, &s.Enabled, &s.NextRun, &s.LastRun)
	return s, err
}

// LoadSchedules loads all enabled schedules from the DB and registers cron jobs.
func (e *Engine) LoadSchedules(ctx context.Context) error {
	rows, err := e.database.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE enabled=1`)
	if err != nil {
		return fmt.Errorf("scheduler.LoadSchedules: %w", err)
	}
	var list []db.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			log.Printf("scheduler: scan schedule: %v", err)
			continue
		}
		list = append(list, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scheduler.LoadSchedules: %w", err)
	}

	for _, s := range list {
		if err := e.addJob(s); err != nil {
			log.Printf("scheduler: add job %d: %v", s.ID, err)
		}
	}
	return nil
}

// List returns every schedule.
func (e *Engine) List(ctx context.Context) ([]db.Schedule, error) {
	rows, err := e.database.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("scheduler.List: %w", err)
	}
	defer rows.Close()
	var out []db.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler.List: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get returns one schedule.
func (e *Engine) Get(ctx context.Context, id int) (db.Schedule, error) {
	s, err := scanSchedule(e.database.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id))
	if err != nil {
		return db.Schedule{}, fmt.Errorf("scheduler.Get: %w", err)
	}
	return s, nil
}

// Validate checks the cron expression, kind and locales of s.
func Validate(s db.Schedule) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if _, err := parser.Parse(s.CronExpr); err != nil {
		return fmt.Errorf("%w: cron %q: %v", ErrInvalidSchedule, s.CronExpr, err)
	}
	switch s.Kind {
	case KindTranslate:
		if s.TargetLocale == "" {
			return fmt.Errorf("%w: translate schedules need a target locale", ErrInvalidSchedule)
		}
	case KindSync:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	return nil
}

// Create stores s and, when enabled, registers it.
func (e *Engine) Create(ctx context.Context, s *db.Schedule) error {
	if s.Kind == "" {
		s.Kind = KindTranslate
	}
	if err := Validate(*s); err != nil {
		return err
	}
	res, err := e.database.ExecContext(ctx,
		`INSERT INTO schedules (name, cron_expr, kind, source_locale, target_locale, resource_types, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Name, s.CronExpr, s.Kind, s.SourceLocale, s.TargetLocale, s.ResourceTypes, s.Enabled)
	if err != nil {
		return fmt.Errorf("scheduler.Create: %w", err)
	}
	id, _ := res.LastInsertId()
	s.ID = int(id)
	if s.Enabled {
		if err := e.addJob(*s); err != nil {
			return fmt.Errorf("scheduler.Create: %w", err)
		}
	}
	log.Printf("scheduler: schedule %d %q created (%s, %s)", s.ID, s.Name, s.Kind, s.CronExpr)
	return nil
}

// SetEnabled toggles a schedule and (de)registers its job.
func (e *Engine) SetEnabled(ctx context.Context, id int, enabled bool) error {
	if _, err := e.database.ExecContext(ctx, `UPDATE schedules SET enabled=? WHERE id=?`, enabled, id); err != nil {
		return fmt.Errorf("scheduler.SetEnabled: %w", err)
	}
	e.RemoveJob(id)
	if !enabled {
		return nil
	}
	s, err := e.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("scheduler.SetEnabled: %w", err)
	}
	return e.addJob(s)
}

// Delete removes a schedule and its job.
func (e *Engine) Delete(ctx context.Context, id int) error {
	e.RemoveJob(id)
	if _, err := e.database.ExecContext(ctx, `DELETE FROM schedules WHERE id=?`, id); err != nil {
		return fmt.Errorf("scheduler.Delete: %w", err)
	}
	return nil
}

// RemoveJob deregisters a schedule from the cron engine.
func (e *Engine) RemoveJob(scheduleID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entryID, ok := e.entries[scheduleID]; ok {
		e.cron.Remove(entryID)
		delete(e.entries, scheduleID)
	}
}

// Jobs returns the number of registered cron entries, built-ins included.
func (e *Engine) Jobs() int {
	return len(e.cron.Entries())
}

func (e *Engine) addJob(s db.Schedule) error {
	entryID, err := e.cron.AddFunc(s.CronExpr, func() {
		ctx := context.Background()
		if err := e.run(ctx, s); err != nil {
			log.Printf("scheduler: schedule %d: %v", s.ID, err)
		}
		_, _ = e.database.ExecContext(ctx, `UPDATE schedules SET last_run=? WHERE id=?`, time.Now(), s.ID)
		e.updateNextRun(s.ID)
	})
	if err != nil {
		return fmt.Errorf("scheduler.addJob: parse cron: %w", err)
	}
	e.mu.Lock()
	if old, ok := e.entries[s.ID]; ok {
		e.cron.Remove(old)
	}
	e.entries[s.ID] = entryID
	e.mu.Unlock()
	e.updateNextRun(s.ID)
	return nil
}

// run performs one firing of s.
func (e *Engine) run(ctx context.Context, s db.Schedule) error {
	types := splitList(s.ResourceTypes)
	switch s.Kind {
	case KindTranslate:
		if e.opts.Translator == nil {
			return fmt.Errorf("scheduler.run: no translator configured")
		}
		ack, err := e.opts.Translator.Submit(ctx, jobs.Request{
			SourceLocale:  s.SourceLocale,
			TargetLocale:  s.TargetLocale,
			ResourceTypes: types,
		})
		if err != nil {
			return fmt.Errorf("scheduler.run: %w", err)
		}
		log.Printf("scheduler: schedule %d queued %d item(s) for %s", s.ID, ack.Enqueued, s.TargetLocale)
	case KindSync:
		if e.opts.Syncer == nil {
			return fmt.Errorf("scheduler.run: no syncer configured")
		}
		if _, err := e.opts.Syncer.Start(ctx, types, splitList(s.TargetLocale)); err != nil {
			return fmt.Errorf("scheduler.run: %w", err)
		}
		log.Printf("scheduler: schedule %d started a sync", s.ID)
	default:
		return fmt.Errorf("scheduler.run: unknown kind %q", s.Kind)
	}
	return nil
}

func (e *Engine) updateNextRun(scheduleID int) {
	e.mu.Lock()
	entryID, ok := e.entries[scheduleID]
	e.mu.Unlock()
	if !ok {
		return
	}
	entry := e.cron.Entry(entryID)
	next := entry.Next
	if next.IsZero() && entry.Schedule != nil {
		next = entry.Schedule.Next(time.Now())
	}
	if !next.IsZero() {
		_, _ = e.database.Exec(`UPDATE schedules SET next_run=? WHERE id=?`, next, scheduleID)
	}
}

// splitList parses a comma separated column.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
