package limiter

import (
	"sort"
	"sync"
	"time"
)

// WindowSpan is the length of the sliding window for per-minute quotas.
const WindowSpan = time.Minute

// Limits are the four quota ceilings of a provider. Zero means unlimited.
type Limits struct {
	RequestsPerMinute int
	RequestsPerDay    int
	TokensPerMinute   int
	TokensPerDay      int
}

// Record is one completed request inside the sliding window.
type Record struct {
	Start  time.Time
	Tokens int
}

// Usage is a point-in-time view of a Window.
type Usage struct {
	WindowRequests int    `json:"window_requests"`
	WindowTokens   int    `json:"window_tokens"`
	DailyRequests  int    `json:"daily_requests"`
	DailyTokens    int    `json:"daily_tokens"`
	Day            string `json:"day"`
}

// Window enforces a provider's quotas: a 60 second sliding window for the
// per-minute ceilings, calendar-day counters for the per-day ceilings and a
// minimum spacing between consecutive requests. Safe for concurrent use.
type Window struct {
	mu          sync.Mutex
	limits      Limits
	minInterval time.Duration
	records     []Record // ordered by Start
	lastRequest time.Time

	day           string
	dailyRequests int
	dailyTokens   int
}

// NewWindow creates a Window for limits.
func NewWindow(limits Limits, minInterval time.Duration) *Window {
	return &Window{limits: limits, minInterval: minInterval}
}

// DayKey is the calendar-day key daily counters belong to.
func DayKey(t time.Time) string { return t.Format("2006-01-02") }

// Restore seeds the window from persisted state: recent usage-log records and
// the daily counters of day.
func (w *Window) Restore(records []Record, day string, dailyRequests, dailyTokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append([]Record(nil), records...)
	sort.Slice(w.records, func(i, j int) bool { return w.records[i].Start.Before(w.records[j].Start) })
	w.day = day
	w.dailyRequests = dailyRequests
	w.dailyTokens = dailyTokens
}

// SetLimits replaces the quota ceilings.
func (w *Window) SetLimits(l Limits) {
	w.mu.Lock()
	w.limits = l
	w.mu.Unlock()
}

// Limits returns the quota ceilings.
func (w *Window) Limits() Limits {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limits
}

// CanSend reports whether a request may start at now. When it may not, the
// returned duration is the minimum wait before asking again.
func (w *Window) CanSend(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(now)

	if !w.lastRequest.IsZero() && w.minInterval > 0 {
		if since := now.Sub(w.lastRequest); since < w.minInterval {
			return false, w.minInterval - since
		}
	}
	if l := w.limits.RequestsPerMinute; l > 0 && len(w.records) >= l {
		return false, w.untilSlotFrees(now, len(w.records)-l+1)
	}
	if l := w.limits.RequestsPerDay; l > 0 && w.dailyRequests >= l {
		return false, untilMidnight(now)
	}
	if l := w.limits.TokensPerMinute; l > 0 && w.windowTokens() >= l {
		return false, w.untilOldestExpires(now)
	}
	if l := w.limits.TokensPerDay; l > 0 && w.dailyTokens >= l {
		return false, untilMidnight(now)
	}
	return true, 0
}

// FreeBudget is the number of tokens a request starting at now may use:
// the smallest of the remaining per-minute tokens, the remaining per-day
// tokens and hardCap.
func (w *Window) FreeBudget(now time.Time, hardCap int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(now)

	budget := hardCap
	if l := w.limits.TokensPerMinute; l > 0 {
		budget = min(budget, l-w.windowTokens())
	}
	if l := w.limits.TokensPerDay; l > 0 {
		budget = min(budget, l-w.dailyTokens)
	}
	return max(budget, 0)
}

// UntilBudgetGrows returns how long until FreeBudget can next increase:
// the oldest window record ageing out, or midnight when tokens were counted
// against a daily ceiling today. ok is false when neither can happen.
func (w *Window) UntilBudgetGrows(now time.Time) (d time.Duration, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(now)
	if len(w.records) > 0 {
		return w.untilOldestExpires(now), true
	}
	if w.limits.TokensPerDay > 0 && w.dailyTokens > 0 {
		return untilMidnight(now), true
	}
	return 0, false
}

// MarkRequest stamps the start of an outgoing request for the minimum
// interval check.
func (w *Window) MarkRequest(at time.Time) {
	w.mu.Lock()
	w.lastRequest = at
	w.mu.Unlock()
}

// Add records a completed request and counts it against the daily totals.
func (w *Window) Add(r Record, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(now)
	i := sort.Search(len(w.records), func(i int) bool { return w.records[i].Start.After(r.Start) })
	w.records = append(w.records, Record{})
	copy(w.records[i+1:], w.records[i:])
	w.records[i] = r
	w.advance(now)
	w.dailyRequests++
	w.dailyTokens += r.Tokens
}

// ResetDaily zeroes the daily counters.
func (w *Window) ResetDaily(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.day = DayKey(now)
	w.dailyRequests = 0
	w.dailyTokens = 0
}

// Usage returns the current counters.
func (w *Window) Usage(now time.Time) Usage {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advance(now)
	return Usage{
		WindowRequests: len(w.records),
		WindowTokens:   w.windowTokens(),
		DailyRequests:  w.dailyRequests,
		DailyTokens:    w.dailyTokens,
		Day:            w.day,
	}
}

// advance drops records older than WindowSpan and rolls daily counters over
// at a day change. Caller holds w.mu.
func (w *Window) advance(now time.Time) {
	cutoff := now.Add(-WindowSpan)
	i := 0
	for i < len(w.records) && !w.records[i].Start.After(cutoff) {
		i++
	}
	if i > 0 {
		w.records = append(w.records[:0], w.records[i:]...)
	}
	if day := DayKey(now); day != w.day {
		w.day = day
		w.dailyRequests = 0
		w.dailyTokens = 0
	}
}

func (w *Window) windowTokens() int {
	total := 0
	for _, r := range w.records {
		total += r.Tokens
	}
	return total
}

func (w *Window) untilOldestExpires(now time.Time) time.Duration {
	return w.untilSlotFrees(now, 1)
}

// untilSlotFrees returns the wait until n records have left the window.
func (w *Window) untilSlotFrees(now time.Time, n int) time.Duration {
	if n <= 0 || len(w.records) == 0 {
		return 0
	}
	if n > len(w.records) {
		n = len(w.records)
	}
	d := w.records[n-1].Start.Add(WindowSpan).Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func untilMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}
