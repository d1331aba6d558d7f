// Package manager owns the translation work queue. It de-duplicates incoming
// work, packs pending items into batches sized for a provider's token budget
// and resolves batch outcomes against storage.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/clock"
	"github.com/lizhenmiao/shopify-translation/internal/prompt"
	"github.com/lizhenmiao/shopify-translation/internal/queue"
)

// ReasonInsufficientBudget is returned by RequestBatch when no pending item
// fits into 80% of the offered budget.
const ReasonInsufficientBudget = "INSUFFICIENT_BUDGET"

// DefaultMaxAttempts bounds the attempts per item, the first one included.
const DefaultMaxAttempts = 3

// Event names emitted through Notifier.
const (
	EventTranslationFailed = "translation.failed"
)

// Counter counts tokens per model.
type Counter interface {
	Count(text, model string) int
	ReleaseAll()
}

// Store persists translation results.
type Store interface {
	ApplyTranslation(ctx context.Context, slot catalog.Slot, locale, text string) error
	Propagate(ctx context.Context, origin catalog.Slot, sourceLocale, targetLocale, sourceText, translated string) ([]catalog.Slot, error)
}

// Starter is a worker that can be told new work is available.
type Starter interface {
	Start()
}

// Notifier receives engine events.
type Notifier interface {
	Send(event string, payload any)
}

// Options configures a Manager.
type Options struct {
	Assembler   *prompt.Assembler
	Counter     Counter
	Store       Store
	Notifier    Notifier    // optional
	Clock       clock.Clock // optional, defaults to the wall clock
	MaxAttempts int         // optional, defaults to DefaultMaxAttempts
}

// Batch is the work handed to one provider call.
type Batch struct {
	Items        []*WorkItem
	TotalTokens  int
	SourceLocale string
	TargetLocale string
	Reason       string
}

// EnqueueResult acknowledges an Enqueue call.
type EnqueueResult struct {
	Received   int `json:"received"`
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// Stats is a snapshot of queue sizes.
type Stats struct {
	Pending   int      `json:"pending"`
	InFlight  int      `json:"in_flight"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Retried   int      `json:"retried"`
	Models    []string `json:"models"`
}

type framing struct {
	item    int // paid per segment
	between int // paid per gap between segments
	once    int // paid once per request
}

// Manager is safe for concurrent use by any number of workers.
type Manager struct {
	asm         *prompt.Assembler
	counter     Counter
	store       Store
	notifier    Notifier
	clock       clock.Clock
	maxAttempts int

	// mu serialises every transition between the four collections so an
	// identifier is never observed in two of them.
	mu       sync.Mutex
	pending  *queue.Ordered[*WorkItem]
	inFlight *queue.Ordered[*WorkItem]
	success  *queue.Ordered[*WorkItem]
	failures *queue.Ordered[Failure]
	retried  int

	models     map[string]framing
	promptCost map[string]int // "src|tgt|model"

	workersMu sync.Mutex
	workers   []Starter
}

// New creates a Manager.
func New(opts Options) *Manager {
	m := &Manager{
		asm:         opts.Assembler,
		counter:     opts.Counter,
		store:       opts.Store,
		notifier:    opts.Notifier,
		clock:       opts.Clock,
		maxAttempts: opts.MaxAttempts,
		pending:     queue.New[*WorkItem](),
		inFlight:    queue.New[*WorkItem](),
		success:     queue.New[*WorkItem](),
		failures:    queue.New[Failure](),
		models:      make(map[string]framing),
		promptCost:  make(map[string]int),
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	return m
}

// Register adds a worker to be started whenever work arrives.
func (m *Manager) Register(w Starter) {
	m.workersMu.Lock()
	m.workers = append(m.workers, w)
	m.workersMu.Unlock()
}

// Unregister removes a worker.
func (m *Manager) Unregister(w Starter) {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()
	for i, s := range m.workers {
		if s == w {
			m.workers = append(m.workers[:i], m.workers[i+1:]...)
			return
		}
	}
}

func (m *Manager) wakeWorkers() {
	m.workersMu.Lock()
	workers := append([]Starter(nil), m.workers...)
	m.workersMu.Unlock()
	for _, w := range workers {
		w.Start()
	}
}

// AddModel makes model known to the scheduler. Token counts of every pending
// item, the framing overhead and the system prompt cost of every pending
// language pair are computed before the call returns, so a worker registered
// afterwards never schedules on missing counts.
func (m *Manager) AddModel(model string) {
	m.mu.Lock()
	_, known := m.models[model]
	m.mu.Unlock()
	if known {
		return
	}

	fr := m.framingFor(model)

	type job struct {
		id, text string
	}
	var jobs []job
	pairs := map[[2]string]struct{}{}
	m.mu.Lock()
	for _, it := range m.pending.Values() {
		if _, ok := it.Tokens[model]; !ok {
			jobs = append(jobs, job{id: it.ID(), text: it.SourceText})
		}
		pairs[[2]string{it.SourceLocale, it.TargetLocale}] = struct{}{}
	}
	m.mu.Unlock()

	counts := make(map[string]int, len(jobs))
	for _, j := range jobs {
		counts[j.id] = m.counter.Count(j.text, model)
	}
	prompts := make(map[string]int, len(pairs))
	for p := range pairs {
		prompts[promptKey(p[0], p[1], model)] = m.counter.Count(m.asm.SystemPrompt(p[0], p[1]), model)
	}
	m.counter.ReleaseAll()

	m.mu.Lock()
	for _, it := range m.pending.Values() {
		if n, ok := counts[it.ID()]; ok {
			if _, set := it.Tokens[model]; !set {
				it.Tokens[model] = n
			}
		}
	}
	for k, v := range prompts {
		m.promptCost[k] = v
	}
	m.models[model] = fr
	m.mu.Unlock()
	log.Printf("manager: model %s registered (%d pending items counted)", model, len(jobs))
}

// Enqueue admits candidates that are not already pending, in flight,
// succeeded or failed, then wakes every registered worker. Candidates whose
// text collides with the framing markers are recorded as terminal failures.
func (m *Manager) Enqueue(ctx context.Context, cands []catalog.Candidate) EnqueueResult {
	res := EnqueueResult{Received: len(cands)}

	m.mu.Lock()
	models := make([]string, 0, len(m.models))
	for model := range m.models {
		models = append(models, model)
	}
	m.mu.Unlock()

	// Token counting is slow: do it outside the lock, then admit.
	seen := make(map[string]struct{}, len(cands))
	items := make([]*WorkItem, 0, len(cands))
	var rejected []*WorkItem
	pairs := map[[2]string]struct{}{}
	for _, c := range cands {
		if ctx.Err() != nil {
			break
		}
		it := fromCandidate(c)
		id := it.ID()
		if _, dup := seen[id]; dup || m.State(id) != StateUnknown {
			res.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		if err := m.asm.Check(it.SourceText); err != nil {
			rejected = append(rejected, it)
			continue
		}
		for _, model := range models {
			it.Tokens[model] = m.counter.Count(it.SourceText, model)
		}
		pairs[[2]string{it.SourceLocale, it.TargetLocale}] = struct{}{}
		items = append(items, it)
	}
	prompts := map[string]int{}
	for p := range pairs {
		for _, model := range models {
			k := promptKey(p[0], p[1], model)
			m.mu.Lock()
			_, cached := m.promptCost[k]
			m.mu.Unlock()
			if !cached {
				prompts[k] = m.counter.Count(m.asm.SystemPrompt(p[0], p[1]), model)
			}
		}
	}
	m.counter.ReleaseAll()

	m.mu.Lock()
	for k, v := range prompts {
		m.promptCost[k] = v
	}
	for _, it := range items {
		if m.stateLocked(it.ID()) != StateUnknown || !m.pending.Push(it.ID(), it) {
			res.Duplicates++
			continue
		}
		res.Added++
	}
	var failed []Failure
	for _, it := range rejected {
		if m.stateLocked(it.ID()) != StateUnknown {
			res.Duplicates++
			continue
		}
		f := Failure{Item: *it, Error: prompt.ErrSeparatorCollision.Error(), At: m.clock.Now()}
		m.failures.Put(it.ID(), f)
		failed = append(failed, f)
		res.Rejected++
	}
	pending := m.pending.Len()
	m.mu.Unlock()

	for _, f := range failed {
		m.notify(EventTranslationFailed, f)
	}
	log.Printf("manager: enqueued %d of %d (duplicates=%d rejected=%d), pending=%d",
		res.Added, res.Received, res.Duplicates, res.Rejected, pending)
	if res.Added > 0 {
		m.wakeWorkers()
	}
	return res
}

// RequestBatch reserves pending items for one call to a provider serving
// model with a budget of tokens. The first item is the earliest whose full
// cost fits into 80% of budget; same-language-pair items are then added
// while the total stays within 80%, stopping once it reaches 70%. When no
// item fits, Reason is ReasonInsufficientBudget. An empty queue yields an
// empty batch with no reason.
func (m *Manager) RequestBatch(model string, budget int) Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending.Len() == 0 {
		return Batch{}
	}
	fr, ok := m.models[model]
	if !ok {
		fr = m.framingFor(model)
		m.models[model] = fr
	}

	limit80 := budget * 8 // compared against cost*10
	limit70 := budget * 7

	var (
		first   *WorkItem
		running int
	)
	taken := m.pending.Take(func(_ string, it *WorkItem) (bool, bool) {
		if first == nil {
			cost := m.tokensLocked(it, model) + m.promptLocked(it, model) + fr.item + fr.once
			if cost*10 > limit80 {
				return false, false
			}
			first, running = it, cost
			return true, running*10 >= limit70
		}
		if it.SourceLocale != first.SourceLocale || it.TargetLocale != first.TargetLocale {
			return false, false
		}
		inc := m.tokensLocked(it, model) + fr.item + fr.between
		if (running+inc)*10 > limit80 {
			return false, false
		}
		running += inc
		return true, running*10 >= limit70
	})
	if first == nil {
		return Batch{Reason: ReasonInsufficientBudget}
	}

	for _, it := range taken {
		m.inFlight.Put(it.ID(), it)
	}

	total := m.promptLocked(first, model) + fr.once + len(taken)*fr.item
	if len(taken) > 1 {
		total += (len(taken) - 1) * fr.between
	}
	for _, it := range taken {
		total += it.Tokens[model]
	}
	return Batch{
		Items:        taken,
		TotalTokens:  total,
		SourceLocale: first.SourceLocale,
		TargetLocale: first.TargetLocale,
	}
}

// ErrResultMismatch is reported when a provider reply splits into a different
// number of segments than the batch had.
var ErrResultMismatch = errors.New("translated segment count does not match batch")

// ReportSuccess persists translations[i] for items[i]. A count mismatch fails
// the whole batch. Each item is persisted independently: a storage error on
// one row sends only that item down the retry path. A stored translation is
// also applied to other slots with identical source text, and pending items
// for those slots are retired.
func (m *Manager) ReportSuccess(ctx context.Context, items []*WorkItem, translations []string) {
	if len(items) != len(translations) {
		err := fmt.Errorf("manager.ReportSuccess: %w: %d items, %d translations", ErrResultMismatch, len(items), len(translations))
		log.Printf("manager: %v", err)
		m.ReportFailure(ctx, items, err)
		return
	}

	for i, it := range items {
		text := translations[i]
		err := m.store.ApplyTranslation(ctx, it.Slot(), it.TargetLocale, text)
		switch {
		case err == nil:
		case errors.Is(err, catalog.ErrRowNotPending):
			// Already translated, typically by a propagated result.
			log.Printf("manager: %s already translated, skipping", it.ID())
			m.complete(it)
			continue
		default:
			m.ReportFailure(ctx, []*WorkItem{it}, err)
			continue
		}
		m.complete(it)

		slots, err := m.store.Propagate(ctx, it.Slot(), it.SourceLocale, it.TargetLocale, it.SourceText, text)
		if err != nil {
			log.Printf("manager: warning: propagate %s: %v", it.ID(), err)
		}
		if len(slots) > 0 {
			retired := m.retire(it, slots)
			log.Printf("manager: %s reused for %d slot(s), %d pending item(s) retired", it.ID(), len(slots), retired)
		}
	}
}

func (m *Manager) complete(it *WorkItem) {
	m.mu.Lock()
	m.inFlight.Remove(it.ID())
	m.failures.Remove(it.ID())
	m.success.Put(it.ID(), it)
	m.mu.Unlock()
}

// retire moves pending items that target one of slots in the pair of origin
// to the success queue.
func (m *Manager) retire(origin *WorkItem, slots []catalog.Slot) int {
	set := make(map[catalog.Slot]struct{}, len(slots))
	for _, s := range slots {
		set[s] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.pending.RemoveIf(func(_ string, it *WorkItem) bool {
		if it.SourceLocale != origin.SourceLocale || it.TargetLocale != origin.TargetLocale {
			return false
		}
		_, ok := set[it.Slot()]
		return ok
	})
	for _, it := range removed {
		m.success.Put(it.ID(), it)
	}
	return len(removed)
}

// ReportFailure releases items and decides their fate. Rate-limit errors put
// items back without using an attempt. Terminal errors, and items that have
// used every attempt, move to the failure queue. Everything else goes back to
// the pending queue with its retry count incremented.
func (m *Manager) ReportFailure(ctx context.Context, items []*WorkItem, cause error) {
	if len(items) == 0 {
		return
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	throttled := isRateLimit(cause)
	terminal := isTerminal(cause)

	var failed []Failure
	requeued := 0
	m.mu.Lock()
	for _, it := range items {
		m.inFlight.Remove(it.ID())
		switch {
		case throttled:
			if m.pending.Push(it.ID(), it.retry(msg, false)) {
				requeued++
			}
		case !terminal && it.RetryCount+1 < m.maxAttempts:
			if m.pending.Push(it.ID(), it.retry(msg, true)) {
				requeued++
				m.retried++
			}
		default:
			last := it.retry(msg, false)
			f := Failure{Item: *last, Error: msg, At: m.clock.Now()}
			m.failures.Put(it.ID(), f)
			failed = append(failed, f)
		}
	}
	m.mu.Unlock()

	for _, f := range failed {
		m.notify(EventTranslationFailed, f)
	}
	log.Printf("manager: %d item(s) failed: %s (requeued=%d terminal=%d)", len(items), msg, requeued, len(failed))
	if requeued > 0 {
		m.wakeWorkers()
	}
}

// RetryFailed moves every terminal failure back to the pending queue with a
// fresh attempt budget. It returns the number of items requeued.
func (m *Manager) RetryFailed() int {
	m.mu.Lock()
	moved := m.failures.RemoveIf(func(string, Failure) bool { return true })
	n := 0
	for _, f := range moved {
		it := f.Item
		if m.asm.Check(it.SourceText) != nil {
			m.failures.Put(it.ID(), f)
			continue
		}
		it.RetryCount = 0
		if it.Tokens == nil {
			it.Tokens = make(map[string]int)
		}
		if m.pending.Push(it.ID(), &it) {
			n++
		}
	}
	m.mu.Unlock()
	if n > 0 {
		m.wakeWorkers()
	}
	return n
}

// State reports where id currently lives.
func (m *Manager) State(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(id)
}

func (m *Manager) stateLocked(id string) State {
	switch {
	case m.pending.Contains(id):
		return StatePending
	case m.inFlight.Contains(id):
		return StateInFlight
	case m.success.Contains(id):
		return StateSucceeded
	case m.failures.Contains(id):
		return StateFailed
	}
	return StateUnknown
}

// Stats returns queue sizes.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Pending:   m.pending.Len(),
		InFlight:  m.inFlight.Len(),
		Succeeded: m.success.Len(),
		Failed:    m.failures.Len(),
		Retried:   m.retried,
	}
	for model := range m.models {
		s.Models = append(s.Models, model)
	}
	sort.Strings(s.Models)
	return s
}

// Pending returns a snapshot of the pending queue in scan order.
func (m *Manager) Pending() []WorkItem {
	items := m.pending.Values()
	out := make([]WorkItem, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out
}

// Failures returns the terminal failures, oldest first.
func (m *Manager) Failures() []Failure {
	return m.failures.Values()
}

// Lock order: m.mu may be held while calling tokensLocked and promptLocked;
// the counter has its own lock and never calls back.
func (m *Manager) tokensLocked(it *WorkItem, model string) int {
	if n, ok := it.Tokens[model]; ok {
		return n
	}
	n := m.counter.Count(it.SourceText, model)
	it.Tokens[model] = n
	return n
}

func (m *Manager) promptLocked(it *WorkItem, model string) int {
	k := promptKey(it.SourceLocale, it.TargetLocale, model)
	if n, ok := m.promptCost[k]; ok {
		return n
	}
	n := m.counter.Count(m.asm.SystemPrompt(it.SourceLocale, it.TargetLocale), model)
	m.promptCost[k] = n
	return n
}

func (m *Manager) framingFor(model string) framing {
	o := m.asm.Overhead()
	return framing{
		item:    m.counter.Count(o.Item, model),
		between: m.counter.Count(o.Between, model),
		once:    m.counter.Count(o.Once, model),
	}
}

func (m *Manager) notify(event string, payload any) {
	if m.notifier != nil {
		m.notifier.Send(event, payload)
	}
}

func promptKey(src, tgt, model string) string {
	return src + "|" + tgt + "|" + model
}
