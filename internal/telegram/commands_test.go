package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lizhenmiao/shopify-translation/internal/limiter"
	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/worker"
)

type fakeQueue struct {
	stats    manager.Stats
	failures []manager.Failure
	retried  int
}

func (q *fakeQueue) Stats() manager.Stats        { return q.stats }
func (q *fakeQueue) Failures() []manager.Failure { return q.failures }
func (q *fakeQueue) RetryFailed() int {
	q.retried++
	return len(q.failures)
}

type fakeProviders []worker.Status

func (p fakeProviders) Snapshot() []worker.Status { return p }

func TestRespond_Status(t *testing.T) {
	q := &fakeQueue{stats: manager.Stats{Pending: 4, InFlight: 2, Succeeded: 10, Failed: 1, Retried: 3}}
	h := NewCommandHandler(q, fakeProviders{{Name: "a", Available: true}, {Name: "b"}})

	out := h.Respond("status")
	assert.Contains(t, out, "Pending: 4")
	assert.Contains(t, out, "In flight: 2")
	assert.Contains(t, out, "Succeeded: 10")
	assert.Contains(t, out, "Providers: 1/2 available")
}

func TestRespond_Providers(t *testing.T) {
	until := time.Date(2026, 5, 4, 10, 1, 30, 0, time.UTC)
	h := NewCommandHandler(&fakeQueue{}, fakeProviders{
		{Name: "openai", Model: "gpt-4o-mini", Running: true, Available: true,
			Usage: limiter.Usage{WindowRequests: 3, WindowTokens: 900, DailyRequests: 40, DailyTokens: 12000}},
		{Name: "groq", Model: "llama", UnavailableUntil: &until},
	})

	out := h.Respond("providers")
	assert.Contains(t, out, "🟢 openai `gpt-4o-mini`")
	assert.Contains(t, out, "3 req / 900 tok this minute, 40 req / 12000 tok today")
	assert.Contains(t, out, "🟡 groq `llama`")
	assert.Contains(t, out, "paused until 10:01:30")

	empty := NewCommandHandler(&fakeQueue{}, fakeProviders{})
	assert.Equal(t, "_No active providers._", empty.Respond("providers"))
}

func TestRespond_Failures(t *testing.T) {
	q := &fakeQueue{}
	h := NewCommandHandler(q, fakeProviders{})
	assert.Equal(t, "_No failed items._", h.Respond("failures"))

	for i := 0; i < maxFailuresListed+2; i++ {
		q.failures = append(q.failures, manager.Failure{
			Item:  manager.WorkItem{SourceLocale: "en", TargetLocale: "fr", ResourceID: "gid://shopify/Product/1", Key: "body_html"},
			Error: "boom",
		})
	}
	out := h.Respond("failures")
	assert.Contains(t, out, "*Failed items* (12)")
	assert.Contains(t, out, "en-fr gid://shopify/Product/1 `body_html`")
	assert.Contains(t, out, "… and 2 more")
}

func TestRespond_RetryAndCallback(t *testing.T) {
	q := &fakeQueue{failures: make([]manager.Failure, 3)}
	h := NewCommandHandler(q, fakeProviders{})

	assert.Equal(t, "🔁 3 failed item(s) requeued.", h.Respond("retry"))
	assert.Equal(t, "3 item(s) requeued", h.HandleCallback(callbackRetryFailed))
	assert.Equal(t, "", h.HandleCallback("other"))
	assert.Equal(t, 2, q.retried)
}

func TestRespond_HelpAndUnknown(t *testing.T) {
	h := NewCommandHandler(&fakeQueue{}, fakeProviders{})
	assert.Equal(t, helpText, h.Respond("help"))
	assert.Equal(t, helpText, h.Respond("start"))
	assert.Contains(t, h.Respond("nope"), "Unknown command")
}

func TestNilBotIsDisabled(t *testing.T) {
	b, err := New("", 0, nil)
	assert.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, b.Send("hello"))
}

func TestIsFailureAlert(t *testing.T) {
	assert.True(t, isFailureAlert("❌ *Translation failed*"))
	assert.False(t, isFailureAlert("✅ ok"))
}
