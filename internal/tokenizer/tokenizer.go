package tokenizer

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/singleflight"
)

// Encoder turns text into a token count for one model.
type Encoder interface {
	Count(text string) int
}

// Loader resolves the encoder for a model identifier.
type Loader func(model string) (Encoder, error)

// Tokenizer caches one encoder per model. A model whose encoder cannot be
// loaded is remembered as failed and counted with EstimateTokens until the
// next ReleaseAll.
type Tokenizer struct {
	load  Loader
	group singleflight.Group

	mu       sync.RWMutex
	encoders map[string]Encoder // nil value: load failed
}

// New returns a Tokenizer backed by tiktoken encodings.
func New() *Tokenizer {
	return NewWithLoader(TiktokenLoader)
}

// NewWithLoader returns a Tokenizer that resolves encoders with load.
func NewWithLoader(load Loader) *Tokenizer {
	return &Tokenizer{load: load, encoders: make(map[string]Encoder)}
}

// Count returns the number of tokens text occupies for model. It never fails:
// when no encoder is available, or the encoder panics, the heuristic estimate
// is returned instead.
func (t *Tokenizer) Count(text, model string) (n int) {
	if text == "" {
		return 0
	}
	enc := t.encoder(model)
	if enc == nil {
		return EstimateTokens(text)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tokenizer: encode panic for %s: %v", model, r)
			n = EstimateTokens(text)
		}
	}()
	return enc.Count(text)
}

// ReleaseAll drops every cached encoder. Call it once after a burst of
// counting, not after each Count.
func (t *Tokenizer) ReleaseAll() {
	t.mu.Lock()
	t.encoders = make(map[string]Encoder)
	t.mu.Unlock()
}

// Cached reports how many models currently hold a cache entry.
func (t *Tokenizer) Cached() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.encoders)
}

func (t *Tokenizer) encoder(model string) Encoder {
	t.mu.RLock()
	enc, ok := t.encoders[model]
	t.mu.RUnlock()
	if ok {
		return enc
	}

	v, _, _ := t.group.Do(model, func() (interface{}, error) {
		t.mu.RLock()
		enc, ok := t.encoders[model]
		t.mu.RUnlock()
		if ok {
			return enc, nil
		}
		enc, err := t.load(model)
		if err != nil {
			log.Printf("tokenizer: no encoder for %q, using estimate: %v", model, err)
			enc = nil
		}
		t.mu.Lock()
		t.encoders[model] = enc
		t.mu.Unlock()
		return enc, nil
	})
	enc, _ = v.(Encoder)
	return enc
}

// ── tiktoken ─────────────────────────────────────────────────────────────────

// DefaultEncoding is used for models tiktoken does not know by name.
const DefaultEncoding = "cl100k_base"

var prefixEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
	{"text-embedding", "cl100k_base"},
	{"text-davinci-003", "p50k_base"},
	{"text-davinci-002", "p50k_base"},
	{"code-davinci", "p50k_base"},
	{"davinci", "r50k_base"},
}

// EncodingFor maps a model identifier to a tiktoken encoding name, falling
// back to DefaultEncoding.
func EncodingFor(model string) string {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	for _, p := range prefixEncodings {
		if strings.HasPrefix(m, p.prefix) {
			return p.encoding
		}
	}
	return DefaultEncoding
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// TiktokenLoader tries the exact model mapping first, then the prefix table.
func TiktokenLoader(model string) (Encoder, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return tiktokenEncoder{enc: enc}, nil
	}
	enc, err := tiktoken.GetEncoding(EncodingFor(model))
	if err != nil {
		return nil, fmt.Errorf("tokenizer.TiktokenLoader: %s: %w", model, err)
	}
	return tiktokenEncoder{enc: enc}, nil
}
