// Package jobs turns a batch-translate request into queued work: it loads
// untranslated slots from the catalog, drops what is not worth translating
// and hands the rest to the scheduling manager.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/filter"
	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
)

var (
	ErrTargetRequired      = errors.New("target locale is required")
	ErrSameLocale          = errors.New("target locale equals the source locale")
	ErrUnknownLocale       = errors.New("locale is not enabled on the shop")
	ErrUnknownResourceType = errors.New("unsupported resource type")
)

// Request selects the slots to translate. An empty SourceLocale means the
// shop's primary locale; empty ResourceTypes means every type.
type Request struct {
	SourceLocale  string   `json:"source_locale"`
	TargetLocale  string   `json:"target_locale"`
	ResourceTypes []string `json:"resource_types"`
}

// Ack reports what a submission did.
type Ack struct {
	SourceLocale string `json:"source_locale"`
	TargetLocale string `json:"target_locale"`
	Candidates   int    `json:"candidates"`
	Skipped      int    `json:"skipped"`
	Duplicates   int    `json:"duplicates"`
	Enqueued     int    `json:"enqueued"`
	Rejected     int    `json:"rejected"`
}

// Candidates loads translatable slots.
type Candidates interface {
	Candidates(ctx context.Context, q catalog.Query) ([]catalog.Candidate, error)
}

// Locales lists the shop's locales.
type Locales interface {
	ShopLocales(ctx context.Context, refresh bool) ([]shopify.Locale, error)
}

// Queue admits work.
type Queue interface {
	Enqueue(ctx context.Context, cands []catalog.Candidate) manager.EnqueueResult
}

// Translator submits batch-translate requests.
type Translator struct {
	candidates Candidates
	locales    Locales
	queue      Queue
}

// New creates a Translator.
func New(candidates Candidates, locales Locales, queue Queue) *Translator {
	return &Translator{candidates: candidates, locales: locales, queue: queue}
}

// Submit resolves the language pair, loads candidates and enqueues the ones
// worth translating. Identical source texts are submitted once; the manager
// fans the translation out to the other slots when it lands.
func (t *Translator) Submit(ctx context.Context, req Request) (Ack, error) {
	if req.TargetLocale == "" {
		return Ack{}, ErrTargetRequired
	}
	for _, rt := range req.ResourceTypes {
		if !catalog.IsSupportedResourceType(rt) {
			return Ack{}, fmt.Errorf("%w: %s", ErrUnknownResourceType, rt)
		}
	}

	source, err := t.resolveSource(ctx, req)
	if err != nil {
		return Ack{}, err
	}
	if source == req.TargetLocale {
		return Ack{}, ErrSameLocale
	}
	ack := Ack{SourceLocale: source, TargetLocale: req.TargetLocale}

	cands, err := t.candidates.Candidates(ctx, catalog.Query{
		SourceLocale:  source,
		TargetLocale:  req.TargetLocale,
		ResourceTypes: req.ResourceTypes,
	})
	if err != nil {
		return Ack{}, fmt.Errorf("jobs.Submit: %w", err)
	}
	ack.Candidates = len(cands)

	seen := make(map[string]struct{}, len(cands))
	keep := cands[:0:0]
	for _, c := range cands {
		if filter.ShouldSkip(c.SourceText, c.ResourceID, c.Key) {
			ack.Skipped++
			continue
		}
		if _, dup := seen[c.SourceText]; dup {
			ack.Duplicates++
			continue
		}
		seen[c.SourceText] = struct{}{}
		keep = append(keep, c)
	}

	res := t.queue.Enqueue(ctx, keep)
	ack.Duplicates += res.Duplicates
	ack.Enqueued = res.Added
	ack.Rejected = res.Rejected
	log.Printf("jobs: %s-%s: %d candidate(s), %d skipped, %d duplicate(s), %d enqueued",
		source, req.TargetLocale, ack.Candidates, ack.Skipped, ack.Duplicates, ack.Enqueued)
	return ack, nil
}

// resolveSource falls back to the primary locale when the request names no
// source or one the shop does not have. The target must exist on the shop.
func (t *Translator) resolveSource(ctx context.Context, req Request) (string, error) {
	locales, err := t.locales.ShopLocales(ctx, false)
	if err != nil {
		return "", fmt.Errorf("jobs.Submit: %w", err)
	}
	primary := ""
	known := make(map[string]bool, len(locales))
	for _, l := range locales {
		known[l.Locale] = true
		if l.Primary {
			primary = l.Locale
		}
	}
	if !known[req.TargetLocale] {
		return "", fmt.Errorf("%w: %s", ErrUnknownLocale, req.TargetLocale)
	}
	if req.SourceLocale != "" && known[req.SourceLocale] {
		return req.SourceLocale, nil
	}
	if primary == "" {
		return "", fmt.Errorf("jobs.Submit: shop has no primary locale")
	}
	return primary, nil
}
