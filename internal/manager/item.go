package manager

import (
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
)

// WorkItem is one source string scheduled for translation into one locale.
type WorkItem struct {
	SourceText   string         `json:"source_text"`
	SourceLocale string         `json:"source_locale"`
	TargetLocale string         `json:"target_locale"`
	ResourceID   string         `json:"resource_id"`
	Key          string         `json:"key"`
	DigestHash   string         `json:"digest_hash"`
	Tokens       map[string]int `json:"tokens"` // per model; entries never change once set
	RetryCount   int            `json:"retry_count"`
	Errors       []string       `json:"errors,omitempty"`
}

// ID is the task identifier used for de-duplication and reservation.
func (w *WorkItem) ID() string {
	return w.ResourceID + ":" + w.Key + ":" + w.DigestHash + ":" + w.SourceLocale + "-" + w.TargetLocale
}

// Pair is the language pair key, "en-fr".
func (w *WorkItem) Pair() string {
	return w.SourceLocale + "-" + w.TargetLocale
}

// Slot is the (resource, key) the item translates.
func (w *WorkItem) Slot() catalog.Slot {
	return catalog.Slot{ResourceID: w.ResourceID, Key: w.Key}
}

func (w *WorkItem) retry(msg string, consume bool) *WorkItem {
	next := *w
	if consume {
		next.RetryCount++
	}
	next.Errors = append(append([]string(nil), w.Errors...), msg)
	return &next
}

func fromCandidate(c catalog.Candidate) *WorkItem {
	return &WorkItem{
		SourceText:   c.SourceText,
		SourceLocale: c.SourceLocale,
		TargetLocale: c.TargetLocale,
		ResourceID:   c.ResourceID,
		Key:          c.Key,
		DigestHash:   c.DigestHash,
		Tokens:       make(map[string]int),
	}
}

// Failure is a terminal failure kept for inspection.
type Failure struct {
	Item  WorkItem  `json:"item"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// State of a task identifier inside the Manager.
type State string

const (
	StateUnknown   State = ""
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)
