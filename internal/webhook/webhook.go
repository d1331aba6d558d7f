// Package webhook fires outbound webhook events to the configured URLs.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrDisabled is returned by Test when no webhook URL is configured.
var ErrDisabled = errors.New("webhooks are disabled")

// Payload is the JSON body sent to webhook URLs.
type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Dispatcher posts events to a fixed list of URLs.
type Dispatcher struct {
	urls   []string
	events map[string]bool // empty: every event
	client *resty.Client
	wg     sync.WaitGroup
}

// New creates a Dispatcher. When events is non-empty only those events are
// delivered. Returns nil if urls is empty (webhooks disabled).
func New(urls, events []string) *Dispatcher {
	if len(urls) == 0 {
		return nil
	}
	d := &Dispatcher{
		urls:   urls,
		events: make(map[string]bool, len(events)),
		// 3 attempts with exponential backoff (500ms, 1s, 2s).
		client: resty.New().
			SetTimeout(8*time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500*time.Millisecond).
			SetRetryMaxWaitTime(2*time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
			}),
	}
	for _, e := range events {
		d.events[e] = true
	}
	return d
}

// Fire sends an event to every URL in the background.
func (d *Dispatcher) Fire(event string, data any) {
	if d == nil || (len(d.events) > 0 && !d.events[event]) {
		return
	}
	payload := Payload{Event: event, Timestamp: time.Now(), Data: data}
	for _, url := range d.urls {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			if err := d.post(context.Background(), url, payload); err != nil {
				log.Printf("webhook.Fire: %s to %s: %v", event, url, err)
			}
		}(url)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

// URLs returns the configured endpoints.
func (d *Dispatcher) URLs() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.urls...)
}

// Test posts a webhook.test event to url and reports the outcome.
func (d *Dispatcher) Test(ctx context.Context, url string) error {
	if d == nil {
		return ErrDisabled
	}
	if err := d.post(ctx, url, Payload{
		Event:     "webhook.test",
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "This is a test from shoptrans"},
	}); err != nil {
		return fmt.Errorf("webhook.Test: %w", err)
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, url string, payload Payload) error {
	r, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return err
	}
	if r.IsError() {
		return fmt.Errorf("server returned %d", r.StatusCode())
	}
	return nil
}
