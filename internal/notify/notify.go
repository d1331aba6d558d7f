// Package notify provides a notification dispatcher that routes engine events to configured adapters.
package notify

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
	"github.com/lizhenmiao/shopify-translation/internal/worker"
)

// Sender can send a plain text message.
type Sender interface {
	Send(msg string) error
}

// WebhookFirer can fire a webhook event.
type WebhookFirer interface {
	Fire(event string, payload any)
}

// Broadcaster streams events to live clients.
type Broadcaster interface {
	Send(event string, payload any)
}

// alertEvents are worth a chat message; the rest only go to webhooks and
// the live stream.
var alertEvents = map[string]bool{
	worker.EventProviderThrottled:  true,
	worker.EventProviderResumed:    true,
	manager.EventTranslationFailed: true,
	shopify.EventSyncCompleted:     true,
}

// Dispatcher routes notification events to Telegram, webhooks and the
// WebSocket hub.
type Dispatcher struct {
	webhook WebhookFirer
	hub     Broadcaster

	mu       sync.RWMutex
	telegram Sender
}

// New creates a Dispatcher. Any adapter may be nil (disabled).
func New(telegram Sender, webhook WebhookFirer, hub Broadcaster) *Dispatcher {
	return &Dispatcher{telegram: telegram, webhook: webhook, hub: hub}
}

// SetTelegram attaches the chat adapter once the bot exists. The bot's
// commands read the engine, which itself needs a Dispatcher.
func (d *Dispatcher) SetTelegram(telegram Sender) {
	d.mu.Lock()
	d.telegram = telegram
	d.mu.Unlock()
}

func (d *Dispatcher) chat() Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.telegram
}

// Send dispatches a notification event to all configured adapters.
func (d *Dispatcher) Send(event string, payload any) {
	if d.hub != nil {
		d.hub.Send(event, payload)
	}
	if d.webhook != nil {
		d.webhook.Fire(event, payload)
	}
	if tg := d.chat(); tg != nil && alertEvents[event] {
		if err := tg.Send(FormatEvent(event, payload)); err != nil {
			log.Printf("notify: telegram send: %v", err)
		}
	}
}

// SendTelegram sends a message only via Telegram.
func (d *Dispatcher) SendTelegram(msg string) {
	tg := d.chat()
	if tg == nil {
		return
	}
	if err := tg.Send(msg); err != nil {
		log.Printf("notify: telegram: %v", err)
	}
}

// FormatEvent renders an event as a short chat message.
func FormatEvent(event string, payload any) string {
	switch p := payload.(type) {
	case manager.Failure:
		return fmt.Sprintf("❌ *Translation failed* (%s-%s)\n%s `%s`\n%s",
			p.Item.SourceLocale, p.Item.TargetLocale, p.Item.ResourceID, p.Item.Key, p.Error)
	case shopify.Report:
		if p.Error != "" {
			return fmt.Sprintf("🔴 *Sync failed*: %s", p.Error)
		}
		return fmt.Sprintf("🔄 *Sync completed* (%s → %s)\n%d resources, %d source rows, %d target rows, %d deleted",
			strings.Join(p.ResourceTypes, ", "), strings.Join(p.Locales, ", "),
			p.Resources, p.SourceItems, p.TargetItems, p.Deleted)
	case map[string]any:
		switch event {
		case worker.EventProviderThrottled:
			return fmt.Sprintf("⚠️ *Rate limit* on %v, paused for %v", p["provider"], p["cooldown"])
		case worker.EventProviderResumed:
			return fmt.Sprintf("✅ %v is available again", p["provider"])
		}
		return fmt.Sprintf("[%s] %s", event, formatMap(p))
	}
	return fmt.Sprintf("[%s] %v", event, payload)
}

func formatMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return strings.Join(parts, " ")
}
