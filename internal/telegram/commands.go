package telegram

import (
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lizhenmiao/shopify-translation/internal/manager"
	"github.com/lizhenmiao/shopify-translation/internal/worker"
)

// maxFailuresListed caps the /failures reply.
const maxFailuresListed = 10

// Queue is the part of the manager the commands read and act on.
type Queue interface {
	Stats() manager.Stats
	Failures() []manager.Failure
	RetryFailed() int
}

// Providers reports the state of every provider worker.
type Providers interface {
	Snapshot() []worker.Status
}

// CommandHandler handles Telegram bot commands.
type CommandHandler struct {
	queue     Queue
	providers Providers
	reply     func(chatID int64, text string)
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(queue Queue, providers Providers) *CommandHandler {
	return &CommandHandler{queue: queue, providers: providers}
}

// Handle dispatches incoming messages to the correct command handler.
func (h *CommandHandler) Handle(msg *tgbotapi.Message) {
	if msg == nil || !msg.IsCommand() {
		return
	}
	if h.reply == nil {
		log.Printf("telegram: no reply function, dropping /%s", msg.Command())
		return
	}
	h.reply(msg.Chat.ID, h.Respond(msg.Command()))
}

// Respond renders the reply to a command.
func (h *CommandHandler) Respond(command string) string {
	switch command {
	case "status":
		return h.status()
	case "providers":
		return h.providerList()
	case "failures":
		return h.failures()
	case "retry":
		return fmt.Sprintf("🔁 %d failed item(s) requeued.", h.queue.RetryFailed())
	case "help", "start":
		return helpText
	default:
		return "Unknown command. Use /help for a list of commands."
	}
}

// HandleCallback processes inline keyboard button presses and returns the
// toast shown to the user.
func (h *CommandHandler) HandleCallback(data string) string {
	switch data {
	case callbackRetryFailed:
		n := h.queue.RetryFailed()
		log.Printf("telegram: %d failed item(s) requeued from chat", n)
		return fmt.Sprintf("%d item(s) requeued", n)
	}
	return ""
}

func (h *CommandHandler) status() string {
	s := h.queue.Stats()
	var sb strings.Builder
	sb.WriteString("*Queue*\n\n")
	fmt.Fprintf(&sb, "Pending: %d\nIn flight: %d\nSucceeded: %d\nFailed: %d\nRetried: %d\n",
		s.Pending, s.InFlight, s.Succeeded, s.Failed, s.Retried)

	statuses := h.providers.Snapshot()
	available := 0
	for _, st := range statuses {
		if st.Available {
			available++
		}
	}
	fmt.Fprintf(&sb, "\nProviders: %d/%d available", available, len(statuses))
	return sb.String()
}

func (h *CommandHandler) providerList() string {
	statuses := h.providers.Snapshot()
	if len(statuses) == 0 {
		return "_No active providers._"
	}
	var sb strings.Builder
	sb.WriteString("*Providers*\n\n")
	for _, st := range statuses {
		fmt.Fprintf(&sb, "%s %s `%s`\n", statusIcon(st), st.Name, st.Model)
		fmt.Fprintf(&sb, "   %d req / %d tok this minute, %d req / %d tok today\n",
			st.Usage.WindowRequests, st.Usage.WindowTokens, st.Usage.DailyRequests, st.Usage.DailyTokens)
		if st.UnavailableUntil != nil {
			fmt.Fprintf(&sb, "   paused until %s\n", st.UnavailableUntil.Format(time.TimeOnly))
		}
	}
	return sb.String()
}

func (h *CommandHandler) failures() string {
	list := h.queue.Failures()
	if len(list) == 0 {
		return "_No failed items._"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Failed items* (%d)\n\n", len(list))
	for i, f := range list {
		if i == maxFailuresListed {
			fmt.Fprintf(&sb, "… and %d more\n", len(list)-maxFailuresListed)
			break
		}
		fmt.Fprintf(&sb, "%s-%s %s `%s`\n   %s\n", f.Item.SourceLocale, f.Item.TargetLocale,
			f.Item.ResourceID, f.Item.Key, f.Error)
	}
	sb.WriteString("\nUse /retry to requeue them.")
	return sb.String()
}

const helpText = `*shoptrans Commands*

/status — Queue and provider summary
/providers — Provider quotas and cooldowns
/failures — Items that failed for good
/retry — Requeue failed items
/help — This help`

func statusIcon(st worker.Status) string {
	switch {
	case !st.Available:
		return "🟡"
	case st.Running:
		return "🟢"
	default:
		return "⚪"
	}
}

func isFailureAlert(msg string) bool {
	return strings.HasPrefix(msg, "❌")
}
