package handlers

import (
	"net/http"
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/ledger"
)

// GetUsage handles GET /api/v1/usage.
// Query params: period=daily|weekly|monthly.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "daily"
	}

	now := h.now()
	var since time.Time
	switch period {
	case "daily":
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "weekly":
		since = now.AddDate(0, 0, -7)
	case "monthly":
		since = now.AddDate(0, -1, 0)
	default:
		fail(w, http.StatusBadRequest, "period must be daily, weekly or monthly")
		return
	}

	rows, err := h.Ledger.UsageSummary(r.Context(), since)
	if err != nil {
		fail(w, http.StatusInternalServerError, "query: "+err.Error())
		return
	}
	if rows == nil {
		rows = []ledger.ProviderUsage{}
	}
	ok(w, map[string]any{
		"period": period,
		"since":  since.Format(time.RFC3339),
		"rows":   rows,
	})
}
