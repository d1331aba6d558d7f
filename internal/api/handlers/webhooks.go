package handlers

import (
	"errors"
	"net/http"
	"slices"

	"github.com/lizhenmiao/shopify-translation/internal/webhook"
)

// ListWebhooks handles GET /api/v1/webhooks.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	urls := h.Webhooks.URLs()
	if urls == nil {
		urls = []string{}
	}
	ok(w, urls)
}

// TestWebhook handles POST /api/v1/webhooks/test. Only configured URLs can
// be tested.
func (h *Handler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !slices.Contains(h.Webhooks.URLs(), req.URL) {
		fail(w, http.StatusNotFound, "webhook not configured")
		return
	}
	if err := h.Webhooks.Test(r.Context(), req.URL); err != nil {
		if errors.Is(err, webhook.ErrDisabled) {
			fail(w, http.StatusNotFound, err.Error())
			return
		}
		fail(w, http.StatusBadGateway, "test failed: "+err.Error())
		return
	}
	ok(w, map[string]string{"message": "test webhook sent"})
}
