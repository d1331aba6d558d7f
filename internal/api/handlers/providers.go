package handlers

import (
	"net/http"
	"strconv"

	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/ledger"
)

type providerView struct {
	db.Provider
	APIKey string `json:"api_key"`
}

// ListProviders handles GET /api/v1/providers. Keys are masked.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.Ledger.ListProviders(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, "query: "+err.Error())
		return
	}
	out := make([]providerView, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerView{Provider: p, APIKey: ledger.MaskKey(p.APIKey)})
	}
	ok(w, out)
}

// CreateProvider handles POST /api/v1/providers. Call reload to start it.
func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name              string `json:"name"`
		BaseURL           string `json:"base_url"`
		ProviderType      string `json:"provider_type"`
		Model             string `json:"model"`
		APIKey            string `json:"api_key"`
		RequestsPerMinute int    `json:"requests_per_minute"`
		RequestsPerDay    int    `json:"requests_per_day"`
		TokensPerMinute   int    `json:"tokens_per_minute"`
		TokensPerDay      int    `json:"tokens_per_day"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.BaseURL == "" || req.Model == "" {
		fail(w, http.StatusBadRequest, "name, base_url and model are required")
		return
	}
	if req.ProviderType == "" {
		req.ProviderType = "openai"
	}
	p := db.Provider{
		Name:              req.Name,
		BaseURL:           req.BaseURL,
		ProviderType:      req.ProviderType,
		Model:             req.Model,
		APIKey:            req.APIKey,
		IsActive:          true,
		RequestsPerMinute: req.RequestsPerMinute,
		RequestsPerDay:    req.RequestsPerDay,
		TokensPerMinute:   req.TokensPerMinute,
		TokensPerDay:      req.TokensPerDay,
	}
	if err := h.Ledger.CreateProvider(r.Context(), &p); err != nil {
		fail(w, http.StatusInternalServerError, "insert: "+err.Error())
		return
	}
	ok(w, map[string]int64{"id": p.ID})
}

// SetProviderActive handles PUT /api/v1/providers/{id}/active.
func (h *Handler) SetProviderActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(pathID(r, "id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.Ledger.SetActive(r.Context(), id, req.Active); err != nil {
		fail(w, http.StatusInternalServerError, "update: "+err.Error())
		return
	}
	ok(w, map[string]string{"message": "updated"})
}
