package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/lizhenmiao/shopify-translation/internal/catalog"
	"github.com/lizhenmiao/shopify-translation/internal/jobs"
	"github.com/lizhenmiao/shopify-translation/internal/shopify"
)

// SubmitBatch handles POST /api/v1/translations/batch.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceLocale  string   `json:"source_locale"`
		TargetLocale  string   `json:"target_locale"`
		ResourceTypes []string `json:"resource_types"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ack, err := h.Translator.Submit(r.Context(), jobs.Request{
		SourceLocale:  req.SourceLocale,
		TargetLocale:  req.TargetLocale,
		ResourceTypes: req.ResourceTypes,
	})
	switch {
	case errors.Is(err, jobs.ErrTargetRequired), errors.Is(err, jobs.ErrSameLocale),
		errors.Is(err, jobs.ErrUnknownLocale), errors.Is(err, jobs.ErrUnknownResourceType):
		fail(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Printf("api: submit batch: %v", err)
		fail(w, http.StatusBadGateway, "submit: "+err.Error())
		return
	}
	accepted(w, ack)
}

// StartSync handles POST /api/v1/resources/sync.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResourceTypes []string `json:"resource_types"`
		Locales       []string `json:"locales"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			fail(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	rep, err := h.Syncer.Start(r.Context(), req.ResourceTypes, req.Locales)
	switch {
	case errors.Is(err, shopify.ErrSyncRunning):
		fail(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, shopify.ErrNothingToSync):
		fail(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Printf("api: start sync: %v", err)
		fail(w, http.StatusBadGateway, "sync: "+err.Error())
		return
	}
	accepted(w, rep)
}

// ListLocales handles GET /api/v1/locales. ?refresh=true bypasses the cache.
func (h *Handler) ListLocales(w http.ResponseWriter, r *http.Request) {
	locales, err := h.Locales.ShopLocales(r.Context(), r.URL.Query().Get("refresh") == "true")
	if err != nil {
		fail(w, http.StatusBadGateway, "locales: "+err.Error())
		return
	}
	ok(w, locales)
}

// ListResourceTypes handles GET /api/v1/resource-types.
func (h *Handler) ListResourceTypes(w http.ResponseWriter, r *http.Request) {
	type resourceType struct {
		Type   string `json:"type"`
		Prefix string `json:"prefix"`
	}
	var out []resourceType
	for _, t := range catalog.SupportedResourceTypes() {
		out = append(out, resourceType{Type: t, Prefix: catalog.ResourceIDPrefix(t)})
	}
	ok(w, out)
}
