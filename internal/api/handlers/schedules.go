package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lizhenmiao/shopify-translation/internal/db"
	"github.com/lizhenmiao/shopify-translation/internal/scheduler"
)

// ListSchedules handles GET /api/v1/schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Schedules.List(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, "query: "+err.Error())
		return
	}
	if schedules == nil {
		schedules = []db.Schedule{}
	}
	ok(w, schedules)
}

// CreateSchedule handles POST /api/v1/schedules.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string   `json:"name"`
		CronExpr      string   `json:"cron_expr"`
		Kind          string   `json:"kind"`
		SourceLocale  string   `json:"source_locale"`
		TargetLocale  string   `json:"target_locale"`
		ResourceTypes []string `json:"resource_types"`
		Enabled       *bool    `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s := db.Schedule{
		Name:          req.Name,
		CronExpr:      req.CronExpr,
		Kind:          req.Kind,
		SourceLocale:  req.SourceLocale,
		TargetLocale:  req.TargetLocale,
		ResourceTypes: strings.Join(req.ResourceTypes, ","),
		Enabled:       req.Enabled == nil || *req.Enabled,
	}
	if err := h.Schedules.Create(r.Context(), &s); err != nil {
		if errors.Is(err, scheduler.ErrInvalidSchedule) {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		fail(w, http.StatusInternalServerError, "insert: "+err.Error())
		return
	}
	ok(w, map[string]int{"id": s.ID})
}

// GetSchedule handles GET /api/v1/schedules/{id}.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(pathID(r, "id"))
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	s, err := h.Schedules.Get(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		fail(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		fail(w, http.StatusInternalServerError, "query: "+err.Error())
		return
	}
	ok(w, s)
}

// UpdateSchedule handles PUT /api/v1/schedules/{id}. Only the enabled flag
// can change; recreate a schedule to edit it.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(pathID(r, "id"))
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.Schedules.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fail(w, http.StatusNotFound, "schedule not found")
			return
		}
		fail(w, http.StatusInternalServerError, "update: "+err.Error())
		return
	}
	ok(w, map[string]string{"message": "updated"})
}

// DeleteSchedule handles DELETE /api/v1/schedules/{id}.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(pathID(r, "id"))
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.Schedules.Delete(r.Context(), id); err != nil {
		fail(w, http.StatusInternalServerError, "delete: "+err.Error())
		return
	}
	ok(w, map[string]string{"message": "deleted"})
}
