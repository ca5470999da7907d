package handler

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Audit serves the tenant's audit trail.
type Audit struct {
	store    store.Store
	guard    *auth.Guard
	recorder *audit.Recorder
}

func NewAudit(s store.Store, g *auth.Guard, r *audit.Recorder) *Audit {
	return &Audit{store: s, guard: g, recorder: r}
}

// List handles GET /api/v1/audit.
func (h *Audit) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	filter, err := auditFilterFrom(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	filter.Page = page

	entries, total, err := h.recorder.List(r.Context(), auth.Scoped(h.store, p), filter)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Collection(w, entries, response.NewPaginationMeta(page, total))
}

// Get handles GET /api/v1/audit/{entryID}.
func (h *Audit) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	entry, err := h.recorder.Get(r.Context(), auth.Scoped(h.store, p), chi.URLParam(r, "entryID"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, entry)
}

// Actions handles GET /api/v1/audit/actions.
func (h *Audit) Actions(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, models.AuditActions)
}

// Export handles GET /api/v1/audit/export?format=json|csv.
func (h *Audit) Export(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		response.FromError(w, validation("format must be json or csv"))
		return
	}
	filter, err := auditFilterFrom(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	entries, err := h.recorder.Export(r.Context(), auth.Scoped(h.store, p), p.PrincipalID(), mw.Meta(r), filter, format)
	if err != nil {
		response.FromError(w, err)
		return
	}

	filename := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if format == "json" {
		response.JSON(w, entries)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	writeAuditCSV(w, entries)
}

// Cleanup handles DELETE /api/v1/audit/cleanup.
func (h *Audit) Cleanup(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req struct {
		OlderThanDays *int `json:"older_than_days"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	days := audit.DefaultRetentionDays
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}

	deleted, err := h.guard.CleanupAuditLog(r.Context(), p, mw.Meta(r), days)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, map[string]any{"deleted_count": deleted, "older_than_days": days})
}

// auditFilterFrom reads action, principal_id, start_date and end_date.
// action may repeat or be comma separated.
func auditFilterFrom(r *http.Request) (store.AuditFilter, error) {
	var f store.AuditFilter
	q := r.URL.Query()

	for _, raw := range q["action"] {
		for _, a := range strings.Split(raw, ",") {
			action := models.AuditAction(strings.TrimSpace(a))
			if action == "" {
				continue
			}
			if !action.Valid() {
				return f, validation(fmt.Sprintf("unknown audit action %q", action))
			}
			f.Actions = append(f.Actions, action)
		}
	}
	if v := q.Get("principal_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, validation("principal_id must be a uuid")
		}
		f.PrincipalID = &id
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, validation("start_date must be a valid RFC3339 timestamp")
		}
		f.Since = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, validation("end_date must be a valid RFC3339 timestamp")
		}
		f.Until = t
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return f, validation("end_date must not be before start_date")
	}
	return f, nil
}

var csvHeader = []string{"id", "occurred_at", "action", "principal_id", "source_address", "client_agent", "details"}

func writeAuditCSV(w http.ResponseWriter, entries []*models.AuditEntry) {
	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, e := range entries {
		principalID := ""
		if e.PrincipalID != nil {
			principalID = e.PrincipalID.String()
		}
		details, _ := json.Marshal(e.Details)
		_ = cw.Write([]string{
			e.ID,
			e.OccurredAt.UTC().Format(time.RFC3339),
			string(e.Action),
			principalID,
			e.SourceAddress,
			e.ClientAgent,
			string(details),
		})
	}
	cw.Flush()
}
