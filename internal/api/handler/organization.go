package handler

import (
	"net/http"
	"strings"

	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Organization serves the caller's own tenant record.
type Organization struct {
	store    store.Store
	recorder *audit.Recorder
}

func NewOrganization(s store.Store, r *audit.Recorder) *Organization {
	return &Organization{store: s, recorder: r}
}

// Get handles GET /api/v1/organization and GET /api/v1/external/organization.
func (h *Organization) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	tenant, err := auth.Scoped(h.store, p).Tenant(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, tenant)
}

// Update handles PUT /api/v1/organization.
func (h *Organization) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        *string                `json:"name"`
		Description *string                `json:"description"`
		Settings    *models.TenantSettings `json:"settings"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	changes := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) < 2 || len(name) > maxNameLength {
			response.FromError(w, validation("name must be 2 to 100 characters"))
			return
		}
		req.Name = &name
		changes["name"] = name
	}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		req.Description = &desc
		changes["description"] = desc
	}
	if req.Settings != nil {
		if req.Settings.MaxUsers < 1 {
			response.FromError(w, validation("settings.max_users must be a positive integer"))
			return
		}
		if req.Settings.Features == nil {
			req.Settings.Features = []string{}
		}
		changes["settings"] = req.Settings
	}

	tenant, err := auth.Scoped(h.store, actor).UpdateTenant(r.Context(), store.TenantUpdate{
		Name:        req.Name,
		Description: req.Description,
		Settings:    req.Settings,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	principalID := actor.PrincipalID()
	h.recorder.Record(r.Context(), audit.Event{
		Action:      models.ActionOrganizationUpdated,
		PrincipalID: &principalID,
		TenantID:    &tenant.ID,
		Details:     map[string]any{"changes": changes},
		Meta:        mw.Meta(r),
	})
	response.JSON(w, tenant)
}
