package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

const minProjectNameLength = 2

// Projects serves tenant-owned projects.
type Projects struct {
	store    store.Store
	guard    *auth.Guard
	recorder *audit.Recorder
}

func NewProjects(s store.Store, g *auth.Guard, r *audit.Recorder) *Projects {
	return &Projects{store: s, guard: g, recorder: r}
}

// List handles GET /api/v1/projects and GET /api/v1/external/projects.
func (h *Projects) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	projects, total, err := auth.Scoped(h.store, p).ListProjects(r.Context(), page)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Collection(w, projects, response.NewPaginationMeta(page, total))
}

// Get handles GET /api/v1/projects/{projectID}.
func (h *Projects) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "projectID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	project, err := auth.Scoped(h.store, p).GetProject(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, project)
}

// Create handles POST /api/v1/projects.
func (h *Projects) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if len(name) < minProjectNameLength || len(name) > maxNameLength {
		response.FromError(w, validation("name must be 2 to 100 characters"))
		return
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:          uuid.New(),
		CreatedBy:   actor.PrincipalID(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Status:      models.ProjectStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := auth.Scoped(h.store, actor).CreateProject(r.Context(), project); err != nil {
		response.FromError(w, err)
		return
	}

	h.record(r, actor, models.ActionProjectCreated, map[string]any{
		"project_id": project.ID,
		"name":       project.Name,
	})
	response.Created(w, project)
}

// Update handles PUT /api/v1/projects/{projectID}. Admins, managers and the
// project's creator may update it.
func (h *Projects) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "projectID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) < minProjectNameLength || len(name) > maxNameLength {
			response.FromError(w, validation("name must be 2 to 100 characters"))
			return
		}
		req.Name = &name
	}
	if req.Status != nil && !validProjectStatus(*req.Status) {
		response.FromError(w, validation("status must be active, inactive or archived"))
		return
	}

	ts := auth.Scoped(h.store, actor)
	project, err := ts.GetProject(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if err := h.authorizeChange(r, actor, project); err != nil {
		response.FromError(w, err)
		return
	}

	updated, err := ts.UpdateProject(r.Context(), id, store.ProjectUpdate{
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.record(r, actor, models.ActionProjectUpdated, map[string]any{
		"project_id": updated.ID,
		"name":       updated.Name,
		"status":     updated.Status,
	})
	response.JSON(w, updated)
}

// Delete handles DELETE /api/v1/projects/{projectID}.
func (h *Projects) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "projectID")
	if err != nil {
		response.FromError(w, err)
		return
	}

	ts := auth.Scoped(h.store, actor)
	project, err := ts.GetProject(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if err := h.authorizeChange(r, actor, project); err != nil {
		response.FromError(w, err)
		return
	}
	if err := ts.DeleteProject(r.Context(), id); err != nil {
		response.FromError(w, err)
		return
	}

	h.record(r, actor, models.ActionProjectDeleted, map[string]any{
		"project_id": project.ID,
		"name":       project.Name,
	})
	response.NoContent(w)
}

func (h *Projects) authorizeChange(r *http.Request, actor *auth.UserPrincipal, project *models.Project) error {
	if actor.HasRole(models.RoleAdmin, models.RoleManager) || project.CreatedBy == actor.PrincipalID() {
		return nil
	}
	return h.guard.Deny(r.Context(), actor, mw.Meta(r), auth.ReasonInsufficientRole, map[string]any{
		"action":     mw.Action(r),
		"rule":       "creator_or_manager",
		"project_id": project.ID,
	})
}

func (h *Projects) record(r *http.Request, actor auth.Principal, action models.AuditAction, details map[string]any) {
	principalID := actor.PrincipalID()
	tenantID := actor.TenantID()
	h.recorder.Record(r.Context(), audit.Event{
		Action:      action,
		PrincipalID: &principalID,
		TenantID:    &tenantID,
		Details:     details,
		Meta:        mw.Meta(r),
	})
}

func validProjectStatus(s string) bool {
	switch s {
	case models.ProjectStatusActive, models.ProjectStatusInactive, models.ProjectStatusArchived:
		return true
	}
	return false
}
