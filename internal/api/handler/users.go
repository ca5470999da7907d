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

const maxNameLength = 100

// Users manages accounts inside the caller's tenant.
type Users struct {
	store     store.Store
	guard     *auth.Guard
	passwords *auth.Passwords
	recorder  *audit.Recorder
}

func NewUsers(s store.Store, g *auth.Guard, p *auth.Passwords, r *audit.Recorder) *Users {
	return &Users{store: s, guard: g, passwords: p, recorder: r}
}

// List handles GET /api/v1/users and GET /api/v1/external/users.
func (h *Users) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	filter := store.UserFilter{Page: page}
	if v := r.URL.Query().Get("role"); v != "" {
		role := models.Role(v)
		if !role.Valid() {
			response.FromError(w, validation("role must be user, manager or admin"))
			return
		}
		filter.Role = role
	}

	users, total, err := auth.Scoped(h.store, p).ListUsers(r.Context(), filter)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Collection(w, users, response.NewPaginationMeta(page, total))
}

// Get handles GET /api/v1/users/{userID}. Plain users may only read
// themselves.
func (h *Users) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "userID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	if id != actor.PrincipalID() && !actor.HasRole(models.RoleAdmin, models.RoleManager) {
		response.FromError(w, h.guard.Deny(r.Context(), actor, mw.Meta(r), auth.ReasonInsufficientRole,
			map[string]any{"action": mw.Action(r), "rule": "own_profile_only", "target_user_id": id}))
		return
	}

	u, err := auth.Scoped(h.store, actor).GetUser(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, u)
}

// Create handles POST /api/v1/users.
func (h *Users) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	var req struct {
		Email     string      `json:"email"`
		Password  string      `json:"password"`
		FirstName string      `json:"first_name"`
		LastName  string      `json:"last_name"`
		Role      models.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if !req.Role.Valid() {
		response.FromError(w, validation("role must be user, manager or admin"))
		return
	}
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		response.FromError(w, err)
		return
	}
	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if len(first) > maxNameLength || len(last) > maxNameLength {
		response.FromError(w, validation("names must be at most 100 characters"))
		return
	}
	meta := mw.Meta(r)
	if err := h.guard.AuthorizeRoleGrant(r.Context(), actor, req.Role, meta); err != nil {
		response.FromError(w, err)
		return
	}
	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		response.FromError(w, err)
		return
	}

	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         req.Role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := auth.Scoped(h.store, actor).CreateUser(r.Context(), u); err != nil {
		response.FromError(w, err)
		return
	}

	h.record(r, actor, models.ActionUserCreated, map[string]any{
		"user_id": u.ID,
		"email":   u.Email,
		"role":    u.Role,
	})
	response.Created(w, u)
}

// Update handles PUT /api/v1/users/{userID}.
func (h *Users) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "userID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	var req struct {
		FirstName *string      `json:"first_name"`
		LastName  *string      `json:"last_name"`
		Role      *models.Role `json:"role"`
		Active    *bool        `json:"is_active"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if req.Role != nil && !req.Role.Valid() {
		response.FromError(w, validation("role must be user, manager or admin"))
		return
	}
	for _, name := range []*string{req.FirstName, req.LastName} {
		if name != nil {
			*name = strings.TrimSpace(*name)
			if len(*name) > maxNameLength {
				response.FromError(w, validation("names must be at most 100 characters"))
				return
			}
		}
	}

	ts := auth.Scoped(h.store, actor)
	target, err := ts.GetUser(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	upd := store.UserUpdate{FirstName: req.FirstName, LastName: req.LastName, Role: req.Role, Active: req.Active}
	if err := h.guard.AuthorizeUserUpdate(r.Context(), actor, target, upd, mw.Meta(r)); err != nil {
		response.FromError(w, err)
		return
	}

	updated, err := ts.UpdateUser(r.Context(), id, upd)
	if err != nil {
		response.FromError(w, err)
		return
	}

	changes := map[string]any{}
	if req.FirstName != nil {
		changes["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		changes["last_name"] = *req.LastName
	}
	if req.Role != nil {
		changes["role"] = *req.Role
	}
	if req.Active != nil {
		changes["is_active"] = *req.Active
	}
	h.record(r, actor, models.ActionUserUpdated, map[string]any{
		"user_id": updated.ID,
		"email":   updated.Email,
		"changes": changes,
	})
	if req.Role != nil && *req.Role != target.Role {
		h.record(r, actor, models.ActionRoleChanged, map[string]any{
			"user_id":  updated.ID,
			"email":    updated.Email,
			"old_role": target.Role,
			"new_role": updated.Role,
		})
	}
	response.JSON(w, updated)
}

// Delete handles DELETE /api/v1/users/{userID}. Admins cannot delete
// themselves.
func (h *Users) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "userID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	if id == actor.PrincipalID() {
		response.FromError(w, validation("you cannot delete your own account"))
		return
	}

	ts := auth.Scoped(h.store, actor)
	target, err := ts.GetUser(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if err := ts.DeleteUser(r.Context(), id); err != nil {
		response.FromError(w, err)
		return
	}

	h.record(r, actor, models.ActionUserDeleted, map[string]any{
		"user_id": target.ID,
		"email":   target.Email,
		"role":    target.Role,
	})
	response.NoContent(w)
}

func (h *Users) record(r *http.Request, actor auth.Principal, action models.AuditAction, details map[string]any) {
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
