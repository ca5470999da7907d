package handler

import (
	"net/http"
	"strconv"

	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// APIKeys manages the tenant's API keys.
type APIKeys struct {
	keys *auth.APIKeys
}

func NewAPIKeys(k *auth.APIKeys) *APIKeys {
	return &APIKeys{keys: k}
}

// List handles GET /api/v1/api-keys. ?active=true|false filters by state.
func (h *APIKeys) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	page, err := pageFrom(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	filter := store.APIKeyFilter{Page: page}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			response.FromError(w, validation("active must be true or false"))
			return
		}
		filter.Active = &active
	}

	keys, total, err := h.keys.List(r.Context(), p, filter)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Collection(w, keys, response.NewPaginationMeta(page, total))
}

// Get handles GET /api/v1/api-keys/{keyID}.
func (h *APIKeys) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "keyID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	key, err := h.keys.Get(r.Context(), p, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, key)
}

type createKeyResponse struct {
	*models.APIKey
	// Key is the plaintext credential. It is returned only here.
	Key string `json:"key"`
}

// Create handles POST /api/v1/api-keys.
func (h *APIKeys) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string              `json:"name"`
		Permissions []models.Permission `json:"permissions"`
		Scopes      []models.Scope      `json:"scopes"`
		ExpiresIn   string              `json:"expires_in"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	key, full, err := h.keys.Create(r.Context(), actor, auth.CreateKeyInput{
		Name:        req.Name,
		Permissions: req.Permissions,
		Scopes:      req.Scopes,
		ExpiresIn:   req.ExpiresIn,
	}, mw.Meta(r))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, createKeyResponse{APIKey: key, Key: full})
}

// Update handles PUT /api/v1/api-keys/{keyID}.
func (h *APIKeys) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "keyID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	var req struct {
		Name        *string             `json:"name"`
		Permissions []models.Permission `json:"permissions"`
		Scopes      []models.Scope      `json:"scopes"`
		Active      *bool               `json:"is_active"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	key, err := h.keys.Update(r.Context(), actor, id, store.APIKeyUpdate{
		Name:        req.Name,
		Permissions: req.Permissions,
		Scopes:      req.Scopes,
		Active:      req.Active,
	}, mw.Meta(r))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, key)
}

// Revoke handles PATCH /api/v1/api-keys/{keyID}/revoke.
func (h *APIKeys) Revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "keyID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	key, err := h.keys.Revoke(r.Context(), actor, id, mw.Meta(r))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, key)
}

// Delete handles DELETE /api/v1/api-keys/{keyID}.
func (h *APIKeys) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := user(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "keyID")
	if err != nil {
		response.FromError(w, err)
		return
	}
	if err := h.keys.Delete(r.Context(), actor, id, mw.Meta(r)); err != nil {
		response.FromError(w, err)
		return
	}
	response.NoContent(w)
}
