package handler

import (
	"net/http"
	"time"

	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Auth serves registration, login and the caller's own account.
type Auth struct {
	sessions *auth.Sessions
}

func NewAuth(s *auth.Sessions) *Auth {
	return &Auth{sessions: s}
}

type sessionResponse struct {
	Token        string         `json:"token"`
	ExpiresAt    time.Time      `json:"expires_at"`
	User         *models.User   `json:"user"`
	Organization *models.Tenant `json:"organization"`
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, User: s.User, Organization: s.Tenant}
}

// Register handles POST /api/v1/auth/register.
func (h *Auth) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationName string `json:"organization_name"`
		Email            string `json:"email"`
		Password         string `json:"password"`
		FirstName        string `json:"first_name"`
		LastName         string `json:"last_name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}

	s, err := h.sessions.Register(r.Context(), auth.RegisterInput{
		OrganizationName: req.OrganizationName,
		Email:            req.Email,
		Password:         req.Password,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
	}, mw.Meta(r))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, newSessionResponse(s))
}

// Login handles POST /api/v1/auth/login.
func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		response.FromError(w, validation("email and password are required"))
		return
	}

	s, err := h.sessions.Login(r.Context(), req.Email, req.Password, mw.Meta(r))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, newSessionResponse(s))
}

// Logout handles POST /api/v1/auth/logout.
func (h *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := user(w, r)
	if !ok {
		return
	}
	h.sessions.Logout(r.Context(), p, mw.Meta(r))
	response.JSON(w, map[string]string{"message": "Logged out"})
}

// Profile handles GET /api/v1/auth/profile.
func (h *Auth) Profile(w http.ResponseWriter, r *http.Request) {
	p, ok := user(w, r)
	if !ok {
		return
	}
	u, tenant, err := h.sessions.Profile(r.Context(), p)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, map[string]any{"user": u, "organization": tenant})
}

// ChangePassword handles PUT /api/v1/auth/password.
func (h *Auth) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := user(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	if req.CurrentPassword == "" {
		response.FromError(w, validation("current_password is required"))
		return
	}

	if err := h.sessions.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, mw.Meta(r)); err != nil {
		response.FromError(w, err)
		return
	}
	response.JSON(w, map[string]string{"message": "Password changed"})
}
