package api

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/tenantgate/internal/api/handler"
	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	// TrustedProxies may set X-Forwarded-For. Everyone else is identified
	// by the connection address.
	TrustedProxies []netip.Prefix

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	Sessions     *handler.Auth
	APIKeys      *handler.APIKeys
	Users        *handler.Users
	Projects     *handler.Projects
	Organization *handler.Organization
	Audit        *handler.Audit
}

var anyRole = []models.Role{models.RoleUser, models.RoleManager, models.RoleAdmin}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.ClientAddress(deps.TrustedProxies))
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)
			apiRoutes(r, deps)
		})
	})

	return r
}

func apiRoutes(r chi.Router, deps Dependencies) {
	// Public
	r.Post("/auth/register", deps.Sessions.Register)
	r.Post("/auth/login", deps.Sessions.Login)

	// External integrations: API keys with read permission and a scope
	r.Route("/external", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.With(deps.Auth.RequirePermission(models.PermissionRead, models.ScopeProjects)).
			Get("/projects", deps.Projects.List)
		r.With(deps.Auth.RequirePermission(models.PermissionRead, models.ScopeUsers)).
			Get("/users", deps.Users.List)
		r.With(deps.Auth.RequirePermission(models.PermissionRead, models.ScopeOrganizations)).
			Get("/organization", deps.Organization.Get)
	})

	// Interactive users
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.Auth.RequireRole(anyRole...))

		r.Get("/auth/profile", deps.Sessions.Profile)
		r.Put("/auth/password", deps.Sessions.ChangePassword)
		r.Post("/auth/logout", deps.Sessions.Logout)

		r.Route("/users", func(r chi.Router) {
			r.With(deps.Auth.RequireRole(models.RoleAdmin, models.RoleManager)).Get("/", deps.Users.List)
			r.With(deps.Auth.RequireRole(models.RoleAdmin)).Post("/", deps.Users.Create)
			r.Get("/{userID}", deps.Users.Get)
			r.Put("/{userID}", deps.Users.Update)
			r.With(deps.Auth.RequireRole(models.RoleAdmin)).Delete("/{userID}", deps.Users.Delete)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", deps.Projects.List)
			r.With(deps.Auth.RequireRole(models.RoleAdmin, models.RoleManager)).Post("/", deps.Projects.Create)
			r.Get("/{projectID}", deps.Projects.Get)
			r.Put("/{projectID}", deps.Projects.Update)
			r.Delete("/{projectID}", deps.Projects.Delete)
		})

		r.Route("/organization", func(r chi.Router) {
			r.Get("/", deps.Organization.Get)
			r.With(deps.Auth.RequireRole(models.RoleAdmin)).Put("/", deps.Organization.Update)
		})

		// Admin and manager routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(models.RoleAdmin, models.RoleManager))

			r.Route("/api-keys", func(r chi.Router) {
				r.Get("/", deps.APIKeys.List)
				r.Post("/", deps.APIKeys.Create)
				r.Get("/{keyID}", deps.APIKeys.Get)
				r.Put("/{keyID}", deps.APIKeys.Update)
				r.Patch("/{keyID}/revoke", deps.APIKeys.Revoke)
				r.With(deps.Auth.RequireRole(models.RoleAdmin)).Delete("/{keyID}", deps.APIKeys.Delete)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/", deps.Audit.List)
				r.Get("/actions", deps.Audit.Actions)
				r.With(deps.Auth.RequireRole(models.RoleAdmin)).Get("/export", deps.Audit.Export)
				r.With(deps.Auth.RequireRole(models.RoleAdmin)).Delete("/cleanup", deps.Audit.Cleanup)
				r.Get("/{entryID}", deps.Audit.Get)
			})
		})
	})
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
