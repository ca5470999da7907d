package middleware

import (
	"net/http"

	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Auth provides authentication and the role and permission gates.
type Auth struct {
	resolver *auth.Resolver
	guard    *auth.Guard
}

// NewAuth creates a new Auth middleware.
func NewAuth(resolver *auth.Resolver, guard *auth.Guard) *Auth {
	return &Auth{resolver: resolver, guard: guard}
}

// Authenticate resolves the bearer token or X-API-Key header into a
// principal and stores it in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.resolver.Authenticate(r.Context(), auth.Request{
			Authorization: r.Header.Get("Authorization"),
			APIKey:        r.Header.Get("X-API-Key"),
			Action:        Action(r),
			Meta:          Meta(r),
		})
		if err != nil {
			response.FromError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), p)))
	})
}

// RequireRole admits only user principals holding one of roles.
func (a *Auth) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r)
			if !ok {
				response.FromError(w, &auth.AuthError{Reason: auth.ReasonNoCredential})
				return
			}
			if err := a.guard.RequireRole(r.Context(), p, Meta(r), Action(r), roles...); err != nil {
				response.FromError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission admits only API key principals holding perm and one
// of scopes.
func (a *Auth) RequirePermission(perm models.Permission, scopes ...models.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r)
			if !ok {
				response.FromError(w, &auth.AuthError{Reason: auth.ReasonNoCredential})
				return
			}
			if err := a.guard.RequirePermission(r.Context(), p, Meta(r), Action(r), perm, scopes...); err != nil {
				response.FromError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
