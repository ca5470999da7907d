package auth

import (
	"errors"
	"slices"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Kind distinguishes interactive users from machine credentials.
type Kind string

const (
	KindUser   Kind = "user"
	KindAPIKey Kind = "api_key"
)

var errNoTenant = errors.New("principal requires a tenant")

// Principal is the identity resolved for one request. Its tenant binding
// is fixed at construction.
type Principal interface {
	PrincipalID() uuid.UUID
	TenantID() uuid.UUID
	Kind() Kind
	// HasRole reports whether the principal is a user holding one of roles.
	HasRole(roles ...models.Role) bool
	// HasPermission reports whether the principal is a key holding p or
	// the admin permission.
	HasPermission(p models.Permission) bool
	// HasScope reports whether the principal is a key holding one of
	// scopes, or the admin permission. An empty list always passes for keys.
	HasScope(scopes ...models.Scope) bool
}

// UserPrincipal is an authenticated interactive user.
type UserPrincipal struct {
	id       uuid.UUID
	tenantID uuid.UUID
	email    string
	role     models.Role
}

func NewUserPrincipal(u *models.User) (*UserPrincipal, error) {
	if u.TenantID == uuid.Nil {
		return nil, errNoTenant
	}
	return &UserPrincipal{id: u.ID, tenantID: u.TenantID, email: u.Email, role: u.Role}, nil
}

func (p *UserPrincipal) PrincipalID() uuid.UUID { return p.id }
func (p *UserPrincipal) TenantID() uuid.UUID    { return p.tenantID }
func (p *UserPrincipal) Kind() Kind             { return KindUser }
func (p *UserPrincipal) Email() string          { return p.email }
func (p *UserPrincipal) Role() models.Role      { return p.role }

func (p *UserPrincipal) HasRole(roles ...models.Role) bool {
	return slices.Contains(roles, p.role)
}

func (p *UserPrincipal) HasPermission(models.Permission) bool { return false }
func (p *UserPrincipal) HasScope(...models.Scope) bool        { return false }

// APIKeyPrincipal is a request authenticated with an API key.
type APIKeyPrincipal struct {
	id          uuid.UUID
	tenantID    uuid.UUID
	keyID       string
	createdBy   uuid.UUID
	permissions []models.Permission
	scopes      []models.Scope
}

func NewAPIKeyPrincipal(k *models.APIKey) (*APIKeyPrincipal, error) {
	if k.TenantID == uuid.Nil {
		return nil, errNoTenant
	}
	return &APIKeyPrincipal{
		id:          k.ID,
		tenantID:    k.TenantID,
		keyID:       k.KeyID,
		createdBy:   k.CreatedBy,
		permissions: slices.Clone(k.Permissions),
		scopes:      slices.Clone(k.Scopes),
	}, nil
}

func (p *APIKeyPrincipal) PrincipalID() uuid.UUID { return p.id }
func (p *APIKeyPrincipal) TenantID() uuid.UUID    { return p.tenantID }
func (p *APIKeyPrincipal) Kind() Kind             { return KindAPIKey }
func (p *APIKeyPrincipal) KeyID() string          { return p.keyID }
func (p *APIKeyPrincipal) CreatedBy() uuid.UUID   { return p.createdBy }

func (p *APIKeyPrincipal) HasRole(...models.Role) bool { return false }

func (p *APIKeyPrincipal) HasPermission(perm models.Permission) bool {
	return slices.Contains(p.permissions, perm) || slices.Contains(p.permissions, models.PermissionAdmin)
}

func (p *APIKeyPrincipal) HasScope(scopes ...models.Scope) bool {
	if slices.Contains(p.permissions, models.PermissionAdmin) || len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if slices.Contains(p.scopes, s) {
			return true
		}
	}
	return false
}

// Permissions returns a copy of the key's permissions.
func (p *APIKeyPrincipal) Permissions() []models.Permission { return slices.Clone(p.permissions) }

// Scopes returns a copy of the key's scopes.
func (p *APIKeyPrincipal) Scopes() []models.Scope { return slices.Clone(p.scopes) }
