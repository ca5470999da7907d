package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrNoTenant is returned by every TenantStore method when the store was
// scoped to the nil tenant.
var ErrNoTenant = errors.New("tenant id is required")

// Store is the data access interface. It only exposes what is needed before
// a tenant is known (authentication lookups, registration) and the
// append-only audit write. All other reads and writes go through ForTenant.
type Store interface {
	Ping(ctx context.Context) error

	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	CreateTenantWithAdmin(ctx context.Context, tenant *models.Tenant, admin *models.User) error

	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	GetAPIKeyByKeyID(ctx context.Context, keyID string) (*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error

	AppendAuditEntry(ctx context.Context, entry *models.AuditEntry) error

	// ForTenant returns a view of the store bound to tenantID. Every query
	// issued through it is filtered by that tenant.
	ForTenant(tenantID uuid.UUID) TenantStore
}

// TenantStore is a tenant-scoped view of the data. The tenant id is fixed at
// construction and cannot be supplied per call, so a query without a tenant
// filter cannot be expressed.
type TenantStore interface {
	TenantID() uuid.UUID

	Tenant(ctx context.Context) (*models.Tenant, error)
	UpdateTenant(ctx context.Context, upd TenantUpdate) (*models.Tenant, error)

	ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, int, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (*models.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	ListProjects(ctx context.Context, page Page) ([]*models.Project, int, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	CreateProject(ctx context.Context, project *models.Project) error
	UpdateProject(ctx context.Context, id uuid.UUID, upd ProjectUpdate) (*models.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error

	ListAPIKeys(ctx context.Context, filter APIKeyFilter) ([]*models.APIKey, int, error)
	GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	UpdateAPIKey(ctx context.Context, id uuid.UUID, upd APIKeyUpdate) (*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error

	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, int, error)
	GetAuditEntry(ctx context.Context, id string) (*models.AuditEntry, error)
	DeleteAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps the page to sane bounds and returns limit and offset.
func (p Page) Normalize() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := p.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

type UserFilter struct {
	Page
	Role models.Role
}

type APIKeyFilter struct {
	Page
	Active *bool
}

type AuditFilter struct {
	Page
	Actions     []models.AuditAction
	PrincipalID *uuid.UUID
	Since       time.Time
	Until       time.Time
	// Unpaged lifts the page limit up to MaxExportRows; used by export.
	Unpaged bool
}

// MaxExportRows caps the number of audit entries returned by an unpaged query.
const MaxExportRows = 10000

type TenantUpdate struct {
	Name        *string
	Description *string
	Settings    *models.TenantSettings
}

type UserUpdate struct {
	FirstName *string
	LastName  *string
	Role      *models.Role
	Active    *bool
}

type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *string
}

type APIKeyUpdate struct {
	Name        *string
	Permissions []models.Permission
	Scopes      []models.Scope
	Active      *bool
}
