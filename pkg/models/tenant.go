package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an organization. Every user, project, API key and audit
// entry belongs to exactly one tenant.
type Tenant struct {
	ID          uuid.UUID      `db:"id"          json:"id"`
	Name        string         `db:"name"        json:"name"`
	Slug        string         `db:"slug"        json:"slug"`
	Description string         `db:"description" json:"description,omitempty"`
	Settings    TenantSettings `db:"settings"    json:"settings"`
	Active      bool           `db:"is_active"   json:"is_active"`
	CreatedAt   time.Time      `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"  json:"updated_at"`
}

// TenantSettings holds per-tenant feature flags and limits.
type TenantSettings struct {
	MaxUsers int      `json:"max_users"`
	Features []string `json:"features"`
}

// DefaultTenantSettings is applied to tenants created through registration.
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{MaxUsers: 50, Features: []string{"projects"}}
}
