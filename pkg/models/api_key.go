package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a long-lived machine credential. The plaintext key is returned
// once at creation; only the public KeyID and a one-way hash are stored.
type APIKey struct {
	ID          uuid.UUID    `db:"id"          json:"id"`
	TenantID    uuid.UUID    `db:"tenant_id"   json:"tenant_id"`
	CreatedBy   uuid.UUID    `db:"created_by"  json:"created_by"`
	Name        string       `db:"name"        json:"name"`
	KeyID       string       `db:"key_id"      json:"key_id"`
	KeyHash     string       `db:"key_hash"    json:"-"`
	Permissions []Permission `db:"permissions" json:"permissions"`
	Scopes      []Scope      `db:"scopes"      json:"scopes"`
	Active      bool         `db:"is_active"   json:"is_active"`
	ExpiresAt   *time.Time   `db:"expires_at"  json:"expires_at,omitempty"`
	LastUsedAt  *time.Time   `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt   time.Time    `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"  json:"updated_at"`
}

// Expired reports whether the key has an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
