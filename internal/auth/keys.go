package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

const maxKeyNameLength = 100

// KeyLifetimes are the accepted values for CreateKeyInput.ExpiresIn.
var KeyLifetimes = map[string]time.Duration{
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

// APIKeys verifies API keys and manages their lifecycle.
type APIKeys struct {
	store    store.Store
	guard    *Guard
	recorder *audit.Recorder
	now      func() time.Time
}

func NewAPIKeys(s store.Store, g *Guard, r *audit.Recorder) *APIKeys {
	return &APIKeys{store: s, guard: g, recorder: r, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (k *APIKeys) SetClock(now func() time.Time) {
	k.now = now
}

// Verify resolves a presented key to its record. The shape is checked
// before any lookup. A known key id with the wrong secret fails. Expiry
// is checked before the active flag. The returned record may be non-nil
// alongside an error when the key id matched, so callers can attribute
// the failure to a tenant.
func (k *APIKeys) Verify(ctx context.Context, presented string) (*models.APIKey, error) {
	keyID, err := ParseKeyID(presented)
	if err != nil {
		return nil, err
	}

	key, err := k.store.GetAPIKeyByKeyID(ctx, keyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &AuthError{Reason: ReasonInvalidCredential}
	}
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	if !hashesEqual(presented, key.KeyHash) {
		return key, &AuthError{Reason: ReasonInvalidCredential}
	}
	if key.Expired(k.now()) {
		return key, &AuthError{Reason: ReasonExpiredCredential}
	}
	if !key.Active {
		return key, &AuthError{Reason: ReasonInvalidCredential}
	}
	return key, nil
}

// TouchLastUsed records use of key. Failure is logged only.
func (k *APIKeys) TouchLastUsed(ctx context.Context, key *models.APIKey) {
	if err := k.store.UpdateAPIKeyLastUsed(ctx, key.ID, k.now()); err != nil {
		slog.Warn("api key last-used update failed", "key_id", key.KeyID, "error", err)
	}
}

// CreateKeyInput describes a new key. Permissions default to read.
type CreateKeyInput struct {
	Name        string
	Permissions []models.Permission
	Scopes      []models.Scope
	ExpiresIn   string
}

// Create mints a key for the actor's tenant. The returned plaintext is the
// only copy that will ever exist.
func (k *APIKeys) Create(ctx context.Context, actor *UserPrincipal, in CreateKeyInput, meta audit.Meta) (*models.APIKey, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxKeyNameLength {
		return nil, "", invalid("name is required and must be at most %d characters", maxKeyNameLength)
	}
	perms := in.Permissions
	if len(perms) == 0 {
		perms = []models.Permission{models.PermissionRead}
	}
	if err := validateGrants(perms, in.Scopes); err != nil {
		return nil, "", err
	}

	var expiresAt *time.Time
	if in.ExpiresIn != "" {
		lifetime, ok := KeyLifetimes[in.ExpiresIn]
		if !ok {
			return nil, "", invalid("expiresIn must be one of 30d, 90d, 1y")
		}
		t := k.now().Add(lifetime)
		expiresAt = &t
	}

	if err := k.guard.AuthorizeKeyGrant(ctx, actor, perms, meta); err != nil {
		return nil, "", err
	}

	gen, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}

	now := k.now()
	key := &models.APIKey{
		ID:          uuid.New(),
		CreatedBy:   actor.PrincipalID(),
		Name:        name,
		KeyID:       gen.KeyID,
		KeyHash:     gen.Hash,
		Permissions: perms,
		Scopes:      nonNilScopes(in.Scopes),
		Active:      true,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := Scoped(k.store, actor).CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	k.record(ctx, actor, models.ActionAPIKeyGenerated, meta, map[string]any{
		"key_id":      key.KeyID,
		"name":        key.Name,
		"permissions": key.Permissions,
		"scopes":      key.Scopes,
		"expires_at":  key.ExpiresAt,
	})
	slog.Info("api key generated", "key_id", key.KeyID, "tenant_id", actor.TenantID(), "by", actor.PrincipalID())
	return key, gen.FullKey, nil
}

func (k *APIKeys) List(ctx context.Context, p Principal, filter store.APIKeyFilter) ([]*models.APIKey, int, error) {
	return Scoped(k.store, p).ListAPIKeys(ctx, filter)
}

func (k *APIKeys) Get(ctx context.Context, p Principal, id uuid.UUID) (*models.APIKey, error) {
	return Scoped(k.store, p).GetAPIKey(ctx, id)
}

// Update changes name, grants or the active flag.
func (k *APIKeys) Update(ctx context.Context, actor *UserPrincipal, id uuid.UUID, upd store.APIKeyUpdate, meta audit.Meta) (*models.APIKey, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || len(name) > maxKeyNameLength {
			return nil, invalid("name must be 1 to %d characters", maxKeyNameLength)
		}
		upd.Name = &name
	}
	if upd.Permissions != nil && len(upd.Permissions) == 0 {
		return nil, invalid("permissions must not be empty")
	}
	if err := validateGrants(upd.Permissions, upd.Scopes); err != nil {
		return nil, err
	}
	if err := k.guard.AuthorizeKeyGrant(ctx, actor, upd.Permissions, meta); err != nil {
		return nil, err
	}

	key, err := Scoped(k.store, actor).UpdateAPIKey(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if upd.Name != nil {
		changes["name"] = *upd.Name
	}
	if upd.Permissions != nil {
		changes["permissions"] = upd.Permissions
	}
	if upd.Scopes != nil {
		changes["scopes"] = upd.Scopes
	}
	if upd.Active != nil {
		changes["is_active"] = *upd.Active
	}
	k.record(ctx, actor, models.ActionAPIKeyUpdated, meta, map[string]any{
		"key_id":  key.KeyID,
		"name":    key.Name,
		"changes": changes,
	})
	return key, nil
}

// Revoke deactivates a key. The record is kept.
func (k *APIKeys) Revoke(ctx context.Context, actor *UserPrincipal, id uuid.UUID, meta audit.Meta) (*models.APIKey, error) {
	inactive := false
	key, err := Scoped(k.store, actor).UpdateAPIKey(ctx, id, store.APIKeyUpdate{Active: &inactive})
	if err != nil {
		return nil, err
	}
	k.record(ctx, actor, models.ActionAPIKeyRevoked, meta, map[string]any{
		"key_id": key.KeyID,
		"name":   key.Name,
	})
	return key, nil
}

// Delete removes a key permanently.
func (k *APIKeys) Delete(ctx context.Context, actor *UserPrincipal, id uuid.UUID, meta audit.Meta) error {
	ts := Scoped(k.store, actor)
	key, err := ts.GetAPIKey(ctx, id)
	if err != nil {
		return err
	}
	if err := ts.DeleteAPIKey(ctx, id); err != nil {
		return err
	}
	k.record(ctx, actor, models.ActionAPIKeyDeleted, meta, map[string]any{
		"key_id": key.KeyID,
		"name":   key.Name,
	})
	return nil
}

func (k *APIKeys) record(ctx context.Context, actor Principal, action models.AuditAction, meta audit.Meta, details map[string]any) {
	principalID := actor.PrincipalID()
	tenantID := actor.TenantID()
	k.recorder.Record(ctx, audit.Event{
		Action:      action,
		PrincipalID: &principalID,
		TenantID:    &tenantID,
		Details:     details,
		Meta:        meta,
	})
}

func validateGrants(perms []models.Permission, scopes []models.Scope) error {
	var bad []string
	for _, p := range perms {
		if !p.Valid() {
			bad = append(bad, string(p))
		}
	}
	if len(bad) > 0 {
		return invalid("invalid permissions: %s", strings.Join(bad, ", "))
	}
	for _, s := range scopes {
		if !s.Valid() {
			bad = append(bad, string(s))
		}
	}
	if len(bad) > 0 {
		return invalid("invalid scopes: %s", strings.Join(bad, ", "))
	}
	return nil
}

func nonNilScopes(scopes []models.Scope) []models.Scope {
	if scopes == nil {
		return []models.Scope{}
	}
	return scopes
}
