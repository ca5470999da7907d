package auth

import (
	"context"
	"errors"
	"slices"

	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/metrics"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// CheckRole passes only user principals holding one of roles. API key
// principals never pass a role gate.
func CheckRole(p Principal, roles ...models.Role) error {
	if p.Kind() != KindUser || !p.HasRole(roles...) {
		return &AccessError{Reason: ReasonInsufficientRole}
	}
	return nil
}

// CheckPermission passes only API key principals holding perm (or admin)
// and, when scopes are given, at least one of them (or admin).
func CheckPermission(p Principal, perm models.Permission, scopes ...models.Scope) error {
	if p.Kind() != KindAPIKey || !p.HasPermission(perm) {
		return &AccessError{Reason: ReasonInsufficientPermission}
	}
	if !p.HasScope(scopes...) {
		return &AccessError{Reason: ReasonInsufficientScope}
	}
	return nil
}

// Scoped returns the store view bound to the principal's tenant. It is the
// only way request handlers reach tenant data.
func Scoped(s store.Store, p Principal) store.TenantStore {
	return s.ForTenant(p.TenantID())
}

// Guard evaluates policy and records every denial before it is returned.
type Guard struct {
	store    store.Store
	recorder *audit.Recorder
}

func NewGuard(s store.Store, r *audit.Recorder) *Guard {
	return &Guard{store: s, recorder: r}
}

// RequireRole is CheckRole plus the denial audit.
func (g *Guard) RequireRole(ctx context.Context, p Principal, meta audit.Meta, action string, roles ...models.Role) error {
	if err := CheckRole(p, roles...); err != nil {
		return g.Deny(ctx, p, meta, ReasonInsufficientRole, map[string]any{
			"action":         action,
			"required_roles": roles,
		})
	}
	return nil
}

// RequirePermission is CheckPermission plus the denial audit.
func (g *Guard) RequirePermission(ctx context.Context, p Principal, meta audit.Meta, action string, perm models.Permission, scopes ...models.Scope) error {
	if err := CheckPermission(p, perm, scopes...); err != nil {
		return g.Deny(ctx, p, meta, ReasonOf(err), map[string]any{
			"action":              action,
			"required_permission": perm,
			"required_scopes":     scopes,
		})
	}
	return nil
}

// Deny records UNAUTHORIZED_ACCESS for p and returns the matching AccessError.
func (g *Guard) Deny(ctx context.Context, p Principal, meta audit.Meta, reason Reason, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["reason"] = reason
	details["principal_kind"] = p.Kind()

	principalID := p.PrincipalID()
	tenantID := p.TenantID()
	g.recorder.Record(ctx, audit.Event{
		Action:      models.ActionUnauthorizedAccess,
		PrincipalID: &principalID,
		TenantID:    &tenantID,
		Details:     details,
		Meta:        meta,
	})
	metrics.AccessDenied(string(reason))
	return &AccessError{Reason: reason}
}

// AuthorizeRoleGrant allows assigning role only when an admin is asking
// for the admin role.
func (g *Guard) AuthorizeRoleGrant(ctx context.Context, actor *UserPrincipal, role models.Role, meta audit.Meta) error {
	if role == models.RoleAdmin && actor.Role() != models.RoleAdmin {
		return g.Deny(ctx, actor, meta, ReasonInsufficientRole, map[string]any{
			"action":         "grant_role",
			"requested_role": role,
		})
	}
	return nil
}

// AuthorizeUserUpdate enforces the account mutation rules:
// users edit only themselves unless they are admin or manager; only admins
// change roles; an admin's role may be changed only by that admin; only
// admins flip the active flag.
func (g *Guard) AuthorizeUserUpdate(ctx context.Context, actor *UserPrincipal, target *models.User, upd store.UserUpdate, meta audit.Meta) error {
	self := actor.PrincipalID() == target.ID
	deny := func(rule string) error {
		return g.Deny(ctx, actor, meta, ReasonInsufficientRole, map[string]any{
			"action":         "update_user",
			"rule":           rule,
			"target_user_id": target.ID,
		})
	}

	if !self && !actor.HasRole(models.RoleAdmin, models.RoleManager) {
		return deny("own_profile_only")
	}
	if upd.Role != nil && *upd.Role != target.Role {
		if actor.Role() != models.RoleAdmin {
			return deny("admin_changes_roles")
		}
		if target.Role == models.RoleAdmin && !self {
			return deny("admin_changes_own_role_only")
		}
	}
	if upd.Active != nil && actor.Role() != models.RoleAdmin {
		return deny("admin_changes_status")
	}
	return nil
}

// AuthorizeKeyGrant refuses the admin permission to non-admin users.
func (g *Guard) AuthorizeKeyGrant(ctx context.Context, actor *UserPrincipal, perms []models.Permission, meta audit.Meta) error {
	if slices.Contains(perms, models.PermissionAdmin) && actor.Role() != models.RoleAdmin {
		return g.Deny(ctx, actor, meta, ReasonInsufficientRole, map[string]any{
			"action":               "grant_api_key_permission",
			"requested_permission": models.PermissionAdmin,
		})
	}
	return nil
}

// CleanupAuditLog is the only path to audit retention cleanup: admin users
// only, bounded by the retention floor.
func (g *Guard) CleanupAuditLog(ctx context.Context, p Principal, meta audit.Meta, olderThanDays int) (int64, error) {
	if err := g.RequireRole(ctx, p, meta, "cleanup_audit_log", models.RoleAdmin); err != nil {
		return 0, err
	}
	deleted, err := g.recorder.Cleanup(ctx, Scoped(g.store, p), p.PrincipalID(), meta, olderThanDays)
	if errors.Is(err, audit.ErrRetentionFloor) {
		return 0, &ValidationError{Reason: ReasonValidation, Message: err.Error()}
	}
	return deleted, err
}
