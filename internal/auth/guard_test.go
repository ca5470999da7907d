package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyPrincipal(t *testing.T, perms []models.Permission, scopes []models.Scope) *auth.APIKeyPrincipal {
	t.Helper()
	p, err := auth.NewAPIKeyPrincipal(&models.APIKey{
		ID: uuid.New(), TenantID: uuid.New(), KeyID: "ak_0123456789abcdef",
		Permissions: perms, Scopes: scopes, Active: true,
	})
	require.NoError(t, err)
	return p
}

func TestPrincipal_RequiresTenant(t *testing.T) {
	_, err := auth.NewUserPrincipal(&models.User{ID: uuid.New(), Role: models.RoleAdmin})
	assert.Error(t, err)
	_, err = auth.NewAPIKeyPrincipal(&models.APIKey{ID: uuid.New()})
	assert.Error(t, err)
}

func TestPrincipal_TenantBinding(t *testing.T) {
	tenantID := uuid.New()
	p, err := auth.NewUserPrincipal(&models.User{ID: uuid.New(), TenantID: tenantID, Role: models.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, tenantID, p.TenantID())
	assert.Equal(t, auth.KindUser, p.Kind())
}

func TestCheckRole(t *testing.T) {
	tenantID := uuid.New()
	for _, role := range []models.Role{models.RoleUser, models.RoleManager, models.RoleAdmin} {
		p, err := auth.NewUserPrincipal(&models.User{ID: uuid.New(), TenantID: tenantID, Role: role})
		require.NoError(t, err)

		err = auth.CheckRole(p, models.RoleAdmin)
		if role == models.RoleAdmin {
			assert.NoError(t, err)
		} else {
			assert.Equal(t, auth.ReasonInsufficientRole, auth.ReasonOf(err), "role %s", role)
		}
	}

	admin := keyPrincipal(t, []models.Permission{models.PermissionAdmin}, nil)
	assert.Equal(t, auth.ReasonInsufficientRole, auth.ReasonOf(auth.CheckRole(admin, models.RoleAdmin)),
		"api keys never pass a role gate")
}

func TestCheckPermission(t *testing.T) {
	readProjects := keyPrincipal(t,
		[]models.Permission{models.PermissionRead},
		[]models.Scope{models.ScopeProjects})

	tests := []struct {
		name   string
		p      auth.Principal
		perm   models.Permission
		scopes []models.Scope
		want   auth.Reason
	}{
		{"write denied", readProjects, models.PermissionWrite, []models.Scope{models.ScopeProjects}, auth.ReasonInsufficientPermission},
		{"wrong scope", readProjects, models.PermissionRead, []models.Scope{models.ScopeUsers}, auth.ReasonInsufficientScope},
		{"allowed", readProjects, models.PermissionRead, []models.Scope{models.ScopeProjects}, ""},
		{"any of scopes", readProjects, models.PermissionRead, []models.Scope{models.ScopeUsers, models.ScopeProjects}, ""},
		{"no scope required", readProjects, models.PermissionRead, nil, ""},
		{"admin subsumes", keyPrincipal(t, []models.Permission{models.PermissionAdmin}, nil), models.PermissionWrite, []models.Scope{models.ScopeAudit}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.ReasonOf(auth.CheckPermission(tt.p, tt.perm, tt.scopes...)))
		})
	}

	user, err := auth.NewUserPrincipal(&models.User{ID: uuid.New(), TenantID: uuid.New(), Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, auth.ReasonInsufficientPermission, auth.ReasonOf(auth.CheckPermission(user, models.PermissionRead)),
		"users never pass a permission gate")
}

func TestAPIKeyPrincipal_CopiesGrants(t *testing.T) {
	p := keyPrincipal(t, []models.Permission{models.PermissionRead}, []models.Scope{models.ScopeProjects})
	perms := p.Permissions()
	perms[0] = models.PermissionAdmin
	assert.False(t, p.HasPermission(models.PermissionWrite))
}

func TestGuard_DenialIsAudited(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	user := f.user(t, tenant.ID, models.RoleUser, "password1")
	p := f.userPrincipal(t, user)

	err := f.guard.RequireRole(context.Background(), p, testMeta, "GET /api/v1/users", models.RoleAdmin)
	require.Equal(t, auth.ReasonInsufficientRole, auth.ReasonOf(err))

	e := f.lastEntry(t)
	assert.Equal(t, models.ActionUnauthorizedAccess, e.Action)
	assert.Equal(t, user.ID, *e.PrincipalID)
	assert.Equal(t, tenant.ID, *e.TenantID)
	assert.Equal(t, auth.ReasonInsufficientRole, e.Details["reason"])
	assert.Equal(t, testMeta.SourceAddress, e.SourceAddress)
}

func TestGuard_RequirePermissionAuditsScopeDenial(t *testing.T) {
	f := newFixture(t)
	p := keyPrincipal(t, []models.Permission{models.PermissionRead}, []models.Scope{models.ScopeProjects})

	err := f.guard.RequirePermission(context.Background(), p, testMeta, "GET /api/v1/external/users", models.PermissionRead, models.ScopeUsers)
	require.Equal(t, auth.ReasonInsufficientScope, auth.ReasonOf(err))
	assert.Equal(t, auth.ReasonInsufficientScope, f.lastEntry(t).Details["reason"])

	require.NoError(t, f.guard.RequirePermission(context.Background(), p, testMeta, "list projects", models.PermissionRead, models.ScopeProjects))
	assert.Len(t, f.mem.AuditEntries(), 1, "allowed calls write nothing")
}

func TestGuard_AuthorizeUserUpdate(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	admin := f.user(t, tenant.ID, models.RoleAdmin, "password1")
	otherAdmin := f.user(t, tenant.ID, models.RoleAdmin, "password1")
	manager := f.user(t, tenant.ID, models.RoleManager, "password1")
	member := f.user(t, tenant.ID, models.RoleUser, "password1")
	peer := f.user(t, tenant.ID, models.RoleUser, "password1")

	roleAdmin := models.RoleAdmin
	roleManager := models.RoleManager
	inactive := false
	name := "Renamed"

	tests := []struct {
		name    string
		actor   *models.User
		target  *models.User
		upd     store.UserUpdate
		allowed bool
	}{
		{"user edits self", member, member, store.UserUpdate{FirstName: &name}, true},
		{"user edits peer", member, peer, store.UserUpdate{FirstName: &name}, false},
		{"manager edits peer", manager, peer, store.UserUpdate{FirstName: &name}, true},
		{"manager changes role", manager, peer, store.UserUpdate{Role: &roleManager}, false},
		{"user promotes self", member, member, store.UserUpdate{Role: &roleAdmin}, false},
		{"admin changes role", admin, peer, store.UserUpdate{Role: &roleManager}, true},
		{"admin demotes other admin", admin, otherAdmin, store.UserUpdate{Role: &roleManager}, false},
		{"admin demotes self", admin, admin, store.UserUpdate{Role: &roleManager}, true},
		{"manager deactivates", manager, peer, store.UserUpdate{Active: &inactive}, false},
		{"admin deactivates", admin, peer, store.UserUpdate{Active: &inactive}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.guard.AuthorizeUserUpdate(context.Background(), f.userPrincipal(t, tt.actor), tt.target, tt.upd, testMeta)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, auth.ReasonInsufficientRole, auth.ReasonOf(err))
		})
	}
}

func TestGuard_AuthorizeRoleGrant(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	manager := f.userPrincipal(t, f.user(t, tenant.ID, models.RoleManager, "password1"))
	admin := f.userPrincipal(t, f.user(t, tenant.ID, models.RoleAdmin, "password1"))

	assert.Error(t, f.guard.AuthorizeRoleGrant(context.Background(), manager, models.RoleAdmin, testMeta))
	assert.NoError(t, f.guard.AuthorizeRoleGrant(context.Background(), manager, models.RoleUser, testMeta))
	assert.NoError(t, f.guard.AuthorizeRoleGrant(context.Background(), admin, models.RoleAdmin, testMeta))
}

func TestGuard_CleanupAuditLog(t *testing.T) {
	f := newFixture(t)
	tenant := f.tenant(t, true)
	admin := f.userPrincipal(t, f.user(t, tenant.ID, models.RoleAdmin, "password1"))
	manager := f.userPrincipal(t, f.user(t, tenant.ID, models.RoleManager, "password1"))

	old := uuid.New()
	f.mem.PutAuditEntry(&models.AuditEntry{
		ID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", Action: models.ActionLogout, TenantID: &tenant.ID,
		OccurredAt: time.Now().AddDate(-2, 0, 0), PrincipalID: &old, Details: map[string]any{},
	})

	_, err := f.guard.CleanupAuditLog(context.Background(), manager, testMeta, 365)
	assert.Equal(t, auth.ReasonInsufficientRole, auth.ReasonOf(err))

	_, err = f.guard.CleanupAuditLog(context.Background(), admin, testMeta, 30)
	assert.Equal(t, auth.ReasonValidation, auth.ReasonOf(err))
	assert.Zero(t, f.mem.AuditDeletes)

	deleted, err := f.guard.CleanupAuditLog(context.Background(), admin, testMeta, 365)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, models.ActionAuditLogsCleaned, f.lastEntry(t).Action)
}
