package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store/memory"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testMeta = audit.Meta{SourceAddress: "192.0.2.10", ClientAgent: "go-test"}

// fixture wires every auth component over an in-memory store.
type fixture struct {
	mem       *memory.Store
	recorder  *audit.Recorder
	passwords *auth.Passwords
	tokens    *auth.TokenService
	guard     *auth.Guard
	keys      *auth.APIKeys
	resolver  *auth.Resolver
	sessions  *auth.Sessions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	rec := audit.NewRecorder(mem, time.Second)
	tokens, err := auth.NewTokenService([]byte(testSecret), time.Hour, "tenantgate-test")
	require.NoError(t, err)
	passwords := auth.NewPasswords(bcrypt.MinCost)
	guard := auth.NewGuard(mem, rec)
	keys := auth.NewAPIKeys(mem, guard, rec)
	return &fixture{
		mem:       mem,
		recorder:  rec,
		passwords: passwords,
		tokens:    tokens,
		guard:     guard,
		keys:      keys,
		resolver:  auth.NewResolver(mem, tokens, keys, rec),
		sessions:  auth.NewSessions(mem, passwords, tokens, rec),
	}
}

func (f *fixture) tenant(t *testing.T, active bool) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{ID: uuid.New(), Name: "Acme", Slug: uuid.NewString(), Active: active}
	f.mem.PutTenant(tenant)
	return tenant
}

func (f *fixture) user(t *testing.T, tenantID uuid.UUID, role models.Role, password string) *models.User {
	t.Helper()
	hash, err := f.passwords.Hash(password)
	require.NoError(t, err)
	u := &models.User{
		ID: uuid.New(), TenantID: tenantID, Email: uuid.NewString()[:8] + "@example.com",
		PasswordHash: hash, Role: role, Active: true, CreatedAt: time.Now().UTC(),
	}
	f.mem.PutUser(u)
	return u
}

func (f *fixture) userPrincipal(t *testing.T, u *models.User) *auth.UserPrincipal {
	t.Helper()
	p, err := auth.NewUserPrincipal(u)
	require.NoError(t, err)
	return p
}

// apiKey creates a key through the service and returns it with its plaintext.
func (f *fixture) apiKey(t *testing.T, admin *models.User, in auth.CreateKeyInput) (*models.APIKey, string) {
	t.Helper()
	key, full, err := f.keys.Create(context.Background(), f.userPrincipal(t, admin), in, testMeta)
	require.NoError(t, err)
	return key, full
}

func (f *fixture) actions() []models.AuditAction {
	var out []models.AuditAction
	for _, e := range f.mem.AuditEntries() {
		out = append(out, e.Action)
	}
	return out
}

func (f *fixture) lastEntry(t *testing.T) models.AuditEntry {
	t.Helper()
	entries := f.mem.AuditEntries()
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}
