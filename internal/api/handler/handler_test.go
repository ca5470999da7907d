package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/api/handler"
	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store/memory"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test harness ────────────────────────────────────────────────────────────

type harness struct {
	t         *testing.T
	mem       *memory.Store
	passwords *auth.Passwords
	tenant    *models.Tenant
	admin     *auth.UserPrincipal
	member    *auth.UserPrincipal
	memberID  uuid.UUID

	sessions *handler.Auth
	keys     *handler.APIKeys
	users    *handler.Users
	projects *handler.Projects
	org      *handler.Organization
	audit    *handler.Audit
}

const memberPassword = "member-pass-1"

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := memory.New()
	rec := audit.NewRecorder(mem, time.Second)
	passwords := auth.NewPasswords(bcrypt.MinCost)
	tokens, err := auth.NewTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Hour, "tenantgate-test")
	require.NoError(t, err)
	guard := auth.NewGuard(mem, rec)

	now := time.Now().UTC()
	tenant := &models.Tenant{
		ID: uuid.New(), Name: "Acme", Slug: "acme", Active: true,
		Settings: models.DefaultTenantSettings(), CreatedAt: now, UpdatedAt: now,
	}
	mem.PutTenant(tenant)

	h := &harness{
		t:         t,
		mem:       mem,
		passwords: passwords,
		tenant:    tenant,
		sessions:  handler.NewAuth(auth.NewSessions(mem, passwords, tokens, rec)),
		keys:      handler.NewAPIKeys(auth.NewAPIKeys(mem, guard, rec)),
		users:     handler.NewUsers(mem, guard, passwords, rec),
		projects:  handler.NewProjects(mem, guard, rec),
		org:       handler.NewOrganization(mem, rec),
		audit:     handler.NewAudit(mem, guard, rec),
	}
	h.admin = h.seedUser("admin@acme.test", models.RoleAdmin)
	h.member = h.seedUser("member@acme.test", models.RoleUser)
	h.memberID = h.member.PrincipalID()
	return h
}

func (h *harness) seedUser(email string, role models.Role) *auth.UserPrincipal {
	h.t.Helper()
	hash, err := h.passwords.Hash(memberPassword)
	require.NoError(h.t, err)
	u := &models.User{
		ID: uuid.New(), TenantID: h.tenant.ID, Email: email, PasswordHash: hash,
		Role: role, Active: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	h.mem.PutUser(u)
	p, err := auth.NewUserPrincipal(u)
	require.NoError(h.t, err)
	return p
}

func (h *harness) keyPrincipal() *auth.APIKeyPrincipal {
	h.t.Helper()
	p, err := auth.NewAPIKeyPrincipal(&models.APIKey{
		ID: uuid.New(), TenantID: h.tenant.ID, KeyID: "0123456789abcdef", Active: true,
		Permissions: []models.Permission{models.PermissionAdmin},
	})
	require.NoError(h.t, err)
	return p
}

// serve routes a single request through chi so URL parameters resolve.
func serve(t *testing.T, method, pattern, path string, fn http.HandlerFunc, p auth.Principal, body any) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p != nil {
				req = req.WithContext(mw.SetPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.MethodFunc(method, pattern, fn)

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := parseBody(t, w)["error"].(map[string]any)
	require.True(t, ok, w.Body.String())
	return e["code"].(string)
}

func (h *harness) count(action models.AuditAction) int {
	n := 0
	for _, e := range h.mem.AuditEntries() {
		if e.Action == action {
			n++
		}
	}
	return n
}

// ─── request decoding ────────────────────────────────────────────────────────

func TestHandlers_400_InvalidJSON(t *testing.T) {
	h := newHarness(t)
	w := serve(t, "POST", "/users", "/users", h.users.Create, h.admin, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestHandlers_400_Pagination(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{"?page=0", "?limit=101", "?limit=abc"} {
		w := serve(t, "GET", "/projects", "/projects"+q, h.projects.List, h.admin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandlers_404_MalformedID(t *testing.T) {
	h := newHarness(t)
	w := serve(t, "GET", "/users/{userID}", "/users/not-a-uuid", h.users.Get, h.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestHandlers_401_NoPrincipal(t *testing.T) {
	h := newHarness(t)
	w := serve(t, "GET", "/organization", "/organization", h.org.Get, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_403_KeyOnUserOnlyHandler(t *testing.T) {
	h := newHarness(t)
	w := serve(t, "POST", "/api-keys", "/api-keys", h.keys.Create, h.keyPrincipal(), map[string]string{"name": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_ROLE", errorCode(t, w))
}

// ─── /auth ───────────────────────────────────────────────────────────────────

func TestChangePassword(t *testing.T) {
	h := newHarness(t)

	w := serve(t, "PUT", "/auth/password", "/auth/password", h.sessions.ChangePassword, h.member,
		map[string]string{"current_password": "wrong-password", "new_password": "brand-new-pass"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, "PUT", "/auth/password", "/auth/password", h.sessions.ChangePassword, h.member,
		map[string]string{"current_password": memberPassword, "new_password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, "PUT", "/auth/password", "/auth/password", h.sessions.ChangePassword, h.member,
		map[string]string{"current_password": memberPassword, "new_password": "brand-new-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, h.count(models.ActionPasswordChanged))

	w = serve(t, "POST", "/auth/login", "/auth/login", h.sessions.Login, nil,
		map[string]string{"email": "member@acme.test", "password": "brand-new-pass"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_400_MissingFields(t *testing.T) {
	h := newHarness(t)
	w := serve(t, "POST", "/auth/login", "/auth/login", h.sessions.Login, nil, map[string]string{"email": "a@b.test"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout_RecordsEvent(t *testing.T) {
	h := newHarness(t)
	w := serve(t, "POST", "/auth/logout", "/auth/logout", h.sessions.Logout, h.member, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.count(models.ActionLogout))
}

// ─── /users ──────────────────────────────────────────────────────────────────

func TestGetUser_403_OtherUser(t *testing.T) {
	h := newHarness(t)
	path := "/users/" + h.admin.PrincipalID().String()
	w := serve(t, "GET", "/users/{userID}", path, h.users.Get, h.member, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, h.count(models.ActionUnauthorizedAccess))
}

func TestCreateUser(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"bad email", map[string]string{"email": "nope", "password": "password1"}, http.StatusBadRequest},
		{"bad role", map[string]string{"email": "x@acme.test", "password": "password1", "role": "owner"}, http.StatusBadRequest},
		{"short password", map[string]string{"email": "x@acme.test", "password": "abc"}, http.StatusBadRequest},
		{"duplicate email", map[string]string{"email": "member@acme.test", "password": "password1"}, http.StatusConflict},
		{"created", map[string]string{"email": "New@Acme.test", "password": "password1"}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, "POST", "/users", "/users", h.users.Create, h.admin, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, 1, h.count(models.ActionUserCreated))
}

func TestListUsers_RoleFilter(t *testing.T) {
	h := newHarness(t)

	w := serve(t, "GET", "/users", "/users?role=user", h.users.List, h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := parseBody(t, w)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, float64(1), body["meta"].(map[string]any)["total"])

	w = serve(t, "GET", "/users", "/users?role=owner", h.users.List, h.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ─── /projects ───────────────────────────────────────────────────────────────

func TestProjects_CreateAndUpdate(t *testing.T) {
	h := newHarness(t)

	w := serve(t, "POST", "/projects", "/projects", h.projects.Create, h.admin, map[string]string{"name": "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "name too short")

	w = serve(t, "POST", "/projects", "/projects", h.projects.Create, h.member, map[string]string{"name": "Side quest"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := parseBody(t, w)["data"].(map[string]any)["id"].(string)

	w = serve(t, "PUT", "/projects/{projectID}", "/projects/"+id, h.projects.Update, h.member,
		map[string]string{"status": "deleted"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, "PUT", "/projects/{projectID}", "/projects/"+id, h.projects.Update, h.member,
		map[string]string{"status": "archived"})
	require.Equal(t, http.StatusOK, w.Code, "creator may update")
	assert.Equal(t, "archived", parseBody(t, w)["data"].(map[string]any)["status"])
	assert.Equal(t, 1, h.count(models.ActionProjectUpdated))
}

// ─── /organization ───────────────────────────────────────────────────────────

func TestUpdateOrganization(t *testing.T) {
	h := newHarness(t)

	w := serve(t, "PUT", "/organization", "/organization", h.org.Update, h.admin,
		map[string]any{"settings": map[string]any{"max_users": 0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, "PUT", "/organization", "/organization", h.org.Update, h.admin,
		map[string]any{"name": "Acme Inc", "settings": map[string]any{"max_users": 50}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := parseBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "Acme Inc", data["name"])
	assert.Equal(t, float64(50), data["settings"].(map[string]any)["max_users"])
	assert.Equal(t, 1, h.count(models.ActionOrganizationUpdated))
}

// ─── /audit ──────────────────────────────────────────────────────────────────

func TestAuditFilters_400(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{
		"?principal_id=abc",
		"?start_date=yesterday",
		"?start_date=2026-02-01T00:00:00Z&end_date=2026-01-01T00:00:00Z",
	} {
		w := serve(t, "GET", "/audit", "/audit"+q, h.audit.List, h.admin, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAuditExport_JSON(t *testing.T) {
	h := newHarness(t)
	serve(t, "POST", "/auth/logout", "/auth/logout", h.sessions.Logout, h.member, nil)

	w := serve(t, "GET", "/audit/export", "/audit/export", h.audit.Export, h.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".json")
	assert.Len(t, parseBody(t, w)["data"], 1)
	assert.Equal(t, 1, h.count(models.ActionAuditLogsExported))
}

func TestAuditGet_404_Unknown(t *testing.T) {
	h := newHarness(t)
	w := serve(t, "GET", "/audit/{entryID}", "/audit/01J0000000000000000000000", h.audit.Get, h.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
