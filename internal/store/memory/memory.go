// Package memory provides an in-process implementation of store.Store used by
// unit tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Store keeps every record in maps guarded by a single mutex.
type Store struct {
	mu       sync.RWMutex
	tenants  map[uuid.UUID]*models.Tenant
	users    map[uuid.UUID]*models.User
	keys     map[uuid.UUID]*models.APIKey
	projects map[uuid.UUID]*models.Project
	audit    []*models.AuditEntry

	// AppendErr, when set, is returned by AppendAuditEntry.
	AppendErr error
	// LastUsedErr, when set, is returned by UpdateAPIKeyLastUsed.
	LastUsedErr error
	// AuditDeletes counts calls to DeleteAuditEntriesBefore.
	AuditDeletes int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tenants:  make(map[uuid.UUID]*models.Tenant),
		users:    make(map[uuid.UUID]*models.User),
		keys:     make(map[uuid.UUID]*models.APIKey),
		projects: make(map[uuid.UUID]*models.Project),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) ForTenant(tenantID uuid.UUID) store.TenantStore {
	return &tenantStore{s: s, tenantID: tenantID}
}

// PutTenant seeds a tenant.
func (s *Store) PutTenant(t *models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
}

// PutUser seeds a user.
func (s *Store) PutUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// PutAPIKey seeds an API key.
func (s *Store) PutAPIKey(k *models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.keys[k.ID] = &cp
}

// PutAuditEntry seeds an audit entry without going through AppendErr.
func (s *Store) PutAuditEntry(e *models.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.audit = append(s.audit, &cp)
}

// AuditEntries returns a copy of every stored audit entry in insertion order.
func (s *Store) AuditEntries() []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditEntry, len(s.audit))
	for i, e := range s.audit {
		out[i] = *e
	}
	return out
}

func (s *Store) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) CreateTenantWithAdmin(_ context.Context, tenant *models.Tenant, admin *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Slug == tenant.Slug {
			return store.ErrDuplicateKey
		}
	}
	if s.emailTaken(admin.Email) {
		return store.ErrDuplicateKey
	}
	t := *tenant
	u := *admin
	u.Email = strings.ToLower(u.Email)
	s.tenants[t.ID] = &t
	s.users[u.ID] = &u
	return nil
}

func (s *Store) emailTaken(email string) bool {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateUserLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (s *Store) GetAPIKeyByKeyID(_ context.Context, keyID string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyID == keyID {
			cp := *k
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	if s.LastUsedErr != nil {
		return s.LastUsedErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return store.ErrNotFound
	}
	k.LastUsedAt = &at
	return nil
}

func (s *Store) AppendAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.audit = append(s.audit, &cp)
	return nil
}

type tenantStore struct {
	s        *Store
	tenantID uuid.UUID
}

func (t *tenantStore) TenantID() uuid.UUID { return t.tenantID }

func (t *tenantStore) check() error {
	if t.tenantID == uuid.Nil {
		return store.ErrNoTenant
	}
	return nil
}

func (t *tenantStore) Tenant(ctx context.Context) (*models.Tenant, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.s.GetTenant(ctx, t.tenantID)
}

func (t *tenantStore) UpdateTenant(_ context.Context, upd store.TenantUpdate) (*models.Tenant, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tenant, ok := t.s.tenants[t.tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		tenant.Name = *upd.Name
	}
	if upd.Description != nil {
		tenant.Description = *upd.Description
	}
	if upd.Settings != nil {
		tenant.Settings = *upd.Settings
	}
	tenant.UpdatedAt = time.Now().UTC()
	cp := *tenant
	return &cp, nil
}

func (t *tenantStore) ListUsers(_ context.Context, filter store.UserFilter) ([]*models.User, int, error) {
	if err := t.check(); err != nil {
		return nil, 0, err
	}
	t.s.mu.RLock()
	var matched []*models.User
	for _, u := range t.s.users {
		if u.TenantID != t.tenantID {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		cp := *u
		matched = append(matched, &cp)
	}
	t.s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	out, total := paginate(matched, filter.Page)
	return out, total, nil
}

func (t *tenantStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	u, ok := t.s.users[id]
	if !ok || u.TenantID != t.tenantID {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (t *tenantStore) CreateUser(_ context.Context, user *models.User) error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.emailTaken(user.Email) {
		return store.ErrDuplicateKey
	}
	user.TenantID = t.tenantID
	user.Email = strings.ToLower(user.Email)
	cp := *user
	t.s.users[user.ID] = &cp
	return nil
}

func (t *tenantStore) UpdateUser(_ context.Context, id uuid.UUID, upd store.UserUpdate) (*models.User, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	u, ok := t.s.users[id]
	if !ok || u.TenantID != t.tenantID {
		return nil, store.ErrNotFound
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (t *tenantStore) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	u, ok := t.s.users[id]
	if !ok || u.TenantID != t.tenantID {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (t *tenantStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	u, ok := t.s.users[id]
	if !ok || u.TenantID != t.tenantID {
		return store.ErrNotFound
	}
	delete(t.s.users, id)
	return nil
}

func (t *tenantStore) ListProjects(_ context.Context, page store.Page) ([]*models.Project, int, error) {
	if err := t.check(); err != nil {
		return nil, 0, err
	}
	t.s.mu.RLock()
	var matched []*models.Project
	for _, p := range t.s.projects {
		if p.TenantID == t.tenantID {
			cp := *p
			matched = append(matched, &cp)
		}
	}
	t.s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	out, total := paginate(matched, page)
	return out, total, nil
}

func (t *tenantStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	p, ok := t.s.projects[id]
	if !ok || p.TenantID != t.tenantID {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *tenantStore) CreateProject(_ context.Context, project *models.Project) error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	project.TenantID = t.tenantID
	cp := *project
	t.s.projects[project.ID] = &cp
	return nil
}

func (t *tenantStore) UpdateProject(_ context.Context, id uuid.UUID, upd store.ProjectUpdate) (*models.Project, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.projects[id]
	if !ok || p.TenantID != t.tenantID {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (t *tenantStore) DeleteProject(_ context.Context, id uuid.UUID) error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.projects[id]
	if !ok || p.TenantID != t.tenantID {
		return store.ErrNotFound
	}
	delete(t.s.projects, id)
	return nil
}

func (t *tenantStore) ListAPIKeys(_ context.Context, filter store.APIKeyFilter) ([]*models.APIKey, int, error) {
	if err := t.check(); err != nil {
		return nil, 0, err
	}
	t.s.mu.RLock()
	var matched []*models.APIKey
	for _, k := range t.s.keys {
		if k.TenantID != t.tenantID {
			continue
		}
		if filter.Active != nil && k.Active != *filter.Active {
			continue
		}
		cp := *k
		matched = append(matched, &cp)
	}
	t.s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	out, total := paginate(matched, filter.Page)
	return out, total, nil
}

func (t *tenantStore) GetAPIKey(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	k, ok := t.s.keys[id]
	if !ok || k.TenantID != t.tenantID {
		return nil, store.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (t *tenantStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, k := range t.s.keys {
		if k.KeyID == key.KeyID {
			return store.ErrDuplicateKey
		}
	}
	key.TenantID = t.tenantID
	cp := *key
	t.s.keys[key.ID] = &cp
	return nil
}

func (t *tenantStore) UpdateAPIKey(_ context.Context, id uuid.UUID, upd store.APIKeyUpdate) (*models.APIKey, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k, ok := t.s.keys[id]
	if !ok || k.TenantID != t.tenantID {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		k.Name = *upd.Name
	}
	if upd.Permissions != nil {
		k.Permissions = append([]models.Permission(nil), upd.Permissions...)
	}
	if upd.Scopes != nil {
		k.Scopes = append([]models.Scope(nil), upd.Scopes...)
	}
	if upd.Active != nil {
		k.Active = *upd.Active
	}
	k.UpdatedAt = time.Now().UTC()
	cp := *k
	return &cp, nil
}

func (t *tenantStore) DeleteAPIKey(_ context.Context, id uuid.UUID) error {
	if err := t.check(); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	k, ok := t.s.keys[id]
	if !ok || k.TenantID != t.tenantID {
		return store.ErrNotFound
	}
	delete(t.s.keys, id)
	return nil
}

func (t *tenantStore) ListAuditEntries(_ context.Context, filter store.AuditFilter) ([]*models.AuditEntry, int, error) {
	if err := t.check(); err != nil {
		return nil, 0, err
	}
	t.s.mu.RLock()
	var matched []*models.AuditEntry
	for _, e := range t.s.audit {
		if e.TenantID == nil || *e.TenantID != t.tenantID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		if filter.PrincipalID != nil && (e.PrincipalID == nil || *e.PrincipalID != *filter.PrincipalID) {
			continue
		}
		if !filter.Since.IsZero() && e.OccurredAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.OccurredAt.After(filter.Until) {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	t.s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})
	if filter.Unpaged {
		total := len(matched)
		if total > store.MaxExportRows {
			matched = matched[:store.MaxExportRows]
		}
		return matched, total, nil
	}
	out, total := paginate(matched, filter.Page)
	return out, total, nil
}

func (t *tenantStore) GetAuditEntry(_ context.Context, id string) (*models.AuditEntry, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, e := range t.s.audit {
		if e.ID == id && e.TenantID != nil && *e.TenantID == t.tenantID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tenantStore) DeleteAuditEntriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.AuditDeletes++
	kept := t.s.audit[:0]
	var removed int64
	for _, e := range t.s.audit {
		if e.TenantID != nil && *e.TenantID == t.tenantID && e.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	t.s.audit = kept
	return removed, nil
}

func containsAction(actions []models.AuditAction, a models.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page store.Page) ([]T, int) {
	total := len(items)
	limit, offset := page.Normalize()
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total
}
