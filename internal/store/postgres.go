package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

const (
	tenantColumns = `id, name, slug, description, settings, is_active, created_at, updated_at`
	userColumns   = `id, tenant_id, email, password_hash, first_name, last_name, role, is_active, last_login_at, created_at, updated_at`
	apiKeyColumns = `id, tenant_id, created_by, name, key_id, key_hash, permissions, scopes, is_active, expires_at, last_used_at, created_at, updated_at`
	projectColumns = `id, tenant_id, created_by, name, description, status, created_at, updated_at`
	auditColumns  = `id, action, principal_id, tenant_id, details, source_address, client_agent, occurred_at`
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ForTenant returns the tenant-scoped view of the store.
func (s *PostgresStore) ForTenant(tenantID uuid.UUID) TenantStore {
	return &pgTenantStore{pool: s.pool, tenantID: tenantID}
}

// --- Tenants ---

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// CreateTenantWithAdmin inserts a tenant and its first user in one transaction.
func (s *PostgresStore) CreateTenantWithAdmin(ctx context.Context, tenant *models.Tenant, admin *models.User) error {
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("marshal tenant settings: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO tenants (id, name, slug, description, settings, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tenant.ID, tenant.Name, tenant.Slug, tenant.Description, settings, tenant.Active,
		tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create tenant: %w", err)
	}

	if err := insertUser(ctx, tx, admin); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit registration: %w", err)
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUserLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByKeyID(ctx context.Context, keyID string) (*models.APIKey, error) {
	k, err := scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_id = $1`, keyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by key id: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Audit ---

func (s *PostgresStore) AppendAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_entries (`+auditColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, string(entry.Action), entry.PrincipalID, entry.TenantID, details,
		entry.SourceAddress, entry.ClientAgent, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// pgTenantStore is the tenant-bound view. tenantID is always the first
// query argument.
type pgTenantStore struct {
	pool     *pgxpool.Pool
	tenantID uuid.UUID
}

func (s *pgTenantStore) TenantID() uuid.UUID { return s.tenantID }

func (s *pgTenantStore) check() error {
	if s.tenantID == uuid.Nil {
		return ErrNoTenant
	}
	return nil
}

// --- Tenant ---

func (s *pgTenantStore) Tenant(ctx context.Context) (*models.Tenant, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, s.tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *pgTenantStore) UpdateTenant(ctx context.Context, upd TenantUpdate) (*models.Tenant, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sets := []string{}
	args := []any{s.tenantID}
	argIdx := 2

	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *upd.Name)
		argIdx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *upd.Description)
		argIdx++
	}
	if upd.Settings != nil {
		settings, err := json.Marshal(upd.Settings)
		if err != nil {
			return nil, fmt.Errorf("marshal tenant settings: %w", err)
		}
		sets = append(sets, fmt.Sprintf("settings = $%d", argIdx))
		args = append(args, settings)
		argIdx++
	}
	if len(sets) == 0 {
		return s.Tenant(ctx)
	}
	sets = append(sets, "updated_at = NOW()")

	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+tenantColumns, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	return t, nil
}

// --- Users ---

func (s *pgTenantStore) ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, int, error) {
	if err := s.check(); err != nil {
		return nil, 0, err
	}
	conditions := []string{"tenant_id = $1"}
	args := []any{s.tenantID}
	argIdx := 2
	if filter.Role != "" {
		conditions = append(conditions, fmt.Sprintf("role = $%d", argIdx))
		args = append(args, string(filter.Role))
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	limit, offset := filter.Normalize()
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+userColumns+` FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (s *pgTenantStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND id = $2`, s.tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *pgTenantStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.check(); err != nil {
		return err
	}
	user.TenantID = s.tenantID
	return insertUser(ctx, s.pool, user)
}

func (s *pgTenantStore) UpdateUser(ctx context.Context, id uuid.UUID, upd UserUpdate) (*models.User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sets := []string{}
	args := []any{s.tenantID, id}
	argIdx := 3

	if upd.FirstName != nil {
		sets = append(sets, fmt.Sprintf("first_name = $%d", argIdx))
		args = append(args, *upd.FirstName)
		argIdx++
	}
	if upd.LastName != nil {
		sets = append(sets, fmt.Sprintf("last_name = $%d", argIdx))
		args = append(args, *upd.LastName)
		argIdx++
	}
	if upd.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", argIdx))
		args = append(args, string(*upd.Role))
		argIdx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *upd.Active)
		argIdx++
	}
	if len(sets) == 0 {
		return s.GetUser(ctx, id)
	}
	sets = append(sets, "updated_at = NOW()")

	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE tenant_id = $1 AND id = $2 RETURNING `+userColumns,
		args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

func (s *pgTenantStore) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	if err := s.check(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		s.tenantID, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgTenantStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE tenant_id = $1 AND id = $2`, s.tenantID, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Projects ---

func (s *pgTenantStore) ListProjects(ctx context.Context, page Page) ([]*models.Project, int, error) {
	if err := s.check(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM projects WHERE tenant_id = $1`, s.tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	limit, offset := page.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, s.tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.TenantID, &p.CreatedBy, &p.Name, &p.Description, &p.Status,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, total, rows.Err()
}

func (s *pgTenantStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var p models.Project
	err := s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE tenant_id = $1 AND id = $2`, s.tenantID, id,
	).Scan(&p.ID, &p.TenantID, &p.CreatedBy, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *pgTenantStore) CreateProject(ctx context.Context, project *models.Project) error {
	if err := s.check(); err != nil {
		return err
	}
	project.TenantID = s.tenantID
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		project.ID, project.TenantID, project.CreatedBy, project.Name, project.Description,
		project.Status, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *pgTenantStore) UpdateProject(ctx context.Context, id uuid.UUID, upd ProjectUpdate) (*models.Project, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sets := []string{}
	args := []any{s.tenantID, id}
	argIdx := 3

	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *upd.Name)
		argIdx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *upd.Description)
		argIdx++
	}
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *upd.Status)
		argIdx++
	}
	if len(sets) == 0 {
		return s.GetProject(ctx, id)
	}
	sets = append(sets, "updated_at = NOW()")

	var p models.Project
	err := s.pool.QueryRow(ctx,
		`UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE tenant_id = $1 AND id = $2 RETURNING `+projectColumns,
		args...,
	).Scan(&p.ID, &p.TenantID, &p.CreatedBy, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return &p, nil
}

func (s *pgTenantStore) DeleteProject(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE tenant_id = $1 AND id = $2`, s.tenantID, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *pgTenantStore) ListAPIKeys(ctx context.Context, filter APIKeyFilter) ([]*models.APIKey, int, error) {
	if err := s.check(); err != nil {
		return nil, 0, err
	}
	conditions := []string{"tenant_id = $1"}
	args := []any{s.tenantID}
	argIdx := 2
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *filter.Active)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM api_keys WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count api keys: %w", err)
	}

	limit, offset := filter.Normalize()
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, total, rows.Err()
}

func (s *pgTenantStore) GetAPIKey(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	k, err := scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 AND id = $2`, s.tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *pgTenantStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := s.check(); err != nil {
		return err
	}
	key.TenantID = s.tenantID
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, created_by, name, key_id, key_hash, permissions, scopes, is_active, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		key.ID, key.TenantID, key.CreatedBy, key.Name, key.KeyID, key.KeyHash,
		permissionsToText(key.Permissions), scopesToText(key.Scopes), key.Active, key.ExpiresAt,
		key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *pgTenantStore) UpdateAPIKey(ctx context.Context, id uuid.UUID, upd APIKeyUpdate) (*models.APIKey, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	sets := []string{}
	args := []any{s.tenantID, id}
	argIdx := 3

	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *upd.Name)
		argIdx++
	}
	if upd.Permissions != nil {
		sets = append(sets, fmt.Sprintf("permissions = $%d", argIdx))
		args = append(args, permissionsToText(upd.Permissions))
		argIdx++
	}
	if upd.Scopes != nil {
		sets = append(sets, fmt.Sprintf("scopes = $%d", argIdx))
		args = append(args, scopesToText(upd.Scopes))
		argIdx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *upd.Active)
		argIdx++
	}
	if len(sets) == 0 {
		return s.GetAPIKey(ctx, id)
	}
	sets = append(sets, "updated_at = NOW()")

	k, err := scanAPIKey(s.pool.QueryRow(ctx,
		`UPDATE api_keys SET `+strings.Join(sets, ", ")+` WHERE tenant_id = $1 AND id = $2 RETURNING `+apiKeyColumns,
		args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update api key: %w", err)
	}
	return k, nil
}

func (s *pgTenantStore) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE tenant_id = $1 AND id = $2`, s.tenantID, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit ---

func (s *pgTenantStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, int, error) {
	if err := s.check(); err != nil {
		return nil, 0, err
	}
	conditions := []string{"tenant_id = $1"}
	args := []any{s.tenantID}
	argIdx := 2

	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		conditions = append(conditions, fmt.Sprintf("action = ANY($%d)", argIdx))
		args = append(args, actions)
		argIdx++
	}
	if filter.PrincipalID != nil {
		conditions = append(conditions, fmt.Sprintf("principal_id = $%d", argIdx))
		args = append(args, *filter.PrincipalID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", argIdx))
		args = append(args, filter.Until)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	limit, offset := filter.Normalize()
	if filter.Unpaged {
		limit, offset = MaxExportRows, 0
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+auditColumns+` FROM audit_entries WHERE %s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (s *pgTenantStore) GetAuditEntry(ctx context.Context, id string) (*models.AuditEntry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	e, err := scanAuditEntry(s.pool.QueryRow(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE tenant_id = $1 AND id = $2`, s.tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return e, nil
}

// DeleteAuditEntriesBefore is the only statement that removes audit rows.
func (s *pgTenantStore) DeleteAuditEntriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM audit_entries WHERE tenant_id = $1 AND occurred_at < $2`, s.tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- scanning helpers ---

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, db execer, user *models.User) error {
	_, err := db.Exec(ctx,
		`INSERT INTO users (id, tenant_id, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.TenantID, strings.ToLower(user.Email), user.PasswordHash, user.FirstName, user.LastName,
		string(user.Role), user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		t        models.Tenant
		settings []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Description, &settings, &t.Active,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decode tenant settings: %w", err)
		}
	}
	return &t, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&role, &u.Active, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var (
		k           models.APIKey
		permissions []string
		scopes      []string
	)
	if err := row.Scan(&k.ID, &k.TenantID, &k.CreatedBy, &k.Name, &k.KeyID, &k.KeyHash,
		&permissions, &scopes, &k.Active, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	k.Permissions = textToPermissions(permissions)
	k.Scopes = textToScopes(scopes)
	return &k, nil
}

func scanAuditEntry(row pgx.Row) (*models.AuditEntry, error) {
	var (
		e       models.AuditEntry
		action  string
		details []byte
	)
	if err := row.Scan(&e.ID, &action, &e.PrincipalID, &e.TenantID, &details,
		&e.SourceAddress, &e.ClientAgent, &e.OccurredAt); err != nil {
		return nil, err
	}
	e.Action = models.AuditAction(action)
	e.Details = map[string]any{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return &e, nil
}

func permissionsToText(perms []models.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func textToPermissions(values []string) []models.Permission {
	out := make([]models.Permission, len(values))
	for i, v := range values {
		out[i] = models.Permission(v)
	}
	return out
}

func scopesToText(scopes []models.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func textToScopes(values []string) []models.Scope {
	out := make([]models.Scope, len(values))
	for i, v := range values {
		out[i] = models.Scope(v)
	}
	return out
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
