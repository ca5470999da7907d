package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Session is what a successful register or login hands back.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
	Tenant    *models.Tenant
}

// Sessions implements the interactive account flows.
type Sessions struct {
	store     store.Store
	passwords *Passwords
	tokens    *TokenService
	recorder  *audit.Recorder
	now       func() time.Time
}

func NewSessions(s store.Store, p *Passwords, t *TokenService, r *audit.Recorder) *Sessions {
	return &Sessions{store: s, passwords: p, tokens: t, recorder: r, now: func() time.Time { return time.Now().UTC() }}
}

type RegisterInput struct {
	OrganizationName string
	Email            string
	Password         string
	FirstName        string
	LastName         string
}

// Register creates a tenant and its first admin in one step.
func (s *Sessions) Register(ctx context.Context, in RegisterInput, meta audit.Meta) (*Session, error) {
	orgName := strings.TrimSpace(in.OrganizationName)
	if orgName == "" || len(orgName) > 100 {
		return nil, invalid("organization name is required and must be at most 100 characters")
	}
	slug := Slugify(orgName)
	if slug == "" {
		return nil, invalid("organization name must contain letters or digits")
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tenant := &models.Tenant{
		ID:        uuid.New(),
		Name:      orgName,
		Slug:      slug,
		Settings:  models.DefaultTenantSettings(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	user := &models.User{
		ID:           uuid.New(),
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         models.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateTenantWithAdmin(ctx, tenant, user); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role, tenant.ID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Action:      models.ActionUserRegistered,
		PrincipalID: &user.ID,
		TenantID:    &tenant.ID,
		Details:     map[string]any{"email": user.Email, "role": user.Role, "organization": tenant.Name},
		Meta:        meta,
	})
	slog.Info("tenant registered", "tenant_id", tenant.ID, "slug", tenant.Slug)
	return &Session{Token: token, ExpiresAt: expiresAt, User: user, Tenant: tenant}, nil
}

// Login checks email and password. The password is verified before the
// account or tenant status is consulted so status is never revealed to a
// caller without the password.
func (s *Sessions) Login(ctx context.Context, email, password string, meta audit.Meta) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.passwords.Burn(password)
		s.loginFailed(ctx, nil, email, "unknown_email", meta)
		return nil, &AuthError{Reason: ReasonInvalidCredential}
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	ok, err := s.passwords.Verify(user.PasswordHash, password)
	if err != nil {
		slog.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		s.loginFailed(ctx, &user.TenantID, email, "invalid_password", meta)
		return nil, &AuthError{Reason: ReasonInvalidCredential}
	}

	if !user.Active {
		s.loginFailed(ctx, &user.TenantID, email, "account_deactivated", meta)
		return nil, &AuthError{Reason: ReasonAccountDeactivated}
	}
	tenant, err := s.store.GetTenant(ctx, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.Active {
		s.loginFailed(ctx, &user.TenantID, email, "tenant_deactivated", meta)
		return nil, &AuthError{Reason: ReasonTenantDeactivated}
	}

	now := s.now()
	if err := s.store.UpdateUserLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("last login update failed", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role, user.TenantID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Event{
		Action:      models.ActionLoginSuccess,
		PrincipalID: &user.ID,
		TenantID:    &user.TenantID,
		Details:     map[string]any{"email": user.Email},
		Meta:        meta,
	})
	return &Session{Token: token, ExpiresAt: expiresAt, User: user, Tenant: tenant}, nil
}

// loginFailed records LOGIN_FAILED without a principal: the caller never
// proved who they are.
func (s *Sessions) loginFailed(ctx context.Context, tenantID *uuid.UUID, email, reason string, meta audit.Meta) {
	s.recorder.Record(ctx, audit.Event{
		Action:   models.ActionLoginFailed,
		TenantID: tenantID,
		Details:  map[string]any{"email": email, "reason": reason},
		Meta:     meta,
	})
}

// Logout only records the event. The token stays valid until it expires.
func (s *Sessions) Logout(ctx context.Context, p *UserPrincipal, meta audit.Meta) {
	principalID := p.PrincipalID()
	tenantID := p.TenantID()
	s.recorder.Record(ctx, audit.Event{
		Action:      models.ActionLogout,
		PrincipalID: &principalID,
		TenantID:    &tenantID,
		Details:     map[string]any{"email": p.Email()},
		Meta:        meta,
	})
}

// ChangePassword re-hashes after confirming the current password.
func (s *Sessions) ChangePassword(ctx context.Context, p *UserPrincipal, current, next string, meta audit.Meta) error {
	ts := Scoped(s.store, p)
	user, err := ts.GetUser(ctx, p.PrincipalID())
	if err != nil {
		return err
	}
	ok, err := s.passwords.Verify(user.PasswordHash, current)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("current password is incorrect")
	}
	hash, err := s.passwords.Hash(next)
	if err != nil {
		return err
	}
	if err := ts.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.Event{
		Action:      models.ActionPasswordChanged,
		PrincipalID: &user.ID,
		TenantID:    &user.TenantID,
		Details:     map[string]any{"email": user.Email},
		Meta:        meta,
	})
	return nil
}

// Profile returns the caller's own record and tenant.
func (s *Sessions) Profile(ctx context.Context, p *UserPrincipal) (*models.User, *models.Tenant, error) {
	ts := Scoped(s.store, p)
	user, err := ts.GetUser(ctx, p.PrincipalID())
	if err != nil {
		return nil, nil, err
	}
	tenant, err := ts.Tenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	return user, tenant, nil
}

// NormalizeEmail validates and lower-cases an address.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", invalid("a valid email address is required")
	}
	return strings.ToLower(addr.Address), nil
}

// Slugify lower-cases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
