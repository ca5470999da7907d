package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tenantgate/internal/audit"
	"github.com/kiranshivaraju/tenantgate/internal/metrics"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/kiranshivaraju/tenantgate/pkg/models"
)

// Request is the credential-bearing part of an inbound request.
type Request struct {
	// Authorization is the raw Authorization header.
	Authorization string
	// APIKey is the raw X-API-Key header.
	APIKey string
	// Action names what the caller is trying to do, for audit details.
	Action string
	audit.Meta
}

// Resolver turns a Request into a Principal. Exactly one of the token and
// API key paths runs per request.
type Resolver struct {
	store    store.Store
	tokens   *TokenService
	keys     *APIKeys
	recorder *audit.Recorder
}

func NewResolver(s store.Store, tokens *TokenService, keys *APIKeys, r *audit.Recorder) *Resolver {
	return &Resolver{store: s, tokens: tokens, keys: keys, recorder: r}
}

// Authenticate resolves req. Failures are AuthError or ValidationError
// and have already been audited; any other error means storage failed.
func (r *Resolver) Authenticate(ctx context.Context, req Request) (Principal, error) {
	bearer := bearerToken(req.Authorization)
	apiKey := strings.TrimSpace(req.APIKey)

	switch {
	case apiKey != "" && bearer != "":
		err := &ValidationError{Reason: ReasonMalformedCredential, Message: "supply either a bearer token or an api key, not both"}
		r.fail(ctx, models.ActionUnauthorizedAccess, "none", req, nil, err.Reason, nil)
		return nil, err
	case apiKey != "":
		return r.viaAPIKey(ctx, req, apiKey)
	case LooksLikeAPIKey(bearer):
		return r.viaAPIKey(ctx, req, bearer)
	case bearer != "":
		return r.viaToken(ctx, req, bearer)
	default:
		err := &AuthError{Reason: ReasonNoCredential}
		r.fail(ctx, models.ActionUnauthorizedAccess, "none", req, nil, err.Reason, nil)
		return nil, err
	}
}

func (r *Resolver) viaToken(ctx context.Context, req Request, token string) (Principal, error) {
	claims, err := r.tokens.Verify(token)
	if err != nil {
		return nil, r.tokenFailure(ctx, req, nil, ReasonInvalidCredential)
	}

	user, err := r.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, r.tokenFailure(ctx, req, &claims.TenantID, ReasonInvalidCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.TenantID != claims.TenantID {
		return nil, r.tokenFailure(ctx, req, &claims.TenantID, ReasonInvalidCredential)
	}
	if !user.Active {
		return nil, r.tokenFailure(ctx, req, &user.TenantID, ReasonAccountDeactivated)
	}
	if err := r.requireActiveTenant(ctx, user.TenantID); err != nil {
		if reason := ReasonOf(err); reason != "" {
			return nil, r.tokenFailure(ctx, req, &user.TenantID, reason)
		}
		return nil, err
	}

	p, err := NewUserPrincipal(user)
	if err != nil {
		return nil, r.tokenFailure(ctx, req, nil, ReasonInvalidCredential)
	}
	metrics.AuthAttempt(string(KindUser), "success")
	return p, nil
}

func (r *Resolver) tokenFailure(ctx context.Context, req Request, tenantID *uuid.UUID, reason Reason) error {
	r.fail(ctx, models.ActionUnauthorizedAccess, KindUser, req, tenantID, reason, nil)
	return &AuthError{Reason: reason}
}

func (r *Resolver) viaAPIKey(ctx context.Context, req Request, presented string) (Principal, error) {
	key, err := r.keys.Verify(ctx, presented)
	if err != nil {
		reason := ReasonOf(err)
		if reason == "" {
			return nil, err
		}
		var tenantID *uuid.UUID
		details := map[string]any{}
		if key != nil {
			tenantID = &key.TenantID
			details["key_id"] = key.KeyID
		}
		r.fail(ctx, models.ActionAPIKeyAuthFailed, KindAPIKey, req, tenantID, reason, details)
		return nil, err
	}

	if err := r.requireActiveTenant(ctx, key.TenantID); err != nil {
		reason := ReasonOf(err)
		if reason == "" {
			return nil, err
		}
		r.fail(ctx, models.ActionAPIKeyAuthFailed, KindAPIKey, req, &key.TenantID, reason,
			map[string]any{"key_id": key.KeyID})
		return nil, err
	}

	p, err := NewAPIKeyPrincipal(key)
	if err != nil {
		return nil, &AuthError{Reason: ReasonInvalidCredential}
	}

	r.keys.TouchLastUsed(ctx, key)
	principalID := key.ID
	r.recorder.Record(ctx, audit.Event{
		Action:      models.ActionAPIKeyUsed,
		PrincipalID: &principalID,
		TenantID:    &key.TenantID,
		Details: map[string]any{
			"key_id": key.KeyID,
			"name":   key.Name,
			"action": req.Action,
		},
		Meta: req.Meta,
	})
	metrics.AuthAttempt(string(KindAPIKey), "success")
	return p, nil
}

func (r *Resolver) requireActiveTenant(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := r.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return &AuthError{Reason: ReasonInvalidCredential}
	}
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.Active {
		return &AuthError{Reason: ReasonTenantDeactivated}
	}
	return nil
}

func (r *Resolver) fail(ctx context.Context, action models.AuditAction, kind Kind, req Request, tenantID *uuid.UUID, reason Reason, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["reason"] = reason
	details["action"] = req.Action
	r.recorder.Record(ctx, audit.Event{
		Action:   action,
		TenantID: tenantID,
		Details:  details,
		Meta:     req.Meta,
	})
	metrics.AuthAttempt(string(kind), string(reason))
}

// bearerToken returns the credential of a "Bearer <x>" header, or "".
func bearerToken(header string) string {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}
