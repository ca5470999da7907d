package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction is the closed set of audit event tags.
type AuditAction string

const (
	ActionUserRegistered      AuditAction = "USER_REGISTERED"
	ActionLoginSuccess        AuditAction = "LOGIN_SUCCESS"
	ActionLoginFailed         AuditAction = "LOGIN_FAILED"
	ActionLogout              AuditAction = "LOGOUT"
	ActionPasswordChanged     AuditAction = "PASSWORD_CHANGED"
	ActionUserCreated         AuditAction = "USER_CREATED"
	ActionUserUpdated         AuditAction = "USER_UPDATED"
	ActionUserDeleted         AuditAction = "USER_DELETED"
	ActionRoleChanged         AuditAction = "ROLE_CHANGED"
	ActionOrganizationUpdated AuditAction = "ORGANIZATION_UPDATED"
	ActionProjectCreated      AuditAction = "PROJECT_CREATED"
	ActionProjectUpdated      AuditAction = "PROJECT_UPDATED"
	ActionProjectDeleted      AuditAction = "PROJECT_DELETED"
	ActionAPIKeyGenerated     AuditAction = "API_KEY_GENERATED"
	ActionAPIKeyUpdated       AuditAction = "API_KEY_UPDATED"
	ActionAPIKeyRevoked       AuditAction = "API_KEY_REVOKED"
	ActionAPIKeyDeleted       AuditAction = "API_KEY_DELETED"
	ActionAPIKeyUsed          AuditAction = "API_KEY_USED"
	ActionAPIKeyAuthFailed    AuditAction = "API_KEY_AUTH_FAILED"
	ActionUnauthorizedAccess  AuditAction = "UNAUTHORIZED_ACCESS"
	ActionRateLimitExceeded   AuditAction = "RATE_LIMIT_EXCEEDED"
	ActionAuditLogsExported   AuditAction = "AUDIT_LOGS_EXPORTED"
	ActionAuditLogsCleaned    AuditAction = "AUDIT_LOGS_CLEANED"
)

// AuditActions lists every valid action in a stable order.
var AuditActions = []AuditAction{
	ActionUserRegistered, ActionLoginSuccess, ActionLoginFailed, ActionLogout, ActionPasswordChanged,
	ActionUserCreated, ActionUserUpdated, ActionUserDeleted, ActionRoleChanged, ActionOrganizationUpdated,
	ActionProjectCreated, ActionProjectUpdated, ActionProjectDeleted,
	ActionAPIKeyGenerated, ActionAPIKeyUpdated, ActionAPIKeyRevoked, ActionAPIKeyDeleted,
	ActionAPIKeyUsed, ActionAPIKeyAuthFailed,
	ActionUnauthorizedAccess, ActionRateLimitExceeded,
	ActionAuditLogsExported, ActionAuditLogsCleaned,
}

// Valid reports whether a is one of the known actions.
func (a AuditAction) Valid() bool {
	for _, known := range AuditActions {
		if a == known {
			return true
		}
	}
	return false
}

// AuditEntry is an append-only record of a security relevant event.
// PrincipalID is nil for unauthenticated events; TenantID is nil when the
// event could not be attributed to a tenant (e.g. login with unknown email).
type AuditEntry struct {
	ID            string         `db:"id"             json:"id"`
	Action        AuditAction    `db:"action"         json:"action"`
	PrincipalID   *uuid.UUID     `db:"principal_id"   json:"principal_id,omitempty"`
	TenantID      *uuid.UUID     `db:"tenant_id"      json:"tenant_id,omitempty"`
	Details       map[string]any `db:"details"        json:"details"`
	SourceAddress string         `db:"source_address" json:"source_address,omitempty"`
	ClientAgent   string         `db:"client_agent"   json:"client_agent,omitempty"`
	OccurredAt    time.Time      `db:"occurred_at"    json:"occurred_at"`
}
