package auth

import (
	"errors"
	"fmt"
)

// Reason is a stable failure tag the HTTP layer maps to a status code.
type Reason string

const (
	ReasonNoCredential           Reason = "NO_CREDENTIAL"
	ReasonInvalidCredential      Reason = "INVALID_CREDENTIAL"
	ReasonExpiredCredential      Reason = "EXPIRED_CREDENTIAL"
	ReasonAccountDeactivated     Reason = "ACCOUNT_DEACTIVATED"
	ReasonTenantDeactivated      Reason = "TENANT_DEACTIVATED"
	ReasonInsufficientRole       Reason = "INSUFFICIENT_ROLE"
	ReasonInsufficientPermission Reason = "INSUFFICIENT_PERMISSION"
	ReasonInsufficientScope      Reason = "INSUFFICIENT_SCOPE"
	ReasonMalformedCredential    Reason = "MALFORMED_CREDENTIAL"
	ReasonValidation             Reason = "VALIDATION_ERROR"
)

// AuthError is an authentication failure. It never carries detail beyond
// the reason tag.
type AuthError struct {
	Reason Reason
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// AccessError is an authorization denial.
type AccessError struct {
	Reason Reason
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// ValidationError rejects malformed input before any storage lookup.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return e.Message
}

func invalid(msg string, args ...any) *ValidationError {
	return &ValidationError{Reason: ReasonValidation, Message: fmt.Sprintf(msg, args...)}
}

// ReasonOf extracts the reason tag from err, or "" when err is not one of
// the package's error types.
func ReasonOf(err error) Reason {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr.Reason
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Reason
	}
	return ""
}
