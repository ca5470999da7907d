package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// NewPaginationMeta builds the meta block for a page already clamped by
// store.Page.Normalize.
func NewPaginationMeta(page store.Page, total int) PaginationMeta {
	limit, offset := page.Normalize()
	return PaginationMeta{
		Page:    offset/limit + 1,
		Limit:   limit,
		Total:   total,
		HasNext: offset+limit < total,
	}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// FromError writes the envelope for err. Reason tags keep their own code;
// authorization denials never say which grant was missing.
func FromError(w http.ResponseWriter, err error) {
	var authErr *auth.AuthError
	var accessErr *auth.AccessError
	var valErr *auth.ValidationError

	switch {
	case errors.As(err, &authErr):
		Error(w, http.StatusUnauthorized, string(authErr.Reason), authMessage(authErr.Reason), nil)
	case errors.As(err, &accessErr):
		Error(w, http.StatusForbidden, string(accessErr.Reason), "Access denied", nil)
	case errors.As(err, &valErr):
		status := http.StatusBadRequest
		if valErr.Reason == auth.ReasonMalformedCredential {
			status = http.StatusUnauthorized
		}
		Error(w, status, string(valErr.Reason), valErr.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		Error(w, http.StatusConflict, "CONFLICT", "Resource already exists", nil)
	case errors.Is(err, store.ErrNoTenant):
		Error(w, http.StatusUnauthorized, string(auth.ReasonNoCredential), "Authentication required", nil)
	default:
		slog.Error("request failed", "error", err)
		Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func authMessage(reason auth.Reason) string {
	switch reason {
	case auth.ReasonNoCredential:
		return "Authentication required"
	case auth.ReasonExpiredCredential:
		return "Credential has expired"
	case auth.ReasonAccountDeactivated:
		return "Account is deactivated"
	case auth.ReasonTenantDeactivated:
		return "Organization is deactivated"
	default:
		return "Invalid credentials"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
