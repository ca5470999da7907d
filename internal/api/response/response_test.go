package response_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"name": "test"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "test", data["name"])
}

func TestCreated(t *testing.T) {
	w := httptest.NewRecorder()
	response.Created(w, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "abc", data["id"])
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	response.NoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestCollection(t *testing.T) {
	w := httptest.NewRecorder()
	items := []map[string]string{{"id": "1"}, {"id": "2"}}
	meta := response.PaginationMeta{Page: 1, Limit: 20, Total: 50, HasNext: true}

	response.Collection(w, items, meta)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	data := body["data"].([]any)
	assert.Len(t, data, 2)

	m := body["meta"].(map[string]any)
	assert.Equal(t, float64(1), m["page"])
	assert.Equal(t, float64(20), m["limit"])
	assert.Equal(t, float64(50), m["total"])
	assert.Equal(t, true, m["has_next"])
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid params", map[string][]string{
		"name": {"name is required"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
	assert.Equal(t, "Invalid params", errObj["message"])
	assert.NotNil(t, errObj["details"])
}

func TestError_NoDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"no credential", &auth.AuthError{Reason: auth.ReasonNoCredential}, http.StatusUnauthorized, "NO_CREDENTIAL"},
		{"expired", &auth.AuthError{Reason: auth.ReasonExpiredCredential}, http.StatusUnauthorized, "EXPIRED_CREDENTIAL"},
		{"tenant off", &auth.AuthError{Reason: auth.ReasonTenantDeactivated}, http.StatusUnauthorized, "TENANT_DEACTIVATED"},
		{"malformed key", &auth.ValidationError{Reason: auth.ReasonMalformedCredential}, http.StatusUnauthorized, "MALFORMED_CREDENTIAL"},
		{"role", &auth.AccessError{Reason: auth.ReasonInsufficientRole}, http.StatusForbidden, "INSUFFICIENT_ROLE"},
		{"scope", &auth.AccessError{Reason: auth.ReasonInsufficientScope}, http.StatusForbidden, "INSUFFICIENT_SCOPE"},
		{"validation", &auth.ValidationError{Reason: auth.ReasonValidation, Message: "bad"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", fmt.Errorf("create: %w", store.ErrDuplicateKey), http.StatusConflict, "CONFLICT"},
		{"internal", errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			response.FromError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, tt.wantCode, errObj["code"])
			if tt.wantStatus == http.StatusForbidden {
				assert.Equal(t, "Access denied", errObj["message"])
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, errObj["message"], "connection refused")
			}
		})
	}
}

func TestNewPaginationMeta(t *testing.T) {
	m := response.NewPaginationMeta(store.Page{Page: 2, Limit: 10}, 25)
	assert.Equal(t, response.PaginationMeta{Page: 2, Limit: 10, Total: 25, HasNext: true}, m)

	m = response.NewPaginationMeta(store.Page{}, 5)
	assert.Equal(t, response.PaginationMeta{Page: 1, Limit: 20, Total: 5, HasNext: false}, m)
}
