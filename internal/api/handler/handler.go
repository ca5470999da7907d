// Package handler holds the HTTP handlers. Handlers decode input, call the
// auth and store collaborators and map their errors through
// response.FromError.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/tenantgate/internal/api/middleware"
	"github.com/kiranshivaraju/tenantgate/internal/api/response"
	"github.com/kiranshivaraju/tenantgate/internal/auth"
	"github.com/kiranshivaraju/tenantgate/internal/store"
)

const maxBodyBytes = 1 << 20

var errInvalidBody = &auth.ValidationError{Reason: auth.ReasonValidation, Message: "Invalid JSON body"}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

func validation(msg string) error {
	return &auth.ValidationError{Reason: auth.ReasonValidation, Message: msg}
}

// uuidParam parses a chi URL parameter. A malformed id is reported as not
// found so ids from other tenants and garbage look the same.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, store.ErrNotFound
	}
	return id, nil
}

func pageFrom(r *http.Request) (store.Page, error) {
	var p store.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, validation("page must be a positive integer")
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return p, validation("limit must be between 1 and 100")
		}
		p.Limit = n
	}
	return p, nil
}

// principal returns the authenticated principal or writes 401.
func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := mw.PrincipalFrom(r)
	if !ok {
		response.FromError(w, &auth.AuthError{Reason: auth.ReasonNoCredential})
	}
	return p, ok
}

// user returns the authenticated user principal. API key callers get 403.
func user(w http.ResponseWriter, r *http.Request) (*auth.UserPrincipal, bool) {
	if _, ok := mw.PrincipalFrom(r); !ok {
		response.FromError(w, &auth.AuthError{Reason: auth.ReasonNoCredential})
		return nil, false
	}
	u, ok := mw.UserFrom(r)
	if !ok {
		response.FromError(w, &auth.AccessError{Reason: auth.ReasonInsufficientRole})
	}
	return u, ok
}
