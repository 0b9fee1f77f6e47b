// Package handlers implements the admin API: accounts, the default upload
// target, credential refresh and files.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/pysugar/filedesk/internal/logging"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	AccountID string `json:"account_id,omitempty"`
	Count     int64  `json:"count,omitempty"`
}

// StatusFor maps an error to its HTTP status and error type.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrAuth):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, apperr.ErrCredentialUnavailable):
		return http.StatusUnauthorized, "credential_unavailable"
	case errors.Is(err, apperr.ErrQuota):
		return http.StatusForbidden, "quota_exceeded"
	case errors.Is(err, apperr.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, apperr.ErrNoUsableAccount):
		return http.StatusConflict, "no_usable_account"
	case errors.Is(err, apperr.ErrCannotDeactivateDefault):
		return http.StatusConflict, "default_account"
	case errors.Is(err, apperr.ErrAccountHasFiles):
		return http.StatusConflict, "account_has_files"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := StatusFor(err)
	detail := errorDetail{Type: errType, Message: err.Error()}
	if status == http.StatusInternalServerError {
		log.Printf("%s❌ %s %s: %v", logging.Prefix(r.Context()), r.Method, r.URL.Path, err)
		detail.Message = "internal error"
	}
	detail.AccountID = apperr.AccountOf(err)
	detail.Count = apperr.CountOf(err)
	writeJSON(w, status, errorBody{Error: detail})
}

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return apperr.Validation("decode request", "invalid JSON body: "+err.Error())
	}
	return nil
}

func errMissingField(name string) error {
	return apperr.Validation("decode request", name+" is required")
}

// AccountView is an account as exposed over the API. It never carries tokens.
type AccountView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	IsActive          bool       `json:"is_active"`
	IsDefault         bool       `json:"is_default"`
	Scopes            []string   `json:"scopes"`
	ProfileImage      string     `json:"profile_image,omitempty"`
	DeactivatedReason string     `json:"deactivated_reason,omitempty"`
	HasCredential     bool       `json:"has_credential"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	LastRefreshedAt   *time.Time `json:"last_refreshed_at,omitempty"`
	FileCount         *int64     `json:"file_count,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newAccountView(acc *models.Account) AccountView {
	v := AccountView{
		ID:                acc.ID,
		Name:              acc.Name,
		Email:             acc.Email,
		IsActive:          acc.IsActive,
		IsDefault:         acc.IsDefault,
		Scopes:            acc.ScopeList(),
		ProfileImage:      acc.ProfileImage,
		DeactivatedReason: acc.DeactivatedReason,
		HasCredential:     acc.HasCredential(),
		LastRefreshedAt:   acc.LastRefreshedAt,
		CreatedAt:         acc.CreatedAt,
	}
	if v.Scopes == nil {
		v.Scopes = []string{}
	}
	if !acc.ExpiresAt.IsZero() {
		expires := acc.ExpiresAt
		v.ExpiresAt = &expires
	}
	return v
}
