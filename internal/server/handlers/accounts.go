package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/filedesk/internal/account"
	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/pysugar/filedesk/internal/ledger"
	"github.com/pysugar/filedesk/internal/logging"
	"github.com/pysugar/filedesk/internal/metrics"
)

// ListAccountsHandler returns all accounts with their file counts.
func ListAccountsHandler(accounts *account.Registry, files *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := accounts.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		views := make([]AccountView, 0, len(list))
		for i := range list {
			view, err := viewWithCount(r, &list[i], files)
			if err != nil {
				writeError(w, r, err)
				return
			}
			views = append(views, view)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": views})
	}
}

type createAccountRequest struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	ProfileImage string   `json:"profile_image"`
	Scopes       []string `json:"scopes"`
}

// CreateAccountHandler registers an account ahead of authorization. It stays
// inactive until a credential is linked.
func CreateAccountHandler(accounts *account.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, r, err)
			return
		}
		acc := &models.Account{Name: req.Name, Email: req.Email, ProfileImage: req.ProfileImage}
		acc.SetScopes(req.Scopes)
		if err := accounts.Create(r.Context(), acc); err != nil {
			writeError(w, r, err)
			return
		}
		log.Printf("%s➕ Created account %s", logging.Prefix(r.Context()), acc.Email)
		writeJSON(w, http.StatusCreated, newAccountView(acc))
	}
}

// GetAccountHandler returns one account.
func GetAccountHandler(accounts *account.Registry, files *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := accounts.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		view, err := viewWithCount(r, acc, files)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// DeleteAccountHandler removes an account that owns no files and is not the
// active default.
func DeleteAccountHandler(accounts *account.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := accounts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type activeRequest struct {
	Active *bool `json:"active"`
}

// UpdateAccountActiveHandler toggles an account's activation flag.
func UpdateAccountActiveHandler(accounts *account.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activeRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Active == nil {
			writeError(w, r, errMissingField("active"))
			return
		}
		acc, err := accounts.ToggleActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAccountView(acc))
	}
}

// setDefaultRequest binds the switch to the default the caller saw.
// expected_current is "" when the caller saw no default; leaving it out only
// works while there is no default yet.
type setDefaultRequest struct {
	Force           bool    `json:"force"`
	ExpectedCurrent *string `json:"expected_current"`
}

type conflictResponse struct {
	NeedsSync bool `json:"needsSync"`
	*account.SyncConflict
}

// SetDefaultAccountHandler makes an account the default upload target. When
// the current default still owns files, or the caller's expected_current is
// out of date, the switch is not applied and the conflict is returned with
// 409 so the caller can confirm.
func SetDefaultAccountHandler(accounts *account.Registry, rec metrics.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setDefaultRequest
		if err := decodeJSON(r, &req, true); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := accounts.SetDefault(r.Context(), chi.URLParam(r, "id"), account.SetDefaultOptions{
			Force:           req.Force,
			ExpectedCurrent: req.ExpectedCurrent,
		})
		if err != nil {
			rec.RecordDefaultSwitch(metrics.SwitchFailed)
			writeError(w, r, err)
			return
		}
		if res.Conflict != nil {
			outcome := metrics.SwitchConflict
			if res.Conflict.Stale {
				outcome = metrics.SwitchStale
			}
			rec.RecordDefaultSwitch(outcome)
			writeJSON(w, http.StatusConflict, conflictResponse{NeedsSync: true, SyncConflict: res.Conflict})
			return
		}
		if req.Force {
			rec.RecordDefaultSwitch(metrics.SwitchForced)
		} else {
			rec.RecordDefaultSwitch(metrics.SwitchCommitted)
		}
		writeJSON(w, http.StatusOK, newAccountView(res.Account))
	}
}

type defaultStatus struct {
	Healthy  bool         `json:"healthy"`
	Default  *AccountView `json:"default"`
	Dangling *AccountView `json:"dangling,omitempty"`
}

// DefaultStatusHandler reports the default account and whether it is usable.
// A default whose account was deactivated is reported as dangling.
func DefaultStatusHandler(accounts *account.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := accounts.CurrentDefault(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		dangling, err := accounts.DanglingDefault(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		var status defaultStatus
		if current != nil {
			v := newAccountView(current)
			status.Default = &v
			status.Healthy = true
		}
		if dangling != nil {
			v := newAccountView(dangling)
			status.Dangling = &v
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func viewWithCount(r *http.Request, acc *models.Account, files *ledger.Ledger) (AccountView, error) {
	view := newAccountView(acc)
	count, err := files.CountByAccount(r.Context(), acc.ID)
	if err != nil {
		return view, err
	}
	view.FileCount = &count
	return view, nil
}
