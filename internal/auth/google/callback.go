package google

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/filedesk/internal/account"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/credential"
	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/pysugar/filedesk/internal/provider"
	"github.com/pysugar/filedesk/internal/util"
)

// Flow completes an authorization: it exchanges the code, links the account,
// stores the credential and activates the account.
type Flow struct {
	auth     provider.Authorizer
	accounts *account.Registry
	creds    *credential.Store
	state    *StateSigner
	timeout  time.Duration
}

// ProviderTimeout bounds the code exchange and profile lookup of one callback.
const ProviderTimeout = 30 * time.Second

func NewFlow(auth provider.Authorizer, accounts *account.Registry, creds *credential.Store, state *StateSigner) *Flow {
	return &Flow{auth: auth, accounts: accounts, creds: creds, state: state, timeout: ProviderTimeout}
}

// Complete runs the post-consent steps for code. The first linked account
// becomes the default when no default exists.
func (f *Flow) Complete(ctx context.Context, code, redirectURL string) (*models.Account, error) {
	pctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	tok, err := f.auth.Exchange(pctx, code, redirectURL)
	if err != nil {
		return nil, err
	}
	profile, err := f.auth.UserInfo(pctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	acc, created, err := f.accounts.Link(ctx, account.Identity{
		Email:        profile.Email,
		Name:         profile.Name,
		ProfileImage: profile.Picture,
		Scopes:       tok.Scopes,
	})
	if err != nil {
		return nil, err
	}

	tokens := credential.Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresAt: tok.ExpiresAt}
	if tokens.RefreshToken == "" {
		// Re-consent without a new refresh token keeps the stored one.
		if existing, err := f.creds.Get(ctx, acc.ID); err == nil {
			tokens.RefreshToken = existing.RefreshToken
		}
	}
	if err := f.creds.Store(ctx, acc.ID, tokens); err != nil {
		return nil, err
	}

	acc, err = f.accounts.ToggleActive(ctx, acc.ID, true)
	if err != nil {
		return nil, err
	}

	if err := f.promoteIfNoDefault(ctx, acc); err != nil {
		return nil, err
	}
	acc, err = f.accounts.Get(ctx, acc.ID)
	if err != nil {
		return nil, err
	}

	log.Printf("🔐 Linked account %s (created=%t, default=%t, refresh=%s)",
		acc.Email, created, acc.IsDefault, util.MaskToken(tokens.RefreshToken))
	return acc, nil
}

// promoteIfNoDefault makes acc the default only when no account, active or
// not, holds the flag. A dangling default is left for an admin to resolve.
func (f *Flow) promoteIfNoDefault(ctx context.Context, acc *models.Account) error {
	if acc.IsDefault {
		return nil
	}
	current, err := f.accounts.CurrentDefault(ctx)
	if err != nil || current != nil {
		return err
	}
	dangling, err := f.accounts.DanglingDefault(ctx)
	if err != nil || dangling != nil {
		return err
	}
	res, err := f.accounts.SetDefault(ctx, acc.ID, account.SetDefaultOptions{ExpectedCurrent: account.Expect("")})
	if err != nil {
		return err
	}
	if res.Conflict != nil {
		log.Printf("⚠️  Default changed while linking %s; leaving it unchanged", acc.Email)
	}
	return nil
}

// CallbackHandler finishes the browser flow and renders a result page.
func CallbackHandler(flow *Flow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, status, err := flow.handle(r)
		if err != nil {
			log.Printf("❌ OAuth callback failed: %v", err)
			renderPage(w, status, pageData{Title: "Login Failed", Message: err.Error()})
			return
		}
		renderPage(w, http.StatusOK, pageData{
			Title:   "Login Successful",
			Success: true,
			Email:   acc.Email,
			Default: acc.IsDefault,
		})
	}
}

func (f *Flow) handle(r *http.Request) (*models.Account, int, error) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		return nil, http.StatusBadRequest, fmt.Errorf("authorization declined: %s", reason)
	}
	redirect, err := f.state.Verify(q.Get("state"))
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid or expired state token")
	}
	code := q.Get("code")
	if code == "" {
		return nil, http.StatusBadRequest, errors.New("missing authorization code")
	}

	acc, err := f.Complete(r.Context(), code, redirect)
	if err != nil {
		return nil, callbackStatus(err), err
	}
	return acc, http.StatusOK, nil
}

func callbackStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrAuth):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type pageData struct {
	Title   string
	Success bool
	Email   string
	Default bool
	Message string
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>{{.Title}}</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; text-align: center; }
		.success { color: #4ade80; font-size: 24px; margin-bottom: 10px; }
		.failure { color: #f87171; font-size: 24px; margin-bottom: 10px; }
		code { background: #374151; padding: 2px 6px; border-radius: 4px; color: #fbbf24; }
	</style>
</head>
<body>
{{if .Success}}
	<div class="success">✅ Login Successful</div>
	<p>Account <strong>{{.Email}}</strong> is linked and active.</p>
	{{if .Default}}<p>It is now the <code>default</code> upload account.</p>{{end}}
	<p>You can close this window.</p>
{{else}}
	<div class="failure">❌ Login Failed</div>
	<p>{{.Message}}</p>
{{end}}
</body>
</html>`))

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		log.Printf("⚠️  Failed to render callback page: %v", err)
	}
}
