// Package google drives the browser consent flow that links a storage
// account: login redirects to the provider, callback stores the credential.
package google

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/pysugar/filedesk/internal/provider"
)

// CallbackPath is where the provider returns the browser after consent.
const CallbackPath = "/auth/provider/callback"

// LoginHandler redirects to the provider consent page. When redirectURL is
// empty it is derived from the incoming request.
func LoginHandler(auth provider.Authorizer, signer *StateSigner, redirectURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirect := redirectURL
		if redirect == "" {
			redirect = redirectFromRequest(r)
		}

		state, err := signer.Sign(redirect)
		if err != nil {
			log.Printf("❌ Failed to sign OAuth state: %v", err)
			http.Error(w, "Failed to start authorization", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, auth.AuthCodeURL(state, redirect), http.StatusTemporaryRedirect)
	}
}

// redirectFromRequest rebuilds the callback URL from scheme and host, honoring
// a reverse proxy's X-Forwarded-Proto.
func redirectFromRequest(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, CallbackPath)
}
