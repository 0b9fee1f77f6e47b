package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/filedesk/internal/auth/token"
	"github.com/pysugar/filedesk/internal/logging"
)

// RefreshAccountHandler renews one account's credential now.
func RefreshAccountHandler(refresher *token.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokens, err := refresher.Refresh(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"expires_at": tokens.ExpiresAt,
		})
	}
}

// RefreshHandler triggers a sweep over expiring accounts in the background.
func RefreshHandler(refresher *token.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			res := refresher.Sweep(ctx)
			log.Printf("%s🔄 Manual refresh finished: %d due, %d refreshed", logging.Prefix(ctx), res.Due, res.Refreshed)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"message": "Token refresh triggered",
		})
	}
}
