// Package server assembles the HTTP surface: the provider consent flow, the
// admin API, health and metrics.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/filedesk/internal/account"
	"github.com/pysugar/filedesk/internal/auth/google"
	"github.com/pysugar/filedesk/internal/auth/token"
	"github.com/pysugar/filedesk/internal/ledger"
	"github.com/pysugar/filedesk/internal/logging"
	"github.com/pysugar/filedesk/internal/metrics"
	"github.com/pysugar/filedesk/internal/provider"
	"github.com/pysugar/filedesk/internal/server/handlers"
	"github.com/pysugar/filedesk/internal/server/middleware"
	"github.com/pysugar/filedesk/internal/upload"
	"github.com/pysugar/filedesk/internal/version"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// Deps are the services the router dispatches to.
type Deps struct {
	DB         *gorm.DB
	Accounts   *account.Registry
	Files      *ledger.Ledger
	Refresher  *token.Refresher
	Uploads    *upload.Orchestrator
	Authorizer provider.Authorizer
	State      *google.StateSigner
	OAuth      *google.Flow
	Gate       *middleware.AdminGate
	Metrics    metrics.Recorder
}

// Options are the HTTP-level settings.
type Options struct {
	RedirectURL    string
	AuthRateLimit  int
	MaxUploadBytes int64
}

// NewRouter builds the chi router.
func NewRouter(deps Deps, opts Options) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}

	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware(deps.Metrics))

	r.Get("/healthz", healthHandler)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/auth/provider", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.AuthRateLimit))
		r.Get("/login", google.LoginHandler(deps.Authorizer, deps.State, opts.RedirectURL))
		r.Get("/callback", google.CallbackHandler(deps.OAuth))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.Gate.Middleware)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", handlers.ListAccountsHandler(deps.Accounts, deps.Files))
			r.Post("/", handlers.CreateAccountHandler(deps.Accounts))
			r.Get("/default/status", handlers.DefaultStatusHandler(deps.Accounts))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handlers.GetAccountHandler(deps.Accounts, deps.Files))
				r.Delete("/", handlers.DeleteAccountHandler(deps.Accounts))
				r.Post("/active", handlers.UpdateAccountActiveHandler(deps.Accounts))
				r.Post("/default", handlers.SetDefaultAccountHandler(deps.Accounts, deps.Metrics))
				r.Post("/refresh", handlers.RefreshAccountHandler(deps.Refresher))
			})
		})
		r.Post("/refresh", handlers.RefreshHandler(deps.Refresher))

		r.Route("/files", func(r chi.Router) {
			r.Get("/", handlers.ListFilesHandler(deps.Files))
			r.Post("/", handlers.UploadFileHandler(deps.Uploads, opts.MaxUploadBytes))
			r.Get("/{id}", handlers.GetFileHandler(deps.Files))
			r.Patch("/{id}", handlers.UpdateFileHandler(deps.Files))
			r.Delete("/{id}", handlers.DeleteFileHandler(deps.Uploads))
		})

		r.Get("/config/apikey", handlers.GetAPIKeyHandler(deps.DB))
		r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(deps.DB))
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
}

// Run serves h on addr until ctx ends, then drains in-flight requests.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("🚀 filedesk listening on http://%s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down HTTP server...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
