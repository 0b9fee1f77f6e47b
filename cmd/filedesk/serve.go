package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pysugar/filedesk/internal/server"
	"github.com/pysugar/filedesk/internal/server/middleware"
	"github.com/pysugar/filedesk/internal/version"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the credential refresh loop",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := resolvedCfg
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gate, err := middleware.NewAdminGate(a.db, cfg.Admin.Password, 0)
	if err != nil {
		return err
	}

	a.refresher.Start(ctx)

	router := server.NewRouter(server.Deps{
		DB:         a.db,
		Accounts:   a.accounts,
		Files:      a.files,
		Refresher:  a.refresher,
		Uploads:    a.uploads,
		Authorizer: a.drive,
		State:      a.state,
		OAuth:      a.oauth,
		Gate:       gate,
		Metrics:    a.metrics,
	}, server.Options{
		RedirectURL:    cfg.Provider.RedirectURL,
		AuthRateLimit:  cfg.Server.AuthRateLimit,
		MaxUploadBytes: cfg.Upload.MaxSizeMB << 20,
	})

	cmd.Printf("%s\n", version.String())
	return server.Run(ctx, cfg.Server.Addr(), router)
}
