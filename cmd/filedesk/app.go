package main

import (
	"fmt"

	"github.com/pysugar/filedesk/internal/account"
	"github.com/pysugar/filedesk/internal/auth/google"
	"github.com/pysugar/filedesk/internal/auth/token"
	"github.com/pysugar/filedesk/internal/config"
	"github.com/pysugar/filedesk/internal/credential"
	"github.com/pysugar/filedesk/internal/db"
	"github.com/pysugar/filedesk/internal/ledger"
	"github.com/pysugar/filedesk/internal/metrics"
	"github.com/pysugar/filedesk/internal/provider/gdrive"
	"github.com/pysugar/filedesk/internal/secret"
	"github.com/pysugar/filedesk/internal/upload"
	"gorm.io/gorm"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	files     *ledger.Ledger
	accounts  *account.Registry
	creds     *credential.Store
	drive     *gdrive.Client
	metrics   metrics.Recorder
	refresher *token.Refresher
	uploads   *upload.Orchestrator
	state     *google.StateSigner
	oauth     *google.Flow
}

func newApp(cfg *config.Config) (*app, error) {
	database, err := db.InitDB(cfg.Database.Path, cfg.Database.LogLevel)
	if err != nil {
		return nil, err
	}
	cipher, err := secret.NewCipher(cfg.Credentials.SecretKey, cfg.Credentials.Salt, cfg.Credentials.Iterations)
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}

	a := &app{cfg: cfg, db: database}
	a.files = ledger.New(database)
	a.accounts = account.NewRegistry(database, a.files)
	a.creds = credential.NewStore(database, cipher)
	a.drive = gdrive.New(gdrive.Config{
		ClientID:      cfg.Provider.ClientID,
		ClientSecret:  cfg.Provider.ClientSecret,
		AuthURL:       cfg.Provider.AuthURL,
		TokenURL:      cfg.Provider.TokenURL,
		APIBaseURL:    cfg.Provider.APIBaseURL,
		UploadBaseURL: cfg.Provider.UploadBaseURL,
		UserInfoURL:   cfg.Provider.UserInfoURL,
		RedirectURL:   cfg.Provider.RedirectURL,
		Scopes:        cfg.Provider.Scopes,
	})
	a.metrics = metrics.New(cfg.Metrics.Enabled)
	a.refresher = token.NewRefresher(a.accounts, a.creds, a.drive, token.Options{
		Interval:  cfg.Refresh.Interval.Std(),
		Lookahead: cfg.Refresh.Lookahead.Std(),
		Timeout:   cfg.Refresh.Timeout.Std(),
		Workers:   cfg.Refresh.Workers,
		Metrics:   a.metrics,
	})
	a.uploads = upload.NewOrchestrator(upload.Deps{
		Accounts:    a.accounts,
		Credentials: a.creds,
		Refresher:   a.refresher,
		Provider:    a.drive,
		Files:       a.files,
		Metrics:     a.metrics,
	}, upload.Options{
		SafetyMargin:   cfg.Upload.SafetyMargin.Std(),
		MaxAttempts:    cfg.Upload.MaxAttempts,
		BaseBackoff:    cfg.Upload.BaseBackoff.Std(),
		MaxBackoff:     cfg.Upload.MaxBackoff.Std(),
		AttemptTimeout: cfg.Upload.Timeout.Std(),
	})
	a.state = google.NewStateSigner(cfg.Credentials.SecretKey, google.DefaultStateTTL)
	a.oauth = google.NewFlow(a.drive, a.accounts, a.creds, a.state)
	return a, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
