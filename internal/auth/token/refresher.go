// Package token keeps account credentials fresh. A background loop renews
// tokens nearing expiry; uploads call Refresh directly when a token is
// about to lapse. Accounts whose refresh token is rejected are deactivated.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pysugar/filedesk/internal/account"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/credential"
	"github.com/pysugar/filedesk/internal/metrics"
	"github.com/pysugar/filedesk/internal/provider"
	"github.com/pysugar/filedesk/internal/util"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Options tunes the refresher. Zero values fall back to defaults.
type Options struct {
	Interval  time.Duration
	Lookahead time.Duration
	Timeout   time.Duration
	Workers   int
	Metrics   metrics.Recorder
}

// Refresher renews credentials. Refreshes of one account never overlap;
// different accounts refresh in parallel.
type Refresher struct {
	accounts *account.Registry
	creds    *credential.Store
	provider provider.Provider
	metrics  metrics.Recorder
	group    singleflight.Group

	interval  time.Duration
	lookahead time.Duration
	timeout   time.Duration
	workers   int
	now       func() time.Time
}

// SweepResult summarizes one pass over expiring accounts.
type SweepResult struct {
	Due         int
	Refreshed   int
	Deactivated int
	Failed      int
}

// NewRefresher wires a refresher to the registry, credential store and provider.
func NewRefresher(accounts *account.Registry, creds *credential.Store, p provider.Provider, opts Options) *Refresher {
	r := &Refresher{
		accounts:  accounts,
		creds:     creds,
		provider:  p,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		lookahead: opts.Lookahead,
		timeout:   opts.Timeout,
		workers:   opts.Workers,
		now:       time.Now,
	}
	if r.metrics == nil {
		r.metrics = metrics.Noop{}
	}
	if r.interval <= 0 {
		r.interval = 5 * time.Minute
	}
	if r.lookahead <= 0 {
		r.lookahead = 20 * time.Minute
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if r.workers < 1 {
		r.workers = 4
	}
	return r
}

// Start runs a sweep immediately and then on every interval until ctx ends.
func (r *Refresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		r.Sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				log.Println("🛑 Token refresh loop stopped")
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
	log.Printf("🔄 Token refresh loop started (interval: %s, lookahead: %s)", r.interval, r.lookahead)
}

// Sweep refreshes every active account expiring within the lookahead window.
func (r *Refresher) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	due, err := r.accounts.ListExpiring(ctx, r.now().Add(r.lookahead))
	if err != nil {
		log.Printf("⚠️ Failed to list expiring accounts: %v", err)
		return result
	}
	result.Due = len(due)
	if len(due) == 0 {
		return result
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, acc := range due {
		id := acc.ID
		g.Go(func() error {
			_, err := r.Refresh(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Refreshed++
			case errors.Is(err, apperr.ErrAuth):
				result.Deactivated++
			default:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("🔄 Refresh sweep: %d due, %d refreshed, %d deactivated, %d failed",
		result.Due, result.Refreshed, result.Deactivated, result.Failed)
	return result
}

// Refresh renews one account's credential now. Concurrent calls for the same
// account share a single provider round trip. A permanent rejection
// deactivates the account and returns an AuthError; anything else is
// reported as transient and leaves the account untouched.
func (r *Refresher) Refresh(ctx context.Context, accountID string) (*credential.Tokens, error) {
	v, err, shared := r.group.Do(accountID, func() (interface{}, error) {
		// Shared by every caller; bounded by the refresh timeout, not by
		// whichever caller arrived first.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refresh(fctx, accountID)
	})
	if shared {
		log.Printf("🔗 Joined in-flight refresh for account %s", accountID)
	}
	if err != nil {
		return nil, err
	}
	tokens := *v.(*credential.Tokens)
	return &tokens, nil
}

func (r *Refresher) refresh(ctx context.Context, accountID string) (*credential.Tokens, error) {
	acc, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.IsActive {
		return nil, apperr.New(apperr.ErrAuth, "refresh", accountID, "account is inactive; authorize it again")
	}

	current, err := r.creds.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		r.demote(ctx, acc.ID, acc.Email, "no refresh token stored")
		r.metrics.RecordRefresh(metrics.ResultAuth)
		return nil, apperr.New(apperr.ErrAuth, "refresh", accountID, "no refresh token stored")
	}

	fresh, err := r.provider.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			log.Printf("❌ Refresh token rejected for %s: %v", acc.Email, err)
			r.demote(ctx, acc.ID, acc.Email, util.TruncateLog(err.Error(), 200))
			r.metrics.RecordRefresh(metrics.ResultAuth)
			return nil, &apperr.Error{Kind: apperr.ErrAuth, Op: "refresh", AccountID: accountID, Err: err}
		}
		log.Printf("⏳ Transient refresh failure for %s, account remains active: %v", acc.Email, err)
		r.metrics.RecordRefresh(metrics.ResultTransient)
		return nil, &apperr.Error{Kind: apperr.ErrTransient, Op: "refresh", AccountID: accountID, Err: err}
	}

	next := credential.Tokens{
		AccessToken:  fresh.AccessToken,
		RefreshToken: current.RefreshToken,
		ExpiresAt:    fresh.ExpiresAt,
	}
	if fresh.RefreshToken != "" && fresh.RefreshToken != current.RefreshToken {
		log.Printf("🔄 Rotating refresh token for: %s", acc.Email)
		next.RefreshToken = fresh.RefreshToken
	}
	if err := r.creds.Store(ctx, accountID, next); err != nil {
		r.metrics.RecordRefresh(metrics.ResultError)
		return nil, fmt.Errorf("storing refreshed credential for %s: %w", acc.Email, err)
	}
	r.metrics.RecordRefresh(metrics.ResultSuccess)
	log.Printf("✅ Refreshed token for: %s (token: %s, expires: %s)",
		acc.Email, util.MaskToken(next.AccessToken), next.ExpiresAt.Format(time.RFC3339))
	return &next, nil
}

func (r *Refresher) demote(ctx context.Context, id, email, reason string) {
	if err := r.accounts.Deactivate(ctx, id, reason); err != nil {
		log.Printf("⚠️ Failed to deactivate %s: %v", email, err)
		return
	}
	log.Printf("🔒 Account %s marked as inactive. Please re-authorize.", email)
}
