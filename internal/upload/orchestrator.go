// Package upload sends files to a usable account and records where they went.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/pysugar/filedesk/internal/account"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/credential"
	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/pysugar/filedesk/internal/ledger"
	"github.com/pysugar/filedesk/internal/logging"
	"github.com/pysugar/filedesk/internal/metrics"
	"github.com/pysugar/filedesk/internal/provider"
)

const recordTimeout = 30 * time.Second

// TokenRefresher renews one account's credential on demand.
type TokenRefresher interface {
	Refresh(ctx context.Context, accountID string) (*credential.Tokens, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Accounts    *account.Registry
	Credentials *credential.Store
	Refresher   TokenRefresher
	Provider    provider.Provider
	Files       *ledger.Ledger
	Metrics     metrics.Recorder
}

// Options tunes retries and timeouts. Zero values fall back to defaults.
type Options struct {
	SafetyMargin   time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// Metadata describes the file being uploaded.
type Metadata struct {
	DisplayName  string
	OriginalName string
	ContentType  string
	Category     string
	Description  string
	IsPublic     bool
}

// Request is one upload. An empty AccountID targets the default account.
type Request struct {
	Content   io.ReadSeeker
	Size      int64
	Metadata  Metadata
	AccountID string
}

// Orchestrator resolves the target account, keeps its credential fresh,
// uploads with bounded retries and records the association.
type Orchestrator struct {
	accounts  *account.Registry
	creds     *credential.Store
	refresher TokenRefresher
	provider  provider.Provider
	files     *ledger.Ledger
	metrics   metrics.Recorder
	opts      Options

	now       func() time.Time
	jitter    func() float64
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = 2 * time.Minute
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = 30 * opts.BaseBackoff
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 5 * time.Minute
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Orchestrator{
		accounts:  deps.Accounts,
		creds:     deps.Credentials,
		refresher: deps.Refresher,
		provider:  deps.Provider,
		files:     deps.Files,
		metrics:   rec,
		opts:      opts,
		now:       time.Now,
		jitter:    rand.Float64,
		sleepFunc: timeSleep,
	}
}

// Upload stores the content on the resolved account and returns the recorded
// File. No record is created unless the provider confirmed the object.
func (o *Orchestrator) Upload(ctx context.Context, req Request) (file *models.File, err error) {
	start := o.now()
	defer func() {
		o.metrics.RecordUpload(metrics.ResultOf(err), time.Since(start))
	}()

	if err := validate(&req); err != nil {
		return nil, err
	}

	acc, err := o.resolve(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	tokens, err := o.freshTokens(ctx, acc)
	if err != nil {
		return nil, err
	}

	var remote *provider.RemoteFile
	err = o.withRetry(ctx, "upload", acc, func(actx context.Context) error {
		if _, err := req.Content.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewinding upload content: %w", err)
		}
		var uerr error
		remote, uerr = o.provider.Upload(actx, tokens.AccessToken, provider.UploadRequest{
			Name:        req.Metadata.OriginalName,
			ContentType: req.Metadata.ContentType,
			Size:        req.Size,
			Description: req.Metadata.Description,
			Public:      req.Metadata.IsPublic,
			Content:     req.Content,
		})
		return uerr
	})
	if err != nil {
		return nil, err
	}

	file = &models.File{
		RemoteFileID: remote.ID,
		AccountID:    acc.ID,
		DisplayName:  req.Metadata.DisplayName,
		OriginalName: req.Metadata.OriginalName,
		Size:         remote.Size,
		ContentType:  req.Metadata.ContentType,
		IsPublic:     req.Metadata.IsPublic,
		Category:     req.Metadata.Category,
		ViewLink:     remote.ViewLink,
		DownloadLink: remote.DownloadLink,
	}

	// The object exists remotely now; record it even if the caller has gone.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.files.Record(rctx, file); err != nil {
		log.Printf("%s❌ Recording upload %s failed, removing remote object: %v", logging.Prefix(ctx), remote.ID, err)
		if derr := o.provider.Delete(rctx, tokens.AccessToken, remote.ID); derr != nil && !errors.Is(derr, apperr.ErrNotFound) {
			log.Printf("%s⚠️ Remote object %s on %s is orphaned: %v", logging.Prefix(ctx), remote.ID, acc.Email, derr)
		}
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	log.Printf("%s📤 Uploaded %q to %s (remote: %s)", logging.Prefix(ctx), file.OriginalName, acc.Email, remote.ID)
	return file, nil
}

// Delete removes the remote object and then its record. A remote object that
// is already gone counts as deleted.
func (o *Orchestrator) Delete(ctx context.Context, fileID string) error {
	file, err := o.files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	acc, err := o.accounts.Get(ctx, file.AccountID)
	if err != nil {
		return err
	}
	tokens, err := o.freshTokens(ctx, acc)
	if err != nil {
		return err
	}

	err = o.withRetry(ctx, "delete", acc, func(actx context.Context) error {
		return o.provider.Delete(actx, tokens.AccessToken, file.RemoteFileID)
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if err := o.files.Delete(ctx, fileID); err != nil {
		return err
	}
	log.Printf("%s🗑️ Deleted %q from %s", logging.Prefix(ctx), file.OriginalName, acc.Email)
	return nil
}

// resolve picks the explicit account when it exists and is active,
// otherwise the default.
func (o *Orchestrator) resolve(ctx context.Context, accountID string) (*models.Account, error) {
	if accountID != "" {
		acc, err := o.accounts.Get(ctx, accountID)
		switch {
		case err == nil && acc.IsActive:
			return acc, nil
		case err == nil:
			log.Printf("%s⚠️  Account %s is inactive, uploading to the default account", logging.Prefix(ctx), acc.Email)
		case errors.Is(err, apperr.ErrNotFound):
			log.Printf("%s⚠️  Account %s not found, uploading to the default account", logging.Prefix(ctx), accountID)
		default:
			return nil, err
		}
	}

	acc, err := o.accounts.CurrentDefault(ctx)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		return acc, nil
	}
	dangling, err := o.accounts.DanglingDefault(ctx)
	if err != nil {
		return nil, err
	}
	if dangling != nil {
		return nil, apperr.New(apperr.ErrNoUsableAccount, "upload", dangling.ID,
			"default account is inactive: "+dangling.DeactivatedReason)
	}
	return nil, apperr.New(apperr.ErrNoUsableAccount, "upload", "", "no default account is set")
}

// freshTokens returns a credential that stays valid for at least the safety
// margin, refreshing first when needed.
func (o *Orchestrator) freshTokens(ctx context.Context, acc *models.Account) (*credential.Tokens, error) {
	tokens, err := o.creds.Get(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	if !tokens.ExpiresWithin(o.now(), o.opts.SafetyMargin) {
		return tokens, nil
	}

	log.Printf("%s⚠️ Token for %s expires at %s, refreshing before transfer",
		logging.Prefix(ctx), acc.Email, tokens.ExpiresAt.Format(time.RFC3339))
	refreshed, err := o.refresher.Refresh(ctx, acc.ID)
	if err != nil {
		return nil, apperr.New(apperr.ErrAuth, "refresh before transfer", acc.ID, err.Error())
	}
	return refreshed, nil
}

// withRetry runs fn with a per-attempt timeout, retrying transient failures
// with exponential backoff until MaxAttempts. A longer Retry-After hint from
// the provider wins, capped at MaxBackoff.
func (o *Orchestrator) withRetry(ctx context.Context, op string, acc *models.Account, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && !apperr.IsRetryable(err) {
			err = apperr.Wrap(apperr.ErrTransient, op, acc.ID, err)
		}
		if !apperr.IsRetryable(err) || attempt >= o.opts.MaxAttempts {
			return withAccount(err, acc.ID)
		}

		backoff := o.backoff(attempt)
		if hint := apperr.RetryAfterOf(err); hint > backoff {
			backoff = min(hint, o.opts.MaxBackoff)
		}
		log.Printf("%s⏳ %s to %s failed (attempt %d/%d), retrying in %s: %v",
			logging.Prefix(ctx), op, acc.Email, attempt, o.opts.MaxAttempts, backoff, err)
		if err := o.sleepFunc(ctx, backoff); err != nil {
			return fmt.Errorf("%s canceled: %w", op, err)
		}
	}
}

// backoff is BaseBackoff doubled per attempt, capped at MaxBackoff, with
// ±25% jitter.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.opts.MaxBackoff
	if attempt < 32 {
		if exp := o.opts.BaseBackoff << (attempt - 1); exp > 0 && exp < d {
			d = exp
		}
	}
	jitter := (o.jitter()*0.5 - 0.25) * float64(d)
	return d + time.Duration(jitter)
}

func validate(req *Request) error {
	if req.Content == nil {
		return apperr.Validation("upload", "file content is required")
	}
	req.Metadata.OriginalName = strings.TrimSpace(req.Metadata.OriginalName)
	if req.Metadata.OriginalName == "" {
		return apperr.Validation("upload", "file name is required")
	}
	if req.Size < 0 {
		return apperr.Validation("upload", "size cannot be negative")
	}
	req.Metadata.DisplayName = strings.TrimSpace(req.Metadata.DisplayName)
	if req.Metadata.DisplayName == "" {
		req.Metadata.DisplayName = req.Metadata.OriginalName
	}
	return nil
}

// withAccount stamps the account on a provider error that lacks one.
func withAccount(err error, accountID string) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.AccountID == "" {
		e.AccountID = accountID
	}
	return err
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
