package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/filedesk/internal/account"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/credential"
	"github.com/pysugar/filedesk/internal/db"
	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/pysugar/filedesk/internal/ledger"
	"github.com/pysugar/filedesk/internal/provider"
	"github.com/pysugar/filedesk/internal/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	refresh func(refreshToken string) (*provider.Token, error)
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.refresh(refreshToken)
}

func (f *fakeProvider) Upload(context.Context, string, provider.UploadRequest) (*provider.RemoteFile, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) Delete(context.Context, string, string) error { return nil }

type env struct {
	registry *account.Registry
	creds    *credential.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	database, err := db.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	cipher, err := secret.NewCipher("test-key", "salt", 1000)
	require.NoError(t, err)
	return &env{
		registry: account.NewRegistry(database, ledger.New(database)),
		creds:    credential.NewStore(database, cipher),
	}
}

// linked creates an active account holding tokens that expire in expiresIn.
func (e *env) linked(t *testing.T, name string, expiresIn time.Duration) *models.Account {
	t.Helper()
	ctx := context.Background()
	acc := &models.Account{Name: name, Email: name + "@example.com"}
	require.NoError(t, e.registry.Create(ctx, acc))
	require.NoError(t, e.creds.Store(ctx, acc.ID, credential.Tokens{
		AccessToken:  "access-" + name,
		RefreshToken: "refresh-" + name,
		ExpiresAt:    time.Now().Add(expiresIn),
	}))
	active, err := e.registry.ToggleActive(ctx, acc.ID, true)
	require.NoError(t, err)
	return active
}

func succeed(refreshToken string) (*provider.Token, error) {
	return &provider.Token{AccessToken: "renewed-" + refreshToken, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestSweepRefreshesExpiringAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.linked(t, "c", 2*time.Minute)
	e.linked(t, "later", 3*time.Hour)

	before, err := e.creds.Get(ctx, c.ID)
	require.NoError(t, err)

	p := &fakeProvider{refresh: succeed}
	r := NewRefresher(e.registry, e.creds, p, Options{Lookahead: 20 * time.Minute})
	result := r.Sweep(ctx)

	assert.Equal(t, SweepResult{Due: 1, Refreshed: 1}, result)
	assert.EqualValues(t, 1, p.calls.Load())

	after, err := e.creds.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, after.ExpiresAt.After(before.ExpiresAt), "expiry should move forward")
	assert.Equal(t, "renewed-refresh-c", after.AccessToken)
	assert.Equal(t, "refresh-c", after.RefreshToken, "refresh token kept when not rotated")

	acc, err := e.registry.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, acc.IsActive)
	assert.NotNil(t, acc.LastRefreshedAt)
}

func TestRefreshStoresRotatedToken(t *testing.T) {
	e := newEnv(t)
	acc := e.linked(t, "rot", time.Minute)
	p := &fakeProvider{refresh: func(string) (*provider.Token, error) {
		return &provider.Token{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
	r := NewRefresher(e.registry, e.creds, p, Options{})

	tokens, err := r.Refresh(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "r2", tokens.RefreshToken)

	stored, err := e.creds.Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "r2", stored.RefreshToken)
}

func TestPermanentFailureDeactivates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.linked(t, "d", time.Minute)
	res, err := e.registry.SetDefault(ctx, d.ID, account.SetDefaultOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Account)

	p := &fakeProvider{refresh: func(string) (*provider.Token, error) {
		return nil, apperr.New(apperr.ErrAuth, "refresh", "", "invalid_grant")
	}}
	r := NewRefresher(e.registry, e.creds, p, Options{})
	result := r.Sweep(ctx)
	assert.Equal(t, SweepResult{Due: 1, Deactivated: 1}, result)

	acc, err := e.registry.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, acc.IsActive)
	assert.Contains(t, acc.DeactivatedReason, "invalid_grant")
	assert.True(t, acc.IsDefault, "default flag is not touched")

	dangling, err := e.registry.DanglingDefault(ctx)
	require.NoError(t, err)
	require.NotNil(t, dangling)

	_, err = r.Refresh(ctx, d.ID)
	assert.True(t, errors.Is(err, apperr.ErrAuth))
	assert.EqualValues(t, 1, p.calls.Load(), "inactive accounts are not retried")
}

func TestTransientFailureLeavesStateUnchanged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	acc := e.linked(t, "flaky", time.Minute)
	before, err := e.creds.Get(ctx, acc.ID)
	require.NoError(t, err)

	p := &fakeProvider{refresh: func(string) (*provider.Token, error) {
		return nil, apperr.New(apperr.ErrTransient, "refresh", "", "connection reset")
	}}
	r := NewRefresher(e.registry, e.creds, p, Options{})

	_, err = r.Refresh(ctx, acc.ID)
	assert.True(t, errors.Is(err, apperr.ErrTransient), "got %v", err)
	assert.Equal(t, acc.ID, apperr.AccountOf(err))

	stored, err := e.registry.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	after, err := e.creds.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRefreshIsSingleFlightPerAccount(t *testing.T) {
	e := newEnv(t)
	acc := e.linked(t, "busy", time.Minute)
	p := &fakeProvider{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		refresh: succeed,
	}
	r := NewRefresher(e.registry, e.creds, p, Options{})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*credential.Tokens, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Refresh(context.Background(), acc.ID)
		}(i)
	}

	<-p.started
	time.Sleep(100 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.EqualValues(t, 1, p.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "renewed-refresh-busy", results[i].AccessToken)
	}
}

func TestRefreshUnknownAccount(t *testing.T) {
	e := newEnv(t)
	r := NewRefresher(e.registry, e.creds, &fakeProvider{refresh: succeed}, Options{})
	_, err := r.Refresh(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestStartStopsWithContext(t *testing.T) {
	e := newEnv(t)
	e.linked(t, "loop", time.Minute)
	p := &fakeProvider{refresh: succeed}
	r := NewRefresher(e.registry, e.creds, p, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
}
