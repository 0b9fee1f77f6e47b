// Package credential persists per-account OAuth tokens in encrypted form.
// It is pure storage: no refresh policy and no network calls.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/pysugar/filedesk/internal/secret"
	"gorm.io/gorm"
)

// Tokens is the decrypted credential of one account.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExpiresWithin reports whether the access token expires before now+d.
func (t *Tokens) ExpiresWithin(now time.Time, d time.Duration) bool {
	return t.ExpiresAt.Before(now.Add(d))
}

// Store reads and writes the token columns of the accounts table.
type Store struct {
	db     *gorm.DB
	cipher *secret.Cipher
	now    func() time.Time
}

// NewStore creates a credential store sealing values with cipher.
func NewStore(db *gorm.DB, cipher *secret.Cipher) *Store {
	return &Store{db: db, cipher: cipher, now: time.Now}
}

// Store encrypts and writes access token, refresh token and expiry in one
// UPDATE so readers never see a token paired with another token's expiry.
func (s *Store) Store(ctx context.Context, accountID string, tokens Tokens) error {
	if tokens.AccessToken == "" && tokens.RefreshToken == "" {
		return apperr.Validation("store credential", "at least one token is required")
	}

	access, err := s.cipher.Seal(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("sealing access token: %w", err)
	}
	refresh, err := s.cipher.Seal(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("sealing refresh token: %w", err)
	}

	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":      access,
			"refresh_token":     refresh,
			"expires_at":        tokens.ExpiresAt.UTC(),
			"last_refreshed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("writing credential for %s: %w", accountID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.ErrNotFound, "store credential", accountID, "account does not exist")
	}
	return nil
}

// Get decrypts the stored credential. Accounts that were never authorized, or
// whose ciphertext cannot be opened, yield ErrCredentialUnavailable.
func (s *Store) Get(ctx context.Context, accountID string) (*Tokens, error) {
	var row struct {
		AccessToken  string
		RefreshToken string
		ExpiresAt    time.Time
	}
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Select("access_token", "refresh_token", "expires_at").
		Where("id = ?", accountID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.ErrNotFound, "get credential", accountID, "account does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential for %s: %w", accountID, err)
	}

	if row.AccessToken == "" && row.RefreshToken == "" {
		return nil, apperr.New(apperr.ErrCredentialUnavailable, "get credential", accountID, "no tokens stored")
	}

	access, err := s.cipher.Open(row.AccessToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCredentialUnavailable, "get credential", accountID, err)
	}
	refresh, err := s.cipher.Open(row.RefreshToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCredentialUnavailable, "get credential", accountID, err)
	}

	return &Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: row.ExpiresAt}, nil
}
