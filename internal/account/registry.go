// Package account owns account records and the single-default invariant.
package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/db/models"
	"github.com/pysugar/filedesk/internal/ledger"
	"gorm.io/gorm"
)

var errDefaultMoved = errors.New("default account changed during switch")

// Registry manages accounts. Every mutation of the default or activation
// flags runs under mu and inside a transaction.
type Registry struct {
	db    *gorm.DB
	files *ledger.Ledger
	mu    sync.Mutex
}

// NewRegistry creates a registry that consults files for conflict checks.
func NewRegistry(db *gorm.DB, files *ledger.Ledger) *Registry {
	return &Registry{db: db, files: files}
}

// SetDefaultOptions controls SetDefault. ExpectedCurrent is the default the
// caller saw when it decided to switch; an empty string means it saw none.
// A nil ExpectedCurrent only commits when there is no default to switch away
// from.
type SetDefaultOptions struct {
	Force           bool
	ExpectedCurrent *string
}

// Expect returns an ExpectedCurrent value for id.
func Expect(id string) *string {
	return &id
}

// observed reports whether the caller's view of the default matches currentID.
func (o SetDefaultOptions) observed(currentID, id string) bool {
	if o.ExpectedCurrent != nil {
		return *o.ExpectedCurrent == currentID
	}
	return currentID == "" || currentID == id
}

// SetDefaultResult is either the new default account or a conflict that
// must be confirmed. Exactly one field is set.
type SetDefaultResult struct {
	Account  *models.Account
	Conflict *SyncConflict
}

// Identity is the provider-side identity used to link an account.
type Identity struct {
	Email        string
	Name         string
	ProfileImage string
	Scopes       []string
}

// Create inserts a new inactive, non-default account.
func (r *Registry) Create(ctx context.Context, acc *models.Account) error {
	if err := validateIdentity(acc.Name, acc.Email); err != nil {
		return err
	}
	acc.Email = normalizeEmail(acc.Email)
	acc.Name = strings.TrimSpace(acc.Name)
	acc.IsActive = false
	acc.IsDefault = false
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("email = ?", acc.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Validation("create account", "email "+acc.Email+" is already linked")
		}
		return tx.Create(acc).Error
	})
}

// Link finds the account for an authorized identity or creates it, and
// refreshes its profile and scopes. New accounts start inactive.
func (r *Registry) Link(ctx context.Context, id Identity) (*models.Account, bool, error) {
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = id.Email
	}
	if err := validateIdentity(name, id.Email); err != nil {
		return nil, false, err
	}
	email := normalizeEmail(id.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	var acc models.Account
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", email).Take(&acc).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			acc = models.Account{ID: uuid.New().String(), Name: name, Email: email, ProfileImage: id.ProfileImage}
			acc.SetScopes(id.Scopes)
			created = true
			return tx.Create(&acc).Error
		case err != nil:
			return err
		}
		acc.Name = name
		acc.ProfileImage = id.ProfileImage
		acc.SetScopes(id.Scopes)
		return tx.Model(&acc).Updates(map[string]interface{}{
			"name":          acc.Name,
			"profile_image": acc.ProfileImage,
			"scopes":        acc.Scopes,
		}).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("link account %s: %w", email, err)
	}
	return &acc, created, nil
}

// Get returns one account.
func (r *Registry) Get(ctx context.Context, id string) (*models.Account, error) {
	return getAccount(r.db.WithContext(ctx), id)
}

// List returns all accounts, oldest first.
func (r *Registry) List(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// CurrentDefault returns the active default account, or nil when none exists.
func (r *Registry) CurrentDefault(ctx context.Context) (*models.Account, error) {
	var acc models.Account
	err := r.db.WithContext(ctx).Where("is_default = ? AND is_active = ?", true, true).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// DanglingDefault returns the default account when it has been deactivated,
// for example after its refresh token was revoked.
func (r *Registry) DanglingDefault(ctx context.Context) (*models.Account, error) {
	var acc models.Account
	err := r.db.WithContext(ctx).Where("is_default = ? AND is_active = ?", true, false).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListExpiring returns active accounts holding a refresh token whose access
// token expires before deadline.
func (r *Registry) ListExpiring(ctx context.Context, deadline time.Time) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND refresh_token <> '' AND expires_at < ?", true, deadline.UTC()).
		Order("expires_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// ToggleActive sets the activation flag. The current default cannot be
// deactivated, and an account without stored tokens cannot be activated.
func (r *Registry) ToggleActive(ctx context.Context, id string, active bool) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var acc *models.Account
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		acc, err = getAccount(tx, id)
		if err != nil {
			return err
		}
		if !active && acc.IsDefault && acc.IsActive {
			return apperr.New(apperr.ErrCannotDeactivateDefault, "toggle active", id, "set another default first")
		}
		if active && !acc.HasCredential() {
			return apperr.New(apperr.ErrValidation, "toggle active", id, "no stored credential; link the account through the provider first")
		}
		updates := map[string]interface{}{"is_active": active}
		if active {
			updates["deactivated_reason"] = ""
		} else {
			updates["deactivated_reason"] = "disabled by admin"
		}
		if err := tx.Model(&models.Account{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		acc, err = getAccount(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🔁 Account %s active=%t", acc.Email, acc.IsActive)
	return acc, nil
}

// Deactivate demotes an account whose credential can no longer be renewed.
// The default flag is left alone; a deactivated default shows up through
// DanglingDefault.
func (r *Registry) Deactivate(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_active":          false,
		"deactivated_reason": reason,
	})
	if result.Error != nil {
		return fmt.Errorf("deactivate account %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.ErrNotFound, "deactivate account", id, "")
	}
	return nil
}

// SetDefault makes id the default upload target. A switch away from an
// existing default must name it in opts.ExpectedCurrent, otherwise a stale
// conflict is returned. When the current default still owns files the switch
// is returned as a conflict unless opts.Force is set. The old and new flags
// change in one transaction.
func (r *Registry) SetDefault(ctx context.Context, id string, opts SetDefaultOptions) (*SetDefaultResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result SetDefaultResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := getAccount(tx, id)
		if err != nil {
			return err
		}
		if !target.IsActive {
			return apperr.New(apperr.ErrNotFound, "set default", id, "account is inactive")
		}

		current, err := defaultAccount(tx)
		if err != nil {
			return err
		}
		currentID := ""
		if current != nil {
			currentID = current.ID
		}
		files := r.files.WithTx(tx)

		if !opts.observed(currentID, id) {
			result.Conflict, err = staleConflict(ctx, files, currentID, id)
			return err
		}

		if current == nil {
			if err := tx.Model(&models.Account{}).Where("id = ?", id).Update("is_default", true).Error; err != nil {
				return err
			}
			result.Account, err = getAccount(tx, id)
			return err
		}
		if current.ID == id {
			result.Account = target
			return nil
		}

		conflict, err := Detect(ctx, files, current.ID, id)
		if err != nil {
			return err
		}
		if conflict != nil && !opts.Force {
			result.Conflict = conflict
			return nil
		}

		cleared := tx.Model(&models.Account{}).
			Where("id = ? AND is_default = ?", current.ID, true).
			Update("is_default", false)
		if cleared.Error != nil {
			return cleared.Error
		}
		if cleared.RowsAffected == 0 {
			return errDefaultMoved
		}
		set := tx.Model(&models.Account{}).
			Where("id = ? AND is_active = ?", id, true).
			Update("is_default", true)
		if set.Error != nil {
			return set.Error
		}
		if set.RowsAffected == 0 {
			return apperr.New(apperr.ErrNotFound, "set default", id, "account is inactive")
		}
		result.Account, err = getAccount(tx, id)
		return err
	})

	if errors.Is(err, errDefaultMoved) {
		current, cerr := defaultAccount(r.db.WithContext(ctx))
		if cerr != nil {
			return nil, cerr
		}
		currentID := ""
		if current != nil {
			currentID = current.ID
		}
		conflict, cerr := staleConflict(ctx, r.files, currentID, id)
		if cerr != nil {
			return nil, cerr
		}
		return &SetDefaultResult{Conflict: conflict}, nil
	}
	if err != nil {
		return nil, err
	}
	if result.Account != nil {
		log.Printf("⭐ Default account is now %s", result.Account.Email)
	}
	return &result, nil
}

// Delete removes an account that holds no files and is not the active default.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := getAccount(tx, id)
		if err != nil {
			return err
		}
		if acc.IsDefault && acc.IsActive {
			return apperr.New(apperr.ErrCannotDeactivateDefault, "delete account", id, "set another default first")
		}
		count, err := r.files.WithTx(tx).CountByAccount(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return &apperr.Error{
				Kind:      apperr.ErrAccountHasFiles,
				Op:        "delete account",
				AccountID: id,
				Count:     count,
				Msg:       fmt.Sprintf("%d files still reference this account", count),
			}
		}
		return tx.Delete(&models.Account{}, "id = ?", id).Error
	})
}

func staleConflict(ctx context.Context, files FileCounter, currentID, proposedID string) (*SyncConflict, error) {
	conflict := &SyncConflict{CurrentDefault: currentID, NewDefault: proposedID, Stale: true}
	if currentID == "" {
		return conflict, nil
	}
	count, err := files.CountByAccount(ctx, currentID)
	if err != nil {
		return nil, err
	}
	conflict.FileCount = count
	return conflict, nil
}

func getAccount(db *gorm.DB, id string) (*models.Account, error) {
	var acc models.Account
	err := db.Where("id = ?", id).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.ErrNotFound, "get account", id, "")
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// defaultAccount returns the row carrying the default flag, active or not.
func defaultAccount(db *gorm.DB) (*models.Account, error) {
	var acc models.Account
	err := db.Where("is_default = ?", true).Take(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func validateIdentity(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation("create account", "name is required")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Validation("create account", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Validation("create account", "email "+email+" is malformed")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
