// Package ledger records which account holds each uploaded file. It is the
// source of truth for how many files depend on an account.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/db/models"
	"gorm.io/gorm"
)

// Ledger stores File association records.
type Ledger struct {
	db *gorm.DB
}

// New creates a ledger over db.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a ledger bound to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	AccountID string
	Category  string
}

// MetadataPatch holds the editable fields of a file; nil means unchanged.
// Sharing is fixed at upload time and is not editable here.
type MetadataPatch struct {
	DisplayName *string
	Category    *string
}

// Record inserts a File association. The owning account must exist.
func (l *Ledger) Record(ctx context.Context, file *models.File) error {
	if strings.TrimSpace(file.RemoteFileID) == "" {
		return apperr.Validation("record file", "remote file id is required")
	}
	if strings.TrimSpace(file.AccountID) == "" {
		return apperr.Validation("record file", "account id is required")
	}
	if strings.TrimSpace(file.DisplayName) == "" {
		file.DisplayName = file.OriginalName
	}
	if file.ID == "" {
		file.ID = uuid.New().String()
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Account{}).Where("id = ?", file.AccountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperr.New(apperr.ErrNotFound, "record file", file.AccountID, "owning account does not exist")
		}

		var dup int64
		if err := tx.Model(&models.File{}).Where("remote_file_id = ?", file.RemoteFileID).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return apperr.New(apperr.ErrConflict, "record file", file.AccountID,
				fmt.Sprintf("remote file %s is already recorded", file.RemoteFileID))
		}
		return tx.Create(file).Error
	})
}

// CountByAccount returns how many files the account holds.
func (l *Ledger) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.File{}).Where("account_id = ?", accountID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting files for %s: %w", accountID, err)
	}
	return count, nil
}

// Get returns one file by id.
func (l *Ledger) Get(ctx context.Context, id string) (*models.File, error) {
	var file models.File
	err := l.db.WithContext(ctx).First(&file, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.ErrNotFound, "get file", "", "file "+id+" does not exist")
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// List returns files newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]models.File, error) {
	q := l.db.WithContext(ctx).Model(&models.File{})
	if f.AccountID != "" {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	var files []models.File
	if err := q.Order("created_at DESC").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// UpdateMetadata applies patch and returns the updated record.
func (l *Ledger) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) (*models.File, error) {
	updates := map[string]interface{}{}
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			return nil, apperr.Validation("update file", "display name cannot be empty")
		}
		updates["display_name"] = name
	}
	if patch.Category != nil {
		updates["category"] = strings.TrimSpace(*patch.Category)
	}

	if len(updates) > 0 {
		result := l.db.WithContext(ctx).Model(&models.File{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, apperr.New(apperr.ErrNotFound, "update file", "", "file "+id+" does not exist")
		}
	}
	return l.Get(ctx, id)
}

// Delete removes a record. Callers delete the remote object first.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	result := l.db.WithContext(ctx).Where("id = ?", id).Delete(&models.File{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.ErrNotFound, "delete file", "", "file "+id+" does not exist")
	}
	return nil
}
