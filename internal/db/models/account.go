package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Account is a linked storage-provider identity. Token columns hold
// ciphertext written by the credential store, never plaintext.
type Account struct {
	ID                string `gorm:"primaryKey"` // UUID
	Name              string `gorm:"not null"`
	Email             string `gorm:"uniqueIndex;not null"`
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	IsActive          bool `gorm:"not null"`
	IsDefault         bool `gorm:"not null;index:idx_accounts_single_default,unique,where:is_default = true"`
	Scopes            string // JSON array of granted scopes
	ProfileImage      string
	DeactivatedReason string
	LastRefreshedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasCredential reports whether tokens have ever been stored for the account.
func (a *Account) HasCredential() bool {
	return a.AccessToken != "" || a.RefreshToken != ""
}

// ScopeList decodes the stored scope set.
func (a *Account) ScopeList() []string {
	if a.Scopes == "" {
		return nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(a.Scopes), &scopes); err != nil {
		return nil
	}
	return scopes
}

// SetScopes stores scopes as a sorted, de-duplicated JSON array.
func (a *Account) SetScopes(scopes []string) {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	list := make([]string, 0, len(set))
	for s := range set {
		list = append(list, s)
	}
	sort.Strings(list)
	data, _ := json.Marshal(list)
	a.Scopes = string(data)
}
