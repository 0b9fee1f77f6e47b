package models

import "time"

// File associates an uploaded remote object with the account holding it.
type File struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	RemoteFileID string    `gorm:"uniqueIndex;not null" json:"remote_file_id"`
	AccountID    string    `gorm:"index;not null" json:"account_id"`
	DisplayName  string    `gorm:"not null" json:"display_name"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	IsPublic     bool      `gorm:"not null" json:"is_public"`
	Category     string    `gorm:"index" json:"category"`
	ViewLink     string    `json:"view_link"`
	DownloadLink string    `json:"download_link"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
