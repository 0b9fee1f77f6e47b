package models

import "time"

// Setting is a key/value row for service-owned values such as the admin API key.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
