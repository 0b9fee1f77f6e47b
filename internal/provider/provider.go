// Package provider defines what the core needs from a remote storage service.
// Implementations classify failures with apperr kinds so callers can decide
// whether to retry, demote the account or report quota.
package provider

import (
	"context"
	"io"
	"time"
)

// Token is a credential returned by a refresh or code exchange. RefreshToken
// is empty when the provider did not rotate it.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// UploadRequest describes one object to create. Content is read from its
// current offset; callers rewind it before each attempt.
type UploadRequest struct {
	Name        string
	ContentType string
	Size        int64
	Description string
	Public      bool
	Content     io.Reader
}

// RemoteFile is the provider's confirmation of a stored object.
type RemoteFile struct {
	ID           string
	ViewLink     string
	DownloadLink string
	Size         int64
}

// Profile identifies the user who authorized an account.
type Profile struct {
	Email   string
	Name    string
	Picture string
}

// Provider is the storage collaborator used by refresh and upload.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Upload(ctx context.Context, accessToken string, req UploadRequest) (*RemoteFile, error)
	Delete(ctx context.Context, accessToken, remoteID string) error
}

// Authorizer runs the interactive authorization flow. An empty redirectURL
// means the configured one.
type Authorizer interface {
	AuthCodeURL(state, redirectURL string) string
	Exchange(ctx context.Context, code, redirectURL string) (*Token, error)
	UserInfo(ctx context.Context, accessToken string) (*Profile, error)
}
