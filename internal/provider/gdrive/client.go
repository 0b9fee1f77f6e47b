// Package gdrive talks to the Google Drive v3 REST API: OAuth token refresh
// and code exchange through x/oauth2, multipart uploads, public sharing and
// deletion.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/provider"
	"github.com/pysugar/filedesk/internal/util"
	"golang.org/x/oauth2"
)

const fileFields = "id,name,size,webViewLink,webContentLink"

// DefaultResponseTimeout bounds the wait for response headers once a request
// has been written. Uploads stream their body before the timer starts.
const DefaultResponseTimeout = time.Minute

// Config holds OAuth client settings and API endpoints.
type Config struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	APIBaseURL    string
	UploadBaseURL string
	UserInfoURL   string
	RedirectURL   string
	Scopes        []string

	// ResponseTimeout applies when HTTPClient is nil. Zero means
	// DefaultResponseTimeout.
	ResponseTimeout time.Duration
	HTTPClient      *http.Client
}

// Client implements provider.Provider and provider.Authorizer.
type Client struct {
	oauth       oauth2.Config
	apiBase     string
	uploadBase  string
	userInfoURL string
	httpClient  *http.Client
	now         func() time.Time
}

var (
	_ provider.Provider   = (*Client)(nil)
	_ provider.Authorizer = (*Client)(nil)
)

// New creates a Drive client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = newHTTPClient(cfg.ResponseTimeout)
	}
	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase:     strings.TrimRight(cfg.APIBaseURL, "/"),
		uploadBase:  strings.TrimRight(cfg.UploadBaseURL, "/"),
		userInfoURL: cfg.UserInfoURL,
		httpClient:  hc,
		now:         time.Now,
	}
}

func newHTTPClient(responseTimeout time.Duration) *http.Client {
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = responseTimeout
	return &http.Client{Transport: transport}
}

// AuthCodeURL returns the consent page URL. Offline access with forced
// approval makes Google issue a refresh token every time.
func (c *Client) AuthCodeURL(state, redirectURL string) string {
	cfg := c.config(redirectURL)
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, redirectURL string) (*provider.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.Validation("exchange code", "authorization code is missing")
	}
	cfg := c.config(redirectURL)
	tok, err := cfg.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && !isServerSide(re) {
			return nil, apperr.Wrap(apperr.ErrAuth, "exchange code", "", err)
		}
		return nil, apperr.Wrap(apperr.ErrTransient, "exchange code", "", err)
	}
	if tok.RefreshToken == "" {
		log.Printf("⚠️ Code exchange returned no refresh token; the account cannot be renewed")
	}
	return c.convert(tok, ""), nil
}

// Refresh renews an access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	if refreshToken == "" {
		return nil, apperr.New(apperr.ErrAuth, "refresh", "", "no refresh token stored")
	}
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyRefreshError(ctx, err)
	}
	return c.convert(tok, refreshToken), nil
}

// UserInfo fetches the authorizing user's profile.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*provider.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	var info struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := c.do(req, accessToken, "user info", &info); err != nil {
		return nil, err
	}
	if info.Email == "" {
		return nil, apperr.New(apperr.ErrAuth, "user info", "", "profile has no email; check the userinfo.email scope")
	}
	return &provider.Profile{Email: info.Email, Name: info.Name, Picture: info.Picture}, nil
}

type driveFile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Size           int64  `json:"size,string"`
	WebViewLink    string `json:"webViewLink"`
	WebContentLink string `json:"webContentLink"`
}

// Upload creates the object with a multipart request and, for public files,
// grants anyone-with-link read access. If sharing fails the object is removed
// so no unrecorded remote file is left behind.
func (c *Client) Upload(ctx context.Context, accessToken string, req provider.UploadRequest) (*provider.RemoteFile, error) {
	if req.Content == nil {
		return nil, apperr.Validation("upload", "content is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation("upload", "file name is required")
	}

	meta := map[string]string{"name": req.Name}
	if req.ContentType != "" {
		meta["mimeType"] = req.ContentType
	}
	if req.Description != "" {
		meta["description"] = req.Description
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, metaJSON, req))
	}()

	endpoint := c.uploadBase + "/files?uploadType=multipart&fields=" + url.QueryEscape(fileFields)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var created driveFile
	if err := c.do(httpReq, accessToken, "upload", &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, apperr.New(apperr.ErrTransient, "upload", "", "provider response carried no file id")
	}

	if req.Public {
		if err := c.share(ctx, accessToken, created.ID); err != nil {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if derr := c.Delete(cleanupCtx, accessToken, created.ID); derr != nil {
				log.Printf("⚠️ Failed to remove unshared upload %s: %v", created.ID, derr)
			}
			return nil, err
		}
	}

	size := created.Size
	if size == 0 {
		size = req.Size
	}
	download := created.WebContentLink
	if download == "" {
		download = "https://drive.google.com/uc?id=" + url.QueryEscape(created.ID) + "&export=download"
	}
	return &provider.RemoteFile{
		ID:           created.ID,
		ViewLink:     created.WebViewLink,
		DownloadLink: download,
		Size:         size,
	}, nil
}

// Delete removes a remote object. A missing object is reported as NotFound.
func (c *Client) Delete(ctx context.Context, accessToken, remoteID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.apiBase+"/files/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return err
	}
	return c.do(req, accessToken, "delete", nil)
}

func (c *Client) share(ctx context.Context, accessToken, fileID string) error {
	body := bytes.NewReader([]byte(`{"role":"reader","type":"anyone"}`))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/files/"+url.PathEscape(fileID)+"/permissions?fields=id", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, accessToken, "share", nil)
}

func writeMultipart(mw *multipart.Writer, meta []byte, req provider.UploadRequest) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(meta); err != nil {
		return err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header = textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	part, err = mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return err
	}
	return mw.Close()
}

// do sends req with a bearer token and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, accessToken, op string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(req.Context().Err(), context.Canceled) {
			return fmt.Errorf("%s: %w", op, req.Context().Err())
		}
		return apperr.Wrap(apperr.ErrTransient, op, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.ErrTransient, op, "", fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	reason := errorReason(body)
	msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if reason != "" {
		msg += " (" + reason + ")"
	}
	msg += ": " + util.TruncateBytes(body)
	kind := classifyStatus(resp.StatusCode, reason)
	e := apperr.New(kind, op, "", msg)
	if errors.Is(kind, apperr.ErrTransient) {
		e.RetryAfter = retryDelay(resp.Header, body, c.now())
	}
	return e
}

func (c *Client) config(redirectURL string) *oauth2.Config {
	cfg := c.oauth
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return &cfg
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) convert(tok *oauth2.Token, previousRefresh string) *provider.Token {
	expires := tok.Expiry
	if expires.IsZero() {
		expires = c.now().Add(time.Hour)
	}
	out := &provider.Token{AccessToken: tok.AccessToken, ExpiresAt: expires}
	if tok.RefreshToken != previousRefresh {
		out.RefreshToken = tok.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scopes = strings.Fields(scope)
	}
	return out
}

// classifyStatus maps an HTTP status and Drive error reason to an apperr kind.
func classifyStatus(code int, reason string) error {
	switch {
	case code == http.StatusUnauthorized:
		return apperr.ErrAuth
	case code == http.StatusForbidden:
		switch reason {
		case "storageQuotaExceeded", "quotaExceeded", "teamDriveFileLimitExceeded":
			return apperr.ErrQuota
		case "rateLimitExceeded", "userRateLimitExceeded", "sharingRateLimitExceeded":
			return apperr.ErrTransient
		default:
			return apperr.ErrPermissionDenied
		}
	case code == http.StatusNotFound:
		return apperr.ErrNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return apperr.ErrTransient
	case code == http.StatusBadRequest:
		return apperr.ErrValidation
	default:
		return apperr.ErrPermissionDenied
	}
}

func errorReason(body []byte) string {
	var payload struct {
		Error struct {
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Error.Errors) == 0 {
		return ""
	}
	return payload.Error.Errors[0].Reason
}

func classifyRefreshError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("refresh: %w", ctx.Err())
	}
	if isPermanentRefreshError(err) {
		return apperr.Wrap(apperr.ErrAuth, "refresh", "", err)
	}
	return apperr.Wrap(apperr.ErrTransient, "refresh", "", err)
}

func isServerSide(re *oauth2.RetrieveError) bool {
	return re.Response != nil && (re.Response.StatusCode >= 500 || re.Response.StatusCode == http.StatusTooManyRequests)
}

// isPermanentRefreshError reports whether renewal can never succeed without
// the user authorizing again.
func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
