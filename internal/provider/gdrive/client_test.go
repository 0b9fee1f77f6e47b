package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/pysugar/filedesk/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrive struct {
	mu          sync.Mutex
	tokenStatus int
	tokenBody   string
	uploadCalls int
	uploadMeta  map[string]string
	uploadBody  string
	uploadAuth  string
	uploadFail  func(w http.ResponseWriter) bool
	shareStatus int
	shared      []string
	deleted     []string
	deleteCode  int
}

func (f *fakeDrive) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		status := f.tokenStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		io.WriteString(w, f.tokenBody)
	})
	mux.HandleFunc("/upload/files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.uploadCalls++
		f.uploadAuth = r.Header.Get("Authorization")
		if f.uploadFail != nil && f.uploadFail(w) {
			return
		}
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/related" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		metaPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, "no metadata", http.StatusBadRequest)
			return
		}
		f.uploadMeta = map[string]string{}
		_ = json.NewDecoder(metaPart).Decode(&f.uploadMeta)
		mediaPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, "no media", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(mediaPart)
		f.uploadBody = string(data)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":          "remote-1",
			"name":        f.uploadMeta["name"],
			"size":        "11",
			"webViewLink": "https://drive.example/view/remote-1",
		})
	})
	mux.HandleFunc("/api/files/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/permissions"):
			f.shared = append(f.shared, strings.TrimSuffix(rest, "/permissions"))
			if f.shareStatus != 0 {
				w.WriteHeader(f.shareStatus)
				io.WriteString(w, `{"error":{"errors":[{"reason":"insufficientFilePermissions"}]}}`)
				return
			}
			io.WriteString(w, `{"id":"perm"}`)
		case r.Method == http.MethodDelete:
			f.deleted = append(f.deleted, rest)
			if f.deleteCode != 0 {
				w.WriteHeader(f.deleteCode)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"email":"owner@example.com","name":"Owner","picture":"https://img/p.png"}`)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeDrive) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return New(Config{
		ClientID:      "client",
		ClientSecret:  "secret",
		AuthURL:       srv.URL + "/auth",
		TokenURL:      srv.URL + "/token",
		APIBaseURL:    srv.URL + "/api",
		UploadBaseURL: srv.URL + "/upload",
		UserInfoURL:   srv.URL + "/userinfo",
		RedirectURL:   "http://localhost/auth/provider/callback",
		Scopes:        []string{"drive.file"},
		HTTPClient:    srv.Client(),
	})
}

func TestRefresh(t *testing.T) {
	f := &fakeDrive{tokenBody: `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`}
	c := newTestClient(t, f)

	tok, err := c.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken, "unrotated refresh token is not reported")
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)
}

func TestRefreshRotation(t *testing.T) {
	f := &fakeDrive{tokenBody: `{"access_token":"a","refresh_token":"refresh-2","token_type":"Bearer","expires_in":60}`}
	c := newTestClient(t, f)

	tok, err := c.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", tok.RefreshToken)
}

func TestRefreshClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`, apperr.ErrAuth},
		{"invalid client", http.StatusUnauthorized, `{"error":"invalid_client"}`, apperr.ErrAuth},
		{"server error", http.StatusServiceUnavailable, `{"error":"backend_error"}`, apperr.ErrTransient},
		{"temporarily unavailable", http.StatusBadRequest, `{"error":"temporarily_unavailable"}`, apperr.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeDrive{tokenStatus: tt.status, tokenBody: tt.body})
			_, err := c.Refresh(context.Background(), "refresh-1")
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestRefreshWithoutToken(t *testing.T) {
	c := newTestClient(t, &fakeDrive{})
	_, err := c.Refresh(context.Background(), "")
	assert.True(t, errors.Is(err, apperr.ErrAuth))
}

func TestUploadPublic(t *testing.T) {
	f := &fakeDrive{}
	c := newTestClient(t, f)

	remote, err := c.Upload(context.Background(), "access", provider.UploadRequest{
		Name:        "catalog.pdf",
		ContentType: "application/pdf",
		Size:        11,
		Public:      true,
		Content:     strings.NewReader("hello drive"),
	})
	require.NoError(t, err)

	assert.Equal(t, "remote-1", remote.ID)
	assert.Equal(t, "https://drive.example/view/remote-1", remote.ViewLink)
	assert.Equal(t, "https://drive.google.com/uc?id=remote-1&export=download", remote.DownloadLink)
	assert.EqualValues(t, 11, remote.Size)
	assert.Equal(t, "Bearer access", f.uploadAuth)
	assert.Equal(t, "catalog.pdf", f.uploadMeta["name"])
	assert.Equal(t, "application/pdf", f.uploadMeta["mimeType"])
	assert.Equal(t, "hello drive", f.uploadBody)
	assert.Equal(t, []string{"remote-1"}, f.shared)
}

func TestUploadShareFailureRemovesObject(t *testing.T) {
	f := &fakeDrive{shareStatus: http.StatusForbidden}
	c := newTestClient(t, f)

	_, err := c.Upload(context.Background(), "access", provider.UploadRequest{
		Name: "a.txt", Public: true, Content: strings.NewReader("x"),
	})
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied), "got %v", err)
	assert.Equal(t, []string{"remote-1"}, f.deleted)
}

func TestUploadClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reason string
		kind   error
	}{
		{"quota", http.StatusForbidden, "storageQuotaExceeded", apperr.ErrQuota},
		{"rate limited", http.StatusForbidden, "userRateLimitExceeded", apperr.ErrTransient},
		{"forbidden", http.StatusForbidden, "insufficientFilePermissions", apperr.ErrPermissionDenied},
		{"unauthorized", http.StatusUnauthorized, "authError", apperr.ErrAuth},
		{"too many requests", http.StatusTooManyRequests, "", apperr.ErrTransient},
		{"unavailable", http.StatusServiceUnavailable, "backendError", apperr.ErrTransient},
		{"bad request", http.StatusBadRequest, "invalid", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDrive{uploadFail: func(w http.ResponseWriter) bool {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{"errors": []map[string]string{{"reason": tt.reason}}},
				})
				return true
			}}
			c := newTestClient(t, f)
			_, err := c.Upload(context.Background(), "access", provider.UploadRequest{
				Name: "a.txt", Content: strings.NewReader("x"),
			})
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestUploadCarriesRetryAfter(t *testing.T) {
	f := &fakeDrive{uploadFail: func(w http.ResponseWriter) bool {
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
		return true
	}}
	c := newTestClient(t, f)
	_, err := c.Upload(context.Background(), "access", provider.UploadRequest{
		Name: "a.txt", Content: strings.NewReader("x"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransient))
	assert.Equal(t, 4*time.Second, apperr.RetryAfterOf(err))
}

func TestUploadValidation(t *testing.T) {
	c := newTestClient(t, &fakeDrive{})
	_, err := c.Upload(context.Background(), "access", provider.UploadRequest{Name: "a"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = c.Upload(context.Background(), "access", provider.UploadRequest{Content: strings.NewReader("x")})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestDelete(t *testing.T) {
	f := &fakeDrive{}
	c := newTestClient(t, f)
	require.NoError(t, c.Delete(context.Background(), "access", "remote-9"))
	assert.Equal(t, []string{"remote-9"}, f.deleted)

	f.deleteCode = http.StatusNotFound
	err := c.Delete(context.Background(), "access", "gone")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
}

func TestUserInfo(t *testing.T) {
	c := newTestClient(t, &fakeDrive{})
	profile, err := c.UserInfo(context.Background(), "access")
	require.NoError(t, err)
	assert.Equal(t, &provider.Profile{Email: "owner@example.com", Name: "Owner", Picture: "https://img/p.png"}, profile)

	_, err = c.UserInfo(context.Background(), "wrong")
	assert.True(t, errors.Is(err, apperr.ErrAuth))
}

func TestExchange(t *testing.T) {
	f := &fakeDrive{tokenBody: `{"access_token":"access","refresh_token":"refresh","token_type":"Bearer","expires_in":3599,"scope":"drive.file email"}`}
	c := newTestClient(t, f)

	tok, err := c.Exchange(context.Background(), "code-1", "")
	require.NoError(t, err)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, []string{"drive.file", "email"}, tok.Scopes)

	f.tokenStatus = http.StatusBadRequest
	f.tokenBody = `{"error":"invalid_grant"}`
	_, err = c.Exchange(context.Background(), "used-code", "")
	assert.True(t, errors.Is(err, apperr.ErrAuth), "got %v", err)
}

func TestExchangeStalledTokenServer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(Config{
		ClientID:        "client",
		TokenURL:        srv.URL + "/token",
		ResponseTimeout: 50 * time.Millisecond,
	})
	start := time.Now()
	_, err := c.Exchange(context.Background(), "code-1", "http://localhost/cb")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransient), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAuthCodeURL(t *testing.T) {
	c := newTestClient(t, &fakeDrive{})
	raw := c.AuthCodeURL("state-123", "https://desk.example/auth/provider/callback")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "https://desk.example/auth/provider/callback", q.Get("redirect_uri"))
}

func TestIsPermanentRefreshError(t *testing.T) {
	tests := []struct {
		name      string
		errText   string
		permanent bool
	}{
		{name: "invalid grant", errText: "oauth2: cannot fetch token: 400 Bad Request {\"error\":\"invalid_grant\"}", permanent: true},
		{name: "revoked", errText: "token has been expired or revoked", permanent: true},
		{name: "timeout", errText: "context deadline exceeded", permanent: false},
		{name: "temporary", errText: "temporarily_unavailable", permanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPermanentRefreshError(errors.New(tt.errText)); got != tt.permanent {
				t.Fatalf("expected %v, got %v", tt.permanent, got)
			}
		})
	}
}
