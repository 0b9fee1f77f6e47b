package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pysugar/filedesk/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledIsNoop(t *testing.T) {
	rec := New(false)
	_, ok := rec.(Noop)
	assert.True(t, ok)

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordersCount(t *testing.T) {
	m := newMetrics()
	m.RecordRefresh(ResultSuccess)
	m.RecordRefresh(ResultSuccess)
	m.RecordRefresh(ResultAuth)
	m.RecordUpload(ResultQuota, time.Second)
	m.RecordDefaultSwitch(SwitchConflict)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues(ResultAuth)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues(ResultQuota)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DefaultSwitchTotal.WithLabelValues(SwitchConflict)))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := newMetrics()
	m.RecordUpload(ResultSuccess, 2*time.Second)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), `filedesk_uploads_total{result="success"} 1`)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := newMetrics()
	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/api/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/accounts/"+id, nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/accounts/{id}", "4xx"))
	assert.Equal(t, 3.0, got)
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultSuccess},
		{apperr.New(apperr.ErrTransient, "upload", "a", ""), ResultTransient},
		{fmt.Errorf("wrapped: %w", apperr.New(apperr.ErrQuota, "upload", "a", "")), ResultQuota},
		{apperr.New(apperr.ErrPermissionDenied, "upload", "a", ""), ResultDenied},
		{apperr.New(apperr.ErrCredentialUnavailable, "get", "a", ""), ResultAuth},
		{apperr.New(apperr.ErrNoUsableAccount, "upload", "", ""), ResultNoAccount},
		{errors.New("boom"), ResultError},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = strings.ReplaceAll(tt.err.Error(), " ", "_")
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultOf(tt.err))
		})
	}
}
