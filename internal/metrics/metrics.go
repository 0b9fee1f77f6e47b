// Package metrics exposes Prometheus counters for credential refreshes,
// uploads and default switches.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pysugar/filedesk/internal/apperr"
)

// Result labels.
const (
	ResultSuccess   = "success"
	ResultAuth      = "auth"
	ResultQuota     = "quota"
	ResultDenied    = "permission_denied"
	ResultTransient = "transient"
	ResultNoAccount = "no_account"
	ResultConflict  = "conflict"
	ResultError     = "error"
)

// Default switch outcomes.
const (
	SwitchCommitted = "committed"
	SwitchForced    = "forced"
	SwitchConflict  = "conflict"
	SwitchStale     = "stale"
	SwitchFailed    = "failed"
)

// Recorder is implemented by Metrics and Noop.
type Recorder interface {
	RecordRefresh(result string)
	RecordUpload(result string, duration time.Duration)
	RecordDefaultSwitch(outcome string)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
	Handler() http.Handler
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RefreshTotal        *prometheus.CounterVec
	UploadsTotal        *prometheus.CounterVec
	UploadDuration      *prometheus.HistogramVec
	DefaultSwitchTotal  *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New returns Prometheus-backed metrics when enabled, otherwise a Noop.
func New(enabled bool) Recorder {
	if !enabled {
		return Noop{}
	}
	return newMetrics()
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filedesk_token_refresh_total",
			Help: "Credential refresh attempts by result.",
		}, []string{"result"}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filedesk_uploads_total",
			Help: "Upload requests by result.",
		}, []string{"result"}),
		UploadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filedesk_upload_duration_seconds",
			Help:    "Upload latency including retries.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"result"}),
		DefaultSwitchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filedesk_default_switch_total",
			Help: "Default account change requests by outcome.",
		}, []string{"outcome"}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "filedesk_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filedesk_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) RecordRefresh(result string) {
	m.RefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordUpload(result string, duration time.Duration) {
	m.UploadsTotal.WithLabelValues(result).Inc()
	m.UploadDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *Metrics) RecordDefaultSwitch(outcome string) {
	m.DefaultSwitchTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ResultOf maps an operation error to a result label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, apperr.ErrTransient):
		return ResultTransient
	case errors.Is(err, apperr.ErrQuota):
		return ResultQuota
	case errors.Is(err, apperr.ErrPermissionDenied):
		return ResultDenied
	case errors.Is(err, apperr.ErrAuth), errors.Is(err, apperr.ErrCredentialUnavailable):
		return ResultAuth
	case errors.Is(err, apperr.ErrNoUsableAccount):
		return ResultNoAccount
	case errors.Is(err, apperr.ErrConflict):
		return ResultConflict
	default:
		return ResultError
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
