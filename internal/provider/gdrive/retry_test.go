package gdrive

import (
	"net/http"
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		header string
		body   string
		want   time.Duration
	}{
		{name: "seconds header", header: "7", want: 7 * time.Second},
		{name: "date header", header: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{name: "past date", header: now.Add(-time.Minute).Format(http.TimeFormat)},
		{
			name: "retry info body",
			body: `{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"3.5s"}]}}`,
			want: 3500 * time.Millisecond,
		},
		{
			name: "metadata body",
			body: `{"error":{"details":[{"metadata":{"retryDelay":"2s"}}]}}`,
			want: 2 * time.Second,
		},
		{name: "header beats body", header: "1", body: `{"error":{"details":[{"retryDelay":"9s"}]}}`, want: time.Second},
		{name: "no hint", body: `{"error":{"errors":[{"reason":"backendError"}]}}`},
		{name: "garbage", header: "soon", body: "<html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			if got := retryDelay(h, []byte(tt.body), now); got != tt.want {
				t.Fatalf("retryDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}
