package gdrive

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryDelay extracts a server-requested delay from a throttled response.
// The Retry-After header wins; otherwise a Google RetryInfo detail in the
// error body is used. Zero means no hint.
func retryDelay(header http.Header, body []byte, now time.Time) time.Duration {
	if retryAfter := strings.TrimSpace(header.Get("Retry-After")); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
		}
	}

	var info struct {
		Error struct {
			Details []struct {
				RetryDelay string            `json:"retryDelay"`
				Metadata   map[string]string `json:"metadata"`
			} `json:"details"`
		} `json:"error"`
	}
	if len(body) == 0 || json.Unmarshal(body, &info) != nil {
		return 0
	}
	for _, detail := range info.Error.Details {
		delay := detail.RetryDelay
		if delay == "" {
			delay = detail.Metadata["retryDelay"]
		}
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			return d
		}
	}
	return 0
}
