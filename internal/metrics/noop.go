package metrics

import (
	"net/http"
	"time"
)

// Noop discards everything. Its handler answers 404.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) RecordRefresh(string)                                 {}
func (Noop) RecordUpload(string, time.Duration)                   {}
func (Noop) RecordDefaultSwitch(string)                           {}
func (Noop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Noop) Handler() http.Handler                                { return http.NotFoundHandler() }
