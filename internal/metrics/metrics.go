// Package metrics is the process-wide metrics facade. Code records through the
// package-level helpers; a concrete Backend (e.g. metrics/datadog) is installed
// once at startup. Until then everything is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names. Backends translate them into their own naming scheme.
const (
	StepTotal           = "datagrid_step_total"
	StepDurationSeconds = "datagrid_step_duration_seconds"
	RowsTotal           = "datagrid_rows_total"

	HTTPRequestsTotal          = "datagrid_http_requests_total"
	HTTPErrorsTotal            = "datagrid_http_errors_total"
	HTTPRequestDurationSeconds = "datagrid_http_request_duration_seconds"
	HTTPDownloadBytes          = "datagrid_http_download_bytes"

	APIRequestsTotal          = "datagrid_api_requests_total"
	APIRequestDurationSeconds = "datagrid_api_request_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records a sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordStep records one pipeline step outcome and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordHTTP records one outbound HTTP request. status 0 means no response.
func RecordHTTP(status int, d time.Duration, bytes int64) {
	s := "error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	l := Labels{"status": s}
	IncCounter(HTTPRequestsTotal, 1, l)
	if status == 0 || status >= 400 {
		IncCounter(HTTPErrorsTotal, 1, l)
	}
	ObserveHistogram(HTTPRequestDurationSeconds, d.Seconds(), l)
	if bytes >= 0 {
		ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
