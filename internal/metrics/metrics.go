// Package metrics is the job's backend-neutral instrumentation facade.
//
// Pipeline code records through the package-level helpers; the CLI installs a
// concrete Backend (Datadog) with SetBackend. Until then every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names understood by backends.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"

	HTTPRequestsTotal           = "etl_http_requests_total"
	HTTPErrorsTotal             = "etl_http_errors_total"
	HTTPRequestDurationSeconds  = "etl_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "etl_http_response_duration_seconds"
	HTTPDownloadBytes           = "etl_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op
// backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks the installed backend to submit buffered data.
func Flush() error { return current().Flush() }

// RecordStep counts one pipeline stage and observes its duration.
// status is "ok" when err is nil, "error" otherwise.
func RecordStep(job, step string, err error, d time.Duration) {
	l := Labels{"job": job, "step": step, "status": statusOf(err)}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords adds n to the record counter of the given kind
// ("parsed", "skipped", "invalid_dates", "inserted").
func RecordRecords(job, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordHTTP records one HTTP attempt. status is 0 when no response was
// received; bytes < 0 skips the download size sample.
func RecordHTTP(job string, status int, err error, reqDur, respDur time.Duration, bytes int64) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	l := Labels{"job": job, "status": code}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status < 200 || status >= 300 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDurationSeconds, reqDur.Seconds(), l)
	if status > 0 {
		b.ObserveHistogram(HTTPResponseDurationSeconds, respDur.Seconds(), l)
	}
	if bytes >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
