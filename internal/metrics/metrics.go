// Package metrics exposes Prometheus collectors for snapshot runs and the host.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Navigation attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RunPersistError labels a run whose record could not be written.
const RunPersistError = "persist_error"

var (
	snapshotRunsTotal               *prometheus.CounterVec
	snapshotRunDurationSeconds      prometheus.Histogram
	snapshotNavigationAttemptsTotal *prometheus.CounterVec
	snapshotBlockedRequestsTotal    *prometheus.CounterVec
	snapshotLastRunTimestamp        *prometheus.GaugeVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		snapshotRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_runs_total",
				Help: "Total number of snapshot runs, labeled by site and final status.",
			},
			[]string{"site", "status"},
		)

		snapshotRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "snapshot_run_duration_seconds",
				Help:    "Wall time of a snapshot run from launch to persisted record.",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
			},
		)

		snapshotNavigationAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_navigation_attempts_total",
				Help: "Total number of navigation attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		snapshotBlockedRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_blocked_requests_total",
				Help: "Sub-resource requests aborted by interception, labeled by resource type.",
			},
			[]string{"resource_type"},
		)

		snapshotLastRunTimestamp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "snapshot_last_run_timestamp_seconds",
				Help: "Unix time of the last finished run, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRun records a finished run against the target site.
func ObserveRun(site string, status string, duration time.Duration) {
	Init()
	snapshotRunsTotal.WithLabelValues(SanitizeSite(site), status).Inc()
	snapshotRunDurationSeconds.Observe(duration.Seconds())
	snapshotLastRunTimestamp.WithLabelValues(status).SetToCurrentTime()
}

// ObserveNavigationAttempt counts one navigation attempt.
func ObserveNavigationAttempt(outcome string) {
	Init()
	snapshotNavigationAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBlockedRequest counts an aborted sub-resource request.
func ObserveBlockedRequest(resourceType string) {
	Init()
	snapshotBlockedRequestsTotal.WithLabelValues(strings.ToLower(resourceType)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
