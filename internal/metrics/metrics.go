// Package metrics exposes Prometheus collectors for the check engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal           *prometheus.CounterVec
	checkAttemptsTotal    *prometheus.CounterVec
	checkRetriesTotal     *prometheus.CounterVec
	inflightAttempts      prometheus.Gauge
	queueDepth            prometheus.Gauge
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	rateLimitDelaySeconds *prometheus.HistogramVec
	downloadBytesTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verwatch_checks_total",
				Help: "Terminal check outcomes, labeled by source kind and outcome.",
			},
			[]string{"source", "outcome"},
		)
		checkAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verwatch_check_attempts_total",
				Help: "Individual checker invocations, labeled by source kind.",
			},
			[]string{"source"},
		)
		checkRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verwatch_check_retries_total",
				Help: "Scheduled retries, labeled by classified error kind.",
			},
			[]string{"kind"},
		)
		inflightAttempts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verwatch_inflight_attempts",
				Help: "Checker attempts currently holding a concurrency slot.",
			},
		)
		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "verwatch_queue_depth",
				Help: "Tasks waiting for a concurrency slot.",
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verwatch_http_requests_total",
				Help: "Outbound HTTP requests, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verwatch_http_request_duration_seconds",
				Help:    "Outbound HTTP request latency, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verwatch_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"host"},
		)
		downloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verwatch_download_bytes_total",
				Help: "Bytes streamed by artifact downloads, labeled by host.",
			},
			[]string{"host"},
		)
	})
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCheck records a terminal task outcome.
func ObserveCheck(source, outcome string) {
	Init()
	checksTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveAttempt records one checker invocation.
func ObserveAttempt(source string) {
	Init()
	checkAttemptsTotal.WithLabelValues(source).Inc()
}

// ObserveRetry records a scheduled retry for the classified kind.
func ObserveRetry(kind string) {
	Init()
	checkRetriesTotal.WithLabelValues(kind).Inc()
}

// IncInflight increments the held-slot gauge.
func IncInflight() {
	Init()
	inflightAttempts.Inc()
}

// DecInflight decrements the held-slot gauge.
func DecInflight() {
	Init()
	inflightAttempts.Dec()
}

// SetQueueDepth reports the number of queued tasks.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveHTTPRequest records an outbound request completion.
func ObserveHTTPRequest(host string, code int, dur time.Duration) {
	Init()
	if host == "" {
		host = "unknown"
	}
	httpRequestsTotal.WithLabelValues(host, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(host).Observe(dur.Seconds())
}

// ObserveRateLimitDelay records limiter wait time for a host.
func ObserveRateLimitDelay(host string, dur time.Duration) {
	Init()
	if host == "" {
		host = "unknown"
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(dur.Seconds())
}

// ObserveDownloadBytes accumulates streamed artifact bytes.
func ObserveDownloadBytes(host string, n int64) {
	Init()
	if n <= 0 {
		return
	}
	if host == "" {
		host = "unknown"
	}
	downloadBytesTotal.WithLabelValues(host).Add(float64(n))
}
