// Package metrics exposes Prometheus collectors for the fetchgate service.
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
	admissionsTotal            *prometheus.CounterVec
	probeErrorsTotal           *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	fetchDurationSeconds       prometheus.Histogram
	artifactBytesTotal         prometheus.Counter
	intakeRateLimitedTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		admissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchgate_admissions_total",
				Help: "Total admission decisions, labeled by outcome tier.",
			},
			[]string{"tier"},
		)

		probeErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchgate_probe_errors_total",
				Help: "Total metadata probe failures, labeled by kind.",
			},
			[]string{"kind"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchgate_jobs_total",
				Help: "Total number of fetch jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchgate_queue_depth",
				Help: "Number of fetch jobs waiting in the queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchgate_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetchgate_fetch_duration_seconds",
				Help:    "Histogram of media fetch durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		artifactBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchgate_artifact_bytes_total",
				Help: "Total bytes of fetched artifacts.",
			},
		)

		intakeRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetchgate_intake_rate_limited_total",
				Help: "Total inbound messages dropped by the per-user throttle.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAdmission counts an admission decision.
func ObserveAdmission(tier string) {
	Init()
	admissionsTotal.WithLabelValues(tier).Inc()
}

// ObserveProbeError counts a failed probe.
func ObserveProbeError(kind string) {
	Init()
	probeErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveJob records a finished job, its duration and artifact size.
func ObserveJob(status string, duration time.Duration, sizeBytes int64) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
	if sizeBytes > 0 {
		artifactBytesTotal.Add(float64(sizeBytes))
	}
}

// IncQueueDepth increments the queue depth gauge.
func IncQueueDepth() {
	Init()
	queueDepth.Inc()
}

// DecQueueDepth decrements the queue depth gauge.
func DecQueueDepth() {
	Init()
	queueDepth.Dec()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimited counts a throttled inbound message.
func ObserveRateLimited() {
	Init()
	intakeRateLimitedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
