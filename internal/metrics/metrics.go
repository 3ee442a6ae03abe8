// Package metrics exposes Prometheus collectors for the health crawler.
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
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	cyclesSkippedTotal         prometheus.Counter
	probesTotal                *prometheus.CounterVec
	probeDurationSeconds       *prometheus.HistogramVec
	resultsTotal               *prometheus.CounterVec
	siteFailuresTotal          *prometheus.CounterVec
	prunedResultsTotal         prometheus.Counter
	rateLimitDelaySeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcrawler_cycles_total",
				Help: "Total number of crawl cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "healthcrawler_cycle_duration_seconds",
				Help:    "Histogram of full crawl cycle durations.",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		)

		cyclesSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "healthcrawler_cycles_skipped_total",
				Help: "Scheduler ticks skipped because a cycle was still running.",
			},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcrawler_probes_total",
				Help: "Total number of health probes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		probeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthcrawler_probe_duration_seconds",
				Help:    "Histogram of health probe latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"outcome"},
		)

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcrawler_results_total",
				Help: "Total number of recorded crawl results, labeled by classification.",
			},
			[]string{"classification"},
		)

		siteFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcrawler_site_failures_total",
				Help: "Per-site pipeline failures, labeled by stage.",
			},
			[]string{"stage"},
		)

		prunedResultsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "healthcrawler_pruned_results_total",
				Help: "Total number of crawl results removed by retention.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "healthcrawler_rate_limit_delay_seconds",
				Help:    "Time probes spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
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

// ObserveCycle records a finished crawl cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	Init()
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveSkippedCycle counts a scheduler tick dropped by the single-flight guard.
func ObserveSkippedCycle() {
	Init()
	cyclesSkippedTotal.Inc()
}

// ObserveProbe records one probe attempt.
func ObserveProbe(outcome string, duration time.Duration) {
	Init()
	probesTotal.WithLabelValues(outcome).Inc()
	probeDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveResult counts a recorded result by classification.
func ObserveResult(classification string) {
	Init()
	resultsTotal.WithLabelValues(classification).Inc()
}

// ObserveSiteFailure counts a per-site failure at the given pipeline stage.
func ObserveSiteFailure(stage string) {
	Init()
	siteFailuresTotal.WithLabelValues(stage).Inc()
}

// ObservePruned adds n to the pruned result counter.
func ObservePruned(n int) {
	Init()
	if n > 0 {
		prunedResultsTotal.Add(float64(n))
	}
}

// ObserveRateLimitDelay records how long a probe waited for its host's token.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
