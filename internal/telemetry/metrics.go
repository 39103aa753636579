// Package telemetry exposes Prometheus collectors for the pricing engine.
package telemetry

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
	fetchesTotal          *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	jobsTotal             *prometheus.CounterVec
	queueDepth            prometheus.Gauge
	activeWorkers         prometheus.Gauge
	rateLimitDelaySeconds *prometheus.HistogramVec
	storeCooldownsTotal   *prometheus.CounterVec
	recordsPurgedTotal    prometheus.Counter
	cacheRefreshSeconds   prometheus.Histogram
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_fetches_total",
				Help: "Total price fetches, labeled by store and result.",
			},
			[]string{"store", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies per store.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"store"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_jobs_total",
				Help: "Total jobs reaching each status.",
			},
			[]string{"status"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_queue_depth",
				Help: "Jobs currently queued or leased.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_active_workers",
				Help: "Workers currently executing a fetch.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_rate_limit_delay_seconds",
				Help:    "Histogram of per-store rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"store"},
		)

		storeCooldownsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_store_cooldowns_total",
				Help: "Store-wide cooldowns triggered by blocked fetches.",
			},
			[]string{"store"},
		)

		recordsPurgedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricewatch_records_purged_total",
				Help: "Price records removed by retention cleanup.",
			},
		)

		cacheRefreshSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricewatch_cache_refresh_duration_seconds",
				Help:    "Histogram of best-price cache refresh durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestSeconds = promauto.NewHistogramVec(
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

// ObserveFetch records the outcome and duration of one fetch attempt.
func ObserveFetch(store, result string, duration time.Duration) {
	fetchesTotal.WithLabelValues(store, result).Inc()
	fetchDurationSeconds.WithLabelValues(store).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth records the current queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(store string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(store).Observe(duration.Seconds())
}

// ObserveCooldown counts a store-wide cooldown.
func ObserveCooldown(store string) {
	storeCooldownsTotal.WithLabelValues(store).Inc()
}

// ObservePurge counts records removed by retention cleanup.
func ObservePurge(n int64) {
	if n > 0 {
		recordsPurgedTotal.Add(float64(n))
	}
}

// ObserveCacheRefresh records the duration of a cache refresh pass.
func ObserveCacheRefresh(duration time.Duration) {
	cacheRefreshSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
