// Package metrics exposes Prometheus collectors for the fulltext service.
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

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	slotsActive                prometheus.Gauge
	slotsQueued                prometheus.Gauge
	slotWaitSeconds            prometheus.Histogram
	slotTimeoutsTotal          prometheus.Counter
	sourceFetchesTotal         *prometheus.CounterVec
	sourceFetchSeconds         *prometheus.HistogramVec
	cacheOpsTotal              *prometheus.CounterVec
	raceDurationSeconds        *prometheus.HistogramVec
	raceFallthroughTotal       prometheus.Counter
	enhancementsTotal          *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)

		slotsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fulltext_fetch_slots_active",
			Help: "Fetch slots currently held.",
		})

		slotsQueued = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fulltext_fetch_slots_queued",
			Help: "Callers waiting for a fetch slot.",
		})

		slotWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fulltext_fetch_slot_wait_seconds",
			Help:    "Time spent waiting for a fetch slot.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		})

		slotTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fulltext_fetch_slot_timeouts_total",
			Help: "Fetch slot acquisitions that timed out.",
		})

		sourceFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulltext_source_fetches_total",
				Help: "Source fetches, labeled by source, site and bypass outcome.",
			},
			[]string{"source", "site", "outcome"},
		)

		sourceFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulltext_source_fetch_seconds",
				Help:    "Upstream fetch latency by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
			},
			[]string{"source"},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulltext_cache_operations_total",
				Help: "Cache operations, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		raceDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulltext_race_duration_seconds",
				Help:    "Time to resolve a race, labeled by winning source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		raceFallthroughTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fulltext_race_fallthrough_total",
			Help: "Races that fell through to a slower tier.",
		})

		enhancementsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulltext_enhancement_checks_total",
				Help: "Enhancement checks, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fulltext_rate_limit_delay_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "fulltext_robots_fallback_total",
			Help: "robots.txt requests that timed out and fell back to allow-all.",
		})
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
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetSlots records the limiter's current occupancy.
func SetSlots(active, queued int) {
	Init()
	slotsActive.Set(float64(active))
	slotsQueued.Set(float64(queued))
}

// ObserveSlotWait records how long a caller waited for a slot.
func ObserveSlotWait(d time.Duration) {
	Init()
	slotWaitSeconds.Observe(d.Seconds())
}

// ObserveSlotTimeout increments the slot timeout counter.
func ObserveSlotTimeout() {
	Init()
	slotTimeoutsTotal.Inc()
}

// ObserveSourceFetch records one upstream call for a source.
func ObserveSourceFetch(source, rawURL, outcome string, d time.Duration) {
	Init()
	sourceFetchesTotal.WithLabelValues(source, SanitizeSite(rawURL), outcome).Inc()
	sourceFetchSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveCache counts a cache operation ("get", "put") and its result.
func ObserveCache(op, result string) {
	Init()
	cacheOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveRace records a resolved race.
func ObserveRace(winner string, d time.Duration) {
	Init()
	raceDurationSeconds.WithLabelValues(winner).Observe(d.Seconds())
}

// ObserveFallthrough counts a race that moved to a slower tier.
func ObserveFallthrough() {
	Init()
	raceFallthroughTotal.Inc()
}

// ObserveEnhancement counts an enhancement check by result.
func ObserveEnhancement(result string) {
	Init()
	enhancementsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt request that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}
