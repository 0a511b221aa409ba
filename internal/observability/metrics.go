package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "route", "status"},
	)

	cacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Nearby-query cache results by outcome.",
		},
		[]string{"outcome"}, // hit | miss | stale
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Duration of KV store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	warmJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warm_jobs_total",
			Help: "Neighbor cell warming attempts by outcome.",
		},
		[]string{"outcome"}, // populated | already_cached | failed
	)

	optimizerAdjustmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optimizer_ttl_adjustments_total",
			Help: "Cells whose TTL was shortened by the hit-ratio optimizer.",
		},
		[]string{"reason"},
	)

	degradedEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_degraded_evictions_total",
			Help: "Buckets evicted because their recomputed score degraded below threshold.",
		},
	)

	scoreIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "score_index_size",
			Help: "Current number of live entries in the score index.",
		},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func IncCacheHit()   { cacheResultsTotal.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResultsTotal.WithLabelValues("miss").Inc() }
func IncCacheStale() { cacheResultsTotal.WithLabelValues("stale").Inc() }

func IncWarmJob(outcome string) { warmJobsTotal.WithLabelValues(outcome).Inc() }

func IncOptimizerAdjustment(reason string) { optimizerAdjustmentsTotal.WithLabelValues(reason).Inc() }

func IncDegradedEviction() { degradedEvictionsTotal.Inc() }

func SetScoreIndexSize(n int) { scoreIndexSize.Set(float64(n)) }

// Timer is a small helper mirroring the teacher's start/defer pattern
// for instrumenting a call site with a single line.
func Timer() func() time.Duration {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}
