package observability

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "operation"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "operation"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	upstreamFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_fetch_total",
			Help: "Per-region upstream fetches by outcome.",
		},
		[]string{"outcome"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_total",
			Help: "Dispatched requests by operation and mode (redirect, merge, empty, placeholder).",
		},
		[]string{"operation", "mode"},
	)

	regionsPerRequest = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_regions",
			Help:    "Number of communes a request was resolved to.",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
		},
	)

	placeholders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeholder_responses_total",
			Help: "Transparent placeholder responses by reason.",
		},
		[]string{"reason"},
	)

	regionCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "region_cache_results_total",
			Help: "Region lookup cache results by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_op_duration_seconds",
			Help:    "Redis operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Boundary change events by result.",
		},
		[]string{"result"},
	)

	invalidatedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_keys_deleted_total",
			Help: "Region lookup cache entries removed by invalidation.",
		},
	)
)

// Register adds every collector of this package to r. Registering twice
// with the same registry is not an error.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		upstreamFetches, dispatchTotal, regionsPerRequest, placeholders,
		regionCacheResults, cacheOpDuration, invalidationEvents, invalidatedKeys,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}

func ObserveHTTP(method, route, operation string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, operation).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, operation).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

// IncUpstreamFetch counts one region fetch; outcome is ok, status, error
// or decode.
func IncUpstreamFetch(outcome string) {
	upstreamFetches.WithLabelValues(outcome).Inc()
}

func IncDispatch(operation, mode string, regions int) {
	dispatchTotal.WithLabelValues(operation, mode).Inc()
	regionsPerRequest.Observe(float64(regions))
}

func IncPlaceholder(reason string) {
	placeholders.WithLabelValues(reason).Inc()
}

func IncRegionCache(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	regionCacheResults.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpDuration.WithLabelValues(op, result).Observe(durationSeconds)
}

func IncInvalidation(result string, keys int) {
	invalidationEvents.WithLabelValues(result).Inc()
	if keys > 0 {
		invalidatedKeys.Add(float64(keys))
	}
}
