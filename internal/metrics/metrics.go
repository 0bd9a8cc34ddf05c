// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deals_gateway_requests_total",
			Help: "Completion gateway fetches by result",
		},
		[]string{"result"}, // success, fallback
	)

	GatewayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deals_gateway_request_duration_seconds",
			Help:    "Duration of completion gateway calls",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 35},
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deals_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deals_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Refresh

	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deals_refresh_runs_total",
			Help: "Completed refresh runs by deal source",
		},
		[]string{"source", "trigger"}, // trigger: api, schedule
	)

	DealsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deals_merged_total",
			Help: "Deals written by the merger",
		},
		[]string{"op"}, // insert, update
	)

	// Recommendations

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deals_recommendation_duration_seconds",
			Help:    "Time spent building a device's recommendations",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecommendationCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deals_recommendation_cache_total",
			Help: "Recommendation cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// HTTP

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deals_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deals_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordGatewayResult records the outcome and latency of one gateway fetch.
func RecordGatewayResult(fallback bool, d time.Duration) {
	result := "success"
	if fallback {
		result = "fallback"
	}
	GatewayRequests.WithLabelValues(result).Inc()
	GatewayDuration.Observe(d.Seconds())
}
