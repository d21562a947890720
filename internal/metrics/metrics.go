package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_requests_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)

	// Upstream (payment provider, mail relay) call metrics
	backendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_duration_seconds",
			Help:    "Upstream call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"service", "method", "status_code"},
	)

	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total number of persistence operations",
		},
		[]string{"collection", "operation", "status"},
	)

	storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Persistence operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"collection", "operation"},
	)

	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Total number of rejected credentials",
		},
		[]string{"reason"}, // missing/invalid/expired/stale/unknown_user/forbidden
	)

	// Rate limiting metrics
	rateLimitDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_dropped_total",
			Help: "Total number of requests dropped due to rate limiting",
		},
		[]string{"key_type"}, // user or ip
	)

	// Idempotency metrics
	idempotencyHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_hits_total",
			Help: "Total number of idempotency hits",
		},
		[]string{"type"}, // hit or miss
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of payment webhook events",
		},
		[]string{"type", "status"}, // processed/ignored/duplicate/rejected
	)

	ratingsRecalculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratings_recalculations_total",
			Help: "Total number of tour rating recalculations",
		},
		[]string{"status"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per upstream (0 closed, 1 open, 2 half-open)",
		},
		[]string{"upstream"},
	)
)

// Init initializes the metrics
func Init() error {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		backendCallDuration,
		storeOperationsTotal,
		storeOperationDuration,
		authFailuresTotal,
		rateLimitDroppedTotal,
		idempotencyHitsTotal,
		webhookEventsTotal,
		ratingsRecalculationsTotal,
		breakerState,
	)

	return nil
}

// HTTPMetricsMiddleware records HTTP metrics
func HTTPMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		method := c.Method()
		// raw paths would alias the request buffer and blow up cardinality
		route := c.Route().Path
		if route == "" {
			route = "unmatched"
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)

		return err
	}
}

// RecordBackendCall records metrics for upstream calls
func RecordBackendCall(service, method string, statusCode int, duration time.Duration) {
	statusStr := strconv.Itoa(statusCode)
	backendCallDuration.WithLabelValues(service, method, statusStr).Observe(duration.Seconds())
}

// RecordStoreOperation records one collection operation
func RecordStoreOperation(collection, operation, status string, duration time.Duration) {
	storeOperationsTotal.WithLabelValues(collection, operation, status).Inc()
	storeOperationDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

// RecordAuthFailure records a rejected credential
func RecordAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitDrop records rate limit drops
func RecordRateLimitDrop(keyType string) {
	rateLimitDroppedTotal.WithLabelValues(keyType).Inc()
}

// RecordIdempotencyHit records idempotency cache hits/misses
func RecordIdempotencyHit(hitType string) {
	idempotencyHitsTotal.WithLabelValues(hitType).Inc()
}

// RecordWebhookEvent records the outcome of a webhook delivery
func RecordWebhookEvent(eventType, status string) {
	webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func RecordRatingsRecalculation(status string) {
	ratingsRecalculationsTotal.WithLabelValues(status).Inc()
}

// RecordBreakerState publishes the breaker state of one upstream.
func RecordBreakerState(upstream string, state int) {
	breakerState.WithLabelValues(upstream).Set(float64(state))
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
