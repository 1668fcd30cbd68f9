package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stablevault"

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// DSCMetrics tracks collateral engine activity.
type DSCMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	rejections   *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	dscMetricsOnce sync.Once
	dscRegistry    *DSCMetrics
)

// API returns the lazily-initialised registry used to record HTTP API
// activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// DSC returns the singleton metrics registry for the collateral engine.
func DSC() *DSCMetrics {
	dscMetricsOnce.Do(func() {
		dscRegistry = &DSCMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dsc_engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dsc_engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dsc_engine",
				Name:      "liquidations_total",
				Help:      "Count of successful liquidations segmented by collateral token.",
			}, []string{"token"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dsc_engine",
				Name:      "health_factor_rejections_total",
				Help:      "Count of operations rejected because they would break the health factor.",
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			dscRegistry.operations,
			dscRegistry.latency,
			dscRegistry.liquidations,
			dscRegistry.rejections,
		)
	})
	return dscRegistry
}

// ObserveOperation records an engine operation. Outcome should be a stable
// error kind such as "zero_amount", or "success".
func (m *DSCMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unspecified"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLiquidation increments the liquidation counter for the seized token.
func (m *DSCMetrics) RecordLiquidation(token string) {
	if m == nil {
		return
	}
	token = strings.TrimSpace(token)
	if token == "" {
		token = "unknown"
	}
	m.liquidations.WithLabelValues(token).Inc()
}

// RecordHealthFactorRejection increments the rejection counter.
func (m *DSCMetrics) RecordHealthFactorRejection(operation string) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	m.rejections.WithLabelValues(operation).Inc()
}
