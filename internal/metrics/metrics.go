// Package metrics holds the Prometheus collectors for the billing service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	WebhookEventsTotal     *prometheus.CounterVec
	BillingOperationsTotal *prometheus.CounterVec
	ProviderCallDuration   *prometheus.HistogramVec
	ProviderErrorsTotal    *prometheus.CounterVec
}

// New creates and registers all collectors on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropaccess_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropaccess_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropaccess_webhook_events_total",
				Help: "Billing webhook deliveries by event type and outcome",
			},
			[]string{"type", "outcome"},
		),
		BillingOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropaccess_billing_operations_total",
				Help: "User initiated billing operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropaccess_billing_provider_call_duration_seconds",
				Help:    "Billing provider API latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"operation"},
		),
		ProviderErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropaccess_billing_provider_errors_total",
				Help: "Failed billing provider API calls",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.BillingOperationsTotal,
		m.ProviderCallDuration,
		m.ProviderErrorsTotal,
	)

	return m
}

// WebhookEvent counts one webhook delivery.
func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// BillingOperation counts one user initiated operation.
func (m *Metrics) BillingOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.BillingOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveProviderCall matches the billing provider's Observe hook.
func (m *Metrics) ObserveProviderCall(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.ProviderErrorsTotal.WithLabelValues(op).Inc()
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware instruments HTTP requests.
func HTTPMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
