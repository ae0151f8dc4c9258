package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.WebhookEvent("invoice.paid", "processed")
		m.BillingOperation("payment_link", "ok")
		m.ObserveProviderCall("create customer", time.Second, nil)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WebhookEvent("customer.subscription.updated", "processed")
	m.WebhookEvent("customer.subscription.updated", "processed")
	m.WebhookEvent("customer.subscription.updated", "duplicate")
	m.ObserveProviderCall("create customer", 20*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("customer.subscription.updated", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("customer.subscription.updated", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderErrorsTotal.WithLabelValues("create customer")))
}

func TestHTTPMiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	h := HTTPMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "418")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dropaccess_http_requests_total"))
}
