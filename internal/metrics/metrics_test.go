package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthread/mainthread/internal/metrics"
)

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := counter.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = c.(prometheus.Metric).Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	_ = gauge.(prometheus.Metric).Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(t *testing.T, hist *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	o, err := hist.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = o.(prometheus.Metric).Write(m)
	return m.GetHistogram().GetSampleCount()
}

// --- HTTP Middleware tests ---

func TestHTTPMiddleware_RecordsRequestMetrics(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/health", "200")
	beforeHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/health")

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/health", "200")
	afterHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/health")

	assert.Equal(t, float64(1), afterCount-beforeCount)
	assert.Equal(t, uint64(1), afterHistCount-beforeHistCount)
}

func TestHTTPMiddleware_NormalizesThreadPaths(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	// Thread-scoped paths are grouped under a placeholder id.
	before := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/threads/{id}/messages", "200")
	resp, err := http.Get(server.URL + "/threads/9a1f07f2-1111-4222-8333-abcdefabcdef/messages")
	require.NoError(t, err)
	_ = resp.Body.Close()
	after := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/threads/{id}/messages", "200")
	assert.Equal(t, float64(1), after-before)

	// /metrics path is kept as-is.
	beforeMetrics := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/metrics", "200")
	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	afterMetrics := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/metrics", "200")
	assert.Equal(t, float64(1), afterMetrics-beforeMetrics)
}

func TestHTTPMiddleware_Records404(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/nonexistent", "404")

	resp, err := http.Get(server.URL + "/nonexistent")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/nonexistent", "404")
	assert.Equal(t, float64(1), afterCount-beforeCount)
}

// --- Gauge tests ---

func TestRunningAgentsGauge(t *testing.T) {
	before := getGaugeValue(t, metrics.RunningAgents)
	metrics.RunningAgents.Inc()
	after := getGaugeValue(t, metrics.RunningAgents)
	assert.Equal(t, float64(1), after-before)

	metrics.RunningAgents.Dec()
	afterDec := getGaugeValue(t, metrics.RunningAgents)
	assert.Equal(t, before, afterDec)
}

func TestSubscribersActiveGauge(t *testing.T) {
	before := getGaugeValue(t, metrics.SubscribersActive)
	metrics.SubscribersActive.Inc()
	after := getGaugeValue(t, metrics.SubscribersActive)
	assert.Equal(t, float64(1), after-before)

	metrics.SubscribersActive.Dec()
	afterDec := getGaugeValue(t, metrics.SubscribersActive)
	assert.Equal(t, before, afterDec)
}

// --- Registry test ---

func TestMetricsRegistered(t *testing.T) {
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "should have registered metrics")
}
