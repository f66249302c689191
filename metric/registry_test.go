package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadochi/shopcore/errors"
)

func TestNewMetricsRegistry_CoreMetricsRegistered(t *testing.T) {
	r := NewMetricsRegistry()

	// Touch a few core metrics and confirm they are gatherable
	r.Metrics.UpstreamAttempts.WithLabelValues("GET").Inc()
	r.Metrics.CheckoutOutcomes.WithLabelValues("failed", "cancelled").Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["shopcore_upstream_attempts_total"])
	assert.True(t, names["shopcore_checkout_outcomes_total"])
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "test counter",
	})

	require.NoError(t, r.Register("relay", "relay_requests_total", c))

	err := r.Register("relay", "relay_requests_total", c)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stash_writes_total",
		Help: "test counter",
	})
	require.NoError(t, r.Register("stash", "stash_writes_total", c))

	assert.True(t, r.Unregister("stash", "stash_writes_total"))
	assert.False(t, r.Unregister("stash", "stash_writes_total"))

	// Re-registration works after unregister
	assert.NoError(t, r.Register("stash", "stash_writes_total", c))
}

func TestHandler_ServesMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	r.Metrics.UpstreamCoalesced.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "shopcore_upstream_coalesced_total")
}

func TestIsolatedRegistries(t *testing.T) {
	a := NewMetricsRegistry()
	b := NewMetricsRegistry()

	a.Metrics.UpstreamCoalesced.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.Metrics.UpstreamCoalesced))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Metrics.UpstreamCoalesced))
}
