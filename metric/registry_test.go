package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_CoreMetricsRegistered(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.CoreMetrics())

	// Core metrics must be gatherable without error
	r.Metrics.MessagesSent.Inc()
	r.Metrics.PendingDepth.Set(3)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["chatclient_outbound_sent_total"])
	assert.True(t, names["chatclient_outbound_pending_depth"])
	assert.True(t, names["chatclient_connection_state"])
}

func TestRegisterCollector_RejectsDuplicate(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total"})
	require.NoError(t, r.RegisterCollector("transport", "test_counter_total", c))

	err := r.RegisterCollector("transport", "test_counter_total", c)
	assert.Error(t, err)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total"})
	require.NoError(t, r.RegisterCollector("transport", "test_counter_total", c))

	assert.True(t, r.Unregister("transport", "test_counter_total"))
	assert.False(t, r.Unregister("transport", "test_counter_total"))

	// Re-registering after unregister works
	assert.NoError(t, r.RegisterCollector("transport", "test_counter_total", c))
}

func TestHandler_ServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.Metrics.MessagesSent.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatclient_outbound_sent_total")
}
