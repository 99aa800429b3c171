package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestRegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := newTestCounter("ops_total")
	require.NoError(t, registry.RegisterCounter("session", "ops", counter))

	// Same component.metric key must be rejected
	err := registry.RegisterCounter("session", "ops", newTestCounter("other_total"))
	require.Error(t, err)

	// Different component may reuse the metric name key
	require.NoError(t, registry.RegisterCounter("admission", "ops", newTestCounter("admission_ops_total")))

	assert.True(t, registry.Unregister("session", "ops"))
	assert.False(t, registry.Unregister("session", "ops"))

	// After unregistering, the key is free again
	require.NoError(t, registry.RegisterCounter("session", "ops", newTestCounter("ops_total")))
}

func TestCoreMetricsExposed(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.Metrics.RecordPeerConnected(true)
	registry.Metrics.RecordMessageReceived("pong")
	registry.Metrics.RecordError("session", "protocol")

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "editorbridge_peer_connected 1")
	assert.Contains(t, body, `editorbridge_messages_received_total{type="pong"} 1`)
	assert.Contains(t, body, `editorbridge_errors_total{component="session",kind="protocol"} 1`)
}
