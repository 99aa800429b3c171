package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/editorbridge/metric"
)

// Metrics holds Prometheus metrics for the session. Per-type message
// traffic and error counts are recorded on the engine-level core metrics;
// the session only owns its connection lifecycle collectors.
type Metrics struct {
	core *metric.Metrics

	connects     *prometheus.CounterVec
	disconnects  prometheus.Counter
	probes       prometheus.Counter
	sendFailures prometheus.Counter
	dropped      *prometheus.CounterVec
	stateUpdates prometheus.Counter
	connected    prometheus.Gauge
}

// NewMetrics creates and registers session metrics.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		core: registry.Metrics,

		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Total peer connections accepted",
		}, []string{"kind"}),

		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Total peer disconnects observed",
		}),

		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "probes_total",
			Help:      "Total liveness probes sent",
		}),

		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "send_failures_total",
			Help:      "Total outbound writes that failed",
		}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "dropped_messages_total",
			Help:      "Total inbound messages dropped",
		}, []string{"reason"}),

		stateUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "state_updates_total",
			Help:      "Total peer state pushes cached",
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "connected",
			Help:      "Whether a peer connection is currently live",
		}),
	}

	if err := registry.RegisterCounterVec("session", "connects", m.connects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("session", "disconnects", m.disconnects); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("session", "probes", m.probes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("session", "send_failures", m.sendFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("session", "dropped_messages", m.dropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("session", "state_updates", m.stateUpdates); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("session", "connected", m.connected); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordConnect(replaced bool) {
	kind := "fresh"
	if replaced {
		kind = "replacement"
	}
	m.connects.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordDisconnect() { m.disconnects.Inc() }
func (m *Metrics) recordProbe()      { m.probes.Inc() }

func (m *Metrics) recordSendFailure() {
	m.sendFailures.Inc()
	m.core.RecordError("session", "unavailable")
}

func (m *Metrics) recordDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
	m.core.RecordError("session", "protocol")
}

func (m *Metrics) recordStateUpdate() { m.stateUpdates.Inc() }

func (m *Metrics) recordLiveness(up bool) {
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
	m.core.RecordPeerConnected(up)
}

func (m *Metrics) recordSent(msgType string) { m.core.RecordMessageSent(msgType) }

func (m *Metrics) recordReceived(msgType string) { m.core.RecordMessageReceived(msgType) }
