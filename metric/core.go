package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the metric namespace shared by all bridge collectors.
const Namespace = "editorbridge"

// Metrics contains bridge-level metrics shared across components.
// Component-specific collectors are registered separately via the
// MetricsRegistry.
type Metrics struct {
	PeerConnected    prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all bridge-level metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PeerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "peer",
				Name:      "connected",
				Help:      "Peer liveness state (0=absent or unresponsive, 1=usable)",
			},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of inbound peer messages",
			},
			[]string{"type"},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Total number of outbound messages",
			},
			[]string{"type"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and kind",
			},
			[]string{"component", "kind"},
		),
	}
}

// RecordPeerConnected updates the peer liveness gauge.
func (m *Metrics) RecordPeerConnected(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.PeerConnected.Set(value)
}

// RecordMessageReceived increments the inbound message counter.
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.MessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageSent increments the outbound message counter.
func (m *Metrics) RecordMessageSent(messageType string) {
	m.MessagesSent.WithLabelValues(messageType).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorsTotal.WithLabelValues(component, kind).Inc()
}
