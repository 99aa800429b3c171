package correlator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/editorbridge/metric"
)

// Metrics holds Prometheus metrics for the correlator.
type Metrics struct {
	requestsSent    *prometheus.CounterVec
	responses       *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	resets          *prometheus.CounterVec
	lateResponses   prometheus.Counter
	requestDuration *prometheus.HistogramVec
	pendingRequests prometheus.Gauge
}

// NewMetrics creates and registers correlator metrics.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		requestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "correlator",
			Name:      "requests_sent_total",
			Help:      "Total correlated requests sent",
		}, []string{"operation"}),

		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "correlator",
			Name:      "responses_total",
			Help:      "Total responses matched to a pending request",
		}, []string{"operation", "status"}),

		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "correlator",
			Name:      "timeouts_total",
			Help:      "Total requests failed by their deadline",
		}, []string{"operation"}),

		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "correlator",
			Name:      "resets_total",
			Help:      "Total requests failed by a session replacement",
		}, []string{"operation"}),

		lateResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "correlator",
			Name:      "late_responses_total",
			Help:      "Total responses dropped because no request was outstanding",
		}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "correlator",
			Name:      "request_duration_seconds",
			Help:      "Request/response round-trip duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0},
		}, []string{"operation"}),

		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "correlator",
			Name:      "pending_requests",
			Help:      "Current number of outstanding correlated requests",
		}),
	}

	if err := registry.RegisterCounterVec("correlator", "requests_sent", m.requestsSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("correlator", "responses", m.responses); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("correlator", "timeouts", m.timeouts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("correlator", "resets", m.resets); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("correlator", "late_responses", m.lateResponses); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("correlator", "request_duration", m.requestDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("correlator", "pending_requests", m.pendingRequests); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordStart(operation string, pending int) {
	m.requestsSent.WithLabelValues(operation).Inc()
	m.pendingRequests.Set(float64(pending))
}

func (m *Metrics) recordResolve(operation string, ok bool, elapsed time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.responses.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) recordTimeout(operation string) {
	m.timeouts.WithLabelValues(operation).Inc()
}

func (m *Metrics) recordReset(operation string) {
	m.resets.WithLabelValues(operation).Inc()
}

func (m *Metrics) recordLate() {
	m.lateResponses.Inc()
}
