package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/editorbridge/metric"
)

// Metrics holds Prometheus metrics for the admission queue.
type Metrics struct {
	submitted *prometheus.CounterVec
	expired   prometheus.Counter
	flushed   prometheus.Counter
	parkedFor prometheus.Histogram
	depth     prometheus.Gauge
}

// NewMetrics creates and registers admission queue metrics.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "admission",
			Name:      "submitted_total",
			Help:      "Total commands admitted, by path",
		}, []string{"path"}),

		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "admission",
			Name:      "expired_total",
			Help:      "Total parked commands that hit their buffering deadline",
		}),

		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "admission",
			Name:      "flushed_total",
			Help:      "Total parked commands dispatched on reconnect",
		}),

		parkedFor: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "admission",
			Name:      "parked_duration_seconds",
			Help:      "How long flushed commands waited for the peer",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),

		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "admission",
			Name:      "queue_depth",
			Help:      "Current number of parked commands",
		}),
	}

	if err := registry.RegisterCounterVec("admission", "submitted", m.submitted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("admission", "expired", m.expired); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("admission", "flushed", m.flushed); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("admission", "parked_duration", m.parkedFor); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("admission", "queue_depth", m.depth); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordSubmit(path string) { m.submitted.WithLabelValues(path).Inc() }

func (m *Metrics) recordExpired() { m.expired.Inc() }

func (m *Metrics) recordFlush(waited time.Duration) {
	m.flushed.Inc()
	m.parkedFor.Observe(waited.Seconds())
}

func (m *Metrics) recordDepth(depth int) { m.depth.Set(float64(depth)) }
