package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of a client. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	dispatched *prometheus.CounterVec
	failed     *prometheus.CounterVec
	reconnects prometheus.Counter
	depth      prometheus.Gauge
	pushes     *prometheus.CounterVec
	batchSize  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "commands_dispatched_total",
			Help:      "Commands handed to the dispatcher.",
		}, []string{"keyword"}),

		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "commands_failed_total",
			Help:      "Commands that completed with an error.",
		}, []string{"reason"}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "reconnects_total",
			Help:      "Successful reconnections.",
		}),

		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conduit",
			Name:      "queue_depth",
			Help:      "Commands written to the connection and waiting for a reply.",
		}),

		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "push_messages_total",
			Help:      "Push messages received, by kind.",
		}, []string{"kind"}),

		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conduit",
			Name:      "write_batch_commands",
			Help:      "Commands written per flush.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{m.dispatched, m.failed, m.reconnects, m.depth, m.pushes, m.batchSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) commandDispatched(keyword string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(keyword).Inc()
}

func (m *Metrics) commandFailed(reason string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(reason).Inc()
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) queueDepth(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.depth.Add(float64(delta))
}

func (m *Metrics) pushReceived(kind string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(kind).Inc()
}

func (m *Metrics) batchWritten(n int) {
	if m == nil || n == 0 {
		return
	}
	m.batchSize.Observe(float64(n))
}
