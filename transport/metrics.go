package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	conns    prometheus.Gauge
	commands *prometheus.CounterVec
	messages prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) (*serverMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &serverMetrics{
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conduit",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "server",
			Name:      "commands_total",
			Help:      "Commands executed, by keyword.",
		}, []string{"keyword"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "server",
			Name:      "published_messages_total",
			Help:      "Messages delivered to subscribers.",
		}),
	}

	for _, c := range []prometheus.Collector{m.conns, m.commands, m.messages} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *serverMetrics) connOpened() {
	if m != nil {
		m.conns.Inc()
	}
}

func (m *serverMetrics) connClosed() {
	if m != nil {
		m.conns.Dec()
	}
}

func (m *serverMetrics) command(keyword string) {
	if m != nil {
		m.commands.WithLabelValues(keyword).Inc()
	}
}

func (m *serverMetrics) delivered(n int) {
	if m != nil && n > 0 {
		m.messages.Add(float64(n))
	}
}
