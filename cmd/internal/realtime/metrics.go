package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the registry's prometheus collectors.
type Metrics struct {
	Connections *prometheus.GaugeVec
	Delivered   prometheus.Counter
	Dropped     prometheus.Counter
	Evictions   *prometheus.CounterVec
	Handshakes  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "assist",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live registered connections by role.",
		}, []string{"role"}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "realtime",
			Name:      "messages_enqueued_total",
			Help:      "Messages accepted into a connection send queue.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "realtime",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the send queue was full or the connection was closing.",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "realtime",
			Name:      "evictions_total",
			Help:      "Connections removed by the server, by reason.",
		}, []string{"reason"}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assist",
			Subsystem: "realtime",
			Name:      "handshakes_total",
			Help:      "Websocket handshakes by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Delivered, m.Dropped, m.Evictions, m.Handshakes)
	}
	return m
}
