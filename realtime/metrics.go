package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "prism"

// Metrics holds the prometheus collectors for the realtime engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Subscribers      prometheus.Gauge
	Topics           prometheus.Gauge
	Delivered        prometheus.Counter
	Dropped          prometheus.Counter
	Relayed          *prometheus.CounterVec
	Renormalizations prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Currently registered stream sinks across all boards.",
		}),
		Topics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "topics",
			Help:      "Boards with at least one registered sink.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_delivered_total",
			Help:      "Events accepted by a sink buffer.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Events a sink refused because it was full, closed or failing.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "relay_messages_total",
			Help:      "Cross-instance relay messages by direction and result.",
		}, []string{"direction", "result"}),
		Renormalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ordering",
			Name:      "renormalizations_total",
			Help:      "Moves that had to rewrite a collection's positions.",
		}),
	}
	reg.MustRegister(m.Subscribers, m.Topics, m.Delivered, m.Dropped, m.Relayed, m.Renormalizations)
	return m
}

func (m *Metrics) subscribed(delta float64, topicDelta float64) {
	if m == nil {
		return
	}
	m.Subscribers.Add(delta)
	if topicDelta != 0 {
		m.Topics.Add(topicDelta)
	}
}

func (m *Metrics) delivered(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Delivered.Inc()
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) relayed(direction, result string) {
	if m == nil {
		return
	}
	m.Relayed.WithLabelValues(direction, result).Inc()
}
