package notify

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what happens to committed events after the commit. A nil
// *Metrics records nothing.
type Metrics struct {
	Committed      prometheus.Counter
	Outlets        *prometheus.CounterVec
	EvictionErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prism",
			Subsystem: "notify",
			Name:      "events_committed_total",
			Help:      "Events handed to the notifier by committed transactions.",
		}),
		Outlets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prism",
			Subsystem: "notify",
			Name:      "outlet_sends_total",
			Help:      "Asynchronous outlet deliveries by outlet and result.",
		}, []string{"outlet", "result"}),
		EvictionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prism",
			Subsystem: "notify",
			Name:      "cache_eviction_errors_total",
			Help:      "Snapshot cache evictions that failed after retries.",
		}),
	}
	reg.MustRegister(m.Committed, m.Outlets, m.EvictionErrors)
	return m
}

func (m *Metrics) committed(n int) {
	if m == nil {
		return
	}
	m.Committed.Add(float64(n))
}

func (m *Metrics) outlet(name, result string) {
	if m == nil {
		return
	}
	m.Outlets.WithLabelValues(name, result).Inc()
}

func (m *Metrics) evictionFailed() {
	if m == nil {
		return
	}
	m.EvictionErrors.Inc()
}
