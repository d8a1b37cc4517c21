package provision

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports linking session counters. A nil *Metrics records nothing.
type Metrics struct {
	active      prometheus.Gauge
	provisions  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	consumed    prometheus.Counter
	linkLatency prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "titan_link_sessions_active",
			Help: "Linking sessions currently held in memory",
		}),
		provisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_link_provisions_total",
			Help: "Provision requests by kind and result",
		}, []string{"kind", "result"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_link_transitions_total",
			Help: "Session state transitions by target state",
		}, []string{"state"}),
		consumed: f.NewCounter(prometheus.CounterOpts{
			Name: "titan_link_tokens_consumed_total",
			Help: "Session tokens handed out by CheckAndConsume",
		}),
		linkLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "titan_link_time_to_link_seconds",
			Help:    "Time from session creation to LINKED",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) provisioned(kind Kind, result string) {
	if m == nil {
		return
	}
	m.provisions.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) transitioned(to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) linked(age time.Duration) {
	if m == nil {
		return
	}
	m.linkLatency.Observe(age.Seconds())
}

func (m *Metrics) tokenConsumed() {
	if m == nil {
		return
	}
	m.consumed.Inc()
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
