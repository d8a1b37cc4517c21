package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts handled faults. A nil *Metrics records nothing.
type Metrics struct {
	faults *prometheus.CounterVec
	wipes  prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_recovery_faults_total",
			Help: "Faults routed to the recovery controller by class and source",
		}, []string{"class", "source"}),
		wipes: f.NewCounter(prometheus.CounterOpts{
			Name: "titan_recovery_state_wipes_total",
			Help: "Persisted credential state wipes after corruption",
		}),
	}
}

func (m *Metrics) fault(class Class, source string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(class.String(), source).Inc()
}

func (m *Metrics) wiped() {
	if m == nil {
		return
	}
	m.wipes.Inc()
}
