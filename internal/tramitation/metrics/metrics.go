package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks tramitation throughput.
type Metrics struct {
	PropositionsSubmitted prometheus.Counter
	Transitions           *prometheus.CounterVec
	TransitionDuration    prometheus.Histogram
}

// New registers the tramitation metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		PropositionsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "legisla_propositions_submitted_total",
			Help: "Total number of propositions submitted",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "legisla_tramitation_transitions_total",
			Help: "Tramitation transitions by operation",
		}, []string{"operation"}),
		TransitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "legisla_tramitation_transition_duration_seconds",
			Help:    "Duration of tramitation transitions including the transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementSubmitted() {
	m.PropositionsSubmitted.Inc()
}

// ObserveTransition records a successful transition. Call with time.Now()
// taken at the start of the operation.
func (m *Metrics) ObserveTransition(operation string, start time.Time) {
	m.Transitions.WithLabelValues(operation).Inc()
	m.TransitionDuration.Observe(time.Since(start).Seconds())
}
