package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "legisla/pkg/platform/audit"
)

// Metrics tracks audit persistence.
type Metrics struct {
	eventsEmitted   *prometheus.CounterVec
	persistFailures prometheus.Counter
	persistDuration prometheus.Histogram
}

// NewMetrics registers audit metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "legisla_audit_events_emitted_total",
			Help: "Total number of audit events persisted",
		}, []string{"category"}),
		persistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "legisla_audit_persist_failures_total",
			Help: "Total number of audit writes that failed and aborted their operation",
		}),
		persistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "legisla_audit_persist_duration_seconds",
			Help:    "Duration of synchronous audit writes",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) IncEventsEmitted(category audit.EventCategory) {
	m.eventsEmitted.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.persistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.persistDuration.Observe(seconds)
}
