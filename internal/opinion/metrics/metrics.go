package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks committee opinion activity.
type Metrics struct {
	OpinionsCreated   prometheus.Counter
	VotesClosed       *prometheus.CounterVec
	QuorumRejections  prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

// New registers the opinion metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		OpinionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "legisla_opinions_created_total",
			Help: "Total number of committee opinions created",
		}),
		VotesClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "legisla_opinion_votes_closed_total",
			Help: "Closed committee votes by outcome",
		}, []string{"outcome"}),
		QuorumRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "legisla_opinion_quorum_not_met_total",
			Help: "Close attempts refused for lack of committee quorum",
		}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "legisla_opinion_operation_duration_seconds",
			Help:    "Duration of opinion operations including the transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementCreated() {
	m.OpinionsCreated.Inc()
}

func (m *Metrics) IncrementClosed(outcome string) {
	m.VotesClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementQuorumNotMet() {
	m.QuorumRejections.Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
