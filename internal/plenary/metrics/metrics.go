package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks floor activity.
type Metrics struct {
	VotesCast         prometheus.Counter
	VotingsClosed     *prometheus.CounterVec
	QuorumWarnings    prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

// New registers the plenary metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "legisla_plenary_votes_cast_total",
			Help: "Total number of plenary votes cast, including recasts",
		}),
		VotingsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "legisla_plenary_votings_closed_total",
			Help: "Closed plenary votings by outcome",
		}, []string{"outcome"}),
		QuorumWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Name: "legisla_plenary_quorum_warnings_total",
			Help: "Votings opened below the configured quorum",
		}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "legisla_plenary_operation_duration_seconds",
			Help:    "Duration of plenary operations including the transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementVotesCast() {
	m.VotesCast.Inc()
}

func (m *Metrics) IncrementClosed(outcome string) {
	m.VotingsClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementQuorumWarnings() {
	m.QuorumWarnings.Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
