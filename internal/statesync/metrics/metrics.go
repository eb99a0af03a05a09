package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks terminal polling.
type Metrics struct {
	CacheLookups   *prometheus.CounterVec
	CoalescedReads *prometheus.CounterVec
	NotModified    prometheus.Counter
}

// New registers the sync metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "legisla_sync_cache_lookups_total",
			Help: "Result cache lookups by outcome (hit, miss, error)",
		}, []string{"outcome"}),
		CoalescedReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "legisla_sync_coalesced_reads_total",
			Help: "Reads answered from another caller's in-flight load",
		}, []string{"read"}),
		NotModified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "legisla_sync_not_modified_total",
			Help: "Snapshot polls answered with 304 Not Modified",
		}),
	}
}

func (m *Metrics) IncrementCacheLookup(outcome string) {
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCoalesced(read string) {
	m.CoalescedReads.WithLabelValues(read).Inc()
}

func (m *Metrics) IncrementNotModified() {
	m.NotModified.Inc()
}
