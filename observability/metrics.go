// Package observability carries the node's Prometheus metrics registries,
// trimmed from the teacher's multi-service observability package (which
// also tracked swap/payout/oracle-attester modules no longer in scope) to
// the consensus and P2P overlay series this node registers, kept in
// the same lazy sync.Once-guarded singleton style. cmd/noded does not
// record the block-interval or gossip-fanout series.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type consensusMetrics struct {
	proposalsAccepted *prometheus.CounterVec
	proposalsRejected *prometheus.CounterVec
	votesAggregated   prometheus.Counter
	slotsCommitted    prometheus.Counter
	blockInterval     prometheus.Histogram
}

type overlayMetrics struct {
	tableSize     prometheus.Gauge
	gossipFanout  prometheus.Histogram
	peerRPCLatency *prometheus.HistogramVec
	peerRPCTimeouts prometheus.Counter
}

var (
	consensusMetricsOnce sync.Once
	consensusRegistry    *consensusMetrics

	overlayMetricsOnce sync.Once
	overlayRegistry    *overlayMetrics
)

// ConsensusMetrics returns the lazily-initialized consensus metrics
// registry.
func ConsensusMetrics() *consensusMetrics {
	consensusMetricsOnce.Do(func() {
		consensusRegistry = &consensusMetrics{
			proposalsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solidus",
				Subsystem: "consensus",
				Name:      "proposals_accepted_total",
				Help:      "Accepted proposals segmented by delegate.",
			}, []string{"delegate"}),
			proposalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solidus",
				Subsystem: "consensus",
				Name:      "proposals_rejected_total",
				Help:      "Rejected or failed proposals and rejected vote bundles, segmented by failure kind.",
			}, []string{"kind"}),
			votesAggregated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "solidus",
				Subsystem: "consensus",
				Name:      "votes_aggregated_total",
				Help:      "Total vote signatures in vote bundles the pending accumulator took without error, counting signatures it dropped as duplicate, invalid or stale.",
			}),
			slotsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "solidus",
				Subsystem: "consensus",
				Name:      "slots_committed_total",
				Help:      "Total slots that reached COMMITTABLE.",
			}),
			blockInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "solidus",
				Subsystem: "consensus",
				Name:      "block_interval_seconds",
				Help:      "Observed interval between committed slots.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			consensusRegistry.proposalsAccepted,
			consensusRegistry.proposalsRejected,
			consensusRegistry.votesAggregated,
			consensusRegistry.slotsCommitted,
			consensusRegistry.blockInterval,
		)
	})
	return consensusRegistry
}

func (m *consensusMetrics) RecordProposalAccepted(delegate string) {
	m.proposalsAccepted.WithLabelValues(delegate).Inc()
}

func (m *consensusMetrics) RecordProposalRejected(kind string) {
	m.proposalsRejected.WithLabelValues(kind).Inc()
}

func (m *consensusMetrics) RecordVotesAggregated(n int) {
	m.votesAggregated.Add(float64(n))
}

func (m *consensusMetrics) RecordSlotCommitted() {
	m.slotsCommitted.Inc()
}

func (m *consensusMetrics) RecordBlockInterval(interval time.Duration) {
	m.blockInterval.Observe(interval.Seconds())
}

// OverlayMetrics returns the lazily-initialized DHT/gossip/peer-RPC
// metrics registry.
func OverlayMetrics() *overlayMetrics {
	overlayMetricsOnce.Do(func() {
		overlayRegistry = &overlayMetrics{
			tableSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "solidus",
				Subsystem: "overlay",
				Name:      "table_size",
				Help:      "Current number of nodes in the DHT routing table.",
			}),
			gossipFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "solidus",
				Subsystem: "overlay",
				Name:      "gossip_fanout",
				Help:      "Number of peers selected per gossip publish.",
				Buckets:   prometheus.LinearBuckets(0, 2, 11),
			}),
			peerRPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "solidus",
				Subsystem: "overlay",
				Name:      "peer_rpc_latency_seconds",
				Help:      "Peer RPC latency segmented by method.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			peerRPCTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "solidus",
				Subsystem: "overlay",
				Name:      "peer_rpc_timeouts_total",
				Help:      "Total peer RPC calls that hit the timeout cap.",
			}),
		}
		prometheus.MustRegister(
			overlayRegistry.tableSize,
			overlayRegistry.gossipFanout,
			overlayRegistry.peerRPCLatency,
			overlayRegistry.peerRPCTimeouts,
		)
	})
	return overlayRegistry
}

func (m *overlayMetrics) SetTableSize(n int) {
	m.tableSize.Set(float64(n))
}

func (m *overlayMetrics) ObserveGossipFanout(n int) {
	m.gossipFanout.Observe(float64(n))
}

func (m *overlayMetrics) ObservePeerRPCLatency(method string, d time.Duration) {
	m.peerRPCLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *overlayMetrics) RecordPeerRPCTimeout() {
	m.peerRPCTimeouts.Inc()
}
