// Package metrics exposes the counters and gauges an outward metrics
// emitter scrapes from a running node: RPC failures, replay rejections,
// epoch advances, routing-table size, and oplog backlog depth. The core
// never renders these itself (no HTTP handler lives here); callers wire
// Registry.Gatherer() into whatever exposition surface they run.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric this node records, isolated from the
// global prometheus.DefaultRegisterer so multiple nodes can coexist in
// one test process without collector-already-registered panics.
type Registry struct {
	registry *prometheus.Registry

	DHTRPCFailuresTotal   *prometheus.CounterVec
	DHTRoutingTableSize    prometheus.Gauge
	MLSReplayRejectsTotal *prometheus.CounterVec
	MLSEpochAdvancesTotal *prometheus.CounterVec
	OplogBacklogSize       prometheus.Gauge
	CommitLogAppendsTotal prometheus.Counter
}

// New builds a fresh, independently-registered metric set.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		DHTRPCFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacepanda",
			Subsystem: "dht",
			Name:      "rpc_failures_total",
			Help:      "Count of DHT RPCs (ping/find_node/find_value/store) that failed or timed out, by method.",
		}, []string{"method"}),
		DHTRoutingTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spacepanda",
			Subsystem: "dht",
			Name:      "routing_table_size",
			Help:      "Number of contacts currently held across all k-buckets.",
		}),
		MLSReplayRejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacepanda",
			Subsystem: "mls",
			Name:      "replay_rejects_total",
			Help:      "Count of inbound application messages rejected as replays, by group id hex prefix.",
		}, []string{"group"}),
		MLSEpochAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spacepanda",
			Subsystem: "mls",
			Name:      "epoch_advances_total",
			Help:      "Count of group epoch advances (commits applied), by group id hex prefix.",
		}, []string{"group"}),
		OplogBacklogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spacepanda",
			Subsystem: "oplog",
			Name:      "causal_backlog_size",
			Help:      "Number of operations currently withheld pending an earlier causal dependency.",
		}),
		CommitLogAppendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spacepanda",
			Subsystem: "oplog",
			Name:      "commit_log_appends_total",
			Help:      "Count of entries fsynced to the durable commit log.",
		}),
	}

	reg.MustRegister(
		r.DHTRPCFailuresTotal,
		r.DHTRoutingTableSize,
		r.MLSReplayRejectsTotal,
		r.MLSEpochAdvancesTotal,
		r.OplogBacklogSize,
		r.CommitLogAppendsTotal,
	)
	return r
}

// Gatherer exposes the registry for an outward exposition surface
// (e.g. promhttp.HandlerFor) to scrape.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }
