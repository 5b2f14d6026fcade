// Package metrics provides Prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection-state gauges. Value is 1 for the named state, 0
// otherwise — set via SetHubState/SetCloudState rather than Inc/Dec.
var (
	HubConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helm_bridge_hub_connected",
		Help: "1 if the bridge currently holds an authenticated hub session.",
	})

	CloudConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helm_bridge_cloud_connected",
		Help: "1 if the bridge currently holds an authenticated cloud session.",
	})

	HubReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helm_bridge_hub_reconnect_attempts_total",
		Help: "Total number of hub reconnect attempts made.",
	})

	CloudReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helm_bridge_cloud_reconnect_attempts_total",
		Help: "Total number of cloud reconnect attempts made.",
	})
)

// Pending hub RPC table depth and outcome counters.
var (
	HubPendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helm_bridge_hub_pending_requests",
		Help: "Number of hub RPCs awaiting a result.",
	})

	HubRPCResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helm_bridge_hub_rpc_results_total",
		Help: "Hub RPC completions by outcome.",
	}, []string{"outcome"}) // success | timeout | error
)

// State batching.
var (
	StateBatchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helm_bridge_state_batches_sent_total",
		Help: "Total number of state_batch frames sent to the cloud.",
	})

	StateBatchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helm_bridge_state_batches_dropped_total",
		Help: "Total number of batches discarded because the cloud was not authenticated.",
	})

	StateBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helm_bridge_state_batch_size",
		Help:    "Number of events per emitted state_batch frame.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
)

// Command execution.
var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helm_bridge_commands_total",
		Help: "Commands received from the cloud by type and result status.",
	}, []string{"command_type", "status"})
)

// Full sync.
var (
	FullSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helm_bridge_full_syncs_total",
		Help: "Total number of full-sync snapshots collected.",
	})

	FullSyncSubFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helm_bridge_full_sync_sub_failures_total",
		Help: "Full-sync sub-collection RPC failures by collection name.",
	}, []string{"collection"})
)

// SetHubState sets HubConnected to 1 or 0.
func SetHubState(connected bool) {
	setBool(HubConnected, connected)
}

// SetCloudState sets CloudConnected to 1 or 0.
func SetCloudState(connected bool) {
	setBool(CloudConnected, connected)
}

func setBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}
