package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tree metrics
	TreeNodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cord_tree_nodes_total",
			Help: "Number of nodes currently stored in the tree",
		},
	)

	TreeMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_tree_mutations_total",
			Help: "Total number of applied mutations by operation",
		},
		[]string{"op"},
	)

	// Broadcast metrics
	AnnouncementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cord_announcements_total",
			Help: "Total number of change announcements published",
		},
	)

	BrokerDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cord_broker_dropped_total",
			Help: "Announcements dropped for lagging subscribers",
		},
	)

	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cord_connections_active",
			Help: "Number of open websocket sessions",
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_rpc_requests_total",
			Help: "Total number of RPC requests by operation and status",
		},
		[]string{"op", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cord_rpc_request_duration_seconds",
			Help:    "RPC request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_http_requests_total",
			Help: "Total number of HTTP requests by method and status code",
		},
		[]string{"method", "code"},
	)

	// Persistence metrics
	SnapshotSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_snapshot_saves_total",
			Help: "Total number of snapshot writes by result",
		},
		[]string{"result"},
	)

	SnapshotSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cord_snapshot_save_duration_seconds",
			Help:    "Time taken to write a snapshot in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Identity metrics
	IdentitiesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_identities_issued_total",
			Help: "Anonymous identities handed out, by kind (new or reused)",
		},
		[]string{"kind"},
	)

	// Client metrics
	ClientPendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cord_client_pending_requests",
			Help: "RPC calls awaiting a response",
		},
	)

	ClientCallFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_client_call_failures_total",
			Help: "Client calls that failed by reason",
		},
		[]string{"reason"},
	)

	// Reconciliation metrics
	ReconciliationPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_reconciliation_passes_total",
			Help: "Listener reconciliation passes by event class",
		},
		[]string{"event"},
	)

	ReconciliationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cord_reconciliation_events_total",
			Help: "Listener callbacks fired by event class",
		},
		[]string{"event"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cord_reconciliation_duration_seconds",
			Help:    "Time taken by one reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TreeNodesTotal)
	prometheus.MustRegister(TreeMutationsTotal)
	prometheus.MustRegister(AnnouncementsTotal)
	prometheus.MustRegister(BrokerDroppedTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(SnapshotSavesTotal)
	prometheus.MustRegister(SnapshotSaveDuration)
	prometheus.MustRegister(IdentitiesIssuedTotal)
	prometheus.MustRegister(ClientPendingRequests)
	prometheus.MustRegister(ClientCallFailuresTotal)
	prometheus.MustRegister(ReconciliationPassesTotal)
	prometheus.MustRegister(ReconciliationEventsTotal)
	prometheus.MustRegister(ReconciliationDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
