/*
Package metrics defines the Prometheus collectors exported by cord and the
health endpoints served next to them.

All collectors are registered on the default registry at package init and are
served by Handler on /metrics. Packages update them directly:

	metrics.TreeMutationsTotal.WithLabelValues("merge").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCRequestDuration, "read")

# Metrics Catalog

Tree:

	cord_tree_nodes_total                 gauge, sampled by Collector
	cord_tree_mutations_total{op}         counter, op = write|merge|delete|batch

Broadcast:

	cord_announcements_total              counter
	cord_broker_dropped_total             counter, announcements lost to slow sessions
	cord_connections_active               gauge

RPC and HTTP:

	cord_rpc_requests_total{op,status}    counter, status = ok|error
	cord_rpc_request_duration_seconds{op} histogram
	cord_http_requests_total{method,code} counter

Persistence:

	cord_snapshot_saves_total{result}     counter, result = ok|error
	cord_snapshot_save_duration_seconds   histogram

Identity:

	cord_identities_issued_total{kind}    counter, kind = new|reused

Client side:

	cord_client_pending_requests          gauge
	cord_client_call_failures_total{reason}
	cord_reconciliation_passes_total{event}
	cord_reconciliation_events_total{event}
	cord_reconciliation_duration_seconds

# Health

Components report into a process-wide checker, either with a fixed state
(RegisterComponent, UpdateComponent) or with a Probe evaluated on each
request (RegisterProbe). /health is unhealthy when any component is.
/ready additionally requires the "storage" and "api" components to exist.
*/
package metrics
