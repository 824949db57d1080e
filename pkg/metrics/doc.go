/*
Package metrics provides Prometheus metrics collection and exposition for
the storage server.

Metrics are registered at package init and updated inline at their call
sites: the coordinator's and storage server's Prepare/Commit path, the
disk log's group-commit flush, and the storage server's per-RPC request
counts. The B-tree, client-cache and RPC-retry metrics below are
registered but not updated anywhere in this module. There is no polling collector —
unlike a control-plane that periodically lists cluster objects, every
event here already happens inside a function call, so instrumentation is
a direct Inc/Observe at that call site.

# Metrics Catalog

Transaction metrics (component F):

yesqlkv_prepare_total{vote}: Counter, Prepare calls by vote ("yes"/"no").
yesqlkv_commit_total{outcome}: Counter, Commit calls by outcome.
yesqlkv_prepare_duration_seconds: Histogram, Prepare's conflict-scan + log-write latency.
yesqlkv_pending_transactions: Gauge, transactions between Prepare and Commit.

B-tree metrics (components H/I):

yesqlkv_splits_total{kind,trigger}: Counter, splits by root/nonroot and size/load trigger.
yesqlkv_tree_op_duration_seconds{op}: Histogram, per-operation latency.
yesqlkv_split_queue_depth: Gauge, queued split requests.

Client cache metrics (component G):

yesqlkv_cache_hits_total{outcome}: Counter, hit/miss/stale lookups.
yesqlkv_cache_entries: Gauge, cached table metadata entries.

Disk log metrics (component E):

yesqlkv_disklog_flush_duration_seconds: Histogram, group-commit flush latency.
yesqlkv_disklog_group_commit_size: Histogram, records batched per flush.

RPC metrics:

yesqlkv_rpc_requests_total{method,code}: Counter, requests by method and result code.
yesqlkv_rpc_request_duration_seconds{method}: Histogram, per-method latency.
yesqlkv_rpc_retries_total{method}: Counter, client-side retries after a transient error.

# Health

A separate, lightweight health/readiness/liveness surface (health.go) is
not Prometheus-based: it tracks named component health (coordinator,
disklog, rpc) behind /health, /ready, and /live HTTP handlers, returning
JSON the way a load balancer or orchestrator probe expects, independent
of whatever is scraping /metrics.

# Usage

	timer := metrics.NewTimer()
	res, err := coord.Prepare(ctx, tid, startTs, nil, false)
	timer.ObserveDuration(metrics.PrepareDuration)
	vote := "no"
	if res.Vote == coordinator.VoteYes {
		vote = "yes"
	}
	metrics.PrepareTotal.WithLabelValues(vote).Inc()
*/
package metrics
