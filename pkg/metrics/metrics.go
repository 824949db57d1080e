package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transaction metrics (component F, spec.md §4.F)
	PrepareTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yesqlkv_prepare_total",
			Help: "Total number of Prepare calls by vote outcome",
		},
		[]string{"vote"},
	)

	CommitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yesqlkv_commit_total",
			Help: "Total number of Commit calls by outcome",
		},
		[]string{"outcome"},
	)

	PrepareDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yesqlkv_prepare_duration_seconds",
			Help:    "Time taken to run Prepare's conflict scan and durable log write",
			Buckets: prometheus.DefBuckets,
		},
	)

	PendingTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yesqlkv_pending_transactions",
			Help: "Number of transactions currently between Prepare and Commit",
		},
	)

	// B-tree metrics (components H/I, spec.md §4.H/§4.I)
	SplitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yesqlkv_splits_total",
			Help: "Total number of node splits by kind (root, nonroot) and trigger (size, load)",
		},
		[]string{"kind", "trigger"},
	)

	TreeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yesqlkv_tree_op_duration_seconds",
			Help:    "Time taken by a B-tree client operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	SplitQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yesqlkv_split_queue_depth",
			Help: "Number of split requests currently queued for the background split worker",
		},
	)

	// Client cache metrics (component G, spec.md §4.G)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yesqlkv_cache_hits_total",
			Help: "Total client cache lookups by outcome (hit, miss, stale)",
		},
		[]string{"outcome"},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yesqlkv_cache_entries",
			Help: "Number of table metadata entries currently cached",
		},
	)

	// Disk log metrics (component E, spec.md §4.E)
	DiskLogFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yesqlkv_disklog_flush_duration_seconds",
			Help:    "Time taken for a group-commit flush of the durable transaction log",
			Buckets: prometheus.DefBuckets,
		},
	)

	DiskLogGroupCommitSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yesqlkv_disklog_group_commit_size",
			Help:    "Number of log records batched into one group-commit flush",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)

	// RPC metrics (spec.md §6/§7)
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yesqlkv_rpc_requests_total",
			Help: "Total RPC requests served by method and result code",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yesqlkv_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yesqlkv_rpc_retries_total",
			Help: "Total client-side RPC retries by method, after a transient error",
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(PrepareTotal)
	prometheus.MustRegister(CommitTotal)
	prometheus.MustRegister(PrepareDuration)
	prometheus.MustRegister(PendingTransactions)
	prometheus.MustRegister(SplitsTotal)
	prometheus.MustRegister(TreeOpDuration)
	prometheus.MustRegister(SplitQueueDepth)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(DiskLogFlushDuration)
	prometheus.MustRegister(DiskLogGroupCommitSize)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(RPCRetriesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
