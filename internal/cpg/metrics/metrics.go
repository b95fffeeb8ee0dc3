// Package metrics holds the process-wide Prometheus collectors and the
// OpenTelemetry tracer shared by the sync client and the peer server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Tracer starts spans for sync operations. It is a no-op until the process
// installs a tracer provider.
var Tracer = otel.Tracer("github.com/etenlab/core/internal/cpg")

// Sync directions, used as the "op" label.
const (
	OpSyncOut        = "sync_out"
	OpSyncIn         = "sync_in"
	OpSnapshotOut    = "snapshot_out"
	OpSnapshotIn     = "snapshot_in"
	OpSnapshotFile   = "snapshot_file"
	OpServerPush     = "server_push"
	OpServerPull     = "server_pull"
	OpServerSnapshot = "server_snapshot"
	ResultOK         = "ok"
	ResultError      = "error"
)

var (
	SyncOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_sync_operations_total",
		Help: "Sync operations by direction and outcome.",
	}, []string{"op", "result"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cpg_sync_seconds",
		Help:    "Time spent in one sync operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	SyncRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_sync_rows_total",
		Help: "Rows sent or applied by sync operations.",
	}, []string{"op"})

	SyncLayer = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpg_sync_layer",
		Help: "Current local sync layer.",
	})

	LastSyncLayer = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cpg_last_sync_layer",
		Help: "Highest sync layer acknowledged by the peer.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_http_requests_total",
		Help: "Peer server requests by path and status code.",
	}, []string{"path", "code"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cpg_http_rate_limited_total",
		Help: "Peer server requests rejected by the rate limiter.",
	})

	InboxFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cpg_inbox_files_total",
		Help: "Snapshot files picked up from the daemon inbox.",
	}, []string{"result"})
)
