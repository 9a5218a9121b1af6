package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store operations
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcfg_store_operations_total",
			Help: "Configuration store operations by result",
		},
		[]string{"op", "result"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantcfg_store_operation_seconds",
			Help:    "Configuration store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op"},
	)

	ReconciledRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcfg_reconciled_rows_total",
			Help: "Rows written by configuration reconciliation",
		},
		[]string{"table", "action"},
	)

	// Cache
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcfg_cache_requests_total",
			Help: "Aggregate cache lookups by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcfg_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantcfg_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Legacy import
	LegacyImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantcfg_legacy_imports_total",
			Help: "Legacy settings blobs processed by result",
		},
		[]string{"result"},
	)
)

// ObserveStore records one store operation. err is the operation result.
func ObserveStore(op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperationsTotal.WithLabelValues(op, result).Inc()
	StoreOperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveReconcile records rows inserted, updated and deleted for a table.
func ObserveReconcile(table string, inserted, updated, deleted int) {
	if inserted > 0 {
		ReconciledRowsTotal.WithLabelValues(table, "insert").Add(float64(inserted))
	}
	if updated > 0 {
		ReconciledRowsTotal.WithLabelValues(table, "update").Add(float64(updated))
	}
	if deleted > 0 {
		ReconciledRowsTotal.WithLabelValues(table, "delete").Add(float64(deleted))
	}
}

// ObserveCache records a cache lookup: outcome is hit, miss or error.
func ObserveCache(backend, outcome string) {
	CacheRequestsTotal.WithLabelValues(backend, outcome).Inc()
}
