// Package metrics holds the Prometheus collectors exported by portalindex.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portalindex"

// Rebuild metrics.
var (
	RebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Collection rebuilds by outcome",
		},
		[]string{"collection", "status"}, // success / failed / skipped
	)

	RebuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of collection rebuilds in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"collection"},
	)

	DocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents submitted to the search engine by outcome",
		},
		[]string{"collection", "result"}, // indexed / failed
	)

	BulkRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_requests_total",
			Help:      "Bulk requests sent while loading generations",
		},
		[]string{"collection"},
	)

	BulkRequestBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_request_bytes",
			Help:      "Payload size of bulk requests",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"collection"},
	)

	GenerationsDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_deleted_total",
			Help:      "Unbound index generations removed by cleanup",
		},
		[]string{"collection"},
	)

	LastSuccessTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful alias swap",
		},
		[]string{"collection"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with reg, or with the default registry
// when reg is nil. Calls after the first are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			RebuildsTotal,
			RebuildDuration,
			DocumentsTotal,
			BulkRequestsTotal,
			BulkRequestBytes,
			GenerationsDeletedTotal,
			LastSuccessTimestamp,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}

// ObserveRebuild records the outcome of one rebuild.
func ObserveRebuild(collection, status string, elapsed time.Duration, indexed, failed int) {
	RebuildsTotal.WithLabelValues(collection, status).Inc()
	if status == "skipped" {
		return
	}
	RebuildDuration.WithLabelValues(collection).Observe(elapsed.Seconds())
	DocumentsTotal.WithLabelValues(collection, "indexed").Add(float64(indexed))
	DocumentsTotal.WithLabelValues(collection, "failed").Add(float64(failed))
	if status == "success" {
		LastSuccessTimestamp.WithLabelValues(collection).SetToCurrentTime()
	}
}

// ObserveChunk records one bulk request.
func ObserveChunk(collection string, bytes int) {
	BulkRequestsTotal.WithLabelValues(collection).Inc()
	BulkRequestBytes.WithLabelValues(collection).Observe(float64(bytes))
}
