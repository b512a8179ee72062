package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linearfdw_remote_calls_total",
			Help: "Total number of remote GraphQL calls by outcome.",
		},
		[]string{"outcome"},
	)
	remoteRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linearfdw_remote_retries_total",
			Help: "Total number of retried remote GraphQL calls.",
		},
	)
	remoteCallDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linearfdw_remote_call_duration_seconds",
			Help:    "Remote GraphQL call latency including retries.",
			Buckets: prometheus.DefBuckets,
		},
	)
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linearfdw_scans_total",
			Help: "Total number of foreign table scans by terminal status.",
		},
		[]string{"status"},
	)
	scanPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linearfdw_scan_pages_total",
			Help: "Total number of remote pages fetched across all scans.",
		},
	)
	scanRowsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linearfdw_scan_rows_emitted_total",
			Help: "Total number of rows emitted to callers.",
		},
	)
	scanRowsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linearfdw_scan_rows_skipped_total",
			Help: "Total number of rows skipped due to coercion failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		remoteCallsTotal,
		remoteRetriesTotal,
		remoteCallDurationSeconds,
		scansTotal,
		scanPagesTotal,
		scanRowsEmittedTotal,
		scanRowsSkippedTotal,
	)
}

func ObserveRemoteCall(outcome string, retries int, elapsed time.Duration) {
	remoteCallsTotal.WithLabelValues(outcome).Inc()
	if retries > 0 {
		remoteRetriesTotal.Add(float64(retries))
	}
	remoteCallDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveScan(status string, pages int, rowsEmitted, rowsSkipped int64) {
	scansTotal.WithLabelValues(status).Inc()
	if pages > 0 {
		scanPagesTotal.Add(float64(pages))
	}
	if rowsEmitted > 0 {
		scanRowsEmittedTotal.Add(float64(rowsEmitted))
	}
	if rowsSkipped > 0 {
		scanRowsSkippedTotal.Add(float64(rowsSkipped))
	}
}
