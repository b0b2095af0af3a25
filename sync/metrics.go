package sync

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivemirror_records_processed_total",
			Help: "Per-record attempts by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	remoteListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivemirror_remote_listings_total",
			Help: "Remote folder listings issued by discovery",
		},
		[]string{"status"},
	)

	bytesDownloadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivemirror_bytes_downloaded_total",
			Help: "Bytes written to the local mirror",
		},
	)

	indexRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drivemirror_index_files",
			Help: "File records by reconciliation state at the last summary",
		},
		[]string{"state"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivemirror_run_duration_seconds",
			Help:    "Duration of engine passes",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"op"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivemirror_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)
)

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func recordOutcome(op string, out Outcome) {
	recordsProcessedTotal.WithLabelValues(op, out.String()).Inc()
}

func recordListing(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	remoteListingsTotal.WithLabelValues(status).Inc()
}

func recordDownload(bytes int64) {
	bytesDownloadedTotal.Add(float64(bytes))
}

func recordRun(op string, d time.Duration) {
	runDuration.WithLabelValues(op).Observe(d.Seconds())
}

func setSummaryGauges(s *DiffSummary) {
	indexRecords.WithLabelValues("in_sync").Set(float64(s.InSync))
	indexRecords.WithLabelValues("stale").Set(float64(s.Stale))
	indexRecords.WithLabelValues("cloud_only").Set(float64(s.CloudOnly))
	indexRecords.WithLabelValues("local_only").Set(float64(s.LocalOnly))
	indexRecords.WithLabelValues("unknown").Set(float64(s.Unknown))
}

func recordHTTPRequest(method, route string, status int) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
