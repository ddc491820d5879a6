// Package telemetry exposes the engine's Prometheus metrics. All label sets
// are bounded (two sources, four statuses, a fixed list of failure reasons),
// so cardinality stays flat regardless of catalog size. When no metrics
// endpoint is configured the collectors still aggregate; registration alone
// costs nothing.
package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_api_requests_total",
		Help: "Physical marketplace API attempts, by source and HTTP status class",
	}, []string{"source", "code"})

	recordsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_records_inserted_total",
		Help: "Stock records successfully written, by source",
	}, []string{"source"})

	recordFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_record_failures_total",
		Help: "Record-level failures, by source and reason",
	}, []string{"source", "reason"})

	availableMismatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_available_mismatches_total",
		Help: "Entries whose API-reported available figure disagreed with present-reserved, by source",
	}, []string{"source"})

	anomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_anomalies_total",
		Help: "Anomaly signals raised, by source and type",
	}, []string{"source", "type"})

	fallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocksync_fallbacks_total",
		Help: "Fallback attempts, by source and outcome",
	}, []string{"source", "status"})

	lastSyncTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stocksync_last_sync_timestamp_seconds",
		Help: "Unix time of the last successful sync, by source",
	}, []string{"source"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocksync_run_duration_seconds",
		Help:    "End-to-end run duration, by source and terminal status",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"source", "status"})
)

func init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		recordsProcessedTotal,
		recordFailuresTotal,
		availableMismatchesTotal,
		anomaliesTotal,
		fallbacksTotal,
		lastSyncTimestamp,
		runDuration,
	)
}

// APIRequest records one physical attempt. code 0 means a transport failure.
func APIRequest(source string, code int) {
	apiRequestsTotal.WithLabelValues(source, statusClass(code)).Inc()
}

// RecordsProcessed adds n successfully written records for source.
func RecordsProcessed(source string, n int) {
	if n > 0 {
		recordsProcessedTotal.WithLabelValues(source).Add(float64(n))
	}
}

// RecordFailures adds n record-level failures of the given reason.
func RecordFailures(source, reason string, n int) {
	if n > 0 {
		recordFailuresTotal.WithLabelValues(source, reason).Add(float64(n))
	}
}

// AvailableMismatches adds n entries whose API-reported available figure
// disagreed with the recomputed one. The records are still written.
func AvailableMismatches(source string, n int) {
	if n > 0 {
		availableMismatchesTotal.WithLabelValues(source).Add(float64(n))
	}
}

// AnomalyDetected counts one anomaly signal.
func AnomalyDetected(source, anomalyType string) {
	anomaliesTotal.WithLabelValues(source, anomalyType).Inc()
}

// FallbackOutcome counts one fallback attempt with its terminal status.
func FallbackOutcome(source, status string) {
	fallbacksTotal.WithLabelValues(source, status).Inc()
}

// SetLastSync pins the last-success gauge for source.
func SetLastSync(source string, t time.Time) {
	lastSyncTimestamp.WithLabelValues(source).Set(float64(t.Unix()))
}

// ObserveRun records one finished run.
func ObserveRun(source, status string, d time.Duration) {
	runDuration.WithLabelValues(source, status).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "transport_error"
	case code == 429:
		return "429"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// ServeMetrics starts a dedicated /metrics endpoint on addr. It returns the
// server so the caller can shut it down; errors after startup are logged,
// not fatal.
func ServeMetrics(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics endpoint failed", "error", err)
		}
	}()
	return srv
}
