// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal            *prometheus.CounterVec
	pipelineStageDurationSeconds *prometheus.HistogramVec
	snapshotRows                 prometheus.Gauge
	persistenceFailuresTotal     *prometheus.CounterVec
	fetchBytesTotal              prometheus.Counter
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rki_pipeline_runs_total",
				Help: "Total number of pipeline runs, labeled by final state.",
			},
			[]string{"status"},
		)

		pipelineStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rki_pipeline_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5, 15},
			},
			[]string{"stage"},
		)

		snapshotRows = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rki_snapshot_rows",
				Help: "Number of state rows in the most recent stored snapshot.",
			},
		)

		persistenceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rki_persistence_failures_total",
				Help: "Total number of failed store writes, labeled by record kind.",
			},
			[]string{"kind"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rki_fetch_bytes_total",
				Help: "Total number of bytes fetched from the source page.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the run counter for the given final state.
func ObserveRun(status string) {
	Init()
	pipelineRunsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetSnapshotRows records the row count of the latest stored snapshot.
func SetSnapshotRows(n int) {
	Init()
	snapshotRows.Set(float64(n))
}

// ObservePersistenceFailure counts a failed write of the given record kind.
func ObservePersistenceFailure(kind string) {
	Init()
	persistenceFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch adds the fetched page size to the byte counter.
func ObserveFetch(bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
