// Package metrics holds the Prometheus instrumentation for source fetches,
// refreshes and batch jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source Metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_source_requests_total",
			Help: "Total number of external source requests",
		},
		[]string{"source", "result"}, // result: "success", "error", "not_found"
	)

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookstock_source_request_duration_seconds",
			Help:    "Duration of external source requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SourceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_source_retries_total",
			Help: "Total number of retried source requests",
		},
		[]string{"source"},
	)

	SourceCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_source_cache_hits_total",
			Help: "Total number of source lookups answered from the response cache",
		},
		[]string{"source"},
	)

	// Refresh Metrics
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_refreshes_total",
			Help: "Total number of single-book refreshes",
		},
		[]string{"result"}, // result: "success", "catalog_miss", "persistence_error", "not_found"
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookstock_refresh_duration_seconds",
			Help:    "Duration of single-book refreshes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	Rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookstock_mutation_rollbacks_total",
			Help: "Total number of mutations rolled back after a persistence failure",
		},
	)

	// Batch Metrics
	BatchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_batch_jobs_total",
			Help: "Total number of finished batch refresh jobs",
		},
		[]string{"outcome"}, // outcome: "completed", "cancelled"
	)

	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_batch_items_total",
			Help: "Total number of books processed by batch jobs",
		},
		[]string{"result"}, // result: "success", "failure", "skipped"
	)

	BatchProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookstock_batch_progress",
			Help: "Processed and total item counts of each running batch job",
		},
		[]string{"job", "kind"}, // kind: "current", "total"
	)

	BatchPaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookstock_batch_paused",
			Help: "1 while a running batch job is paused",
		},
		[]string{"job"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookstock_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstock_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordSourceRequest records one source call.
func RecordSourceRequest(source, result string, duration time.Duration) {
	SourceRequests.WithLabelValues(source, result).Inc()
	SourceRequestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRefresh records the outcome of a single-book refresh.
func RecordRefresh(result string, duration time.Duration) {
	Refreshes.WithLabelValues(result).Inc()
	RefreshDuration.Observe(duration.Seconds())
}

// UpdateBatchProgress sets one job's progress gauges.
func UpdateBatchProgress(job string, current, total int) {
	BatchProgress.WithLabelValues(job, "current").Set(float64(current))
	BatchProgress.WithLabelValues(job, "total").Set(float64(total))
}

// SetBatchPaused flips one job's paused gauge.
func SetBatchPaused(job string, paused bool) {
	if paused {
		BatchPaused.WithLabelValues(job).Set(1)
		return
	}
	BatchPaused.WithLabelValues(job).Set(0)
}

// ForgetBatchJob drops a finished job's gauge series.
func ForgetBatchJob(job string) {
	BatchProgress.DeletePartialMatch(prometheus.Labels{"job": job})
	BatchPaused.DeleteLabelValues(job)
}
