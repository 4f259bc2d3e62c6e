package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bucket-level metrics
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bucketdb_records_total",
			Help: "Current number of records in a bucket",
		},
		[]string{"bucket"},
	)

	InsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_inserts_total",
			Help: "Total number of successful inserts by bucket",
		},
		[]string{"bucket"},
	)

	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_updates_total",
			Help: "Total number of successful updates by bucket",
		},
		[]string{"bucket"},
	)

	DeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_deletes_total",
			Help: "Total number of deletes by bucket and reason",
		},
		[]string{"bucket", "reason"},
	)

	ValidationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_validation_errors_total",
			Help: "Total number of validation failures by bucket",
		},
		[]string{"bucket"},
	)

	UniqueConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_unique_conflicts_total",
			Help: "Total number of unique-constraint violations by bucket",
		},
		[]string{"bucket"},
	)

	// Operation latency
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketdb_operation_duration_seconds",
			Help:    "Bucket actor operation duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Transaction metrics
	TransactionCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdb_transaction_commits_total",
			Help: "Total number of committed transactions",
		},
	)

	TransactionRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdb_transaction_rollbacks_total",
			Help: "Total number of rolled-back transactions",
		},
	)

	// Query engine metrics
	QueryReevaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_query_reevaluations_total",
			Help: "Total number of subscription re-evaluations by query name",
		},
		[]string{"query"},
	)

	QueryCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_query_callbacks_total",
			Help: "Total number of subscription callbacks delivered by query name",
		},
		[]string{"query"},
	)

	// Persistence metrics
	PersistenceFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bucketdb_persistence_flush_duration_seconds",
			Help:    "Time taken to flush a bucket snapshot to the storage adapter",
			Buckets: prometheus.DefBuckets,
		},
	)

	PersistenceFlushErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_persistence_flush_errors_total",
			Help: "Total number of storage adapter save failures by bucket",
		},
		[]string{"bucket"},
	)

	// TTL scheduler metrics
	TTLPurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketdb_ttl_purged_total",
			Help: "Total number of records purged by TTL expiry, by bucket",
		},
		[]string{"bucket"},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsTotal,
		InsertsTotal,
		UpdatesTotal,
		DeletesTotal,
		ValidationErrorsTotal,
		UniqueConflictsTotal,
		OperationDuration,
		TransactionCommitsTotal,
		TransactionRollbacksTotal,
		QueryReevaluationsTotal,
		QueryCallbacksTotal,
		PersistenceFlushDuration,
		PersistenceFlushErrorsTotal,
		TTLPurgedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
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
