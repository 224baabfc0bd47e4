// Package metrics exposes Prometheus metrics for dataprep jobs.
//
// All collectors live in a dedicated Registry rather than the default one so
// a one-shot job can dump exactly its own metrics to a node-exporter
// textfile when it finishes:
//
//	metrics.JobsTotal.WithLabelValues("SUCCESS").Inc()
//	if err := metrics.WriteTextfile("/var/lib/node_exporter/dataprep.prom"); err != nil {
//	    logger.Warn("failed to write metrics", zap.Error(err))
//	}
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every dataprep collector.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// JobsTotal counts finished jobs.
	// Labels: status (SUCCESS/FAILURE), error (error kind, empty on success)
	JobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataprep_jobs_total",
			Help: "Total number of finished jobs",
		},
		[]string{"status", "error"},
	)

	// RulesApplied counts rule applications by verb.
	RulesApplied = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataprep_rules_applied_total",
			Help: "Total number of rules applied",
		},
		[]string{"verb"},
	)

	// CoercionFailures counts cells settype replaced with null.
	CoercionFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "dataprep_coercion_failures_total",
			Help: "Total number of cells that failed type coercion",
		},
	)

	// RowsProcessed counts rows per stage.
	// Labels: stage (source/output)
	RowsProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataprep_rows_processed_total",
			Help: "Total number of rows processed",
		},
		[]string{"stage"},
	)

	// StageDuration tracks the duration of job stages in seconds.
	// Labels: stage (plan/execute/snapshot/callback)
	StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataprep_stage_duration_seconds",
			Help:    "Duration of job stages in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"stage"},
	)

	// CallbackAttempts counts callback deliveries.
	// Labels: outcome (delivered/retry/failed)
	CallbackAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataprep_callback_attempts_total",
			Help: "Total number of callback delivery attempts",
		},
		[]string{"outcome"},
	)

	// SnapshotBytes is the size of the last written snapshot.
	SnapshotBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataprep_snapshot_bytes",
			Help: "Size in bytes of the last written snapshot part",
		},
	)
)

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
	stage string
}

// NewTimer creates a new timer for stage and starts timing immediately.
func NewTimer(stage string) *Timer {
	return &Timer{
		start: time.Now(),
		stage: stage,
	}
}

// Stop records the elapsed time in StageDuration and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	StageDuration.WithLabelValues(t.stage).Observe(duration.Seconds())
	return duration
}

// WriteTextfile writes the current metrics in Prometheus text format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
