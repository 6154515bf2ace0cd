package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Record-level counters
	RecordsIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_streams_records_in_total",
			Help: "Total number of records fetched from a shard iterator",
		},
		[]string{"shard_id"},
	)

	RecordsFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_streams_records_filtered_total",
			Help: "Total number of records excluded by the filter evaluator",
		},
		[]string{"shard_id"},
	)

	RecordsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_streams_records_delivered_total",
			Help: "Total number of records successfully delivered to a mapper",
		},
		[]string{"shard_id", "mapper"},
	)

	RecordsRejectedUnknownOp = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_streams_records_rejected_unknown_op_total",
			Help: "Total number of records rejected because they classified as UNKNOWN",
		},
		[]string{"shard_id"},
	)

	// Batch-level counters
	BatchRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_streams_batch_retries_total",
			Help: "Total number of retry attempts made by the batch retry harness",
		},
		[]string{"mapper"},
	)

	BatchPartialFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_streams_batch_partial_failures_total",
			Help: "Total number of batches that failed with a partial per-item failure",
		},
		[]string{"mapper"},
	)

	BatchTotalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_streams_batch_total_failures_total",
			Help: "Total number of batches that failed entirely",
		},
		[]string{"mapper"},
	)

	// Lease/coordinator gauges and counters
	LeasesHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdc_streams_leases_held",
			Help: "Number of shard leases currently held by this worker",
		},
	)

	LeaseSteals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cdc_streams_lease_steals_total",
			Help: "Total number of leases claimed away from a non-renewing owner",
		},
	)

	CheckpointAdvanceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cdc_streams_checkpoint_advance_conflicts_total",
			Help: "Total number of CAS conflicts encountered while advancing a checkpoint",
		},
	)

	// Latency histograms
	ProcessorBatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cdc_streams_processor_batch_latency_seconds",
			Help:    "Time to fetch, decode, filter and deliver one batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointAdvanceLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cdc_streams_checkpoint_advance_latency_seconds",
			Help:    "Time to write a checkpoint through the coordination store",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cdc_streams_scheduling_latency_seconds",
			Help:    "Time taken for one scheduler reconcile cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditorLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cdc_streams_auditor_latency_seconds",
			Help:    "Time taken for one orphaned-lease auditor scan",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsIn,
		RecordsFiltered,
		RecordsDelivered,
		RecordsRejectedUnknownOp,
		BatchRetries,
		BatchPartialFailures,
		BatchTotalFailures,
		LeasesHeld,
		LeaseSteals,
		CheckpointAdvanceConflicts,
		ProcessorBatchLatency,
		CheckpointAdvanceLatency,
		SchedulingLatency,
		AuditorLatency,
	)
}

// Handler returns the Prometheus HTTP handler.
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
