/*
Package metrics provides Prometheus metrics collection and exposition for
the CDC stream consumer.

All metrics are registered at package init against the default Prometheus
registry and exposed over HTTP for scraping.

# Metrics Catalog

Record-level counters:

cdc_streams_records_in_total{shard_id}
  - Records fetched from a shard iterator.

cdc_streams_records_filtered_total{shard_id}
  - Records excluded by the filter evaluator.

cdc_streams_records_delivered_total{shard_id, mapper}
  - Records successfully delivered to a mapper.

cdc_streams_records_rejected_unknown_op_total{shard_id}
  - Records rejected because they classified as UNKNOWN.

Batch-level counters:

cdc_streams_batch_retries_total{mapper}
cdc_streams_batch_partial_failures_total{mapper}
cdc_streams_batch_total_failures_total{mapper}

Lease/coordinator gauges and counters:

cdc_streams_leases_held
  - Gauge. Shard leases currently held by this worker.

cdc_streams_lease_steals_total
  - Counter. Leases claimed away from a non-renewing owner.

cdc_streams_checkpoint_advance_conflicts_total
  - Counter. CAS conflicts hit while advancing a checkpoint.

Latency histograms:

cdc_streams_processor_batch_latency_seconds
cdc_streams_checkpoint_advance_latency_seconds
cdc_streams_scheduling_latency_seconds
cdc_streams_auditor_latency_seconds

# Usage

	timer := metrics.NewTimer()
	// ... fetch, decode, filter, deliver one batch ...
	timer.ObserveDuration(metrics.ProcessorBatchLatency)

	metrics.RecordsDelivered.WithLabelValues(shardID, mapperName).Add(float64(len(batch.Records)))

	http.Handle("/metrics", metrics.Handler())

# Integration Points

  - internal/processor: records_in, records_rejected_unknown_op,
    processor_batch_latency
  - internal/mapper (Base.FilterRecords): records_filtered
  - internal/sink/*: records_delivered; internal/sink/queue also
    batch_partial_failures and batch_total_failures
  - internal/batch: batch_retries
  - internal/coordinator: leases_held, lease_steals,
    checkpoint_advance_conflicts, auditor_latency

checkpoint_advance_latency and scheduling_latency are registered, but no
package in this module records them.
*/
package metrics
