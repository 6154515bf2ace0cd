/*
Package types defines the core data structures shared across the CDC
stream consumer: records, typed cells, shards, leases, workers, and
mapper-scoped batches.

# Architecture

The types package is the foundation of the consumer's data model. It
defines:

  - The change-event record and its typed-cell representation
  - Shard topology (hash ranges, parent/child relationships)
  - Lease state: ownership, CAS counter, checkpoint
  - Worker identity and its held lease set
  - The batch unit handed to a target mapper

# Core Types

Record & Cells:
  - Record: one change event, with raw and decoded images
  - Cell: a tagged raw value (CellTag + underlying representation)
  - Image / RawImage: column-name-keyed row snapshots
  - Operation: the classified change type (INSERT, UPDATE, DELETE, TTL, ...)

Shard & Lease:
  - Shard: a logical CDC log partition with a hash range and parents
  - Lease: the coordination record granting exclusive processing rights
  - TrimHorizon / ShardEndSentinel: the two checkpoint sentinels

Worker & Batch:
  - Worker: a process and the lease set it currently holds
  - TargetBatch: a count/byte-bounded collection of records for one mapper

# Thread Safety

Types in this package carry no internal locking. Records flow by value
between pipeline stages; a Lease read from the coordination store is a
snapshot and must be re-read before any CAS write that depends on its
counter.

# See Also

  - internal/cdctype for the cell decoder and operation classifier
  - internal/coordstore for the conditional store these leases live in
  - internal/processor for the state machine driving Record flow
*/
package types
