// Package processor runs the per-shard record processor state machine:
// fetch, decode, filter, deliver, checkpoint, repeated until the shard
// ends, the lease is lost, or shutdown is requested. One goroutine per
// leased shard runs its own ticker/select loop to the same suspension
// points as the rest of this codebase's background loops.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/cdc-streams/internal/batch"
	"github.com/cuemby/cdc-streams/internal/cdctype"
	"github.com/cuemby/cdc-streams/internal/mapper"
	"github.com/cuemby/cdc-streams/internal/stream"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/log"
	"github.com/cuemby/cdc-streams/pkg/metrics"
	"github.com/cuemby/cdc-streams/pkg/types"
)

// State is one node of the per-shard state machine.
type State string

const (
	StateInit       State = "INIT"
	StateRunning    State = "RUNNING"
	StateDraining   State = "DRAINING"
	StateAbandoned  State = "ABANDONED"
	StateQuiescing  State = "QUIESCING"
	StateTerminated State = "TERMINATED"
)

// DefaultCheckpointInterval is the opportunistic-checkpoint ceiling for
// empty batches, absent an override from processor.checkpoint-interval.
const DefaultCheckpointInterval = 60 * time.Second

// DefaultMaxRecordsPerBatch and DefaultMaxBatchBytes are the processor's
// count/byte caps on each TargetBatch handed to Mapper.HandleRecords,
// matching the processor.max-records-per-batch and processor.max-batch-bytes
// config defaults.
const (
	DefaultMaxRecordsPerBatch = 1000
	DefaultMaxBatchBytes      = 1 << 20
)

// Checkpointer is the coordinator-facing slice of capability a
// processor needs: advance the lease's checkpoint, failing with
// *cdcerrors.LeaseLost once ownership is gone. The coordinator implements this; kept
// narrow here so internal/processor doesn't import internal/coordinator.
type Checkpointer interface {
	// AdvanceCheckpoint CASes the shard's lease checkpoint forward.
	// Returns *cdcerrors.LeaseLost if this worker no longer owns the
	// shard.
	AdvanceCheckpoint(ctx context.Context, shardID, checkpoint string) error
}

// Processor drives one shard from its last checkpoint to shard-end,
// lease loss, or a quiesce request. One Processor is bound to exactly
// one shard for its entire lifetime; a new shard gets a new Processor.
type Processor struct {
	ShardID            string
	Source             stream.Source
	StreamID           string
	Checkpointer       Checkpointer
	Mapper             mapper.Mapper
	CheckpointInterval time.Duration
	MaxRecordsPerBatch int
	MaxBatchBytes      int

	state    State
	quiesce  chan struct{}
	quiesced chan struct{}
}

// New constructs a Processor for shardID. The starting checkpoint is
// passed to Run (types.TrimHorizon for a never-before-seen shard).
func New(source stream.Source, streamID, shardID string, checkpointer Checkpointer, m mapper.Mapper) *Processor {
	return &Processor{
		ShardID:            shardID,
		Source:             source,
		StreamID:           streamID,
		Checkpointer:       checkpointer,
		Mapper:             m,
		CheckpointInterval: DefaultCheckpointInterval,
		MaxRecordsPerBatch: DefaultMaxRecordsPerBatch,
		MaxBatchBytes:      DefaultMaxBatchBytes,
		state:              StateInit,
		quiesce:            make(chan struct{}),
		quiesced:           make(chan struct{}),
	}
}

// State returns the processor's current state.
func (p *Processor) State() State {
	return p.state
}

// Quiesce requests a graceful stop at the next suspension point. It
// does not block; wait on Done to observe completion.
func (p *Processor) Quiesce() {
	select {
	case <-p.quiesce:
	default:
		close(p.quiesce)
	}
}

// Done returns a channel closed once Run has returned.
func (p *Processor) Done() <-chan struct{} {
	return p.quiesced
}

// Run drives the shard from fromCheckpoint until it terminates, either
// because the shard ended, the lease was lost, or Quiesce was called.
// It honors ctx cancellation at every suspension point.
func (p *Processor) Run(ctx context.Context, fromCheckpoint string) error {
	defer close(p.quiesced)

	if err := p.Mapper.Initialize(ctx); err != nil {
		p.state = StateAbandoned
		return fmt.Errorf("initialize mapper: %w", err)
	}
	p.state = StateRunning

	iterator, err := p.Source.OpenIterator(ctx, p.ShardID, fromCheckpoint)
	if err != nil {
		p.state = StateAbandoned
		return fmt.Errorf("open iterator for shard %s: %w", p.ShardID, err)
	}

	logger := log.WithShard(p.ShardID)
	lastCheckpointWrite := time.Now()

	for {
		if p.shutdownRequested() {
			p.state = StateQuiescing
			return p.quiesceAt(ctx, fromCheckpoint)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timer := metrics.NewTimer()
		fetched, err := p.Source.Next(ctx, iterator)
		if err != nil {
			logger.Error().Err(err).Msg("fetch next batch failed")
			if !sleepOrDone(ctx, p.quiesce, time.Second) {
				p.state = StateQuiescing
				return p.quiesceAt(ctx, fromCheckpoint)
			}
			continue
		}
		iterator = fetched.NextIterator

		toDeliver, err := p.decodeBatch(fetched.Records)
		if err != nil {
			timer.ObserveDuration(metrics.ProcessorBatchLatency)
			p.state = StateAbandoned
			logger.Error().Err(err).Msg("decode failed, abandoning shard")
			return fmt.Errorf("decode records for shard %s: %w", p.ShardID, err)
		}
		toDeliver = p.Mapper.FilterRecords(toDeliver)

		delivered := false
		if len(toDeliver) > 0 {
			builder := batch.NewBuilder(p.MaxRecordsPerBatch, p.MaxBatchBytes)
			targetBatches := builder.Build(toDeliver, estimateRecordSize)

			handleErr := false
			for _, tb := range targetBatches {
				if err := p.Mapper.HandleRecords(ctx, tb); err != nil {
					if !isRecoverableHandleError(err) {
						timer.ObserveDuration(metrics.ProcessorBatchLatency)
						if delivered {
							if ckErr := p.advanceCheckpoint(ctx, fromCheckpoint); ckErr != nil {
								return ckErr
							}
						}
						p.state = StateAbandoned
						logger.Error().Err(err).Msg("handle_records failed fatally, abandoning shard")
						return fmt.Errorf("handle records for shard %s: %w", p.ShardID, err)
					}
					logger.Warn().Err(err).Msg("handle_records failed, retrying at next fetch")
					handleErr = true
					break
				}
				fromCheckpoint = tb.Records[len(tb.Records)-1].SequenceNumber
				delivered = true
			}
			if handleErr {
				timer.ObserveDuration(metrics.ProcessorBatchLatency)
				if delivered {
					if err := p.advanceCheckpoint(ctx, fromCheckpoint); err != nil {
						return err
					}
					lastCheckpointWrite = time.Now()
				}
				if !sleepOrDone(ctx, p.quiesce, time.Second) {
					p.state = StateQuiescing
					return p.quiesceAt(ctx, fromCheckpoint)
				}
				continue
			}
		}

		if delivered {
			if err := p.advanceCheckpoint(ctx, fromCheckpoint); err != nil {
				timer.ObserveDuration(metrics.ProcessorBatchLatency)
				return err
			}
			lastCheckpointWrite = time.Now()
		} else if time.Since(lastCheckpointWrite) >= p.CheckpointInterval {
			if err := p.advanceCheckpoint(ctx, fromCheckpoint); err != nil {
				timer.ObserveDuration(metrics.ProcessorBatchLatency)
				return err
			}
			lastCheckpointWrite = time.Now()
		}
		timer.ObserveDuration(metrics.ProcessorBatchLatency)

		if fetched.EndOfShard {
			p.state = StateDraining
			if err := p.advanceCheckpoint(ctx, types.ShardEndSentinel); err != nil {
				return err
			}
			p.state = StateTerminated
			logger.Info().Msg("shard drained, final checkpoint written")
			return nil
		}
	}
}

// decodeBatch classifies and decodes raw records, dropping any that
// classify as UNKNOWN (logged at Warn and counted via
// RecordsRejectedUnknownOp). A decode error on any remaining record is
// returned.
//
// TODO(processor.decodeBatch): a future revision may want a per-mapper
// policy switch on UNKNOWN records instead of the current unconditional
// skip-with-counter; no such switch exists yet.
func (p *Processor) decodeBatch(records []*types.Record) ([]*types.Record, error) {
	out := make([]*types.Record, 0, len(records))
	for _, r := range records {
		metrics.RecordsIn.WithLabelValues(r.ShardID).Inc()
		cdctype.ClassifyRecord(r)
		if r.Operation == types.OpUnknown {
			metrics.RecordsRejectedUnknownOp.WithLabelValues(r.ShardID).Inc()
			log.WithShard(p.ShardID).Warn().Str("sequence_number", r.SequenceNumber).Msg("record classified as UNKNOWN, skipping")
			continue
		}
		if err := cdctype.DecodeRecord(r); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.SequenceNumber, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// isRecoverableHandleError reports whether a HandleRecords failure is
// worth retrying at the next fetch: a transport blip or a batch that
// only partially succeeded (*cdcerrors.TransientError,
// *cdcerrors.PartialFailure, *cdcerrors.TotalFailure). A
// *cdcerrors.ConfigError or *cdcerrors.UnsupportedType, or anything
// else unrecognized, will fail identically on every retry, so the
// shard is abandoned instead of looping forever.
func isRecoverableHandleError(err error) bool {
	var cfg *cdcerrors.ConfigError
	if errors.As(err, &cfg) {
		return false
	}
	var unsupported *cdcerrors.UnsupportedType
	if errors.As(err, &unsupported) {
		return false
	}
	var transient *cdcerrors.TransientError
	var partial *cdcerrors.PartialFailure
	var total *cdcerrors.TotalFailure
	return errors.As(err, &transient) || errors.As(err, &partial) || errors.As(err, &total)
}

func (p *Processor) advanceCheckpoint(ctx context.Context, checkpoint string) error {
	err := p.Checkpointer.AdvanceCheckpoint(ctx, p.ShardID, checkpoint)
	if err == nil {
		return nil
	}
	var lost *cdcerrors.LeaseLost
	if errors.As(err, &lost) {
		p.state = StateAbandoned
		log.WithShard(p.ShardID).Warn().Msg("lease lost, abandoning shard")
		return err
	}
	return fmt.Errorf("advance checkpoint for shard %s: %w", p.ShardID, err)
}

// quiesceAt writes a final checkpoint at the current position, then
// terminates. A store error here is logged but not fatal: at-least-once
// delivery tolerates losing the final opportunistic checkpoint.
func (p *Processor) quiesceAt(ctx context.Context, checkpoint string) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Checkpointer.AdvanceCheckpoint(shutdownCtx, p.ShardID, checkpoint); err != nil {
		log.WithShard(p.ShardID).Warn().Err(err).Msg("final checkpoint on quiesce failed")
	}
	p.state = StateTerminated
	return nil
}

func (p *Processor) shutdownRequested() bool {
	select {
	case <-p.quiesce:
		return true
	default:
		return false
	}
}

// sleepOrDone sleeps for d, returning false early if ctx is cancelled or
// quiesce fires, true if the sleep ran to completion.
func sleepOrDone(ctx context.Context, quiesce <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-quiesce:
		return false
	}
}

func estimateRecordSize(r *types.Record) int {
	size := len(r.SequenceNumber)
	for k, v := range r.NewImageRaw {
		size += len(k) + estimateCellSize(v)
	}
	for k, v := range r.OldImageRaw {
		size += len(k) + estimateCellSize(v)
	}
	return size
}

func estimateCellSize(c types.Cell) int {
	switch v := c.Value.(type) {
	case string:
		return len(v)
	case []byte:
		return len(v)
	default:
		return 16
	}
}
