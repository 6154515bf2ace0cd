// Package batch implements the count/byte-bounded batch builder and the
// jittered exponential-backoff retry harness shared by every sink.
package batch

import "github.com/cuemby/cdc-streams/pkg/types"

// Builder accumulates records into size/count-bounded batches. A record
// larger than maxBytes on its own becomes its own batch rather than
// being split.
type Builder struct {
	maxCount int
	maxBytes int
}

// NewBuilder constructs a Builder with the given caps.
func NewBuilder(maxCount, maxBytes int) *Builder {
	return &Builder{maxCount: maxCount, maxBytes: maxBytes}
}

// Build splits records into one or more TargetBatch values, sealing a
// batch whenever the next record would exceed either cap.
func (b *Builder) Build(records []*types.Record, sizeOf func(*types.Record) int) []*types.TargetBatch {
	var batches []*types.TargetBatch
	var current *types.TargetBatch

	seal := func() {
		if current != nil && len(current.Records) > 0 {
			batches = append(batches, current)
		}
		current = nil
	}

	for _, r := range records {
		size := sizeOf(r)

		if current == nil {
			current = &types.TargetBatch{}
		}

		exceedsCount := len(current.Records) >= b.maxCount
		exceedsBytes := len(current.Records) > 0 && current.ByteSize+size > b.maxBytes

		if exceedsCount || exceedsBytes {
			seal()
			current = &types.TargetBatch{}
		}

		current.Records = append(current.Records, r)
		current.ByteSize += size

		// A record that alone exceeds maxBytes becomes its own batch;
		// seal immediately rather than waiting for the next record.
		if len(current.Records) == 1 && size > b.maxBytes {
			seal()
		}
	}
	seal()

	return batches
}
