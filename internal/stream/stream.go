// Package stream defines the abstract shard-iterator transport consumed
// by the coordinator and processor, so a concrete client such as
// kinesisstream.Source can be swapped for another shard-based transport
// without touching either.
package stream

import (
	"context"

	"github.com/cuemby/cdc-streams/pkg/types"
)

// Batch is the result of one Next call against an open iterator.
type Batch struct {
	Records      []*types.Record
	NextIterator string
	EndOfShard   bool
}

// Source is the external transport the coordinator and processor
// require: shard discovery and record iteration.
type Source interface {
	// ListShards enumerates the stream's shards, including parent/child
	// relationships and hash ranges.
	ListShards(ctx context.Context, streamID string) ([]types.Shard, error)

	// OpenIterator returns an iterator handle positioned at fromCheckpoint,
	// which is either types.TrimHorizon or a previously-returned sequence
	// number.
	OpenIterator(ctx context.Context, shardID, fromCheckpoint string) (string, error)

	// Next fetches the next ordered batch of records from iteratorHandle.
	Next(ctx context.Context, iteratorHandle string) (Batch, error)
}
