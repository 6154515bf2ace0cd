package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/internal/coordinator"
	"github.com/cuemby/cdc-streams/internal/coordstore/coordstoretest"
	"github.com/cuemby/cdc-streams/internal/stream"
	"github.com/cuemby/cdc-streams/pkg/types"
)

type fakeSource struct {
	shards []types.Shard
}

func (f *fakeSource) ListShards(context.Context, string) ([]types.Shard, error) {
	return f.shards, nil
}

func (f *fakeSource) OpenIterator(context.Context, string, string) (string, error) {
	return "iter-0", nil
}

func (f *fakeSource) Next(context.Context, string) (stream.Batch, error) {
	return stream.Batch{EndOfShard: true}, nil
}

type fakeMapper struct{}

func (fakeMapper) Initialize(context.Context) error                        { return nil }
func (fakeMapper) FilterRecords(records []*types.Record) []*types.Record   { return records }
func (fakeMapper) HandleRecords(context.Context, *types.TargetBatch) error { return nil }
func (fakeMapper) Name() string                                           { return "fake" }

func TestSchedulerSpawnsProcessorForNewlyOwnedShard(t *testing.T) {
	store := coordstoretest.NewFakeStore()
	source := &fakeSource{shards: []types.Shard{{ShardID: "s-1"}}}
	cfg := coordinator.DefaultConfig("stream-1")
	cfg.ShardSyncInterval = 10 * time.Millisecond
	cfg.LeaseAssignmentInterval = 10 * time.Millisecond
	cfg.RenewalInterval = time.Hour
	cfg.AuditorInterval = time.Hour
	coord := coordinator.New(cfg, source, store)

	sched := New(coord, source, "stream-1", fakeMapper{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		entry, err := store.Get(context.Background(), "lease/s-1")
		if err != nil {
			return false
		}
		var lease types.Lease
		if err := json.Unmarshal(entry.Value, &lease); err != nil {
			return false
		}
		return lease.Checkpoint == types.ShardEndSentinel
	}, 2*time.Second, 10*time.Millisecond, "shard should drain to SHARD_END")

	sched.Shutdown(context.Background())
}
