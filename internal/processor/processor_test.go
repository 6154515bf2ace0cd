package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/internal/stream"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/types"
)

type fakeSource struct {
	mu      sync.Mutex
	batches []stream.Batch
	next    int
}

func (f *fakeSource) ListShards(context.Context, string) ([]types.Shard, error) { return nil, nil }

func (f *fakeSource) OpenIterator(context.Context, string, string) (string, error) {
	return "iter-0", nil
}

func (f *fakeSource) Next(context.Context, string) (stream.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.batches) {
		return stream.Batch{NextIterator: "iter-end"}, nil
	}
	b := f.batches[f.next]
	f.next++
	return b, nil
}

type fakeCheckpointer struct {
	mu          sync.Mutex
	checkpoints []string
	loseLease   bool
}

func (f *fakeCheckpointer) AdvanceCheckpoint(_ context.Context, _ string, checkpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseLease {
		return &cdcerrors.LeaseLost{ShardID: "s-1"}
	}
	f.checkpoints = append(f.checkpoints, checkpoint)
	return nil
}

type fakeMapper struct {
	handled [][]*types.Record
}

func (f *fakeMapper) Initialize(context.Context) error { return nil }

func (f *fakeMapper) FilterRecords(records []*types.Record) []*types.Record { return records }

func (f *fakeMapper) HandleRecords(_ context.Context, tb *types.TargetBatch) error {
	f.handled = append(f.handled, tb.Records)
	return nil
}

func (f *fakeMapper) Name() string { return "fake" }

type failingMapper struct {
	err error
}

func (f *failingMapper) Initialize(context.Context) error { return nil }

func (f *failingMapper) FilterRecords(records []*types.Record) []*types.Record { return records }

func (f *failingMapper) HandleRecords(context.Context, *types.TargetBatch) error { return f.err }

func (f *failingMapper) Name() string { return "failing" }

func insertRecord(seq string) *types.Record {
	return &types.Record{
		SequenceNumber: seq,
		Origin:         types.OriginUser,
		NewImageRaw:    types.RawImage{"id": {Tag: types.TagText, Value: seq}},
	}
}

func TestRunDeliversAndCheckpointsThenTerminatesOnShardEnd(t *testing.T) {
	source := &fakeSource{batches: []stream.Batch{
		{Records: []*types.Record{insertRecord("1"), insertRecord("2")}, NextIterator: "iter-1"},
		{Records: nil, NextIterator: "iter-2", EndOfShard: true},
	}}
	cp := &fakeCheckpointer{}
	m := &fakeMapper{}
	p := New(source, "stream-1", "shard-1", cp, m)

	err := p.Run(context.Background(), types.TrimHorizon)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, p.State())
	require.Len(t, m.handled, 1)
	assert.Len(t, m.handled[0], 2)
	require.NotEmpty(t, cp.checkpoints)
	assert.Equal(t, types.ShardEndSentinel, cp.checkpoints[len(cp.checkpoints)-1])
}

func TestRunDropsUnknownOperationRecords(t *testing.T) {
	unknown := &types.Record{SequenceNumber: "1", Origin: types.OriginUser}
	source := &fakeSource{batches: []stream.Batch{
		{Records: []*types.Record{unknown}, NextIterator: "iter-1", EndOfShard: true},
	}}
	cp := &fakeCheckpointer{}
	m := &fakeMapper{}
	p := New(source, "stream-1", "shard-1", cp, m)

	err := p.Run(context.Background(), types.TrimHorizon)
	require.NoError(t, err)
	assert.Empty(t, m.handled)
}

func TestRunAbandonsOnLeaseLost(t *testing.T) {
	source := &fakeSource{batches: []stream.Batch{
		{Records: []*types.Record{insertRecord("1")}, NextIterator: "iter-1"},
	}}
	cp := &fakeCheckpointer{loseLease: true}
	m := &fakeMapper{}
	p := New(source, "stream-1", "shard-1", cp, m)

	err := p.Run(context.Background(), types.TrimHorizon)
	var lost *cdcerrors.LeaseLost
	require.ErrorAs(t, err, &lost)
	assert.Equal(t, StateAbandoned, p.State())
}

func TestRunAbandonsOnConfigError(t *testing.T) {
	source := &fakeSource{batches: []stream.Batch{
		{Records: []*types.Record{insertRecord("1")}, NextIterator: "iter-1"},
	}}
	cp := &fakeCheckpointer{}
	m := &failingMapper{err: &cdcerrors.ConfigError{Option: "bucket", Reason: "missing"}}
	p := New(source, "stream-1", "shard-1", cp, m)

	err := p.Run(context.Background(), types.TrimHorizon)
	var cfg *cdcerrors.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, StateAbandoned, p.State())
}

func TestRunAbandonsOnUnsupportedType(t *testing.T) {
	source := &fakeSource{batches: []stream.Batch{
		{Records: []*types.Record{insertRecord("1")}, NextIterator: "iter-1"},
	}}
	cp := &fakeCheckpointer{}
	m := &failingMapper{err: &cdcerrors.UnsupportedType{Tag: "weird"}}
	p := New(source, "stream-1", "shard-1", cp, m)

	err := p.Run(context.Background(), types.TrimHorizon)
	var unsupported *cdcerrors.UnsupportedType
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, StateAbandoned, p.State())
}

func TestRunQuiescesOnRequest(t *testing.T) {
	source := &fakeSource{}
	cp := &fakeCheckpointer{}
	m := &fakeMapper{}
	p := New(source, "stream-1", "shard-1", cp, m)
	p.Quiesce()

	err := p.Run(context.Background(), types.TrimHorizon)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, p.State())
}

func TestDoneClosesAfterRun(t *testing.T) {
	source := &fakeSource{batches: []stream.Batch{{EndOfShard: true}}}
	cp := &fakeCheckpointer{}
	m := &fakeMapper{}
	p := New(source, "stream-1", "shard-1", cp, m)

	go func() { _ = p.Run(context.Background(), types.TrimHorizon) }()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not terminate")
	}
}
