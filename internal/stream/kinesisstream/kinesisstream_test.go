package kinesisstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/pkg/types"
)

type fakeAPI struct {
	shards       []kinesistypes.Shard
	iterator     string
	records      []kinesistypes.Record
	nextIterator *string
}

func (f *fakeAPI) ListShards(_ context.Context, _ *kinesis.ListShardsInput, _ ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error) {
	return &kinesis.ListShardsOutput{Shards: f.shards}, nil
}

func (f *fakeAPI) GetShardIterator(_ context.Context, in *kinesis.GetShardIteratorInput, _ ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error) {
	return &kinesis.GetShardIteratorOutput{ShardIterator: aws.String(f.iterator)}, nil
}

func (f *fakeAPI) GetRecords(_ context.Context, _ *kinesis.GetRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error) {
	return &kinesis.GetRecordsOutput{Records: f.records, NextShardIterator: f.nextIterator}, nil
}

func TestListShardsMapsParentsAndHashRange(t *testing.T) {
	f := &fakeAPI{shards: []kinesistypes.Shard{
		{
			ShardId:       aws.String("shard-1"),
			ParentShardId: aws.String("shard-0"),
			HashKeyRange: &kinesistypes.HashKeyRange{
				StartingHashKey: aws.String("0"),
				EndingHashKey:   aws.String("100"),
			},
		},
	}}
	s := New(f)

	shards, err := s.ListShards(context.Background(), "my-stream")
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Equal(t, "shard-1", shards[0].ShardID)
	assert.Equal(t, []string{"shard-0"}, shards[0].ParentShardIDs)
	assert.Equal(t, types.HashRange{Start: "0", End: "100"}, shards[0].HashRange)
}

func TestOpenIteratorFromTrimHorizon(t *testing.T) {
	f := &fakeAPI{iterator: "it-1"}
	s := New(f)

	it, err := s.OpenIterator(context.Background(), "shard-1", types.TrimHorizon)
	require.NoError(t, err)
	assert.Equal(t, "it-1", it)
}

func TestNextDecodesRecordsAndSignalsEndOfShard(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"origin":    "USER",
		"new_image": map[string]any{"id": map[string]any{"Tag": "TEXT", "Value": "a"}},
	})
	require.NoError(t, err)

	arrival := time.Now()
	f := &fakeAPI{
		records: []kinesistypes.Record{
			{
				SequenceNumber:              aws.String("seq-1"),
				Data:                        payload,
				ApproximateArrivalTimestamp: &arrival,
			},
		},
		nextIterator: nil,
	}
	s := New(f)

	batch, err := s.Next(context.Background(), "it-1")
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "seq-1", batch.Records[0].SequenceNumber)
	assert.Equal(t, types.OriginUser, batch.Records[0].Origin)
	assert.True(t, batch.EndOfShard)
}
