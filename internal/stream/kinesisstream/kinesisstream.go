// Package kinesisstream is a Kinesis Data Streams-backed stream.Source,
// grounded on the client-construction and ListShards/GetShardIterator/
// GetRecords calls in ns-nagaaravindb-kcl_max_lease_per_worker_expr's
// producer.go and k8s/test/test-consumer/lease_manager.go (the pack's
// only real Kinesis usage).
package kinesisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/cuemby/cdc-streams/internal/stream"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/types"
)

// API is the subset of the Kinesis client kinesisstream depends on.
type API interface {
	ListShards(ctx context.Context, params *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
	GetShardIterator(ctx context.Context, params *kinesis.GetShardIteratorInput, optFns ...func(*kinesis.Options)) (*kinesis.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, params *kinesis.GetRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.GetRecordsOutput, error)
}

// Source adapts a Kinesis stream to stream.Source.
type Source struct {
	client API
}

// Open loads the default AWS config and returns a Source.
func Open(ctx context.Context) (*Source, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Source{client: kinesis.NewFromConfig(awsCfg)}, nil
}

// New wraps an existing Kinesis API client, used by tests to inject a fake.
func New(client API) *Source {
	return &Source{client: client}
}

func (s *Source) ListShards(ctx context.Context, streamID string) ([]types.Shard, error) {
	var shards []types.Shard
	var nextToken *string

	for {
		input := &kinesis.ListShardsInput{NextToken: nextToken}
		if nextToken == nil {
			input.StreamName = aws.String(streamID)
		}

		out, err := s.client.ListShards(ctx, input)
		if err != nil {
			return nil, &cdcerrors.TransientError{Cause: fmt.Errorf("list shards: %w", err)}
		}

		for _, sh := range out.Shards {
			shards = append(shards, toShard(sh))
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	return shards, nil
}

func toShard(sh kinesistypes.Shard) types.Shard {
	var parents []string
	if sh.ParentShardId != nil {
		parents = append(parents, *sh.ParentShardId)
	}
	if sh.AdjacentParentShardId != nil {
		parents = append(parents, *sh.AdjacentParentShardId)
	}

	var hr types.HashRange
	if sh.HashKeyRange != nil {
		hr = types.HashRange{
			Start: aws.ToString(sh.HashKeyRange.StartingHashKey),
			End:   aws.ToString(sh.HashKeyRange.EndingHashKey),
		}
	}

	return types.Shard{
		ShardID:        aws.ToString(sh.ShardId),
		ParentShardIDs: parents,
		HashRange:      hr,
	}
}

func (s *Source) OpenIterator(ctx context.Context, shardID, fromCheckpoint string) (string, error) {
	input := &kinesis.GetShardIteratorInput{
		ShardId: aws.String(shardID),
	}

	if fromCheckpoint == types.TrimHorizon || fromCheckpoint == "" {
		input.ShardIteratorType = kinesistypes.ShardIteratorTypeTrimHorizon
	} else {
		input.ShardIteratorType = kinesistypes.ShardIteratorTypeAfterSequenceNumber
		input.StartingSequenceNumber = aws.String(fromCheckpoint)
	}

	out, err := s.client.GetShardIterator(ctx, input)
	if err != nil {
		return "", &cdcerrors.TransientError{Cause: fmt.Errorf("get shard iterator for %q: %w", shardID, err)}
	}
	return aws.ToString(out.ShardIterator), nil
}

func (s *Source) Next(ctx context.Context, iteratorHandle string) (stream.Batch, error) {
	out, err := s.client.GetRecords(ctx, &kinesis.GetRecordsInput{
		ShardIterator: aws.String(iteratorHandle),
	})
	if err != nil {
		return stream.Batch{}, &cdcerrors.TransientError{Cause: fmt.Errorf("get records: %w", err)}
	}

	records := make([]*types.Record, 0, len(out.Records))
	for _, kr := range out.Records {
		rec, err := decodeWireRecord(kr)
		if err != nil {
			return stream.Batch{}, err
		}
		records = append(records, rec)
	}

	return stream.Batch{
		Records:      records,
		NextIterator: aws.ToString(out.NextShardIterator),
		EndOfShard:   out.NextShardIterator == nil,
	}, nil
}

// wireRecord is the JSON envelope carried in each Kinesis record's
// payload: a change-data-capture event plus its typed before/after cell
// images.
type wireRecord struct {
	Origin   types.Origin   `json:"origin"`
	NewImage types.RawImage `json:"new_image,omitempty"`
	OldImage types.RawImage `json:"old_image,omitempty"`
}

func decodeWireRecord(kr kinesistypes.Record) (*types.Record, error) {
	var wr wireRecord
	if err := json.Unmarshal(kr.Data, &wr); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", aws.ToString(kr.SequenceNumber), err)
	}

	arrival := time.Now()
	if kr.ApproximateArrivalTimestamp != nil {
		arrival = *kr.ApproximateArrivalTimestamp
	}

	return &types.Record{
		SequenceNumber: aws.ToString(kr.SequenceNumber),
		ArrivalTime:    arrival,
		Origin:         wr.Origin,
		NewImageRaw:    wr.NewImage,
		OldImageRaw:    wr.OldImage,
	}, nil
}
