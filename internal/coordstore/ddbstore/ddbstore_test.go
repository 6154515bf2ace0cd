package ddbstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/internal/coordstore"
)

// fakeClient is a minimal in-memory stand-in for the DynamoDB API,
// enforcing attribute_not_exists / equality conditions the same way
// the real table would for the handful of expressions ddbstore issues.
type fakeClient struct {
	items map[string]map[string]ddbtypes.AttributeValue
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]ddbtypes.AttributeValue)}
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key[attrKey].(*ddbtypes.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := in.Item[attrKey].(*ddbtypes.AttributeValueMemberS).Value
	existing, exists := f.items[key]

	if in.ConditionExpression != nil {
		switch *in.ConditionExpression {
		case "attribute_not_exists(#k)":
			if exists {
				return nil, &ddbtypes.ConditionalCheckFailedException{}
			}
		case "attribute_exists(#k) AND #c = :expected":
			if !exists {
				return nil, &ddbtypes.ConditionalCheckFailedException{}
			}
			expected := in.ExpressionAttributeValues[":expected"].(*ddbtypes.AttributeValueMemberN).Value
			got := existing[attrCounter].(*ddbtypes.AttributeValueMemberN).Value
			if expected != got {
				return nil, &ddbtypes.ConditionalCheckFailedException{}
			}
		}
	}

	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := in.Key[attrKey].(*ddbtypes.AttributeValueMemberS).Value
	existing, exists := f.items[key]

	if in.ConditionExpression != nil && *in.ConditionExpression == "attribute_exists(#k) AND #c = :expected" {
		if !exists {
			return nil, &ddbtypes.ConditionalCheckFailedException{}
		}
		expected := in.ExpressionAttributeValues[":expected"].(*ddbtypes.AttributeValueMemberN).Value
		got := existing[attrCounter].(*ddbtypes.AttributeValueMemberN).Value
		if expected != got {
			return nil, &ddbtypes.ConditionalCheckFailedException{}
		}
	}

	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	items := make([]map[string]ddbtypes.AttributeValue, 0, len(f.items))
	for _, item := range f.items {
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func newTestStore() (*Store, *fakeClient) {
	client := newFakeClient()
	return New(client, "leases"), client
}

func TestPutIfAbsentThenGet(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))

	entry, err := s.Get(ctx, "shard-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), entry.Value)
	assert.Equal(t, int64(0), entry.Counter)
}

func TestPutIfAbsentConflict(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))
	err := s.PutIfAbsent(ctx, "shard-1", []byte("v2"))
	assert.ErrorIs(t, err, coordstore.ErrAlreadyExists)
}

func TestUpdateIfIncrementsCounter(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))

	require.NoError(t, s.UpdateIf(ctx, "shard-1", []byte("v2"), 0))

	entry, err := s.Get(ctx, "shard-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)
	assert.Equal(t, int64(1), entry.Counter)
}

func TestUpdateIfConflictOnStaleCounter(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))
	require.NoError(t, s.UpdateIf(ctx, "shard-1", []byte("v2"), 0))

	err := s.UpdateIf(ctx, "shard-1", []byte("v3"), 0)
	assert.ErrorIs(t, err, coordstore.ErrConflict)
}

func TestUpdateIfMissingKey(t *testing.T) {
	s, _ := newTestStore()
	err := s.UpdateIf(context.Background(), "missing", []byte("v"), 0)
	assert.ErrorIs(t, err, coordstore.ErrNotFound)
}

func TestDeleteIfRequiresMatchingCounter(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))

	err := s.DeleteIf(ctx, "shard-1", 5)
	assert.ErrorIs(t, err, coordstore.ErrConflict)

	require.NoError(t, s.DeleteIf(ctx, "shard-1", 0))
	_, err = s.Get(ctx, "shard-1")
	assert.ErrorIs(t, err, coordstore.ErrNotFound)
}

func TestScanReturnsPrefixMatches(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "lease/s-0", []byte("a")))
	require.NoError(t, s.PutIfAbsent(ctx, "lease/s-1", []byte("b")))
	require.NoError(t, s.PutIfAbsent(ctx, "other/x", []byte("c")))

	entries, err := s.Scan(ctx, "lease/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
