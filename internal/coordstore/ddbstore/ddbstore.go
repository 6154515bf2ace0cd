// Package ddbstore is a DynamoDB-backed coordstore.Store, for operators
// who run the coordinator fleet against a managed table instead of the
// embedded bbolt or Raft variants. Grounded on the KCL lease-table
// pattern in ns-nagaaravindb-kcl_max_lease_per_worker_expr's
// lease_manager.go: conditional PutItem/DeleteItem with
// attribute_not_exists / equality conditions standing in for CAS, and
// errors.As over *types.ConditionalCheckFailedException to detect a
// lost race.
package ddbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cuemby/cdc-streams/internal/coordstore"
)

const (
	attrKey     = "key"
	attrValue   = "value"
	attrCounter = "counter"
)

// API is the subset of the DynamoDB client ddbstore depends on.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store is a DynamoDB-backed coordstore.Store.
type Store struct {
	client API
	table  string
}

// Open loads the default AWS config and returns a Store bound to table.
// The table is assumed to already exist, with "key" as its partition key.
func Open(ctx context.Context, table string) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{client: dynamodb.NewFromConfig(awsCfg), table: table}, nil
}

// New wraps an existing DynamoDB API client, used by tests to inject a fake.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) Get(ctx context.Context, key string) (*coordstore.Entry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]ddbtypes.AttributeValue{attrKey: &ddbtypes.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %q: %w", key, err)
	}
	if out.Item == nil {
		return nil, coordstore.ErrNotFound
	}
	return itemToEntry(key, out.Item)
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]ddbtypes.AttributeValue{
			attrKey:     &ddbtypes.AttributeValueMemberS{Value: key},
			attrValue:   &ddbtypes.AttributeValueMemberB{Value: value},
			attrCounter: &ddbtypes.AttributeValueMemberN{Value: "0"},
		},
		ConditionExpression: aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
		},
	})
	if isConditionalFailure(err) {
		return coordstore.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("put item %q: %w", key, err)
	}
	return nil
}

func (s *Store) UpdateIf(ctx context.Context, key string, value []byte, expectedCounter int64) error {
	return s.putIf(ctx, key, value, expectedCounter, coordstore.ErrNotFound)
}

func (s *Store) putIf(ctx context.Context, key string, value []byte, expectedCounter int64, missingErr error) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]ddbtypes.AttributeValue{
			attrKey:     &ddbtypes.AttributeValueMemberS{Value: key},
			attrValue:   &ddbtypes.AttributeValueMemberB{Value: value},
			attrCounter: &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedCounter+1)},
		},
		ConditionExpression: aws.String("attribute_exists(#k) AND #c = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
			"#c": attrCounter,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":expected": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedCounter)},
		},
	})
	if isConditionalFailure(err) {
		if _, getErr := s.Get(ctx, key); errors.Is(getErr, coordstore.ErrNotFound) {
			return missingErr
		}
		return coordstore.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update item %q: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteIf(ctx context.Context, key string, expectedCounter int64) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]ddbtypes.AttributeValue{attrKey: &ddbtypes.AttributeValueMemberS{Value: key}},
		ConditionExpression: aws.String("attribute_exists(#k) AND #c = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#k": attrKey,
			"#c": attrCounter,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":expected": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedCounter)},
		},
	})
	if isConditionalFailure(err) {
		if _, getErr := s.Get(ctx, key); errors.Is(getErr, coordstore.ErrNotFound) {
			return coordstore.ErrNotFound
		}
		return coordstore.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("delete item %q: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]*coordstore.Entry, error) {
	var entries []*coordstore.Entry
	var startKey map[string]ddbtypes.AttributeValue

	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan table %q: %w", s.table, err)
		}

		for _, item := range out.Items {
			keyAttr, ok := item[attrKey].(*ddbtypes.AttributeValueMemberS)
			if !ok || len(keyAttr.Value) < len(prefix) || keyAttr.Value[:len(prefix)] != prefix {
				continue
			}
			entry, err := itemToEntry(keyAttr.Value, item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return entries, nil
}

func (s *Store) Close() error { return nil }

func itemToEntry(key string, item map[string]ddbtypes.AttributeValue) (*coordstore.Entry, error) {
	valueAttr, ok := item[attrValue].(*ddbtypes.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("item %q: missing %s attribute", key, attrValue)
	}
	counterAttr, ok := item[attrCounter].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("item %q: missing %s attribute", key, attrCounter)
	}
	var counter int64
	if _, err := fmt.Sscanf(counterAttr.Value, "%d", &counter); err != nil {
		return nil, fmt.Errorf("item %q: parse counter: %w", key, err)
	}
	return &coordstore.Entry{Key: key, Value: valueAttr.Value, Counter: counter}, nil
}

func isConditionalFailure(err error) bool {
	var condErr *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}
