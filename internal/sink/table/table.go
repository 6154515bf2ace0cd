// Package table is the materialized secondary-table sink, upserting or
// deleting rows via parameterized statements. Linear backoff per
// attempt (base * attempt) is used here, distinct from the exponential
// harness used elsewhere.
package table

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/cdc-streams/internal/cdctype"
	"github.com/cuemby/cdc-streams/internal/mapper"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/log"
	"github.com/cuemby/cdc-streams/pkg/metrics"
	"github.com/cuemby/cdc-streams/pkg/types"
)

const Name = "secondary-table"

const linearBackoffBase = time.Second

func init() {
	mapper.Register(Name, New)
}

// Sink upserts or deletes rows in a materialized secondary table.
type Sink struct {
	mapper.Base
	targetTable    string
	includeFields  []string
	partitionKeys  []string
	clusteringKeys []string
	maxRetries     int

	connString string
	pool       *pgxpool.Pool
}

// New constructs the secondary-table sink from its options.
func New(opts mapper.Options) (mapper.Mapper, error) {
	base, err := mapper.NewBase(Name, opts)
	if err != nil {
		return nil, err
	}

	targetTable, err := opts.String("target-table")
	if err != nil {
		return nil, err
	}
	includeFields, err := opts.StringList("include-fields")
	if err != nil {
		return nil, err
	}
	partitionKeys, err := opts.StringList("partition-keys")
	if err != nil {
		return nil, err
	}
	clusteringKeys := opts.StringListDefault("clustering-keys", nil)

	maxRetries, err := opts.Int("max-retries", 3)
	if err != nil {
		return nil, err
	}

	connString, err := opts.String("connection-string")
	if err != nil {
		return nil, err
	}

	return &Sink{
		Base:           base,
		targetTable:    targetTable,
		includeFields:  includeFields,
		partitionKeys:  partitionKeys,
		clusteringKeys: clusteringKeys,
		maxRetries:     maxRetries,
		connString:     connString,
	}, nil
}

// Initialize opens the connection pool at most once, even when every
// shard's processor goroutine calls it concurrently on this shared
// mapper instance.
func (s *Sink) Initialize(ctx context.Context) error {
	return s.InitOnce(func() error {
		pool, err := pgxpool.New(ctx, s.connString)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", s.targetTable, err)
		}
		s.pool = pool
		return nil
	})
}

func (s *Sink) HandleRecords(ctx context.Context, tb *types.TargetBatch) error {
	var failures []cdcerrors.ItemFailure

	for _, r := range tb.Records {
		if err := cdctype.DecodeRecord(r); err != nil {
			return err
		}
		if err := s.handleOne(ctx, r); err != nil {
			failures = append(failures, cdcerrors.ItemFailure{ID: r.SequenceNumber, Message: err.Error()})
			continue
		}
		metrics.RecordsDelivered.WithLabelValues(r.ShardID, s.MapperName).Inc()
	}

	if len(failures) == len(tb.Records) && len(tb.Records) > 0 {
		return cdcerrors.NewTotalFailure(len(tb.Records), failures)
	}
	if len(failures) > 0 {
		return cdcerrors.NewPartialFailure(len(tb.Records), len(failures), failures)
	}
	return nil
}

func (s *Sink) handleOne(ctx context.Context, r *types.Record) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			log.WithMapper(s.MapperName).Warn().
				Err(lastErr).
				Str("sequence_number", r.SequenceNumber).
				Int("attempt", attempt).
				Msg("retrying secondary-table write")
			time.Sleep(linearBackoffBase * time.Duration(attempt))
		}

		var err error
		switch r.Operation {
		case types.OpInsert, types.OpUpdate, types.OpReplicatedInsert, types.OpReplicatedUpdate:
			err = s.upsert(ctx, r)
		case types.OpDelete, types.OpTTL, types.OpReplicatedDelete:
			err = s.deleteRow(ctx, r)
		default:
			return &cdcerrors.ConfigError{Option: "operation", Reason: fmt.Sprintf("unhandled operation %q", r.Operation)}
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (s *Sink) upsert(ctx context.Context, r *types.Record) error {
	cols := s.includeFields
	values := make([]any, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for i, col := range cols {
		values = append(values, r.NewImage[col])
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}

	conflictCols := append(append([]string{}, s.partitionKeys...), s.clusteringKeys...)
	setClauses := make([]string, 0, len(cols))
	for _, col := range cols {
		if !contains(conflictCols, col) {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		s.targetTable,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflictCols, ", "),
		strings.Join(setClauses, ", "),
	)

	_, err := s.pool.Exec(ctx, query, values...)
	if err != nil {
		return &cdcerrors.TransientError{Cause: fmt.Errorf("upsert into %s: %w", s.targetTable, err)}
	}
	return nil
}

func (s *Sink) deleteRow(ctx context.Context, r *types.Record) error {
	keyCols := append(append([]string{}, s.partitionKeys...), s.clusteringKeys...)
	values := make([]any, 0, len(keyCols))
	clauses := make([]string, 0, len(keyCols))
	for i, col := range keyCols {
		values = append(values, r.OldImage[col])
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, i+1))
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", s.targetTable, strings.Join(clauses, " AND "))

	_, err := s.pool.Exec(ctx, query, values...)
	if err != nil {
		return &cdcerrors.TransientError{Cause: fmt.Errorf("delete from %s: %w", s.targetTable, err)}
	}
	return nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
