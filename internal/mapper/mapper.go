// Package mapper defines the target-mapper contract shared by every
// sink: this file is the contract, the internal/sink/* packages are
// the implementations.
package mapper

import (
	"context"

	"github.com/cuemby/cdc-streams/pkg/types"
)

// Mapper is the capability set every sink implements: construct from
// config, initialize lazily, filter, and deliver. Sinks are selected by
// name at runtime through the factory registry rather than a class
// hierarchy, and share common behavior via composition with Base.
type Mapper interface {
	// Initialize opens any long-lived clients. Called once before the
	// first batch; must be idempotent.
	Initialize(ctx context.Context) error

	// FilterRecords applies the configured filter expression, if any,
	// returning the subset of batch that should be delivered.
	FilterRecords(batch []*types.Record) []*types.Record

	// HandleRecords delivers batch to the sink. Returns
	// *cdcerrors.PartialFailure, *cdcerrors.TotalFailure, or
	// *cdcerrors.ConfigError on recognized failure, any other error is
	// fatal to the shard.
	HandleRecords(ctx context.Context, batch *types.TargetBatch) error

	// Name identifies the mapper for logging and metrics labels.
	Name() string
}
