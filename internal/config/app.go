package config

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/cdc-streams/internal/coordinator"
	"github.com/cuemby/cdc-streams/internal/mapper"
	"github.com/cuemby/cdc-streams/internal/stream"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
)

// StreamIdentity resolves to either an explicit stream identifier or a
// (keyspace, table[, label]) triple the loader must enumerate against
// the transport.
type StreamIdentity struct {
	StreamID    string
	Keyspace    string
	Table       string
	StreamLabel string
}

// Resolve returns the concrete stream identifier: the explicit ID if
// given, otherwise it asks source to enumerate and match (keyspace,
// table, label).
func (si StreamIdentity) Resolve(ctx context.Context, source stream.Source) (string, error) {
	if si.StreamID != "" {
		return si.StreamID, nil
	}
	if si.Keyspace == "" || si.Table == "" {
		return "", &cdcerrors.ConfigError{Option: "stream", Reason: "neither stream-id nor (keyspace, table) were provided"}
	}
	resolver, ok := source.(StreamResolver)
	if !ok {
		return "", &cdcerrors.ConfigError{Option: "stream", Reason: "source does not support resolving (keyspace, table) to a stream id"}
	}
	return resolver.ResolveStreamID(ctx, si.Keyspace, si.Table, si.StreamLabel)
}

// StreamResolver is implemented by sources that can enumerate streams
// to translate (keyspace, table, label) into a stream identifier.
type StreamResolver interface {
	ResolveStreamID(ctx context.Context, keyspace, table, label string) (string, error)
}

// AppConfig is the fully resolved, typed configuration for one process:
// the stream to consume, the constructed mapper, the coordination store
// backend to use, and the coordinator's interval tunables.
type AppConfig struct {
	Stream             StreamIdentity
	Mapper             mapper.Mapper
	MapperName         string
	StoreBackend       string // "dynamodb" | "bolt" | "raft"
	StoreTableName     string
	StoreRegion        string
	CoordinatorCfg     coordinator.Config
	CheckpointEvery    time.Duration
	MaxRecordsPerBatch int
	MaxBatchBytes      int
}

// LoadApp reads path, resolves every section, and constructs the
// mapper. workerID, when non-empty, overrides the coordinator's
// generated worker identity (e.g. from a --worker-id flag or pod name).
func LoadApp(path, workerID string) (*AppConfig, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, workerID)
}

// FromDocument builds an AppConfig from an already-parsed Document.
func FromDocument(doc Document, workerID string) (*AppConfig, error) {
	streamSection := doc.Section("stream")
	streamID, err := streamSection.String("stream", "stream-id")
	if err != nil {
		streamID = "" // optional: (keyspace, table) may be supplied instead
	}
	identity := StreamIdentity{
		StreamID:    streamID,
		Keyspace:    streamSection.StringDefault("stream", "keyspace", ""),
		Table:       streamSection.StringDefault("stream", "table", ""),
		StreamLabel: streamSection.StringDefault("stream", "stream-label", ""),
	}

	connectorSection := doc.Section("connector")
	className, err := connectorSection.String("connector", "target-mapper")
	if err != nil {
		return nil, err
	}
	optionsSection := connectorSection.Section("options")
	m, err := mapper.Resolve(className, mapper.NewOptions(optionsSection.AsOptions(), "connector.options"))
	if err != nil {
		return nil, fmt.Errorf("resolve mapper %q: %w", className, err)
	}

	coordinatorSection := doc.Section("coordinator")
	storeBackend := coordinatorSection.StringDefault("coordinator", "store", "dynamodb")
	storeTableName := coordinatorSection.StringDefault("coordinator", "table-name", "")
	storeRegion := coordinatorSection.StringDefault("coordinator", "region", "")

	leaseSection := doc.Section("lease-management")
	streamIDForDefaults := identity.StreamID
	if streamIDForDefaults == "" {
		streamIDForDefaults = identity.Keyspace + "." + identity.Table
	}
	coordCfg := coordinator.DefaultConfig(streamIDForDefaults)
	if workerID != "" {
		coordCfg.WorkerID = workerID
	}
	if v, err := leaseSection.Duration("lease-management", "shard-sync-interval", coordCfg.ShardSyncInterval); err == nil {
		coordCfg.ShardSyncInterval = v
	}
	if v, err := leaseSection.Duration("lease-management", "lease-assignment-interval", coordCfg.LeaseAssignmentInterval); err == nil {
		coordCfg.LeaseAssignmentInterval = v
	}
	if v, err := leaseSection.Duration("lease-management", "renewal-interval", coordCfg.RenewalInterval); err == nil {
		coordCfg.RenewalInterval = v
	}
	if v, err := leaseSection.Duration("lease-management", "steal-after", coordCfg.StealAfter); err == nil {
		coordCfg.StealAfter = v
	}
	if v, err := leaseSection.Duration("lease-management", "auditor-interval", coordCfg.AuditorInterval); err == nil {
		coordCfg.AuditorInterval = v
	}
	if v, err := leaseSection.Int("lease-management", "auditor-confidence-threshold", coordCfg.AuditorConfidence); err == nil {
		coordCfg.AuditorConfidence = v
	}

	processorSection := doc.Section("processor")
	checkpointEvery, _ := processorSection.Duration("processor", "checkpoint-interval", 60*time.Second)
	maxRecords, _ := processorSection.Int("processor", "max-records-per-batch", 1000)
	maxBytes, _ := processorSection.Int("processor", "max-batch-bytes", 1<<20)

	return &AppConfig{
		Stream:             identity,
		Mapper:             m,
		MapperName:         className,
		StoreBackend:       storeBackend,
		StoreTableName:     storeTableName,
		StoreRegion:        storeRegion,
		CoordinatorCfg:     coordCfg,
		CheckpointEvery:    checkpointEvery,
		MaxRecordsPerBatch: maxRecords,
		MaxBatchBytes:      maxBytes,
	}, nil
}
