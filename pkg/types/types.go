package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Origin identifies who produced a change event.
type Origin string

const (
	OriginUser        Origin = "USER"
	OriginReplication Origin = "REPLICATION"
	OriginTTL         Origin = "TTL"
)

// Operation is the classified change type for a record, derived from
// (origin, has_new, has_old) per the operation classification table.
type Operation string

const (
	OpInsert           Operation = "INSERT"
	OpUpdate           Operation = "UPDATE"
	OpDelete           Operation = "DELETE"
	OpTTL              Operation = "TTL"
	OpReplicatedInsert Operation = "REPLICATED_INSERT"
	OpReplicatedUpdate Operation = "REPLICATED_UPDATE"
	OpReplicatedDelete Operation = "REPLICATED_DELETE"
	OpUnknown          Operation = "UNKNOWN"
)

// CellTag is the CQL-like wire type tag carried by a typed cell.
type CellTag string

const (
	TagText      CellTag = "TEXT"
	TagAscii     CellTag = "ASCII"
	TagInet      CellTag = "INET"
	TagDate      CellTag = "DATE"
	TagInt       CellTag = "INT"
	TagSmallint  CellTag = "SMALLINT"
	TagTinyint   CellTag = "TINYINT"
	TagBigint    CellTag = "BIGINT"
	TagCounter   CellTag = "COUNTER"
	TagFloat     CellTag = "FLOAT"
	TagDecimal   CellTag = "DECIMAL"
	TagDouble    CellTag = "DOUBLE"
	TagBoolean   CellTag = "BOOLEAN"
	TagTimestamp CellTag = "TIMESTAMP"
	TagBlob      CellTag = "BLOB"
)

// Cell is a tagged raw value as received from the CDC transport, before
// decoding to a native Go value by internal/cdctype.
type Cell struct {
	Tag   CellTag
	Value any
}

// Image is a decoded row snapshot: column name to native value.
type Image map[string]any

// RawImage is an undecoded row snapshot: column name to typed cell.
type RawImage map[string]Cell

// Record is one change event read from a shard.
type Record struct {
	SequenceNumber string
	ArrivalTime    time.Time
	Origin         Origin
	NewImageRaw    RawImage
	OldImageRaw    RawImage
	NewImage       Image
	OldImage       Image
	Operation      Operation
	ShardID        string
}

// HasNew reports whether the record carries a new-image.
func (r *Record) HasNew() bool {
	return r.NewImageRaw != nil || r.NewImage != nil
}

// HasOld reports whether the record carries an old-image.
func (r *Record) HasOld() bool {
	return r.OldImageRaw != nil || r.OldImage != nil
}

// HashRange is the [Start, End) token range a shard owns.
type HashRange struct {
	Start string
	End   string
}

// Shard is a logical partition of the CDC log.
type Shard struct {
	ShardID        string
	ParentShardIDs []string
	HashRange      HashRange
}

// TrimHorizon is the sentinel checkpoint meaning "no progress yet".
const TrimHorizon = "TRIM_HORIZON"

// ShardEndSentinel is the sentinel checkpoint written once a shard's
// final batch has been processed.
const ShardEndSentinel = "SHARD_END"

// Lease is the coordination record granting one worker exclusive rights
// to process one shard.
type Lease struct {
	ShardID                      string
	Owner                        string // empty string means unowned
	Counter                      int64
	Checkpoint                   string
	OwnerSwitchesSinceCheckpoint int64
	ParentShardIDs               []string
	LastRenewalTime              time.Time
}

// Owned reports whether the lease is currently claimed by anyone.
func (l *Lease) Owned() bool {
	return l.Owner != ""
}

// AtShardEnd reports whether the lease's checkpoint is the shard-end
// sentinel, meaning the shard has been fully drained.
func (l *Lease) AtShardEnd() bool {
	return l.Checkpoint == ShardEndSentinel
}

// Worker is a process holding zero or more leases.
type Worker struct {
	WorkerID string
	LeaseSet map[string]*Lease
}

// TargetBatch is a mapper-scoped collection of decoded records bounded
// jointly by a count cap and an encoded-size cap.
type TargetBatch struct {
	Records  []*Record
	ByteSize int
}

// FirstSequence returns the sequence number of the first record, or the
// empty string for an empty batch.
func (b *TargetBatch) FirstSequence() string {
	if len(b.Records) == 0 {
		return ""
	}
	return b.Records[0].SequenceNumber
}

// LastSequence returns the sequence number of the last record, or the
// empty string for an empty batch.
func (b *TargetBatch) LastSequence() string {
	if len(b.Records) == 0 {
		return ""
	}
	return b.Records[len(b.Records)-1].SequenceNumber
}

// DecimalValue is an alias for shopspring/decimal.Decimal so callers
// outside internal/cdctype don't need to import it directly just to
// type-switch on a decoded cell value.
type DecimalValue = decimal.Decimal
