package cdctype

import "github.com/cuemby/cdc-streams/pkg/types"

// Classify derives the operation type from (origin, has_new, has_old).
// TTL origin always classifies as TTL regardless of image presence —
// see DESIGN.md's Open Question decision on TTL+REPLICATION
// co-occurrence.
func Classify(origin types.Origin, hasNew, hasOld bool) types.Operation {
	if origin == types.OriginTTL {
		return types.OpTTL
	}

	switch origin {
	case types.OriginUser:
		switch {
		case hasNew && !hasOld:
			return types.OpInsert
		case !hasNew && hasOld:
			return types.OpDelete
		case hasNew && hasOld:
			return types.OpUpdate
		}
	case types.OriginReplication:
		switch {
		case hasNew && !hasOld:
			return types.OpReplicatedInsert
		case !hasNew && hasOld:
			return types.OpReplicatedDelete
		case hasNew && hasOld:
			return types.OpReplicatedUpdate
		}
	}
	return types.OpUnknown
}

// ClassifyRecord sets r.Operation from r's origin and image presence,
// and returns it.
func ClassifyRecord(r *types.Record) types.Operation {
	r.Operation = Classify(r.Origin, r.HasNew(), r.HasOld())
	return r.Operation
}
