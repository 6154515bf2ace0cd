// Package cdcerrors collapses the consumer's error taxonomy into a small
// set of typed values, inspected with errors.As rather than switched on by
// exception class.
package cdcerrors

import (
	"errors"
	"fmt"
)

// ConfigError indicates a missing required option, an invalid enum value,
// or a mapper name that could not be resolved. Fatal at startup; never
// retried.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: option %q: %s", e.Option, e.Reason)
}

// UnsupportedType indicates a cell tag or metadata type a sink cannot
// handle. Fatal per record.
type UnsupportedType struct {
	Tag string
}

func (e *UnsupportedType) Error() string {
	return fmt.Sprintf("unsupported type: %s", e.Tag)
}

// TransientError wraps a retryable transport failure (throttling,
// temporary unavailability, timeout, HTTP 5xx).
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// ItemFailure is one per-item diagnostic in a PartialFailure/TotalFailure.
type ItemFailure struct {
	ID      string
	Code    string
	Message string
}

func (f ItemFailure) String() string {
	return fmt.Sprintf("id %s: %s: %s", f.ID, f.Code, f.Message)
}

// PartialFailure reports a batch where some items succeeded and some
// failed. It aborts the whole batch for checkpoint purposes: the
// checkpoint only advances once every item in a batch has succeeded.
type PartialFailure struct {
	Total    int
	Failed   int
	Messages []string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("partial failure: %d/%d items failed", e.Failed, e.Total)
}

// NewPartialFailure builds a PartialFailure, truncating diagnostics to
// the first 5 verbatim plus a "+N more" summary.
func NewPartialFailure(total, failed int, items []ItemFailure) *PartialFailure {
	return &PartialFailure{Total: total, Failed: failed, Messages: summarize(items)}
}

// TotalFailure reports a batch where every item failed.
type TotalFailure struct {
	Total    int
	Messages []string
}

func (e *TotalFailure) Error() string {
	return fmt.Sprintf("total failure: all %d items failed", e.Total)
}

// NewTotalFailure builds a TotalFailure with the same truncation rule as
// NewPartialFailure.
func NewTotalFailure(total int, items []ItemFailure) *TotalFailure {
	return &TotalFailure{Total: total, Messages: summarize(items)}
}

func summarize(items []ItemFailure) []string {
	const verbatimLimit = 5
	if len(items) <= verbatimLimit {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.String()
		}
		return out
	}
	out := make([]string, 0, verbatimLimit+1)
	for i := 0; i < verbatimLimit; i++ {
		out = append(out, items[i].String())
	}
	out = append(out, fmt.Sprintf("+%d more", len(items)-verbatimLimit))
	return out
}

// LeaseLost indicates a CAS conflict: another worker now owns the shard.
// The processor must transition to ABANDONED without checkpointing.
type LeaseLost struct {
	ShardID string
}

func (e *LeaseLost) Error() string {
	return fmt.Sprintf("lease lost for shard %s", e.ShardID)
}

// ShardEnded names the normal terminal signal for a shard: a final
// checkpoint is written, then the processor transitions to TERMINATED.
// The processor in this module signals shard end by writing the
// shard-end checkpoint and returning nil from Run; nothing in this
// module returns a ShardEnded.
type ShardEnded struct {
	ShardID string
}

func (e *ShardEnded) Error() string {
	return fmt.Sprintf("shard %s ended", e.ShardID)
}

// IsTransient reports whether err (or something it wraps) is a
// TransientError — the only member of the taxonomy the retry harness
// should retry on.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
