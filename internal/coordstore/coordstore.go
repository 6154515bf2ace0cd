// Package coordstore defines the abstract conditional key-value store
// the coordinator uses for leases; the concrete implementations live in
// the boltstore, ddbstore and raftstore subpackages. The durable
// coordination store is an external collaborator, specified only at the
// interface.
package coordstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errors.New("coordstore: key not found")

// ErrAlreadyExists is returned by PutIfAbsent when key already exists.
var ErrAlreadyExists = errors.New("coordstore: key already exists")

// ErrConflict is returned by UpdateIf/DeleteIf when the expected counter
// does not match the stored value.
var ErrConflict = errors.New("coordstore: counter conflict")

// Entry is one coordination-store record: an opaque value and the CAS
// counter guarding it.
type Entry struct {
	Key     string
	Value   []byte
	Counter int64
}

// Store is the conditional key-value store contract consumed by
// internal/coordinator. Every mutation is either unconditional
// insert-if-absent or guarded by the caller's last-known counter.
type Store interface {
	// Get returns the current entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// PutIfAbsent inserts value under key with counter 0 iff key does
	// not already exist; otherwise returns ErrAlreadyExists.
	PutIfAbsent(ctx context.Context, key string, value []byte) error

	// UpdateIf writes value under key iff the stored counter equals
	// expectedCounter, then increments it. Returns ErrConflict on
	// mismatch.
	UpdateIf(ctx context.Context, key string, value []byte, expectedCounter int64) error

	// DeleteIf removes key iff the stored counter equals
	// expectedCounter. Returns ErrConflict on mismatch.
	DeleteIf(ctx context.Context, key string, expectedCounter int64) error

	// Scan returns every entry whose key has the given prefix.
	Scan(ctx context.Context, prefix string) ([]*Entry, error)

	// Close releases any resources held by the store.
	Close() error
}
