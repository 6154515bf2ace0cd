package boltstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/internal/coordstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutIfAbsentThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))

	entry, err := s.Get(ctx, "shard-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), entry.Value)
	assert.Equal(t, int64(0), entry.Counter)
}

func TestPutIfAbsentConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))
	err := s.PutIfAbsent(ctx, "shard-1", []byte("v2"))
	assert.ErrorIs(t, err, coordstore.ErrAlreadyExists)
}

func TestUpdateIfIncrementsCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))

	require.NoError(t, s.UpdateIf(ctx, "shard-1", []byte("v2"), 0))

	entry, err := s.Get(ctx, "shard-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)
	assert.Equal(t, int64(1), entry.Counter)
}

func TestUpdateIfConflictOnStaleCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))
	require.NoError(t, s.UpdateIf(ctx, "shard-1", []byte("v2"), 0))

	err := s.UpdateIf(ctx, "shard-1", []byte("v3"), 0)
	assert.ErrorIs(t, err, coordstore.ErrConflict)
}

func TestDeleteIfRequiresMatchingCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "shard-1", []byte("v1")))

	err := s.DeleteIf(ctx, "shard-1", 5)
	assert.ErrorIs(t, err, coordstore.ErrConflict)

	require.NoError(t, s.DeleteIf(ctx, "shard-1", 0))
	_, err = s.Get(ctx, "shard-1")
	assert.ErrorIs(t, err, coordstore.ErrNotFound)
}

func TestScanReturnsPrefixMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutIfAbsent(ctx, "lease/s-0", []byte("a")))
	require.NoError(t, s.PutIfAbsent(ctx, "lease/s-1", []byte("b")))
	require.NoError(t, s.PutIfAbsent(ctx, "other/x", []byte("c")))

	entries, err := s.Scan(ctx, "lease/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
