// Package coordstoretest provides an in-memory coordstore.Store fake for
// unit tests of the coordinator and processor packages, following the
// teacher's pattern of constructing units against fakes rather than a
// live backend (pkg/scheduler/scheduler_unit_test.go).
package coordstoretest

import (
	"context"
	"strings"
	"sync"

	"github.com/cuemby/cdc-streams/internal/coordstore"
)

// FakeStore is a mutex-guarded in-memory coordstore.Store.
type FakeStore struct {
	mu      sync.Mutex
	entries map[string]coordstore.Entry
}

// NewFakeStore constructs an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{entries: make(map[string]coordstore.Entry)}
}

func (f *FakeStore) Get(_ context.Context, key string) (*coordstore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, coordstore.ErrNotFound
	}
	copied := e
	return &copied, nil
}

func (f *FakeStore) PutIfAbsent(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; ok {
		return coordstore.ErrAlreadyExists
	}
	f.entries[key] = coordstore.Entry{Key: key, Value: value, Counter: 0}
	return nil
}

func (f *FakeStore) UpdateIf(_ context.Context, key string, value []byte, expectedCounter int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return coordstore.ErrNotFound
	}
	if e.Counter != expectedCounter {
		return coordstore.ErrConflict
	}
	f.entries[key] = coordstore.Entry{Key: key, Value: value, Counter: e.Counter + 1}
	return nil
}

func (f *FakeStore) DeleteIf(_ context.Context, key string, expectedCounter int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return coordstore.ErrNotFound
	}
	if e.Counter != expectedCounter {
		return coordstore.ErrConflict
	}
	delete(f.entries, key)
	return nil
}

func (f *FakeStore) Scan(_ context.Context, prefix string) ([]*coordstore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*coordstore.Entry
	for k, e := range f.entries {
		if strings.HasPrefix(k, prefix) {
			copied := e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *FakeStore) Close() error { return nil }
