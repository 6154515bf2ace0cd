// Package boltstore is a local, single-process reference implementation
// of coordstore.Store backed by go.etcd.io/bbolt, grounded on the
// teacher's pkg/storage/boltdb.go bucket-per-namespace + JSON-marshal
// style. bbolt serializes writers per-transaction, which is what makes
// the read-check-write CAS here exact without extra locking.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/cdc-streams/internal/coordstore"
)

var bucketLeases = []byte("leases")

// record is the on-disk representation of one coordstore.Entry.
type record struct {
	Value   []byte `json:"value"`
	Counter int64  `json:"counter"`
}

// Store is a bbolt-backed coordstore.Store.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at <dataDir>/cdc-streams.db and
// ensures the leases bucket exists.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "cdc-streams.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLeases)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create leases bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, key string) (*coordstore.Entry, error) {
	var entry *coordstore.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLeases).Get([]byte(key))
		if data == nil {
			return coordstore.ErrNotFound
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal entry %q: %w", key, err)
		}
		entry = &coordstore.Entry{Key: key, Value: rec.Value, Counter: rec.Counter}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) PutIfAbsent(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		if b.Get([]byte(key)) != nil {
			return coordstore.ErrAlreadyExists
		}
		data, err := json.Marshal(record{Value: value, Counter: 0})
		if err != nil {
			return fmt.Errorf("marshal entry %q: %w", key, err)
		}
		return b.Put([]byte(key), data)
	})
}

func (s *Store) UpdateIf(_ context.Context, key string, value []byte, expectedCounter int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		data := b.Get([]byte(key))
		if data == nil {
			return coordstore.ErrNotFound
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal entry %q: %w", key, err)
		}
		if rec.Counter != expectedCounter {
			return coordstore.ErrConflict
		}
		next, err := json.Marshal(record{Value: value, Counter: rec.Counter + 1})
		if err != nil {
			return fmt.Errorf("marshal entry %q: %w", key, err)
		}
		return b.Put([]byte(key), next)
	})
}

func (s *Store) DeleteIf(_ context.Context, key string, expectedCounter int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		data := b.Get([]byte(key))
		if data == nil {
			return coordstore.ErrNotFound
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal entry %q: %w", key, err)
		}
		if rec.Counter != expectedCounter {
			return coordstore.ErrConflict
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) Scan(_ context.Context, prefix string) ([]*coordstore.Entry, error) {
	var entries []*coordstore.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLeases).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal entry %q: %w", k, err)
			}
			entries = append(entries, &coordstore.Entry{Key: string(k), Value: rec.Value, Counter: rec.Counter})
		}
		return nil
	})
	return entries, err
}

