package raftstore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/cdc-streams/internal/coordstore"
)

// Command is a state-change operation replicated through the Raft log:
// an Op tag plus its payload, dispatched to the three coordstore.Store
// mutations by the FSM below.
type Command struct {
	Op              string `json:"op"`
	Key             string `json:"key"`
	Value           []byte `json:"value,omitempty"`
	ExpectedCounter int64  `json:"expected_counter,omitempty"`
}

const (
	opPutIfAbsent = "put_if_absent"
	opUpdateIf    = "update_if"
	opDeleteIf    = "delete_if"
)

// fsm applies replicated Command values against an in-memory entry map.
type fsm struct {
	mu      sync.RWMutex
	entries map[string]coordstore.Entry
}

func newFSM() *fsm {
	return &fsm{entries: make(map[string]coordstore.Entry)}
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opPutIfAbsent:
		if _, exists := f.entries[cmd.Key]; exists {
			return coordstore.ErrAlreadyExists
		}
		f.entries[cmd.Key] = coordstore.Entry{Key: cmd.Key, Value: cmd.Value, Counter: 0}
		return nil

	case opUpdateIf:
		e, ok := f.entries[cmd.Key]
		if !ok {
			return coordstore.ErrNotFound
		}
		if e.Counter != cmd.ExpectedCounter {
			return coordstore.ErrConflict
		}
		f.entries[cmd.Key] = coordstore.Entry{Key: cmd.Key, Value: cmd.Value, Counter: e.Counter + 1}
		return nil

	case opDeleteIf:
		e, ok := f.entries[cmd.Key]
		if !ok {
			return coordstore.ErrNotFound
		}
		if e.Counter != cmd.ExpectedCounter {
			return coordstore.ErrConflict
		}
		delete(f.entries, cmd.Key)
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

func (f *fsm) get(key string) (*coordstore.Entry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	copied := e
	return &copied, true
}

func (f *fsm) scan(prefix string) []*coordstore.Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*coordstore.Entry
	for k, e := range f.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			copied := e
			out = append(out, &copied)
		}
	}
	return out
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries := make(map[string]coordstore.Entry, len(f.entries))
	for k, v := range f.entries {
		entries[k] = v
	}
	return &fsmSnapshot{entries: entries}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var entries map[string]coordstore.Entry
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
	return nil
}

type fsmSnapshot struct {
	entries map[string]coordstore.Entry
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		return json.NewEncoder(sink).Encode(s.entries)
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
