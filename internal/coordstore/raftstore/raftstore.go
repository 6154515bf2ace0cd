// Package raftstore is a replicated implementation of coordstore.Store
// for operators who run the coordinator itself as a small cluster
// instead of relying on an external store such as DynamoDB. Bootstrap
// wires a single Raft node over bbolt log/stable stores and a file
// snapshot store in the data directory; multi-node join, TLS, and client
// RPC are not provided.
package raftstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/cdc-streams/internal/coordstore"
)

// Config configures a single-node raftstore.Store.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Store is a Raft-replicated coordstore.Store.
type Store struct {
	raft *raft.Raft
	fsm  *fsm
}

// Bootstrap creates a new single-node Raft cluster backed by bbolt log
// and stable stores.
func Bootstrap(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	f := newFSM()
	r, err := raft.NewRaft(raftConfig, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft instance: %w", err)
	}

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("bootstrap cluster: %w", err)
	}

	return &Store{raft: r, fsm: f}, nil
}

func (s *Store) apply(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	future := s.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply raft command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (*coordstore.Entry, error) {
	e, ok := s.fsm.get(key)
	if !ok {
		return nil, coordstore.ErrNotFound
	}
	return e, nil
}

func (s *Store) PutIfAbsent(_ context.Context, key string, value []byte) error {
	return s.apply(Command{Op: opPutIfAbsent, Key: key, Value: value})
}

func (s *Store) UpdateIf(_ context.Context, key string, value []byte, expectedCounter int64) error {
	return s.apply(Command{Op: opUpdateIf, Key: key, Value: value, ExpectedCounter: expectedCounter})
}

func (s *Store) DeleteIf(_ context.Context, key string, expectedCounter int64) error {
	return s.apply(Command{Op: opDeleteIf, Key: key, ExpectedCounter: expectedCounter})
}

func (s *Store) Scan(_ context.Context, prefix string) ([]*coordstore.Entry, error) {
	return s.fsm.scan(prefix), nil
}

func (s *Store) Close() error {
	return s.raft.Shutdown().Error()
}
