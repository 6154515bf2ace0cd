// Package coordinator implements the shard-lease coordinator: discovery,
// assignment, renewal, checkpoint advance, release, and the
// orphaned-lease auditor. Built on a constructor-takes-a-store /
// Shutdown-releases lifecycle, with a ticker/select/stopCh periodic-scan
// pattern reused for both the discovery/assignment loop and the auditor.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/cdc-streams/internal/coordstore"
	"github.com/cuemby/cdc-streams/internal/stream"
	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/log"
	"github.com/cuemby/cdc-streams/pkg/metrics"
	"github.com/cuemby/cdc-streams/pkg/types"
)

const leaseKeyPrefix = "lease/"

// Config holds the coordinator's interval tunables, each with its
// stated default.
type Config struct {
	WorkerID                string
	StreamID                string
	ShardSyncInterval       time.Duration
	LeaseAssignmentInterval time.Duration
	RenewalInterval         time.Duration
	StealAfter              time.Duration
	AuditorInterval         time.Duration
	AuditorConfidence       int
}

// DefaultConfig returns the coordinator's default intervals, with a
// randomly generated WorkerID (minting a worker identity via uuid when
// the caller supplies none).
func DefaultConfig(streamID string) Config {
	return Config{
		WorkerID:                uuid.NewString(),
		StreamID:                streamID,
		ShardSyncInterval:       60 * time.Second,
		LeaseAssignmentInterval: time.Second,
		RenewalInterval:         10 * time.Second,
		StealAfter:              30 * time.Second,
		AuditorInterval:         5 * time.Second,
		AuditorConfidence:       3,
	}
}

// Coordinator owns the durable lease store and this worker's view of
// which shards it currently leases.
type Coordinator struct {
	cfg    Config
	source stream.Source
	store  coordstore.Store

	mu           sync.Mutex
	owned        map[string]leaseState
	garbageVotes map[string]int

	newlyOwned chan *types.Lease
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// leaseState is this worker's local view of one owned lease: the last
// value it wrote and the counter to CAS against next.
type leaseState struct {
	lease   types.Lease
	counter int64
}

// New constructs a Coordinator bound to source and store. Call Start to
// begin the background discovery/assignment/renewal/auditor tasks.
func New(cfg Config, source stream.Source, store coordstore.Store) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		source:       source,
		store:        store,
		owned:        make(map[string]leaseState),
		garbageVotes: make(map[string]int),
		newlyOwned:   make(chan *types.Lease, 16),
		stopCh:       make(chan struct{}),
	}
}

// NewlyOwned delivers leases this worker has just won assignment of;
// the scheduler consumes this to spawn a processor task per shard.
func (c *Coordinator) NewlyOwned() <-chan *types.Lease {
	return c.newlyOwned
}

// Start launches the background discovery, assignment, renewal, and
// auditor loops.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(4)
	go c.runDiscovery(ctx)
	go c.runAssignment(ctx)
	go c.runRenewal(ctx)
	go c.runAuditor(ctx)
}

// Shutdown stops the background loops and releases every lease this
// worker holds. A final checkpoint attempt should precede release;
// that checkpoint is the processor's responsibility to perform before
// the scheduler calls Release.
func (c *Coordinator) Shutdown(ctx context.Context) {
	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	shardIDs := make([]string, 0, len(c.owned))
	for id := range c.owned {
		shardIDs = append(shardIDs, id)
	}
	c.mu.Unlock()

	for _, id := range shardIDs {
		if err := c.Release(ctx, id); err != nil {
			log.WithShard(id).Warn().Err(err).Msg("release on shutdown failed")
		}
	}
}

func (c *Coordinator) runDiscovery(ctx context.Context) {
	defer c.wg.Done()
	logger := log.WithComponent("coordinator-discovery")

	runOnce := func() {
		if err := c.discover(ctx); err != nil {
			logger.Error().Err(err).Msg("shard discovery failed")
		}
	}
	runOnce()

	ticker := time.NewTicker(c.cfg.ShardSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// discover enumerates shards from the stream transport and inserts an
// unowned lease for any shard that doesn't have one yet.
func (c *Coordinator) discover(ctx context.Context) error {
	shards, err := c.source.ListShards(ctx, c.cfg.StreamID)
	if err != nil {
		return fmt.Errorf("list shards: %w", err)
	}

	for _, sh := range shards {
		key := leaseKeyPrefix + sh.ShardID
		if _, err := c.store.Get(ctx, key); err == nil {
			continue
		} else if !errors.Is(err, coordstore.ErrNotFound) {
			return fmt.Errorf("get lease %s: %w", sh.ShardID, err)
		}

		lease := types.Lease{
			ShardID:        sh.ShardID,
			Checkpoint:     types.TrimHorizon,
			ParentShardIDs: sh.ParentShardIDs,
		}
		value, err := json.Marshal(lease)
		if err != nil {
			return fmt.Errorf("marshal lease %s: %w", sh.ShardID, err)
		}
		if err := c.store.PutIfAbsent(ctx, key, value); err != nil && !errors.Is(err, coordstore.ErrAlreadyExists) {
			return fmt.Errorf("insert lease %s: %w", sh.ShardID, err)
		}
	}
	return nil
}

func (c *Coordinator) runAssignment(ctx context.Context) {
	defer c.wg.Done()
	logger := log.WithComponent("coordinator-assignment")

	ticker := time.NewTicker(c.cfg.LeaseAssignmentInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.assign(ctx); err != nil {
				logger.Error().Err(err).Msg("lease assignment pass failed")
			}
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// assign scans every lease and attempts to claim unowned or
// un-renewed shards whose parents are either gone or already past
// shard-end, enforcing that a child shard never starts before its
// parent has finished.
func (c *Coordinator) assign(ctx context.Context) error {
	entries, err := c.store.Scan(ctx, leaseKeyPrefix)
	if err != nil {
		return fmt.Errorf("scan leases: %w", err)
	}

	byShard := make(map[string]types.Lease, len(entries))
	counters := make(map[string]int64, len(entries))
	for _, e := range entries {
		var l types.Lease
		if err := json.Unmarshal(e.Value, &l); err != nil {
			return fmt.Errorf("unmarshal lease %s: %w", e.Key, err)
		}
		byShard[l.ShardID] = l
		counters[l.ShardID] = e.Counter
	}

	now := time.Now()
	for shardID, lease := range byShard {
		if lease.Owned() && lease.Owner == c.cfg.WorkerID {
			continue
		}
		if lease.Owned() && now.Sub(lease.LastRenewalTime) < c.cfg.StealAfter {
			continue
		}
		if lease.AtShardEnd() {
			continue
		}
		if !c.parentsCleared(lease, byShard) {
			continue
		}

		claimed, counter, err := c.claim(ctx, shardID, lease, counters[shardID])
		if err != nil {
			log.WithShard(shardID).Warn().Err(err).Msg("claim attempt failed")
			continue
		}
		if claimed == nil {
			continue
		}

		if lease.Owned() {
			metrics.LeaseSteals.Inc()
		}
		c.mu.Lock()
		c.owned[shardID] = leaseState{lease: *claimed, counter: counter}
		metrics.LeasesHeld.Set(float64(len(c.owned)))
		c.mu.Unlock()

		select {
		case c.newlyOwned <- claimed:
		case <-ctx.Done():
		}
	}
	return nil
}

// parentsCleared reports whether lease's parents are either absent
// from byShard or have reached shard-end, enforcing no-overlap between
// a shard and its ancestors.
func (c *Coordinator) parentsCleared(lease types.Lease, byShard map[string]types.Lease) bool {
	for _, parentID := range lease.ParentShardIDs {
		parent, ok := byShard[parentID]
		if !ok {
			continue
		}
		if !parent.AtShardEnd() {
			return false
		}
	}
	return true
}

// claim attempts to CAS-claim shardID from lease's last-known counter.
// Returns (nil, 0, nil) on a lost race (ErrConflict), which is not an
// error: ties are broken by CAS failure semantics, whichever worker's
// write lands first wins.
func (c *Coordinator) claim(ctx context.Context, shardID string, lease types.Lease, counter int64) (*types.Lease, int64, error) {
	claimed := lease
	if claimed.Owner != c.cfg.WorkerID {
		claimed.OwnerSwitchesSinceCheckpoint++
	}
	claimed.Owner = c.cfg.WorkerID
	claimed.LastRenewalTime = time.Now()

	value, err := json.Marshal(claimed)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal lease %s: %w", shardID, err)
	}

	key := leaseKeyPrefix + shardID
	err = c.store.UpdateIf(ctx, key, value, counter)
	if errors.Is(err, coordstore.ErrConflict) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("claim lease %s: %w", shardID, err)
	}
	return &claimed, counter + 1, nil
}

func (c *Coordinator) runRenewal(ctx context.Context) {
	defer c.wg.Done()
	logger := log.WithComponent("coordinator-renewal")

	ticker := time.NewTicker(c.cfg.RenewalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.renewAll(ctx, logger)
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) renewAll(ctx context.Context, logger zerolog.Logger) {
	c.mu.Lock()
	shardIDs := make([]string, 0, len(c.owned))
	for id := range c.owned {
		shardIDs = append(shardIDs, id)
	}
	c.mu.Unlock()

	for _, shardID := range shardIDs {
		if err := c.renew(ctx, shardID); err != nil {
			var lost *cdcerrors.LeaseLost
			if errors.As(err, &lost) {
				logger.Warn().Err(err).Msg("lease lost during renewal, dropping local ownership")
				c.mu.Lock()
				delete(c.owned, shardID)
				metrics.LeasesHeld.Set(float64(len(c.owned)))
				c.mu.Unlock()
				continue
			}
			logger.Error().Err(err).Msg("lease renewal failed")
		}
	}
}

func (c *Coordinator) renew(ctx context.Context, shardID string) error {
	c.mu.Lock()
	state, ok := c.owned[shardID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	state.lease.LastRenewalTime = time.Now()
	newCounter, err := c.cas(ctx, shardID, state.lease, state.counter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.owned[shardID] = leaseState{lease: state.lease, counter: newCounter}
	c.mu.Unlock()
	return nil
}

// AdvanceCheckpoint implements internal/processor.Checkpointer: CAS the
// shard's lease checkpoint forward, re-reading and retrying on a stale
// local counter, and raising LeaseLost if another worker now owns it.
func (c *Coordinator) AdvanceCheckpoint(ctx context.Context, shardID, checkpoint string) error {
	c.mu.Lock()
	state, ok := c.owned[shardID]
	c.mu.Unlock()
	if !ok {
		return &cdcerrors.LeaseLost{ShardID: shardID}
	}

	state.lease.Checkpoint = checkpoint
	state.lease.OwnerSwitchesSinceCheckpoint = 0
	newCounter, err := c.cas(ctx, shardID, state.lease, state.counter)
	if err != nil {
		var lost *cdcerrors.LeaseLost
		if errors.As(err, &lost) {
			c.mu.Lock()
			delete(c.owned, shardID)
			metrics.LeasesHeld.Set(float64(len(c.owned)))
			c.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	c.owned[shardID] = leaseState{lease: state.lease, counter: newCounter}
	c.mu.Unlock()
	return nil
}

// cas writes lease under shardID, re-reading on a conflicting counter
// (the caller's view was stale) and failing with LeaseLost if the
// re-read shows another worker now owns the shard.
func (c *Coordinator) cas(ctx context.Context, shardID string, lease types.Lease, counter int64) (int64, error) {
	key := leaseKeyPrefix + shardID
	value, err := json.Marshal(lease)
	if err != nil {
		return 0, fmt.Errorf("marshal lease %s: %w", shardID, err)
	}

	err = c.store.UpdateIf(ctx, key, value, counter)
	if err == nil {
		return counter + 1, nil
	}
	if !errors.Is(err, coordstore.ErrConflict) {
		return 0, fmt.Errorf("update lease %s: %w", shardID, err)
	}

	metrics.CheckpointAdvanceConflicts.Inc()
	entry, getErr := c.store.Get(ctx, key)
	if getErr != nil {
		return 0, fmt.Errorf("re-read lease %s after conflict: %w", shardID, getErr)
	}
	var stored types.Lease
	if err := json.Unmarshal(entry.Value, &stored); err != nil {
		return 0, fmt.Errorf("unmarshal lease %s after conflict: %w", shardID, err)
	}
	if stored.Owner != c.cfg.WorkerID {
		return 0, &cdcerrors.LeaseLost{ShardID: shardID}
	}

	lease.OwnerSwitchesSinceCheckpoint = stored.OwnerSwitchesSinceCheckpoint
	retryValue, err := json.Marshal(lease)
	if err != nil {
		return 0, fmt.Errorf("marshal lease %s: %w", shardID, err)
	}
	if err := c.store.UpdateIf(ctx, key, retryValue, entry.Counter); err != nil {
		return 0, fmt.Errorf("update lease %s after re-read: %w", shardID, err)
	}
	return entry.Counter + 1, nil
}

// Release CASes shardID's lease back to unowned (owner=null, counter
// incremented).
func (c *Coordinator) Release(ctx context.Context, shardID string) error {
	c.mu.Lock()
	state, ok := c.owned[shardID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	state.lease.Owner = ""
	if _, err := c.cas(ctx, shardID, state.lease, state.counter); err != nil {
		var lost *cdcerrors.LeaseLost
		if !errors.As(err, &lost) {
			return fmt.Errorf("release lease %s: %w", shardID, err)
		}
	}

	c.mu.Lock()
	delete(c.owned, shardID)
	metrics.LeasesHeld.Set(float64(len(c.owned)))
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) runAuditor(ctx context.Context) {
	defer c.wg.Done()
	logger := log.WithComponent("coordinator-auditor")

	ticker := time.NewTicker(c.cfg.AuditorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			if err := c.audit(ctx); err != nil {
				logger.Error().Err(err).Msg("auditor pass failed")
			}
			timer.ObserveDuration(metrics.AuditorLatency)
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// audit deletes leases that are "garbage": the shard no longer appears
// in transport enumeration and the lease's checkpoint is past
// shard-end, confirmed over AuditorConfidence consecutive passes.
func (c *Coordinator) audit(ctx context.Context) error {
	shards, err := c.source.ListShards(ctx, c.cfg.StreamID)
	if err != nil {
		return fmt.Errorf("list shards for audit: %w", err)
	}
	present := make(map[string]bool, len(shards))
	for _, sh := range shards {
		present[sh.ShardID] = true
	}

	entries, err := c.store.Scan(ctx, leaseKeyPrefix)
	if err != nil {
		return fmt.Errorf("scan leases for audit: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		var l types.Lease
		if err := json.Unmarshal(e.Value, &l); err != nil {
			return fmt.Errorf("unmarshal lease %s for audit: %w", e.Key, err)
		}
		seen[l.ShardID] = true

		if present[l.ShardID] || !l.AtShardEnd() {
			delete(c.garbageVotes, l.ShardID)
			continue
		}

		c.garbageVotes[l.ShardID]++
		if c.garbageVotes[l.ShardID] < c.cfg.AuditorConfidence {
			continue
		}

		if err := c.store.DeleteIf(ctx, e.Key, e.Counter); err != nil && !errors.Is(err, coordstore.ErrConflict) {
			log.WithShard(l.ShardID).Warn().Err(err).Msg("delete garbage lease failed")
			continue
		}
		delete(c.garbageVotes, l.ShardID)
	}

	for shardID := range c.garbageVotes {
		if !seen[shardID] {
			delete(c.garbageVotes, shardID)
		}
	}
	return nil
}
