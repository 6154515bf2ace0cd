// Package scheduler is the single top-level loop per process: it binds
// the lease coordinator to per-shard processor tasks, spawning one
// dedicated task per newly owned shard and propagating shutdown with a
// bounded timeout: Start runs a select loop that waits on the
// coordinator's newly owned leases, and Shutdown stops it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/cdc-streams/internal/coordinator"
	"github.com/cuemby/cdc-streams/internal/mapper"
	"github.com/cuemby/cdc-streams/internal/processor"
	"github.com/cuemby/cdc-streams/internal/stream"
	"github.com/cuemby/cdc-streams/pkg/log"
	"github.com/cuemby/cdc-streams/pkg/types"
)

// GracefulShutdownTimeout is the hard shutdown deadline: past this, the
// process exits with uncheckpointed work, which is safe under
// at-least-once delivery.
const GracefulShutdownTimeout = 30 * time.Second

// Scheduler owns the coordinator and the set of running per-shard
// processor tasks for one process.
type Scheduler struct {
	coord              *coordinator.Coordinator
	source             stream.Source
	streamID           string
	mapper             mapper.Mapper
	checkpointInterval time.Duration

	mu    sync.Mutex
	tasks map[string]*processor.Processor

	stopCh chan struct{}
	done   chan struct{}
}

// New constructs a Scheduler. coord must already be constructed against
// the same source; m is the mapper instance shared (initialized once)
// across every shard task, so sink clients are pooled rather than
// recreated per shard.
// checkpointInterval of zero falls back to processor.DefaultCheckpointInterval.
func New(coord *coordinator.Coordinator, source stream.Source, streamID string, m mapper.Mapper, checkpointInterval time.Duration) *Scheduler {
	return &Scheduler{
		coord:              coord,
		source:             source,
		streamID:           streamID,
		mapper:             m,
		checkpointInterval: checkpointInterval,
		tasks:              make(map[string]*processor.Processor),
		stopCh:             make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Start launches the coordinator's background tasks and begins
// consuming newly owned leases, spawning one processor task per shard.
func (s *Scheduler) Start(ctx context.Context) {
	s.coord.Start(ctx)
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	logger := log.WithComponent("scheduler")
	for {
		select {
		case lease := <-s.coord.NewlyOwned():
			s.spawn(ctx, lease, logger)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// spawn starts a dedicated processor task for lease's shard, tracking
// it so Shutdown can await its quiesce.
func (s *Scheduler) spawn(ctx context.Context, lease *types.Lease, logger zerolog.Logger) {
	s.mu.Lock()
	if _, exists := s.tasks[lease.ShardID]; exists {
		s.mu.Unlock()
		return
	}
	p := processor.New(s.source, s.streamID, lease.ShardID, s.coord, s.mapper)
	if s.checkpointInterval > 0 {
		p.CheckpointInterval = s.checkpointInterval
	}
	s.tasks[lease.ShardID] = p
	s.mu.Unlock()

	logger.Info().Str("shard_id", lease.ShardID).Msg("spawning processor task for newly owned shard")

	go func() {
		if err := p.Run(ctx, lease.Checkpoint); err != nil {
			logger.Warn().Str("shard_id", lease.ShardID).Err(err).Msg("processor task ended")
		}
		s.mu.Lock()
		delete(s.tasks, lease.ShardID)
		s.mu.Unlock()
	}()
}

// Shutdown stops accepting new shards, requests every running processor
// to quiesce, awaits completion up to GracefulShutdownTimeout, then
// releases leases via the coordinator.
func (s *Scheduler) Shutdown(ctx context.Context) {
	close(s.stopCh)
	<-s.done

	s.mu.Lock()
	tasks := make([]*processor.Processor, 0, len(s.tasks))
	for _, p := range s.tasks {
		tasks = append(tasks, p)
	}
	s.mu.Unlock()

	for _, p := range tasks {
		p.Quiesce()
	}

	deadline := time.NewTimer(GracefulShutdownTimeout)
	defer deadline.Stop()
	for _, p := range tasks {
		select {
		case <-p.Done():
		case <-deadline.C:
			log.WithComponent("scheduler").Warn().Msg("graceful shutdown deadline exceeded, exiting with uncheckpointed work")
			s.coord.Shutdown(ctx)
			return
		}
	}
	s.coord.Shutdown(ctx)
}
