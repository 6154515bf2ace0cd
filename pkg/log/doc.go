/*
Package log provides structured logging for the CDC stream consumer using
zerolog.

A single global Logger is configured once via Init and then narrowed into
request-scoped child loggers via the With* helpers, which attach the
correlation fields used throughout this codebase: worker_id, shard_id,
mapper, sequence_number.

# Usage

Initializing the logger:

	import "github.com/cuemby/cdc-streams/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component and correlation loggers:

	workerLog := log.WithWorker(app.CoordinatorCfg.WorkerID)
	workerLog.Info().Msg("worker starting")

	shardLog := log.WithShard(shardID)
	shardLog.Warn().Err(err).Msg("fetch failed, retrying at next interval")

	mapperLog := log.WithMapper(mapperName)
	mapperLog.Debug().Str("sequence_number", seq).Msg("delivered batch")

Component loggers can be chained with zerolog's own With() when a log
site needs more than one correlation field at once:

	log.WithComponent("processor").With().
		Str("shard_id", shardID).
		Str("worker_id", workerID).
		Logger().
		Info().Msg("shard assigned")
*/
package log
