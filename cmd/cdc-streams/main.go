// Command cdc-streams is the reference binary for one CDC stream
// consumer process: it loads the hierarchical config document, opens
// the configured stream transport and coordination store, and runs the
// scheduler until an interrupt or SIGTERM arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/cdc-streams/internal/config"
	"github.com/cuemby/cdc-streams/internal/coordinator"
	"github.com/cuemby/cdc-streams/internal/coordstore"
	"github.com/cuemby/cdc-streams/internal/coordstore/boltstore"
	"github.com/cuemby/cdc-streams/internal/coordstore/ddbstore"
	"github.com/cuemby/cdc-streams/internal/coordstore/raftstore"
	"github.com/cuemby/cdc-streams/internal/mapper"
	"github.com/cuemby/cdc-streams/internal/scheduler"
	"github.com/cuemby/cdc-streams/internal/stream/kinesisstream"
	"github.com/cuemby/cdc-streams/pkg/metrics"
	"github.com/cuemby/cdc-streams/pkg/types"

	// Sinks self-register into internal/mapper's factory registry at
	// init(); blank-importing every one here is what makes their
	// target-mapper names resolvable from config.
	_ "github.com/cuemby/cdc-streams/internal/sink/objectstore"
	_ "github.com/cuemby/cdc-streams/internal/sink/queue"
	_ "github.com/cuemby/cdc-streams/internal/sink/table"
	_ "github.com/cuemby/cdc-streams/internal/sink/vector"

	"github.com/cuemby/cdc-streams/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cdc-streams",
	Short:   "CDC stream consumer: leases shards, decodes change events, delivers to a target mapper",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("cdc-streams version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the config YAML file (required)")
	rootCmd.PersistentFlags().String("worker-id", "", "Override this worker's identity (defaults to a generated UUID)")
	rootCmd.PersistentFlags().String("data-dir", "./cdc-streams-data", "Data directory for the bolt/raft coordination store backends")
	rootCmd.PersistentFlags().String("raft-node-id", "node-1", "Node ID for the raft coordination store backend")
	rootCmd.PersistentFlags().String("raft-bind-addr", "127.0.0.1:7950", "Bind address for the raft coordination store backend")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler and consume the configured stream until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			return fmt.Errorf("--config is required")
		}
		workerID, _ := cmd.Flags().GetString("worker-id")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		app, err := config.LoadApp(configPath, workerID)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		source, err := kinesisstream.Open(ctx)
		if err != nil {
			return fmt.Errorf("open stream source: %w", err)
		}

		streamID, err := app.Stream.Resolve(ctx, source)
		if err != nil {
			return fmt.Errorf("resolve stream identifier: %w", err)
		}
		app.CoordinatorCfg.StreamID = streamID

		metrics.SetVersion(Version)
		metrics.RegisterComponent("stream", true, "opened")
		metrics.RegisterComponent("coordstore", false, "initializing")
		metrics.RegisterComponent("coordinator", false, "initializing")

		store, err := openStore(ctx, cmd, app)
		if err != nil {
			return fmt.Errorf("open coordination store: %w", err)
		}
		defer store.Close()
		metrics.RegisterComponent("coordstore", true, "ready")

		targetMapper := app.Mapper
		if dryRun {
			targetMapper = &dryRunMapper{inner: targetMapper, name: app.MapperName}
		}

		coord := coordinator.New(app.CoordinatorCfg, source, store)
		sched := scheduler.New(coord, source, streamID, targetMapper, app.CheckpointEvery)
		sched.Start(ctx)
		metrics.RegisterComponent("coordinator", true, "running")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithComponent("main").Warn().Err(err).Msg("metrics server exited")
			}
		}()

		log.WithComponent("main").Info().
			Str("stream_id", streamID).
			Str("mapper", app.MapperName).
			Str("worker_id", app.CoordinatorCfg.WorkerID).
			Bool("dry_run", dryRun).
			Str("metrics_addr", metricsAddr).
			Msg("cdc-streams running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.WithComponent("main").Info().Msg("shutdown requested, quiescing shards")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), scheduler.GracefulShutdownTimeout+5*time.Second)
		defer shutdownCancel()
		sched.Shutdown(shutdownCtx)

		return nil
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Run the full pipeline but route handle_records through a logging-only mapper")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Listen address for the /metrics, /health, /ready, /live endpoints")
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and parse the config file without starting the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			return fmt.Errorf("--config is required")
		}
		workerID, _ := cmd.Flags().GetString("worker-id")

		app, err := config.LoadApp(configPath, workerID)
		if err != nil {
			return fmt.Errorf("config is invalid: %w", err)
		}

		fmt.Printf("config OK\n")
		fmt.Printf("  target-mapper:  %s\n", app.MapperName)
		fmt.Printf("  store backend:  %s\n", app.StoreBackend)
		fmt.Printf("  worker id:      %s\n", app.CoordinatorCfg.WorkerID)
		fmt.Printf("  checkpoint every: %s\n", app.CheckpointEvery)
		return nil
	},
}

// openStore constructs the coordination store backend named by
// app.StoreBackend: dynamodb, bolt, or raft.
func openStore(ctx context.Context, cmd *cobra.Command, app *config.AppConfig) (coordstore.Store, error) {
	switch app.StoreBackend {
	case "bolt":
		dataDir, _ := cmd.Flags().GetString("data-dir")
		return boltstore.Open(dataDir)
	case "raft":
		nodeID, _ := cmd.Flags().GetString("raft-node-id")
		bindAddr, _ := cmd.Flags().GetString("raft-bind-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		return raftstore.Bootstrap(raftstore.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
	case "dynamodb", "":
		if app.StoreRegion != "" {
			os.Setenv("AWS_REGION", app.StoreRegion)
		}
		tableName := app.StoreTableName
		if tableName == "" {
			tableName = "cdc-stream-leases"
		}
		return ddbstore.Open(ctx, tableName)
	default:
		return nil, fmt.Errorf("unknown coordinator.store backend %q", app.StoreBackend)
	}
}

// dryRunMapper wraps a resolved mapper so the full pipeline still runs
// (initialize, filter) but delivery only logs a summary instead of
// reaching the real sink.
type dryRunMapper struct {
	inner mapper.Mapper
	name  string
}

func (d *dryRunMapper) Initialize(ctx context.Context) error { return d.inner.Initialize(ctx) }

func (d *dryRunMapper) FilterRecords(records []*types.Record) []*types.Record {
	return d.inner.FilterRecords(records)
}

func (d *dryRunMapper) HandleRecords(ctx context.Context, batch *types.TargetBatch) error {
	log.WithMapper(d.name).Info().
		Int("record_count", len(batch.Records)).
		Int("byte_size", batch.ByteSize).
		Msg("dry-run: would deliver batch")
	return nil
}

func (d *dryRunMapper) Name() string { return d.inner.Name() + "-dry-run" }
