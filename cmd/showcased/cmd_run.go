package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkarls/showcased/config"
	"github.com/mkarls/showcased/dispatcher"
	"github.com/mkarls/showcased/executor"
	"github.com/mkarls/showcased/internal/daemon"
	"github.com/mkarls/showcased/normalizer"
	"github.com/mkarls/showcased/platform"
	"github.com/mkarls/showcased/rules"
	"github.com/mkarls/showcased/storage"
	"github.com/mkarls/showcased/telemetry"
	"github.com/mkarls/showcased/wal"
)

var (
	runConfigPath   string
	runDryRun       bool
	runHousekeeping time.Duration
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enforcement bot",
	Long: `Connect to the platform gateway and enforce the showcase rule.

The bot consumes message events for the watched channels, evaluates each
post, removes violations with a warning reply, accrues strikes per user
and escalates repeat offenders to the moderator channel.

Features:
- Per-user ordered event processing across a worker pool
- Idempotent enforcement under at-least-once event delivery
- Durable per-user state with an append-only audit log
- Prometheus metrics on /metrics, health on /health and /-/ready
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  showcased run --config /etc/showcased/config.yaml
  showcased run --config config.yaml --dry-run   # evaluate without acting`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runConfigPath, "config", "config.yaml", "Path to config file")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Evaluate and record decisions without touching the platform")
	runCmd.Flags().DurationVar(&runHousekeeping, "housekeeping-interval", time.Hour, "Interval between store compaction runs")
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	logger := telemetry.NewLogger("showcased")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "showcased",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = otelShutdown(shutdownCtx)
	}()

	store, err := storage.NewStateStore(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	auditLog, err := wal.Open(cfg.Storage.WALDir)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	client := platform.NewRESTClient(platform.RESTOptions{
		BaseURL: cfg.Platform.APIBaseURL,
		Token:   cfg.Platform.Token,
	}, logger.Logger)

	engine := executor.NewEngine(client, store, auditLog, logger, cfg.Rule, executor.Options{
		DryRun:  runDryRun,
		Timeout: 30 * time.Second,
	})

	disp, err := dispatcher.New(
		dispatcher.Config{
			Workers:   cfg.Dispatcher.Workers,
			QueueSize: cfg.Dispatcher.QueueSize,
			DedupSize: cfg.Dispatcher.DedupSize,
		},
		normalizer.New(cfg.Rule.WatchedChannelIDs, cfg.Platform.BotUserID, cfg.Rule.IgnoreHorizon),
		rules.NewEvaluator(cfg.Rule),
		engine,
		store,
		auditLog,
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	gateway := &platform.GatewayConsumer{
		Host:      cfg.Platform.GatewayURL,
		Token:     cfg.Platform.Token,
		UserAgent: "showcased/" + version,
		Callbacks: platform.GatewayCallbacks{
			MessageCreate: disp.HandleRaw,
			MessageUpdate: disp.HandleRaw,
			MessageDelete: disp.HandleRaw,
		},
		Logger: logger.Logger,
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:  runHousekeeping,
		WALDir:    cfg.Storage.WALDir,
		WALConfig: wal.DefaultConfig(),
	}, store, logger)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	server := daemon.NewServer(cfg.Metrics.Addr, d)

	fmt.Printf("🚀 Starting showcased %s (instance %s)...\n", version, d.InstanceID())
	fmt.Printf("   Channels: %v\n", cfg.Rule.WatchedChannelIDs)
	fmt.Printf("   Cooldown: %s, max strikes: %d\n", cfg.Rule.Cooldown, cfg.Rule.MaxStrikes)
	fmt.Printf("   Metrics: http://localhost%s/metrics\n", cfg.Metrics.Addr)
	if runDryRun {
		fmt.Println("   Mode: DRY RUN (no platform actions)")
	}
	fmt.Println()

	var g run.Group

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	gatewayCtx, gatewayCancel := context.WithCancel(ctx)
	g.Add(func() error {
		d.SetReady(true)
		defer d.SetReady(false)
		return gateway.Run(gatewayCtx)
	}, func(error) {
		gatewayCancel()
	})

	daemonCtx, daemonCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return d.Start(daemonCtx)
	}, func(error) {
		daemonCancel()
	})

	g.Add(server.Run, func(error) {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = server.Shutdown(shutdownCtx)
	})

	err = g.Run()

	fmt.Println("\n📋 Draining event pipeline...")
	disp.Shutdown()
	fmt.Println("👋 Showcased stopped")

	var sigErr run.SignalError
	if err != nil && !errors.As(err, &sigErr) {
		return err
	}
	return nil
}
