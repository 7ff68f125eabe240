// Command archiver keeps the durable history of beacon traffic.
//
// It consumes the beacon events topic into daily page-view totals and, on a
// cron schedule, snapshots the live visit counter of every registered host.
// Snapshots past the retention window are pruned daily. Without Kafka
// brokers only the snapshotter runs.
//
// Usage:
//
//	go run ./cmd/archiver [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/umrum/umrum/internal/archive"
	"github.com/umrum/umrum/internal/hosts"
	"github.com/umrum/umrum/internal/tracker"
	"github.com/umrum/umrum/pkg/config"
	"github.com/umrum/umrum/pkg/health"
	"github.com/umrum/umrum/pkg/kafka"
	"github.com/umrum/umrum/pkg/logger"
	"github.com/umrum/umrum/pkg/metrics"
	"github.com/umrum/umrum/pkg/middleware"
	"github.com/umrum/umrum/pkg/postgres"
	pkgredis "github.com/umrum/umrum/pkg/redis"
	"github.com/umrum/umrum/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting archiver",
		"port", cfg.Archive.Port,
		"snapshot_schedule", cfg.Archive.SnapshotSchedule,
		"kafka_enabled", len(cfg.Kafka.Brokers) > 0,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	var db *postgres.Client
	err = resilience.Retry(ctx, "postgres-connect", resilience.BootRetryConfig(), func() error {
		c, err := postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		db = c
		return nil
	})
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate postgres schema", "error", err)
		os.Exit(1)
	}

	var rdb *pkgredis.Client
	err = resilience.Retry(ctx, "redis-connect", resilience.BootRetryConfig(), func() error {
		c, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		rdb = c
		return nil
	})
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// The archiver only reads live counts; one worker is enough.
	live := tracker.New(rdb, tracker.Options{Workers: 1, TopPagesLimit: cfg.Tracker.TopPagesLimit, Metrics: m})
	defer live.Close()

	store := archive.NewStore(db)
	snapshotter, err := archive.NewSnapshotter(hosts.NewStore(db), live, store, archive.SnapshotterOptions{
		Schedule:  cfg.Archive.SnapshotSchedule,
		Retention: cfg.Archive.SnapshotRetention,
	})
	if err != nil {
		slog.Error("invalid snapshot schedule", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("redis", health.PingCheck("redis", rdb, 2*time.Second))
	checker.Register("postgres", health.PingCheck("postgres", db, 2*time.Second))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Archive.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.BeaconEvents, archive.HandleEvent(store, m))
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	snapshotter.Start()
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		snapshotter.Stop(stopCtx)
		return nil
	})

	g.Go(func() error {
		slog.Info("archiver health endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("archiver stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("archiver stopped")
}
