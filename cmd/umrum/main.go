// Command umrum serves the tracking beacon, GitHub sign-in and the live
// dashboard.
//
// Page views reported by the beacon are written to Redis through the visit
// tracker's worker pool. Users, hosts and archived history live in
// PostgreSQL. When Kafka brokers are configured, every accepted beacon call
// is also mirrored to the beacon events topic for the archiver.
//
// Usage:
//
//	go run ./cmd/umrum [-config configs/development.yaml]
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

	"github.com/umrum/umrum/internal/auth"
	"github.com/umrum/umrum/internal/beacon"
	"github.com/umrum/umrum/internal/dashboard"
	"github.com/umrum/umrum/internal/events"
	"github.com/umrum/umrum/internal/hosts"
	"github.com/umrum/umrum/internal/router"
	"github.com/umrum/umrum/internal/tracker"
	"github.com/umrum/umrum/pkg/config"
	"github.com/umrum/umrum/pkg/health"
	"github.com/umrum/umrum/pkg/kafka"
	"github.com/umrum/umrum/pkg/logger"
	"github.com/umrum/umrum/pkg/metrics"
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
	slog.Info("starting umrum",
		"port", cfg.Server.Port,
		"public_url", cfg.Server.PublicURL,
		"kafka_enabled", len(cfg.Kafka.Brokers) > 0,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	// Redis: tracking store and sessions.
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
	slog.Info("connected to redis", "addr", cfg.Redis.Addr)

	// PostgreSQL: users, hosts, archive.
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
	slog.Info("connected to postgres")

	breaker := resilience.NewCircuitBreaker("tracking-store", resilience.CircuitBreakerConfig{
		FailureThreshold:    cfg.Tracker.BreakerTrip,
		ResetTimeout:        cfg.Tracker.BreakerReset,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(name string, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	visits := tracker.New(rdb, tracker.Options{
		Workers:       cfg.Tracker.Workers,
		QueueSize:     cfg.Tracker.QueueSize,
		WriteTimeout:  cfg.Tracker.WriteTimeout,
		TopPagesLimit: cfg.Tracker.TopPagesLimit,
		Breaker:       breaker,
		Metrics:       m,
	})

	hostStore := hosts.NewStore(db)
	resolver := hosts.NewResolver(hostStore, hosts.ResolverOptions{})

	// Kafka is optional; without brokers beacon events are not mirrored.
	var sink beacon.EventSink
	var collector *events.Collector
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.BeaconEvents)
		defer producer.Close()
		collector = events.NewCollector(producer, events.CollectorOptions{
			BufferSize: cfg.Archive.CollectorBuffer,
			Metrics:    m,
		})
		sink = collector
	}

	limiter := beacon.NewLimiter(cfg.Beacon.RateLimit, cfg.Beacon.RateWindow)
	if limiter != nil {
		go limiter.Run(ctx)
	}

	provider, err := auth.NewGitHubProvider(cfg.GitHub, auth.ProviderOptions{})
	if err != nil {
		slog.Error("github sign-in is not configured", "error", err)
		os.Exit(1)
	}
	sessions := auth.NewSessions(rdb, cfg.Session.TTL)

	dash, err := dashboard.New(hostStore, visits, dashboard.Options{
		PublicURL: cfg.Server.PublicURL,
		Cache:     resolver,
	})
	if err != nil {
		slog.Error("failed to load dashboard templates", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("redis", health.PingCheck("redis", rdb, 2*time.Second))
	checker.Register("postgres", health.PingCheck("postgres", db, 2*time.Second))
	checker.Register("tracking-breaker", health.BreakerCheck(breaker))

	handler := router.New(router.Options{
		Health:         checker,
		Sessions:       sessions,
		SessionCookie:  cfg.Session.CookieName,
		Metrics:        m,
		RequestTimeout: cfg.Server.WriteTimeout,
	},
		beacon.New(visits, resolver, beacon.Options{
			Events:            sink,
			Limiter:           limiter,
			Metrics:           m,
			TrustForwardedFor: cfg.Beacon.TrustForwardedFor,
		}),
		auth.NewHandler(provider, hostStore, sessions, cfg.Session),
		dash,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("umrum listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-shutdownDone
	// In-flight requests are done; drain queued writes and events.
	visits.Close()
	if collector != nil {
		collector.Close()
	}
	slog.Info("umrum stopped")
}
