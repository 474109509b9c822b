package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/user/txn-stream-engine/internal/adapter/metrics"
	redisrepo "github.com/user/txn-stream-engine/internal/adapter/repository/redis"
	"github.com/user/txn-stream-engine/internal/adapter/repository/wal"
	"github.com/user/txn-stream-engine/internal/aggregate"
	"github.com/user/txn-stream-engine/internal/domain"
	"github.com/user/txn-stream-engine/internal/engine"
	"github.com/user/txn-stream-engine/internal/pkg/config"
	"github.com/user/txn-stream-engine/internal/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.NewEngineMetrics()

	// --- Admin and Metrics Server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminMux,
	}

	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Redis Connection ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("could not connect to redis, will proceed in WAL-only mode for dead letters", "error", err)
	}

	// --- Repositories ---
	walRepo, err := wal.NewWALRepository(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, log)
	if err != nil {
		log.Error("failed to initialize dead-letter WAL", "error", err)
		os.Exit(1)
	}
	defer walRepo.Close()

	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "processor-default"
	}

	streamRepo, err := redisrepo.NewStreamRepository(redisClient, log, cfg.InputStream, cfg.ConsumerGroup, consumerName, walRepo, m)
	if err != nil && !errors.Is(err, redisrepo.ErrRedisNotAvailable) {
		log.Error("failed to initialize redis stream repository", "error", err)
		os.Exit(1)
	}

	go streamRepo.StartHealthCheck(ctx, 5*time.Second)

	// --- Topology ---
	router := engine.NewRouter(streamRepo, cfg.SinkRetryCount, cfg.SinkRetryBackoff, log, m)

	// Emission contexts outlive cancellation so the shutdown flush still
	// reaches the sinks.
	windows := aggregate.NewWindowed(aggregate.Config{
		Length:      cfg.WindowLength,
		Hop:         cfg.WindowHop,
		Retention:   cfg.WindowRetention,
		LatePolicy:  cfg.LateEventPolicy,
		MaxEventLag: cfg.MaxEventLag,
	}, func(agg domain.WindowAggregate) {
		router.RouteAggregate(context.Background(), agg)
	}, log, m)

	health := aggregate.NewHealth(cfg.HealthWindow, cfg.ErrorRateWarn, cfg.ErrorRateCrit, func(snap domain.HealthSnapshot) {
		router.RouteHealth(context.Background(), snap)
	}, log)

	eng := engine.New(engine.Config{
		WorkerCount:         cfg.WorkerCount,
		QueueDepth:          cfg.WorkerQueueDepth,
		ReadBatchSize:       cfg.ReadBatchSize,
		DeadLetterBuffer:    cfg.DeadLetterBuffer,
		SweepInterval:       cfg.SweepInterval,
		HighValueThreshold:  cfg.HighValueThreshold,
		SuspiciousThreshold: cfg.SuspiciousThreshold,
	}, streamRepo, router, windows, health, streamRepo, log, m)

	// Run blocks until the shutdown signal, then drains and flushes.
	if err := eng.Run(ctx); err != nil {
		log.Error("engine terminated with error", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	log.Info("processor shut down gracefully")
}
