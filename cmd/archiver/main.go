package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/user/txn-stream-engine/internal/adapter/repository/postgres"
	redisrepo "github.com/user/txn-stream-engine/internal/adapter/repository/redis"
	"github.com/user/txn-stream-engine/internal/pkg/config"
	"github.com/user/txn-stream-engine/internal/pkg/logger"
	"github.com/user/txn-stream-engine/internal/usecase"
)

const (
	archiverGroup      = "deadletter-archivers"
	processingInterval = 1 * time.Second
	archiveRetryCount  = 3
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting dead-letter archiver")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info("shutdown signal received, stopping archiver...")
		cancel()
	}()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "archiver-default"
	}

	dlqStream, err := redisrepo.NewDeadLetterStreamRepository(redisClient, log, archiverGroup, consumerName)
	if err != nil {
		log.Error("failed to create dead-letter stream repository", "error", err)
		os.Exit(1)
	}
	archive := postgres.NewDeadLetterRepository(db, log)

	archiveUseCase := usecase.NewArchiveDeadLettersUseCase(dlqStream, archive, log, cfg.ArchiveBatchSize, archiveRetryCount, time.Second)

	ticker := time.NewTicker(processingInterval)
	defer ticker.Stop()

	log.Info("archiver started", "group", archiverGroup, "consumer", consumerName)

Loop:
	for {
		select {
		case <-ticker.C:
			if _, err := archiveUseCase.ProcessBatch(ctx); err != nil {
				log.Error("error archiving batch", "error", err)
			}
		case <-ctx.Done():
			log.Info("context cancelled, shutting down archiver loop")
			break Loop
		}
	}

	log.Info("archiver shut down gracefully")
}
