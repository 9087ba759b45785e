package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/creatorlab/gramsync/internal/cache"
	"github.com/creatorlab/gramsync/internal/db"
	"github.com/creatorlab/gramsync/internal/graph"
	"github.com/creatorlab/gramsync/internal/queue"
	"github.com/creatorlab/gramsync/internal/syncer"
	"github.com/creatorlab/gramsync/pkg/config"
	"github.com/creatorlab/gramsync/pkg/logging"
	"github.com/creatorlab/gramsync/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Gramsync Worker")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Initialize Redis
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	// Wire the refresh pipeline
	repo := db.NewRepository(database.DB)
	publisher := queue.NewPublisher(redisCache)
	pipeline := syncer.New(
		cfg,
		graph.New(&cfg.Graph),
		db.NewConnectionRepository(repo),
		db.NewMetricRepository(repo),
		db.NewSnapshotRepository(repo),
		db.NewAccountSnapshotRepository(repo),
		publisher,
	)

	lock := queue.NewSyncLock(redisCache, cfg.Syncer.LockTTL)
	worker := queue.NewWorker(redisCache, pipeline, lock)

	ctx, cancel := context.WithCancel(context.Background())

	// Run worker in goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("Worker stopped", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done
	logger.Info("Worker exited")
}
