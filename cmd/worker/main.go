package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/app"
	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/dispatch"
	"github.com/dvloznov/clinic-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/clinic-ledger/internal/jobs/redisstream"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	var (
		consumerName = flag.String("consumer", "", "Consumer name within the group (default: random)")
		sweep        = flag.Bool("sweep", true, "Run the periodic ledger sweep in this process")
	)
	flag.Parse()

	log := logger.WithFields(logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat), map[string]interface{}{
		"service": "worker",
	})

	if !cfg.Redis.Enabled() {
		log.Fatal().Msg("REDIS_ADDR is required for the worker")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close(log)

	jobStore := inmemory.NewStore()
	consumer := redisstream.NewConsumer(a.Redis, redisstream.ConsumerConfig{
		Stream:   cfg.Redis.Stream,
		Group:    cfg.Redis.Group,
		Consumer: *consumerName,
	}, jobStore)

	log.Info().
		Str("stream", cfg.Redis.Stream).
		Str("group", cfg.Redis.Group).
		Bool("sync_enabled", cfg.Platform.SyncEnabled).
		Msg("Starting worker service")

	if err := consumer.Start(ctx, dispatch.SyncHandler(a.Workflow)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	if *sweep {
		go a.Sweeper.Loop(ctx, cfg.Sweep.Interval)
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Unacknowledged messages stay pending and are re-claimed by the next consumer
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
