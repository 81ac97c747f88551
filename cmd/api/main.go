package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/api"
	"github.com/dvloznov/clinic-ledger/internal/api/handlers"
	"github.com/dvloznov/clinic-ledger/internal/app"
	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/dispatch"
	"github.com/dvloznov/clinic-ledger/internal/gcsuploader"
	"github.com/dvloznov/clinic-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Parse command-line flags
	var (
		addr   = flag.String("addr", cfg.HTTPAddr, "HTTP listen address (or set HTTP_ADDR env)")
		bucket = flag.String("bucket", cfg.GCSBucket, "GCS bucket for upload archives (or set GCS_BUCKET env)")
		sweep  = flag.Bool("sweep", true, "Run the periodic ledger sweep in this process")
	)
	flag.Parse()

	log := logger.WithFields(logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat), map[string]interface{}{
		"service": "api",
	})
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close(log)

	var archiver handlers.Archiver
	if *bucket != "" {
		storage, err := gcsuploader.NewGCSStorageService(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("GCS unavailable - uploads will not be archived")
		} else {
			defer storage.Close()
			archiver = storage
		}
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads will not be archived")
	}

	if !cfg.Platform.SyncEnabled {
		log.Warn().Msg("External sync disabled - ledger entries stay pending")
	}
	if cfg.InternalKey == "" {
		log.Warn().Msg("No INTERNAL_API_KEY configured - internal routes are closed")
	}

	// In-process queue between row processing and the dispatcher
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(inmemory.QueueConfig{Workers: 4, MaxRetries: 2}, jobStore)

	// The worker context outlives the HTTP server so Stop can drain.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, a.Dispatcher.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job queue")
	}

	if *sweep {
		go a.Sweeper.Loop(workerCtx, cfg.Sweep.Interval)
	}

	runner := a.NewRunner(dispatch.NewAsyncTrigger(jobQueue, a.Dispatcher))

	handler := api.NewRouter(api.Handlers{
		Ingest: handlers.NewIngestHandler(runner, a.Sheets, archiver, *bucket, log),
		Sync:   handlers.NewSyncHandler(a.Workflow, a.Sweeper, log),
		Jobs:   handlers.NewJobsHandler(jobStore, log),
	}, cfg.InternalKey, log)

	server := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain queued patient syncs before the worker context goes away
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
