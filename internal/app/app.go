// Package app assembles the shared dependency graph the commands run on.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/dvloznov/clinic-ledger/internal/audit"
	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/dispatch"
	infraBQ "github.com/dvloznov/clinic-ledger/internal/infra/bigquery"
	"github.com/dvloznov/clinic-ledger/internal/jobs/redisstream"
	"github.com/dvloznov/clinic-ledger/internal/ledger"
	"github.com/dvloznov/clinic-ledger/internal/normalize"
	"github.com/dvloznov/clinic-ledger/internal/pipeline"
	"github.com/dvloznov/clinic-ledger/internal/platformsync"
	"github.com/dvloznov/clinic-ledger/internal/reconcile"
	"github.com/dvloznov/clinic-ledger/internal/resolve"
	"github.com/dvloznov/clinic-ledger/internal/spreadsheet"
	"github.com/dvloznov/clinic-ledger/internal/store/postgres"
)

// App holds the long-lived dependencies shared by the commands.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Repos      *postgres.Repositories
	Redis      *redis.Client
	Mirror     *infraBQ.SyncLogRepository
	Recorder   *audit.Recorder
	Normalizer *normalize.Normalizer
	Sheets     *spreadsheet.Reader
	Workflow   *platformsync.Workflow
	Sweeper    *platformsync.Sweeper
	Dispatcher *dispatch.Dispatcher
}

// ledgerStore joins category mappings and ledger inserts for the fan-out
// engine.
type ledgerStore struct {
	*postgres.MappingRepository
	*postgres.LedgerRepository
}

// Build connects to Postgres, and to Redis and BigQuery when configured, and
// wires the sync workflow. Close releases everything Build opened.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}
	a := &App{
		Config:     cfg,
		DB:         db,
		Repos:      postgres.NewRepositories(db),
		Normalizer: normalize.New(),
	}
	a.Sheets = spreadsheet.NewReader(a.Normalizer)

	sinks := []audit.Sink{a.Repos.SyncLogs}
	if cfg.BQProject != "" {
		mirror, err := infraBQ.NewSyncLogRepository(ctx, cfg.BQProject, cfg.BQDataset)
		if err != nil {
			log.Warn().Err(err).Msg("BigQuery audit mirror unavailable, continuing without it")
		} else {
			a.Mirror = mirror
			sinks = append(sinks, mirror)
		}
	}
	a.Recorder = audit.NewRecorder(sinks...)

	a.Workflow = platformsync.NewWorkflow(
		platformsync.NewClient(cfg.Platform),
		a.Repos.Patients,
		a.Repos.Ledger,
		a.Repos.Transactions,
		a.Recorder,
		platformsync.WorkflowConfig{
			Enabled:       cfg.Platform.SyncEnabled,
			StaffID:       cfg.Platform.StaffID,
			ContactDomain: cfg.Platform.ContactDomain,
			StaleAfter:    cfg.Sweep.StaleAfter,
		},
	)
	a.Sweeper = platformsync.NewSweeper(a.Repos.Ledger, a.Workflow, a.Recorder, cfg.Sweep.Limit, cfg.Sweep.Concurrency, cfg.Sweep.StaleAfter)

	var publisher dispatch.JobPublisher
	if cfg.Redis.Enabled() {
		a.Redis = redisstream.NewClient(cfg.Redis)
		publisher = redisstream.NewPublisher(a.Redis, cfg.Redis.Stream)
	} else {
		log.Warn().Msg("No Redis configured, patient syncs run in process")
	}
	a.Dispatcher = dispatch.NewDispatcher(publisher, a.Workflow, cfg.Dispatch)

	return a, nil
}

// NewRunner wires a batch runner whose reconciler hands patient syncs to
// trigger. trigger may be nil.
func (a *App) NewRunner(trigger reconcile.SyncTrigger) *pipeline.Runner {
	reconciler := reconcile.NewReconciler(a.Repos.Patients, a.Repos.Transactions, a.Repos.Ledger, trigger)
	return pipeline.NewRunner(
		a.Normalizer,
		a.Repos.Clinics,
		resolve.NewResolver(a.Repos.Mappings),
		a.Repos.Transactions,
		ledger.NewEngine(ledgerStore{a.Repos.Mappings, a.Repos.Ledger}),
		reconciler,
	)
}

// Close releases the connections opened by Build.
func (a *App) Close(log zerolog.Logger) {
	if a.Mirror != nil {
		if err := a.Mirror.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close BigQuery client")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}

var _ ledger.Store = ledgerStore{}
