// Package dispatch hands patient sync work to the durable dispatcher and
// falls back to running it in process when the dispatcher is unavailable.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/jobs"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// Outcome tells how a sync request was handled.
type Outcome string

const (
	OutcomeQueued   Outcome = "stream"
	OutcomeFallback Outcome = "fallback"
)

// Dispatcher enqueues patient sync jobs on the durable dispatcher with a
// bounded number of attempts, then falls back to a synchronous sync.
type Dispatcher struct {
	publisher JobPublisher
	syncer    PatientSyncer
	attempts  int
	backoff   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher. publisher may be nil when no durable
// dispatcher is configured.
func NewDispatcher(publisher JobPublisher, syncer PatientSyncer, cfg config.DispatchConfig) *Dispatcher {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Dispatcher{
		publisher: publisher,
		syncer:    syncer,
		attempts:  cfg.Attempts,
		backoff:   cfg.Backoff,
		sleep:     sleepCtx,
	}
}

// Dispatch never drops the request: either the durable dispatcher accepted
// the job, or the sync ran here and its result is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, clinicID, patientID int64) (Outcome, error) {
	log := logger.FromContext(ctx).With().
		Int64("clinic_id", clinicID).
		Int64("patient_id", patientID).
		Logger()

	if d.publisher != nil {
		for attempt := 1; attempt <= d.attempts; attempt++ {
			err := d.publisher.PublishSyncPatient(ctx, &jobs.SyncPatientJob{ClinicID: clinicID, PatientID: patientID})
			if err == nil {
				log.Debug().Int("attempt", attempt).Msg("Patient sync enqueued")
				return OutcomeQueued, nil
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("Enqueue on durable dispatcher failed")
			if attempt < d.attempts {
				if err := d.sleep(ctx, d.backoff); err != nil {
					break
				}
			}
		}
		log.Warn().Msg("Durable dispatcher unavailable, syncing patient in process")
	}

	if _, err := d.syncer.SyncPatient(ctx, patientID); err != nil {
		return OutcomeFallback, fmt.Errorf("Dispatch: patient %d: %w", patientID, err)
	}
	return OutcomeFallback, nil
}

// Handler adapts Dispatch to the in-process queue. A disabled sync completes
// the job without work.
func (d *Dispatcher) Handler() jobs.JobHandler {
	return func(ctx context.Context, job *jobs.SyncPatientJob) error {
		outcome, err := d.Dispatch(ctx, job.ClinicID, job.PatientID)
		job.Route = string(outcome)
		if errors.Is(err, domain.ErrSyncDisabled) {
			log := logger.FromContext(ctx)
			log.Info().Int64("patient_id", job.PatientID).Msg("Sync disabled, patient left unsynced")
			return nil
		}
		return err
	}
}

// SyncHandler runs the workflow directly. Durable dispatcher consumers use
// it.
func SyncHandler(syncer PatientSyncer) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.SyncPatientJob) error {
		_, err := syncer.SyncPatient(ctx, job.PatientID)
		if errors.Is(err, domain.ErrSyncDisabled) {
			return nil
		}
		return err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
