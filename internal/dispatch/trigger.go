package dispatch

import (
	"context"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/jobs"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

const defaultEnqueueTimeout = 2 * time.Second

// AsyncTrigger schedules patient syncs on the supervised in-process queue so
// row processing never waits for the platform.
type AsyncTrigger struct {
	queue      JobPublisher
	dispatcher *Dispatcher
	timeout    time.Duration
}

// NewAsyncTrigger creates an AsyncTrigger. Jobs the queue refuses are
// dispatched inline.
func NewAsyncTrigger(queue JobPublisher, dispatcher *Dispatcher) *AsyncTrigger {
	return &AsyncTrigger{queue: queue, dispatcher: dispatcher, timeout: defaultEnqueueTimeout}
}

// TriggerPatientSync implements reconcile.SyncTrigger. The job outlives the
// request that triggered it.
func (t *AsyncTrigger) TriggerPatientSync(ctx context.Context, clinicID, patientID int64) {
	detached := context.WithoutCancel(ctx)
	log := logger.FromContext(ctx).With().
		Int64("clinic_id", clinicID).
		Int64("patient_id", patientID).
		Logger()

	enqCtx, cancel := context.WithTimeout(detached, t.timeout)
	defer cancel()
	err := t.queue.PublishSyncPatient(enqCtx, &jobs.SyncPatientJob{ClinicID: clinicID, PatientID: patientID})
	if err == nil {
		return
	}

	log.Error().Err(err).Msg("In-process queue refused sync job, dispatching inline")
	if _, err := t.dispatcher.Dispatch(detached, clinicID, patientID); err != nil {
		log.Error().Err(err).Msg("Inline patient sync failed")
	}
}
