package dispatch

import (
	"context"

	"github.com/dvloznov/clinic-ledger/internal/jobs"
	"github.com/dvloznov/clinic-ledger/internal/platformsync"
)

// JobPublisher enqueues sync jobs. Both the durable stream publisher and the
// in-process queue satisfy it.
type JobPublisher interface {
	PublishSyncPatient(ctx context.Context, job *jobs.SyncPatientJob) error
}

// PatientSyncer runs the patient sync workflow.
type PatientSyncer interface {
	SyncPatient(ctx context.Context, patientID int64) (*platformsync.PatientOutcome, error)
}
