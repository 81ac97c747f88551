package reconcile

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// PatientStore upserts patients and their visit statistics.
type PatientStore interface {
	UpsertPatient(ctx context.Context, clinicID int64, recordNumber, name string, date civil.Date) (*domain.PatientUpsert, error)
	IncrementVisit(ctx context.Context, patientID int64) (int, error)
}

// TransactionLinker writes the deferred patient link onto a transaction.
type TransactionLinker interface {
	LinkPatient(ctx context.Context, transactionID, patientID int64) error
}

// DonorBackfiller copies a known donor id onto a patient's ledger entries.
type DonorBackfiller interface {
	BackfillDonorID(ctx context.Context, patientID int64, donorID string) (int64, error)
}

// SyncTrigger schedules an external patient sync without blocking.
type SyncTrigger interface {
	TriggerPatientSync(ctx context.Context, clinicID, patientID int64)
}
