package platformsync

import (
	"context"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// Platform is the external financial platform.
type Platform interface {
	RegisterContact(ctx context.Context, req ContactRequest) (*ContactResult, error)
	RecordTransaction(ctx context.Context, req TransactionRequest) (*TransactionResult, error)
}

// PatientStore holds patient sync state.
type PatientStore interface {
	GetPatient(ctx context.Context, patientID int64) (*domain.Patient, error)
	ClaimPatient(ctx context.Context, patientID int64, staleAfter time.Duration) (bool, error)
	ReleasePatient(ctx context.Context, patientID int64) error
	SetDonorIDIfUnset(ctx context.Context, patientID int64, donorID string) (string, error)
}

// LedgerStore holds ledger entry sync state.
type LedgerStore interface {
	ListPendingForPatient(ctx context.Context, patientID int64) ([]int64, error)
	GetSyncItem(ctx context.Context, entryID int64) (*domain.LedgerSyncItem, error)
	ClaimEntry(ctx context.Context, entryID int64, staleAfter time.Duration) (bool, error)
	ReleaseEntry(ctx context.Context, entryID int64) error
	MarkEntrySynced(ctx context.Context, entryID int64, externalID string) error
	MarkEntrySkipped(ctx context.Context, entryID int64) error
	BackfillDonorID(ctx context.Context, patientID int64, donorID string) (int64, error)
}

// TransactionMarker stamps a transaction as externally synced.
type TransactionMarker interface {
	MarkTransactionSynced(ctx context.Context, transactionID int64, at time.Time) error
}

// SweepStore selects entries for the periodic sweep.
type SweepStore interface {
	ListSweepCandidates(ctx context.Context, limit int, staleAfter time.Duration) ([]int64, error)
}

// EntrySyncer syncs single ledger entries.
type EntrySyncer interface {
	Enabled() bool
	SyncLedgerEntry(ctx context.Context, entryID int64) (EntryOutcome, error)
}
