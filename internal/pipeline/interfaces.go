package pipeline

import (
	"context"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/resolve"
)

// Normalizer converts a raw row into a draft.
type Normalizer interface {
	Normalize(raw map[string]string, clinicID int64, source domain.Source) (*domain.Draft, error)
	RowClinicID(raw map[string]string) (string, bool)
}

// Resolver maps raw polyclinic and insurance strings.
type Resolver interface {
	Resolve(ctx context.Context, clinicID int64, rawPoly, rawInsurance string, source domain.Source) (resolve.Resolution, error)
	Reset()
}

// TransactionStore idempotently persists drafts.
type TransactionStore interface {
	UpsertTransaction(ctx context.Context, d *domain.Draft) (domain.UpsertResult, error)
}

// ClinicStore loads clinics.
type ClinicStore interface {
	GetClinic(ctx context.Context, clinicID int64) (*domain.Clinic, error)
}

// FanOutEngine creates ledger entries for a persisted transaction.
type FanOutEngine interface {
	FanOut(ctx context.Context, clinic *domain.Clinic, transactionID int64, d *domain.Draft) ([]domain.LedgerEntry, error)
	Reset()
}

// Reconciler materializes the patient behind a qualifying transaction.
type Reconciler interface {
	ReconcileIfNeeded(ctx context.Context, d *domain.Draft, upsert domain.UpsertResult, fanOutCount int) (*domain.Patient, error)
}
