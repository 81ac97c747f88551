// Package reconcile materializes patients from transactions that produced at
// least one ledger entry.
package reconcile

import (
	"context"
	"fmt"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// Reconciler upserts the patient behind a qualifying transaction.
type Reconciler struct {
	patients PatientStore
	links    TransactionLinker
	donors   DonorBackfiller
	trigger  SyncTrigger
}

// NewReconciler creates a Reconciler. trigger may be nil, in which case
// patients without a donor id wait for the next explicit sync.
func NewReconciler(patients PatientStore, links TransactionLinker, donors DonorBackfiller, trigger SyncTrigger) *Reconciler {
	return &Reconciler{patients: patients, links: links, donors: donors, trigger: trigger}
}

// ReconcileIfNeeded is a no-op when the transaction produced no ledger
// entries. Otherwise it upserts the patient, links the transaction and either
// backfills a known donor id or triggers an external patient sync.
//
// The visit counter gains one extra unit only for a new transaction of a
// patient that existed before this row.
func (r *Reconciler) ReconcileIfNeeded(ctx context.Context, d *domain.Draft, upsert domain.UpsertResult, fanOutCount int) (*domain.Patient, error) {
	if fanOutCount == 0 {
		return nil, nil
	}

	log := logger.FromContext(ctx).With().
		Int64("clinic_id", d.ClinicID).
		Int64("transaction_id", upsert.TransactionID).
		Logger()

	res, err := r.patients.UpsertPatient(ctx, d.ClinicID, d.RecordNumber, d.PatientName, d.Date)
	if err != nil {
		return nil, fmt.Errorf("ReconcileIfNeeded: %w", err)
	}
	patient := res.Patient

	if err := r.links.LinkPatient(ctx, upsert.TransactionID, patient.ID); err != nil {
		return nil, fmt.Errorf("ReconcileIfNeeded: %w", err)
	}

	if upsert.Inserted && !res.Inserted {
		count, err := r.patients.IncrementVisit(ctx, patient.ID)
		if err != nil {
			return nil, fmt.Errorf("ReconcileIfNeeded: %w", err)
		}
		patient.VisitCount = count
	}

	if patient.DonorID != "" {
		n, err := r.donors.BackfillDonorID(ctx, patient.ID, patient.DonorID)
		if err != nil {
			return nil, fmt.Errorf("ReconcileIfNeeded: %w", err)
		}
		log.Debug().Int64("patient_id", patient.ID).Int64("entries", n).Msg("Backfilled donor id")
		return &patient, nil
	}

	if r.trigger != nil {
		r.trigger.TriggerPatientSync(ctx, d.ClinicID, patient.ID)
	} else {
		log.Warn().Int64("patient_id", patient.ID).Msg("No sync trigger configured, patient left unsynced")
	}
	return &patient, nil
}
