package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// PatientRepository persists patients and their sync state.
type PatientRepository struct {
	db *sql.DB
}

// NewPatientRepository creates a PatientRepository.
func NewPatientRepository(db *sql.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

const patientColumns = `id, clinic_id, record_number, name, first_visit, last_visit,
	visit_count, COALESCE(donor_id, ''), record_key, sync_status, updated_at`

const upsertPatientSQL = `
	INSERT INTO patients (
		clinic_id, record_number, name, first_visit, last_visit, visit_count,
		record_key, sync_status
	) VALUES ($1, $2, $3, $4, $4, 1, $5, 'UNSYNCED')
	ON CONFLICT (clinic_id, record_number) DO UPDATE SET
		name        = CASE WHEN patients.name = '' THEN EXCLUDED.name ELSE patients.name END,
		first_visit = LEAST(patients.first_visit, EXCLUDED.first_visit),
		last_visit  = GREATEST(patients.last_visit, EXCLUDED.last_visit),
		record_key  = EXCLUDED.record_key,
		updated_at  = now()
	RETURNING ` + patientColumns + `, (xmax = 0) AS inserted`

// UpsertPatient creates the patient on first sight or widens its visit window.
// The name is only filled in when it was blank.
func (r *PatientRepository) UpsertPatient(ctx context.Context, clinicID int64, recordNumber, name string, date civil.Date) (*domain.PatientUpsert, error) {
	var out domain.PatientUpsert
	row := r.db.QueryRowContext(ctx, upsertPatientSQL,
		clinicID, recordNumber, name, dateArg(date), domain.RecordKey(clinicID, recordNumber))
	if err := scanPatient(row, &out.Patient, &out.Inserted); err != nil {
		return nil, fmt.Errorf("UpsertPatient: %w", err)
	}
	return &out, nil
}

// IncrementVisit adds one visit and returns the new count.
func (r *PatientRepository) IncrementVisit(ctx context.Context, patientID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE patients SET visit_count = visit_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING visit_count`, patientID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("IncrementVisit %d: %w", patientID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("IncrementVisit: %w", err)
	}
	return count, nil
}

// GetPatient loads one patient.
func (r *PatientRepository) GetPatient(ctx context.Context, patientID int64) (*domain.Patient, error) {
	var p domain.Patient
	row := r.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, patientID)
	err := scanPatient(row, &p, nil)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetPatient %d: %w", patientID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetPatient: %w", err)
	}
	return &p, nil
}

// ClaimPatient moves a patient UNSYNCED→SYNCING, or re-claims a stale
// SYNCING patient. It reports whether this caller won the claim.
func (r *PatientRepository) ClaimPatient(ctx context.Context, patientID int64, staleAfter time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE patients
		SET sync_status = 'SYNCING', sync_claimed_at = now(), updated_at = now()
		WHERE id = $1
		  AND (sync_status = 'UNSYNCED'
		       OR (sync_status = 'SYNCING' AND sync_claimed_at < now() - ($2 * interval '1 second')))`,
		patientID, seconds(staleAfter))
	if err != nil {
		return false, fmt.Errorf("ClaimPatient: %w", err)
	}
	return affectedOne(res, "ClaimPatient")
}

// ReleasePatient returns a SYNCING patient to UNSYNCED after a failed call.
func (r *PatientRepository) ReleasePatient(ctx context.Context, patientID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE patients
		SET sync_status = 'UNSYNCED', sync_claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND sync_status = 'SYNCING'`, patientID)
	if err != nil {
		return fmt.Errorf("ReleasePatient: %w", err)
	}
	return nil
}

// SetDonorIDIfUnset stores donorID unless the patient already has one, marks
// the patient SYNCED and returns the donor id now on record.
func (r *PatientRepository) SetDonorIDIfUnset(ctx context.Context, patientID int64, donorID string) (string, error) {
	var current string
	err := r.db.QueryRowContext(ctx, `
		UPDATE patients
		SET donor_id = COALESCE(NULLIF(donor_id, ''), $2),
		    sync_status = 'SYNCED', sync_claimed_at = NULL, updated_at = now()
		WHERE id = $1
		RETURNING donor_id`, patientID, donorID).Scan(&current)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("SetDonorIDIfUnset %d: %w", patientID, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("SetDonorIDIfUnset: %w", err)
	}
	return current, nil
}

func scanPatient(row *sql.Row, p *domain.Patient, inserted *bool) error {
	var (
		first, last time.Time
		status      string
	)
	dest := []any{
		&p.ID, &p.ClinicID, &p.RecordNumber, &p.Name, &first, &last,
		&p.VisitCount, &p.DonorID, &p.RecordKey, &status, &p.UpdatedAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}
	p.FirstVisit = toDate(first)
	p.LastVisit = toDate(last)
	p.SyncStatus = domain.PatientSyncStatus(status)
	return nil
}
