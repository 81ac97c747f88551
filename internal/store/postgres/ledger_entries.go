package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// LedgerRepository persists category-scoped ledger entries and their sync
// state.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a LedgerRepository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const insertLedgerEntrySQL = `
	INSERT INTO ledger_entries (
		transaction_id, clinic_id, category, program_code, office_code,
		trx_date, donor_id, amount, account_ref, status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT ON CONSTRAINT ledger_entries_dedup DO NOTHING
	RETURNING id, created_at`

// InsertLedgerEntry creates the entry unless one with the same
// (transaction, program code, amount, date) exists. created is false for a
// duplicate; e.ID and e.CreatedAt are set only when created.
func (r *LedgerRepository) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (bool, error) {
	if e.Status == "" {
		e.Status = domain.SyncPending
	}
	err := r.db.QueryRowContext(ctx, insertLedgerEntrySQL,
		e.TransactionID,
		e.ClinicID,
		string(e.Category),
		e.ProgramCode,
		e.OfficeCode,
		dateArg(e.Date),
		nullString(e.DonorID),
		e.Amount,
		nullString(e.AccountRef),
		string(e.Status),
	).Scan(&e.ID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("InsertLedgerEntry: %w", err)
	}
	return true, nil
}

// ListPendingForPatient returns the ids of the patient's PENDING entries.
func (r *LedgerRepository) ListPendingForPatient(ctx context.Context, patientID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT le.id
		FROM ledger_entries le
		JOIN transactions t ON t.id = le.transaction_id
		WHERE t.patient_id = $1 AND le.status = 'PENDING'
		ORDER BY le.id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("ListPendingForPatient: %w", err)
	}
	return scanIDs(rows, "ListPendingForPatient")
}

// ListSweepCandidates selects up to limit entries the sweep may sync: PENDING
// entries whose patient has a donor id, plus SYNCING entries whose claim is
// older than staleAfter.
func (r *LedgerRepository) ListSweepCandidates(ctx context.Context, limit int, staleAfter time.Duration) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT le.id
		FROM ledger_entries le
		JOIN transactions t ON t.id = le.transaction_id
		JOIN patients p ON p.id = t.patient_id
		WHERE COALESCE(p.donor_id, '') <> ''
		  AND (le.status = 'PENDING'
		       OR (le.status = 'SYNCING' AND le.claimed_at < now() - ($2 * interval '1 second')))
		ORDER BY le.id
		LIMIT $1`, limit, seconds(staleAfter))
	if err != nil {
		return nil, fmt.Errorf("ListSweepCandidates: %w", err)
	}
	return scanIDs(rows, "ListSweepCandidates")
}

const syncItemSQL = `
	SELECT le.id, le.transaction_id, le.clinic_id, le.category, le.program_code,
	       le.office_code, le.trx_date,
	       COALESCE(NULLIF(le.donor_id, ''), p.donor_id, ''),
	       le.amount, COALESCE(le.account_ref, ''), le.status,
	       COALESCE(le.external_trx_id, ''), le.created_at,
	       COALESCE(p.id, 0), COALESCE(p.name, t.patient_name), c.name, t.payment_method
	FROM ledger_entries le
	JOIN transactions t ON t.id = le.transaction_id
	JOIN clinics c ON c.id = le.clinic_id
	LEFT JOIN patients p ON p.id = t.patient_id
	WHERE le.id = $1`

// GetSyncItem loads an entry joined with the patient, clinic and payment
// method the sync call needs.
func (r *LedgerRepository) GetSyncItem(ctx context.Context, entryID int64) (*domain.LedgerSyncItem, error) {
	var (
		item     domain.LedgerSyncItem
		category string
		status   string
		date     time.Time
	)
	e := &item.Entry
	err := r.db.QueryRowContext(ctx, syncItemSQL, entryID).Scan(
		&e.ID, &e.TransactionID, &e.ClinicID, &category, &e.ProgramCode,
		&e.OfficeCode, &date, &e.DonorID, &e.Amount, &e.AccountRef, &status,
		&e.ExternalTrxID, &e.CreatedAt,
		&item.PatientID, &item.PatientName, &item.ClinicName, &item.PaymentMethod,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetSyncItem %d: %w", entryID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSyncItem: %w", err)
	}
	e.Category = domain.Category(category)
	e.Status = domain.SyncStatus(status)
	e.Date = toDate(date)
	return &item, nil
}

// ClaimEntry moves an entry PENDING→SYNCING, or re-claims a stale SYNCING
// entry. It reports whether this caller won the claim.
func (r *LedgerRepository) ClaimEntry(ctx context.Context, entryID int64, staleAfter time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = 'SYNCING', claimed_at = now(), updated_at = now()
		WHERE id = $1
		  AND (status = 'PENDING'
		       OR (status = 'SYNCING' AND claimed_at < now() - ($2 * interval '1 second')))`,
		entryID, seconds(staleAfter))
	if err != nil {
		return false, fmt.Errorf("ClaimEntry: %w", err)
	}
	return affectedOne(res, "ClaimEntry")
}

// ReleaseEntry returns a SYNCING entry to PENDING after a failed call.
func (r *LedgerRepository) ReleaseEntry(ctx context.Context, entryID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = 'PENDING', claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'SYNCING'`, entryID)
	if err != nil {
		return fmt.Errorf("ReleaseEntry: %w", err)
	}
	return nil
}

// MarkEntrySynced records the platform's transaction id.
func (r *LedgerRepository) MarkEntrySynced(ctx context.Context, entryID int64, externalID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = 'SYNCED', external_trx_id = $2, claimed_at = NULL,
		    synced_at = now(), updated_at = now()
		WHERE id = $1`, entryID, nullString(externalID))
	if err != nil {
		return fmt.Errorf("MarkEntrySynced: %w", err)
	}
	return nil
}

// MarkEntrySkipped moves an entry to the terminal SKIPPED state.
func (r *LedgerRepository) MarkEntrySkipped(ctx context.Context, entryID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = 'SKIPPED', claimed_at = NULL, updated_at = now()
		WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("MarkEntrySkipped: %w", err)
	}
	return nil
}

// BackfillDonorID copies a donor id onto every entry of the patient's
// transactions that has none yet.
func (r *LedgerRepository) BackfillDonorID(ctx context.Context, patientID int64, donorID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries le
		SET donor_id = $2, updated_at = now()
		FROM transactions t
		WHERE t.id = le.transaction_id
		  AND t.patient_id = $1
		  AND COALESCE(le.donor_id, '') = ''`, patientID, donorID)
	if err != nil {
		return 0, fmt.Errorf("BackfillDonorID: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("BackfillDonorID: rows affected: %w", err)
	}
	return n, nil
}

func scanIDs(rows *sql.Rows, op string) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scanning: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterating: %w", op, err)
	}
	return ids, nil
}

func affectedOne(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n == 1, nil
}
