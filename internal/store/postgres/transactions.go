package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// TransactionRepository persists canonical transactions.
type TransactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository creates a TransactionRepository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// storedAmounts is the JSONB layout of the amounts column.
type storedAmounts struct {
	Bill       domain.Amounts `json:"bill"`
	Discount   domain.Amounts `json:"discount"`
	Covered    domain.Amounts `json:"covered"`
	Paid       domain.Amounts `json:"paid"`
	Receivable domain.Amounts `json:"receivable"`
}

type rawSnapshot struct {
	Source domain.Source     `json:"source"`
	Row    map[string]string `json:"row"`
}

const upsertTransactionSQL = `
	INSERT INTO transactions (
		clinic_id, poly_id, insurance_id, trx_date, transaction_number,
		record_number, patient_name, raw_poly, raw_insurance, payment_method,
		voucher_code, bill_total, amounts, payment_discount, raw_payload, source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT ON CONSTRAINT transactions_natural_identity DO UPDATE SET
		patient_name     = EXCLUDED.patient_name,
		payment_method   = EXCLUDED.payment_method,
		voucher_code     = EXCLUDED.voucher_code,
		raw_payload      = EXCLUDED.raw_payload,
		amounts          = jsonb_set(transactions.amounts, '{discount}', EXCLUDED.amounts->'discount'),
		payment_discount = EXCLUDED.payment_discount,
		source           = EXCLUDED.source,
		updated_at       = now()
	RETURNING id, (xmax = 0) AS inserted`

// UpsertTransaction inserts the draft or merges it into the transaction that
// shares its natural identity. The insert and the conflict check are one
// statement.
func (r *TransactionRepository) UpsertTransaction(ctx context.Context, d *domain.Draft) (domain.UpsertResult, error) {
	if err := d.Validate(); err != nil {
		return domain.UpsertResult{}, err
	}

	amounts, err := json.Marshal(storedAmounts{
		Bill:       d.Bill,
		Discount:   d.Discount,
		Covered:    d.Covered,
		Paid:       d.Paid,
		Receivable: d.Receivable,
	})
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("UpsertTransaction: marshalling amounts: %w", err)
	}
	raw, err := json.Marshal(rawSnapshot{Source: d.Source, Row: d.Raw})
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("UpsertTransaction: marshalling raw payload: %w", err)
	}

	var res domain.UpsertResult
	err = r.db.QueryRowContext(ctx, upsertTransactionSQL,
		d.ClinicID,
		nullInt64(d.PolyID),
		nullInt64(d.InsuranceID),
		dateArg(d.Date),
		d.TransactionNumber,
		d.RecordNumber,
		d.PatientName,
		d.RawPoly,
		d.RawInsurance,
		d.PaymentMethod,
		d.VoucherCode,
		d.Bill.Total.StringFixed(2),
		string(amounts),
		d.PaymentDiscount.StringFixed(2),
		string(raw),
		string(d.Source),
	).Scan(&res.TransactionID, &res.Inserted)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("UpsertTransaction: %w", err)
	}
	return res, nil
}

// LinkPatient sets the transaction's patient link.
func (r *TransactionRepository) LinkPatient(ctx context.Context, transactionID, patientID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET patient_id = $2, updated_at = now() WHERE id = $1`,
		transactionID, patientID)
	if err != nil {
		return fmt.Errorf("LinkPatient: %w", err)
	}
	return nil
}

// MarkTransactionSynced stamps the transaction as externally synced.
func (r *TransactionRepository) MarkTransactionSynced(ctx context.Context, transactionID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET synced_at = $2, updated_at = now() WHERE id = $1`,
		transactionID, at)
	if err != nil {
		return fmt.Errorf("MarkTransactionSynced: %w", err)
	}
	return nil
}

// GetTransaction loads one transaction.
func (r *TransactionRepository) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var (
		t           domain.Transaction
		polyID      sql.NullInt64
		insuranceID sql.NullInt64
		patientID   sql.NullInt64
		date        time.Time
		billTotal   string
		source      string
		syncedAt    sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, clinic_id, poly_id, insurance_id, patient_id, trx_date,
		       transaction_number, record_number, patient_name, raw_poly,
		       raw_insurance, payment_method, voucher_code, bill_total::text,
		       source, synced_at
		FROM transactions
		WHERE id = $1`, id,
	).Scan(&t.ID, &t.ClinicID, &polyID, &insuranceID, &patientID, &date,
		&t.TransactionNumber, &t.RecordNumber, &t.PatientName, &t.RawPoly,
		&t.RawInsurance, &t.PaymentMethod, &t.VoucherCode, &billTotal,
		&source, &syncedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetTransaction %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}

	t.PolyID = int64Ptr(polyID)
	t.InsuranceID = int64Ptr(insuranceID)
	t.PatientID = int64Ptr(patientID)
	t.Date = toDate(date)
	t.Source = domain.Source(source)
	if t.BillTotal, err = parseDecimal(billTotal); err != nil {
		return nil, fmt.Errorf("GetTransaction: bill_total: %w", err)
	}
	if syncedAt.Valid {
		at := syncedAt.Time
		t.SyncedAt = &at
	}
	return &t, nil
}
