package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Draft is the canonical form of one raw billing row before it is persisted.
type Draft struct {
	ClinicID int64  `json:"clinic_id"`
	Source   Source `json:"source"`

	Date              civil.Date `json:"date"`
	TransactionNumber string     `json:"transaction_number"`
	RecordNumber      string     `json:"record_number"`
	PatientName       string     `json:"patient_name"`
	RawPoly           string     `json:"raw_poly"`
	RawInsurance      string     `json:"raw_insurance"`
	PaymentMethod     string     `json:"payment_method"`
	VoucherCode       string     `json:"voucher_code"`

	Bill       Amounts `json:"bill"`
	Discount   Amounts `json:"discount"`
	Covered    Amounts `json:"covered"`
	Paid       Amounts `json:"paid"`
	Receivable Amounts `json:"receivable"`

	// PaymentDiscount is the aggregate discount column only spreadsheets carry.
	PaymentDiscount decimal.Decimal `json:"payment_discount"`

	// Resolved master-entity ids, nil when the raw string is unmapped.
	PolyID      *int64 `json:"poly_id,omitempty"`
	InsuranceID *int64 `json:"insurance_id,omitempty"`

	// Raw is the verbatim source row.
	Raw map[string]string `json:"raw"`
}

// NewDraft returns a draft with every amount group zero-filled.
func NewDraft(clinicID int64, source Source) *Draft {
	return &Draft{
		ClinicID:   clinicID,
		Source:     source,
		Bill:       NewAmounts(),
		Discount:   NewAmounts(),
		Covered:    NewAmounts(),
		Paid:       NewAmounts(),
		Receivable: NewAmounts(),
	}
}

// Validate checks the fields that make up the transaction's natural identity.
func (d *Draft) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil draft", ErrInvalidDraft)
	}
	if d.ClinicID <= 0 {
		return fmt.Errorf("%w: missing clinic id", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.RecordNumber) == "" {
		return fmt.Errorf("%w: missing record number", ErrInvalidDraft)
	}
	if !d.Date.IsValid() {
		return fmt.Errorf("%w: missing transaction date", ErrInvalidDraft)
	}
	return nil
}

// Transaction is a persisted billing event.
type Transaction struct {
	ID                int64           `json:"id"`
	ClinicID          int64           `json:"clinic_id"`
	PolyID            *int64          `json:"poly_id,omitempty"`
	InsuranceID       *int64          `json:"insurance_id,omitempty"`
	PatientID         *int64          `json:"patient_id,omitempty"`
	Date              civil.Date      `json:"date"`
	TransactionNumber string          `json:"transaction_number"`
	RecordNumber      string          `json:"record_number"`
	PatientName       string          `json:"patient_name"`
	RawPoly           string          `json:"raw_poly"`
	RawInsurance      string          `json:"raw_insurance"`
	PaymentMethod     string          `json:"payment_method"`
	VoucherCode       string          `json:"voucher_code"`
	Source            Source          `json:"source"`
	BillTotal         decimal.Decimal `json:"bill_total"`
	SyncedAt          *time.Time      `json:"synced_at,omitempty"`
}

// UpsertResult is returned by the transaction store.
type UpsertResult struct {
	TransactionID int64
	Inserted      bool
}
