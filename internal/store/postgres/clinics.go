package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// ClinicRepository reads clinic reference data.
type ClinicRepository struct {
	db *sql.DB
}

// NewClinicRepository creates a ClinicRepository.
func NewClinicRepository(db *sql.DB) *ClinicRepository {
	return &ClinicRepository{db: db}
}

// GetClinic loads one clinic.
func (r *ClinicRepository) GetClinic(ctx context.Context, clinicID int64) (*domain.Clinic, error) {
	var c domain.Clinic
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, office_code, account_ref, cash_account_code, active
		FROM clinics
		WHERE id = $1`, clinicID,
	).Scan(&c.ID, &c.Name, &c.OfficeCode, &c.AccountRef, &c.CashAccountCode, &c.Active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetClinic %d: %w", clinicID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetClinic: %w", err)
	}
	return &c, nil
}
