package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// MappingRepository reads the clinic-scoped raw-string mappings and the
// category program codes.
type MappingRepository struct {
	db *sql.DB
}

// NewMappingRepository creates a MappingRepository.
func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// LookupPolyID maps a raw polyclinic string. normalized selects the
// normalized_key column instead of the exact raw_name.
func (r *MappingRepository) LookupPolyID(ctx context.Context, clinicID int64, key string, normalized bool) (*int64, error) {
	return r.lookup(ctx, "poly_mappings", "poly_id", clinicID, key, normalized)
}

// LookupInsuranceID maps a raw insurance string.
func (r *MappingRepository) LookupInsuranceID(ctx context.Context, clinicID int64, key string, normalized bool) (*int64, error) {
	return r.lookup(ctx, "insurance_mappings", "insurance_id", clinicID, key, normalized)
}

func (r *MappingRepository) lookup(ctx context.Context, table, idColumn string, clinicID int64, key string, normalized bool) (*int64, error) {
	column := "raw_name"
	if normalized {
		column = "normalized_key"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE clinic_id = $1 AND %s = $2 ORDER BY id LIMIT 1`,
		idColumn, table, column)

	var id int64
	err := r.db.QueryRowContext(ctx, query, clinicID, key).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", table, err)
	}
	return &id, nil
}

// ListCategoryMappings returns every category's program code.
func (r *MappingRepository) ListCategoryMappings(ctx context.Context) ([]domain.CategoryMapping, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, program_code FROM category_mappings ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("ListCategoryMappings: %w", err)
	}
	defer rows.Close()

	var out []domain.CategoryMapping
	for rows.Next() {
		var (
			m        domain.CategoryMapping
			category string
		)
		if err := rows.Scan(&category, &m.ProgramCode); err != nil {
			return nil, fmt.Errorf("ListCategoryMappings: scanning: %w", err)
		}
		m.Category = domain.Category(category)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCategoryMappings: iterating: %w", err)
	}
	return out, nil
}
