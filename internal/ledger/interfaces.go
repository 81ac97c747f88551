package ledger

import (
	"context"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// Store persists ledger entries. InsertLedgerEntry must be a single
// conditional insert keyed on (transaction, program code, amount, date) and
// report created=false for an existing entry.
type Store interface {
	ListCategoryMappings(ctx context.Context) ([]domain.CategoryMapping, error)
	InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (created bool, err error)
}
