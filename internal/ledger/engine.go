package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// Engine creates ledger entries for persisted transactions.
type Engine struct {
	store Store

	mu       sync.Mutex
	programs map[domain.Category]string
}

// NewEngine creates an Engine.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Reset drops the cached category mappings.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.programs = nil
	e.mu.Unlock()
}

// FanOut creates one PENDING entry per category with a positive amount and
// returns the entries newly created by this call. Categories without a
// program code, and every category of a clinic without an office code, are
// skipped with a warning.
func (e *Engine) FanOut(ctx context.Context, clinic *domain.Clinic, transactionID int64, d *domain.Draft) ([]domain.LedgerEntry, error) {
	log := logger.FromContext(ctx).With().
		Int64("clinic_id", clinic.ID).
		Int64("transaction_id", transactionID).
		Logger()

	amounts := FanOutAmounts(d)

	var positive []domain.Category
	for _, c := range domain.AllCategories() {
		if RoundAmount(amounts[c]) > 0 {
			positive = append(positive, c)
		}
	}
	if len(positive) == 0 {
		return nil, nil
	}

	if clinic.OfficeCode == "" {
		log.Warn().Int("categories", len(positive)).Msg("Clinic has no office code, skipping ledger fan-out")
		return nil, nil
	}

	programs, err := e.programCodes(ctx)
	if err != nil {
		return nil, err
	}

	accountRef := AccountRefFor(clinic, d.Source, d.PaymentMethod)

	var created []domain.LedgerEntry
	for _, c := range positive {
		code, ok := programs[c]
		if !ok || code == "" {
			log.Warn().Str("category", string(c)).Msg("No program code for category, skipping ledger entry")
			continue
		}

		entry := domain.LedgerEntry{
			TransactionID: transactionID,
			ClinicID:      clinic.ID,
			Category:      c,
			ProgramCode:   code,
			OfficeCode:    clinic.OfficeCode,
			Date:          d.Date,
			Amount:        RoundAmount(amounts[c]),
			AccountRef:    accountRef,
			Status:        domain.SyncPending,
		}
		inserted, err := e.store.InsertLedgerEntry(ctx, &entry)
		if err != nil {
			return created, fmt.Errorf("FanOut: category %s: %w", c, err)
		}
		if !inserted {
			log.Debug().Str("program_code", code).Int64("amount", entry.Amount).Msg("Ledger entry already exists")
			continue
		}
		created = append(created, entry)
	}

	log.Debug().Int("created", len(created)).Msg("Ledger fan-out complete")
	return created, nil
}

func (e *Engine) programCodes(ctx context.Context) (map[domain.Category]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.programs != nil {
		return e.programs, nil
	}

	mappings, err := e.store.ListCategoryMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("FanOut: loading category mappings: %w", err)
	}
	programs := make(map[domain.Category]string, len(mappings))
	for _, m := range mappings {
		programs[m.Category] = m.ProgramCode
	}
	e.programs = programs
	return programs, nil
}
