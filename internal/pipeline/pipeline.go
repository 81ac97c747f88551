// Package pipeline runs raw billing rows through normalization, reference
// resolution, idempotent persistence, ledger fan-out and patient
// reconciliation. Rows of a batch run sequentially and fail independently.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// Runner executes batches through the row pipeline.
type Runner struct {
	resolver Resolver
	engine   FanOutEngine
	clinics  *clinicCache
	pipeline *Pipeline
}

// NewRunner wires the standard six-step row pipeline.
func NewRunner(n Normalizer, clinics ClinicStore, r Resolver, store TransactionStore, engine FanOutEngine, rec Reconciler) *Runner {
	cache := newClinicCache(clinics)
	return &Runner{
		resolver: r,
		engine:   engine,
		clinics:  cache,
		pipeline: NewPipeline(
			&ClinicStep{normalizer: n, clinics: cache},
			&NormalizeStep{normalizer: n},
			&ResolveStep{resolver: r},
			&StoreStep{store: store},
			&FanOutStep{engine: engine},
			&ReconcileStep{reconciler: rec},
		),
	}
}

// ValidateEnvelope rejects a batch before any row is touched.
func ValidateEnvelope(req BatchRequest) error {
	if _, err := domain.ParseSource(string(req.Source)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	if req.Rows == nil {
		return fmt.Errorf("%w: missing rows", domain.ErrMalformedEnvelope)
	}
	if len(req.Rows) > MaxBatchRows {
		return fmt.Errorf("%w: %d rows exceeds the limit of %d", domain.ErrMalformedEnvelope, len(req.Rows), MaxBatchRows)
	}
	// Uploads may carry the clinic id per row instead.
	if req.ClinicID <= 0 && req.Source != domain.SourceUpload {
		return fmt.Errorf("%w: missing clinic id", domain.ErrMalformedEnvelope)
	}
	return nil
}

// RunBatch processes every row in order. Only an invalid envelope fails the
// batch; row failures are reported in the summary.
func (r *Runner) RunBatch(ctx context.Context, req BatchRequest) (*BatchSummary, error) {
	if err := ValidateEnvelope(req); err != nil {
		return nil, err
	}
	if req.RowOffset == 0 {
		req.RowOffset = DefaultRowOffset
	}

	r.resolver.Reset()
	r.engine.Reset()
	r.clinics.reset()

	log := logger.FromContext(ctx).With().
		Int64("clinic_id", req.ClinicID).
		Str("source", string(req.Source)).
		Logger()
	start := time.Now()

	summary := &BatchSummary{
		Errors:  []RowError{},
		Results: make([]RowResult, 0, len(req.Rows)),
	}
	for i, raw := range req.Rows {
		state := &RowState{Index: i, Raw: raw, ClinicID: req.ClinicID, Source: req.Source}
		rowCtx := logger.WithContext(ctx, log.With().Int("row", i).Logger())

		result := RowResult{Row: i + req.RowOffset}
		if err := r.runRow(rowCtx, state); err != nil {
			log.Warn().Err(err).Int("row", i).Msg("Row failed")
			summary.Skipped++
			summary.Errors = append(summary.Errors, RowError{Index: i, Message: err.Error()})
			result.Status = StatusError
			result.Message = err.Error()
			summary.Results = append(summary.Results, result)
			continue
		}

		if state.Upsert.Inserted {
			summary.Inserted++
			result.Status = StatusInserted
		} else {
			summary.Updated++
			result.Status = StatusUpdated
		}
		summary.ZainsInserted += len(state.Entries)
		summary.Results = append(summary.Results, result)
	}

	log.Info().
		Int("rows", len(req.Rows)).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("ledger_entries", summary.ZainsInserted).
		Dur("duration", time.Since(start)).
		Msg("Batch processed")
	return summary, nil
}

func (r *Runner) runRow(ctx context.Context, state *RowState) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("row panicked: %v", p)
		}
	}()
	if state.Raw == nil {
		return fmt.Errorf("%w: empty row", domain.ErrInvalidDraft)
	}
	return r.pipeline.Execute(ctx, state)
}
