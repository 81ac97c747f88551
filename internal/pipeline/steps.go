package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// PipelineStep represents a single step of the per-row pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *RowState) error
}

// RowState holds the shared state across the steps of one row.
type RowState struct {
	Index    int
	Raw      map[string]string
	ClinicID int64
	Source   domain.Source

	Clinic  *domain.Clinic
	Draft   *domain.Draft
	Upsert  domain.UpsertResult
	Entries []domain.LedgerEntry
	Patient *domain.Patient
}

// Step 1: ClinicStep picks the row's clinic and rejects unknown or inactive
// clinics. Only uploads may address several clinics from one file; for other
// sources a row clinic id must match the batch clinic.
type ClinicStep struct {
	normalizer Normalizer
	clinics    *clinicCache
}

func (s *ClinicStep) Execute(ctx context.Context, state *RowState) error {
	if v, ok := s.normalizer.RowClinicID(state.Raw); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("%w: clinic id %q", domain.ErrInvalidDraft, v)
		}
		switch {
		case state.Source == domain.SourceUpload:
			state.ClinicID = id
		case id != state.ClinicID:
			return fmt.Errorf("%w: row clinic id %d does not match batch clinic %d",
				domain.ErrInvalidDraft, id, state.ClinicID)
		}
	}
	if state.ClinicID <= 0 {
		return fmt.Errorf("%w: missing clinic id", domain.ErrInvalidDraft)
	}

	clinic, err := s.clinics.get(ctx, state.ClinicID)
	if err != nil {
		return err
	}
	if !clinic.Active {
		return fmt.Errorf("clinic %d is inactive", clinic.ID)
	}
	state.Clinic = clinic
	return nil
}

// Step 2: NormalizeStep converts the raw row into a draft.
type NormalizeStep struct {
	normalizer Normalizer
}

func (s *NormalizeStep) Execute(ctx context.Context, state *RowState) error {
	draft, err := s.normalizer.Normalize(state.Raw, state.ClinicID, state.Source)
	if err != nil {
		return err
	}
	state.Draft = draft
	return nil
}

// Step 3: ResolveStep maps the raw polyclinic and insurance strings.
type ResolveStep struct {
	resolver Resolver
}

func (s *ResolveStep) Execute(ctx context.Context, state *RowState) error {
	d := state.Draft
	res, err := s.resolver.Resolve(ctx, d.ClinicID, d.RawPoly, d.RawInsurance, d.Source)
	if err != nil {
		return err
	}
	d.PolyID = res.PolyID
	d.InsuranceID = res.InsuranceID
	return nil
}

// Step 4: StoreStep persists or merges the transaction.
type StoreStep struct {
	store TransactionStore
}

func (s *StoreStep) Execute(ctx context.Context, state *RowState) error {
	if err := state.Draft.Validate(); err != nil {
		return err
	}
	res, err := s.store.UpsertTransaction(ctx, state.Draft)
	if err != nil {
		return err
	}
	state.Upsert = res
	return nil
}

// Step 5: FanOutStep creates the transaction's ledger entries.
type FanOutStep struct {
	engine FanOutEngine
}

func (s *FanOutStep) Execute(ctx context.Context, state *RowState) error {
	entries, err := s.engine.FanOut(ctx, state.Clinic, state.Upsert.TransactionID, state.Draft)
	if err != nil {
		return err
	}
	state.Entries = entries
	return nil
}

// Step 6: ReconcileStep upserts the patient when entries were created.
type ReconcileStep struct {
	reconciler Reconciler
}

func (s *ReconcileStep) Execute(ctx context.Context, state *RowState) error {
	patient, err := s.reconciler.ReconcileIfNeeded(ctx, state.Draft, state.Upsert, len(state.Entries))
	if err != nil {
		return err
	}
	state.Patient = patient
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially, stopping at the first
// failure.
func (p *Pipeline) Execute(ctx context.Context, state *RowState) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// clinicCache memoizes clinic lookups for the duration of a batch.
type clinicCache struct {
	store ClinicStore

	mu      sync.Mutex
	clinics map[int64]*domain.Clinic
}

func newClinicCache(store ClinicStore) *clinicCache {
	return &clinicCache{store: store, clinics: make(map[int64]*domain.Clinic)}
}

func (c *clinicCache) get(ctx context.Context, id int64) (*domain.Clinic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if clinic, ok := c.clinics[id]; ok {
		return clinic, nil
	}
	clinic, err := c.store.GetClinic(ctx, id)
	if err != nil {
		return nil, err
	}
	c.clinics[id] = clinic
	return clinic, nil
}

func (c *clinicCache) reset() {
	c.mu.Lock()
	c.clinics = make(map[int64]*domain.Clinic)
	c.mu.Unlock()
}
