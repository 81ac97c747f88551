package platformsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/clinic-ledger/internal/audit"
	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Candidates int           `json:"candidates"`
	Entries    EntryCounts   `json:"entries"`
	Duration   time.Duration `json:"duration"`
}

// Sweeper re-drives ledger entries that never reached the platform.
type Sweeper struct {
	store       SweepStore
	syncer      EntrySyncer
	recorder    *audit.Recorder
	limit       int
	concurrency int
	staleAfter  time.Duration
}

// NewSweeper creates a Sweeper. concurrency bounds simultaneous platform
// calls.
func NewSweeper(store SweepStore, syncer EntrySyncer, recorder *audit.Recorder, limit, concurrency int, staleAfter time.Duration) *Sweeper {
	if limit <= 0 {
		limit = 100
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Sweeper{
		store:       store,
		syncer:      syncer,
		recorder:    recorder,
		limit:       limit,
		concurrency: concurrency,
		staleAfter:  staleAfter,
	}
}

// Run syncs up to limit candidate entries in parallel and waits for all of
// them before writing one summary audit record.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	if !s.syncer.Enabled() {
		return nil, domain.ErrSyncDisabled
	}
	log := logger.FromContext(ctx)
	start := time.Now()

	ids, err := s.store.ListSweepCandidates(ctx, s.limit, s.staleAfter)
	if err != nil {
		return nil, fmt.Errorf("Sweep: %w", err)
	}
	result := &SweepResult{Candidates: len(ids)}
	if len(ids) == 0 {
		log.Debug().Msg("Sweep found no candidate entries")
		return result, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			outcome, err := s.syncer.SyncLedgerEntry(ctx, id)
			if err != nil {
				log.Warn().Err(err).Int64("entry_id", id).Msg("Sweep entry sync failed")
			}
			mu.Lock()
			result.Entries.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	result.Duration = time.Since(start)

	status := audit.StatusSuccess
	if result.Entries.Failed > 0 {
		status = audit.StatusFailed
	}
	s.recorder.Record(ctx, audit.Record{
		Process: audit.ProcessLedgerSweep,
		Status:  status,
		Message: fmt.Sprintf("sweep: %d candidates, %d synced, %d skipped, %d failed",
			result.Candidates, result.Entries.Synced, result.Entries.Skipped, result.Entries.Failed),
		Payload: audit.Payload(map[string]int{"limit": s.limit, "concurrency": s.concurrency}, result, nil),
	})

	log.Info().
		Int("candidates", result.Candidates).
		Int("synced", result.Entries.Synced).
		Int("skipped", result.Entries.Skipped).
		Int("failed", result.Entries.Failed).
		Int("deferred", result.Entries.Deferred).
		Dur("duration", result.Duration).
		Msg("Sweep complete")
	return result, nil
}

// Loop runs the sweep every interval until ctx is cancelled.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Sweep loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sweep loop stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				if errors.Is(err, domain.ErrSyncDisabled) {
					log.Debug().Msg("Sweep skipped, sync disabled")
					continue
				}
				log.Error().Err(err).Msg("Sweep run failed")
			}
		}
	}
}
