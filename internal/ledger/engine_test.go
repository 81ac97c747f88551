package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// uniqueStore enforces the same dedup key as the ledger_entries constraint.
type uniqueStore struct {
	mu        sync.Mutex
	mappings  []domain.CategoryMapping
	entries   map[string]domain.LedgerEntry
	nextID    int64
	insertErr error
	listCalls int
}

func newUniqueStore() *uniqueStore {
	return &uniqueStore{
		mappings: []domain.CategoryMapping{
			{Category: domain.CategoryRegistration, ProgramCode: "PRG-REG"},
			{Category: domain.CategoryProcedure, ProgramCode: "PRG-PROC"},
			{Category: domain.CategoryLab, ProgramCode: "PRG-LAB"},
			{Category: domain.CategoryPharmacy, ProgramCode: "PRG-PHARM"},
		},
		entries: make(map[string]domain.LedgerEntry),
	}
}

func (s *uniqueStore) ListCategoryMappings(ctx context.Context) ([]domain.CategoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return s.mappings, nil
}

func (s *uniqueStore) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return false, s.insertErr
	}
	key := fmt.Sprintf("%d|%s|%d|%s", e.TransactionID, e.ProgramCode, e.Amount, e.Date)
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.nextID++
	e.ID = s.nextID
	s.entries[key] = *e
	return true, nil
}

func testClinic() *domain.Clinic {
	return &domain.Clinic{ID: 7, Name: "Klinik Sehat", OfficeCode: "OFF-1", AccountRef: "QRIS-ACC", CashAccountCode: "1101", Active: true}
}

func testDraft(source domain.Source) *domain.Draft {
	dr := domain.NewDraft(7, source)
	dr.Date = civil.Date{Year: 2026, Month: time.January, Day: 28}
	dr.RecordNumber = "RM-1"
	return dr
}

func testCtx() (context.Context, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return logger.WithContext(context.Background(), logger.NewWithWriter(buf)), buf
}

func TestFanOut_CreatesPositiveCategoriesOnly(t *testing.T) {
	store := newUniqueStore()
	engine := NewEngine(store)
	ctx, _ := testCtx()

	dr := testDraft(domain.SourceAPI)
	dr.PaymentMethod = "QRIS"
	dr.Paid.Set(domain.CategoryProcedure, d(150000))
	dr.Discount.Set(domain.CategoryProcedure, d(10000))
	dr.Paid.Set(domain.CategoryLab, d(0))
	dr.Paid.Set(domain.CategoryPharmacy, d(45000))

	entries, err := engine.FanOut(ctx, testClinic(), 11, dr)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.CategoryProcedure, entries[0].Category)
	assert.Equal(t, "PRG-PROC", entries[0].ProgramCode)
	assert.Equal(t, int64(140000), entries[0].Amount)
	assert.Equal(t, "OFF-1", entries[0].OfficeCode)
	assert.Equal(t, "QRIS-ACC", entries[0].AccountRef)
	assert.Equal(t, domain.SyncPending, entries[0].Status)
	assert.Equal(t, domain.CategoryPharmacy, entries[1].Category)
}

func TestFanOut_AllZeroCreatesNothing(t *testing.T) {
	store := newUniqueStore()
	engine := NewEngine(store)
	ctx, _ := testCtx()

	dr := testDraft(domain.SourceScrape)
	dr.Paid.Set(domain.CategoryProcedure, d(10000))
	dr.Discount.Set(domain.CategoryProcedure, d(10000))

	entries, err := engine.FanOut(ctx, testClinic(), 11, dr)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, store.listCalls, "mappings are not loaded for an empty fan-out")
}

func TestFanOut_UnmappedCategoryIsSkippedWithWarning(t *testing.T) {
	store := newUniqueStore()
	engine := NewEngine(store)
	ctx, buf := testCtx()

	dr := testDraft(domain.SourceScrape)
	dr.Paid.Set(domain.CategoryRadiology, d(80000))
	dr.Paid.Set(domain.CategoryLab, d(20000))

	entries, err := engine.FanOut(ctx, testClinic(), 11, dr)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CategoryLab, entries[0].Category)
	assert.Contains(t, buf.String(), "No program code for category")
	assert.Contains(t, buf.String(), "radiology")
}

func TestFanOut_ClinicWithoutOfficeCode(t *testing.T) {
	store := newUniqueStore()
	engine := NewEngine(store)
	ctx, buf := testCtx()

	clinic := testClinic()
	clinic.OfficeCode = ""
	dr := testDraft(domain.SourceScrape)
	dr.Paid.Set(domain.CategoryLab, d(20000))

	entries, err := engine.FanOut(ctx, clinic, 11, dr)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, store.entries)
	assert.Contains(t, buf.String(), "no office code")
}

func TestFanOut_RepeatIsIdempotent(t *testing.T) {
	store := newUniqueStore()
	engine := NewEngine(store)
	ctx, _ := testCtx()

	dr := testDraft(domain.SourceScrape)
	dr.Paid.Set(domain.CategoryLab, d(20000))

	first, err := engine.FanOut(ctx, testClinic(), 11, dr)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := engine.FanOut(ctx, testClinic(), 11, dr)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, store.entries, 1)
	assert.Equal(t, 1, store.listCalls, "mappings are cached")

	engine.Reset()
	_, err = engine.FanOut(ctx, testClinic(), 11, dr)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
}

func TestFanOut_ConcurrentDuplicateSubmission(t *testing.T) {
	store := newUniqueStore()
	engine := NewEngine(store)
	ctx, _ := testCtx()

	dr := testDraft(domain.SourceScrape)
	dr.Paid.Set(domain.CategoryProcedure, d(100000))
	dr.Paid.Set(domain.CategoryLab, d(20000))

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := engine.FanOut(ctx, testClinic(), 11, dr)
			assert.NoError(t, err)
			mu.Lock()
			created += len(entries)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, created)
	assert.Len(t, store.entries, 2)
}

func TestFanOut_StoreError(t *testing.T) {
	store := newUniqueStore()
	store.insertErr = errors.New("deadlock detected")
	engine := NewEngine(store)
	ctx, _ := testCtx()

	dr := testDraft(domain.SourceScrape)
	dr.Paid.Set(domain.CategoryLab, d(20000))

	_, err := engine.FanOut(ctx, testClinic(), 11, dr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
}
