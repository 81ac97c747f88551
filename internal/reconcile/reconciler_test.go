package reconcile

import (
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
)

// memoryStore keeps patients keyed on (clinic, record number) like the
// patients table's unique constraint.
type memoryStore struct {
	mu         sync.Mutex
	patients   map[string]*domain.Patient
	links      map[int64]int64
	backfilled map[int64]string
	nextID     int64
	upsertErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		patients:   make(map[string]*domain.Patient),
		links:      make(map[int64]int64),
		backfilled: make(map[int64]string),
	}
}

func (s *memoryStore) UpsertPatient(ctx context.Context, clinicID int64, recordNumber, name string, date civil.Date) (*domain.PatientUpsert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	key := fmt.Sprintf("%d|%s", clinicID, recordNumber)
	p, ok := s.patients[key]
	if !ok {
		s.nextID++
		p = &domain.Patient{
			ID: s.nextID, ClinicID: clinicID, RecordNumber: recordNumber, Name: name,
			FirstVisit: date, LastVisit: date, VisitCount: 1,
			RecordKey: domain.RecordKey(clinicID, recordNumber), SyncStatus: domain.PatientUnsynced,
		}
		s.patients[key] = p
		return &domain.PatientUpsert{Patient: *p, Inserted: true}, nil
	}
	if p.Name == "" {
		p.Name = name
	}
	if date.Before(p.FirstVisit) {
		p.FirstVisit = date
	}
	if date.After(p.LastVisit) {
		p.LastVisit = date
	}
	return &domain.PatientUpsert{Patient: *p}, nil
}

func (s *memoryStore) IncrementVisit(ctx context.Context, patientID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.ID == patientID {
			p.VisitCount++
			return p.VisitCount, nil
		}
	}
	return 0, domain.ErrNotFound
}

func (s *memoryStore) LinkPatient(ctx context.Context, transactionID, patientID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[transactionID] = patientID
	return nil
}

func (s *memoryStore) BackfillDonorID(ctx context.Context, patientID int64, donorID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backfilled[patientID] = donorID
	return 1, nil
}

func (s *memoryStore) setDonor(recordKey, donor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[recordKey].DonorID = donor
}

type recordingTrigger struct {
	mu       sync.Mutex
	patients []int64
}

func (r *recordingTrigger) TriggerPatientSync(ctx context.Context, clinicID, patientID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients = append(r.patients, patientID)
}

func draftOn(day int, name string) *domain.Draft {
	d := domain.NewDraft(7, domain.SourceScrape)
	d.Date = civil.Date{Year: 2026, Month: time.January, Day: day}
	d.RecordNumber = "RM-1"
	d.PatientName = name
	return d
}

func newReconciler(s *memoryStore, tr SyncTrigger) *Reconciler {
	return NewReconciler(s, s, s, tr)
}

func TestReconcile_NoFanOutLeavesPatientsUntouched(t *testing.T) {
	store := newMemoryStore()
	trigger := &recordingTrigger{}
	r := newReconciler(store, trigger)

	p, err := r.ReconcileIfNeeded(context.Background(), draftOn(28, "Siti"), domain.UpsertResult{TransactionID: 1, Inserted: true}, 0)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, store.patients)
	assert.Empty(t, store.links)
	assert.Empty(t, trigger.patients)
}

func TestReconcile_FirstVisitCreatesPatientAndTriggersSync(t *testing.T) {
	store := newMemoryStore()
	trigger := &recordingTrigger{}
	r := newReconciler(store, trigger)

	p, err := r.ReconcileIfNeeded(context.Background(), draftOn(28, "Siti"), domain.UpsertResult{TransactionID: 1, Inserted: true}, 2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.VisitCount)
	assert.Equal(t, "C7-RM1", p.RecordKey)
	assert.Equal(t, p.ID, store.links[1])
	assert.Equal(t, []int64{p.ID}, trigger.patients)
}

func TestReconcile_DuplicateSubmissionDoesNotAddVisits(t *testing.T) {
	store := newMemoryStore()
	r := newReconciler(store, &recordingTrigger{})
	ctx := context.Background()

	_, err := r.ReconcileIfNeeded(ctx, draftOn(28, "Siti"), domain.UpsertResult{TransactionID: 1, Inserted: true}, 1)
	require.NoError(t, err)
	p, err := r.ReconcileIfNeeded(ctx, draftOn(28, "Siti"), domain.UpsertResult{TransactionID: 1, Inserted: false}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.VisitCount)
}

func TestReconcile_NewTransactionOfKnownPatient(t *testing.T) {
	store := newMemoryStore()
	r := newReconciler(store, &recordingTrigger{})
	ctx := context.Background()

	_, err := r.ReconcileIfNeeded(ctx, draftOn(28, ""), domain.UpsertResult{TransactionID: 1, Inserted: true}, 1)
	require.NoError(t, err)
	p, err := r.ReconcileIfNeeded(ctx, draftOn(20, "Siti Aminah"), domain.UpsertResult{TransactionID: 2, Inserted: true}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, p.VisitCount)
	assert.Equal(t, "Siti Aminah", p.Name, "blank name filled in")
	assert.Equal(t, civil.Date{Year: 2026, Month: time.January, Day: 20}, p.FirstVisit)
	assert.Equal(t, civil.Date{Year: 2026, Month: time.January, Day: 28}, p.LastVisit)

	p, err = r.ReconcileIfNeeded(ctx, draftOn(29, "Someone Else"), domain.UpsertResult{TransactionID: 3, Inserted: true}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Siti Aminah", p.Name, "existing name kept")
	assert.Equal(t, 3, p.VisitCount)
}

func TestReconcile_KnownDonorBackfillsInsteadOfSync(t *testing.T) {
	store := newMemoryStore()
	trigger := &recordingTrigger{}
	r := newReconciler(store, trigger)
	ctx := context.Background()

	first, err := r.ReconcileIfNeeded(ctx, draftOn(28, "Siti"), domain.UpsertResult{TransactionID: 1, Inserted: true}, 1)
	require.NoError(t, err)
	store.setDonor("7|RM-1", "D-77")

	_, err = r.ReconcileIfNeeded(ctx, draftOn(29, "Siti"), domain.UpsertResult{TransactionID: 2, Inserted: true}, 1)
	require.NoError(t, err)

	assert.Equal(t, "D-77", store.backfilled[first.ID])
	assert.Equal(t, []int64{first.ID}, trigger.patients, "only the first row triggers a sync")
}

func TestReconcile_StoreErrorPropagates(t *testing.T) {
	store := newMemoryStore()
	store.upsertErr = errors.New("unique violation")
	r := newReconciler(store, nil)

	_, err := r.ReconcileIfNeeded(context.Background(), draftOn(28, "Siti"), domain.UpsertResult{TransactionID: 1, Inserted: true}, 1)
	assert.Error(t, err)
}
