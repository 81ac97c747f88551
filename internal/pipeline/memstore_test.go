package pipeline_test

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// memStore enforces the natural-identity, ledger-dedup and patient keys the
// Postgres schema enforces with unique constraints.
type memStore struct {
	mu sync.Mutex

	clinics      map[int64]*domain.Clinic
	mappings     []domain.CategoryMapping
	transactions map[string]*storedTrx
	entries      map[string]domain.LedgerEntry
	patients     map[string]*domain.Patient
	nextID       int64

	failRecord string
}

type storedTrx struct {
	id        int64
	draft     domain.Draft
	patientID int64
	writes    int
}

func newMemStore() *memStore {
	return &memStore{
		clinics: map[int64]*domain.Clinic{
			7: {ID: 7, Name: "Klinik Sehat", OfficeCode: "OFF-7", AccountRef: "QRIS-7", Active: true},
			8: {ID: 8, Name: "Klinik Tutup", OfficeCode: "OFF-8", Active: false},
			9: {ID: 9, Name: "Klinik Baru", OfficeCode: "OFF-9", Active: true},
		},
		mappings: []domain.CategoryMapping{
			{Category: domain.CategoryRegistration, ProgramCode: "PRG-REG"},
			{Category: domain.CategoryProcedure, ProgramCode: "PRG-PROC"},
			{Category: domain.CategoryLab, ProgramCode: "PRG-LAB"},
			{Category: domain.CategoryPharmacy, ProgramCode: "PRG-PHARM"},
		},
		transactions: make(map[string]*storedTrx),
		entries:      make(map[string]domain.LedgerEntry),
		patients:     make(map[string]*domain.Patient),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) GetClinic(ctx context.Context, id int64) (*domain.Clinic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clinics[id]
	if !ok {
		return nil, fmt.Errorf("GetClinic %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (s *memStore) LookupPolyID(ctx context.Context, clinicID int64, key string, normalized bool) (*int64, error) {
	return nil, nil
}

func (s *memStore) LookupInsuranceID(ctx context.Context, clinicID int64, key string, normalized bool) (*int64, error) {
	return nil, nil
}

func (s *memStore) UpsertTransaction(ctx context.Context, d *domain.Draft) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecord != "" && d.RecordNumber == s.failRecord {
		return domain.UpsertResult{}, fmt.Errorf("UpsertTransaction: connection reset")
	}
	key := fmt.Sprintf("%d|%s|%s|%s|%s", d.ClinicID, d.RecordNumber, d.Date, d.RawPoly, d.Bill.Total.StringFixed(2))
	if t, ok := s.transactions[key]; ok {
		t.draft.PatientName = d.PatientName
		t.draft.PaymentMethod = d.PaymentMethod
		t.draft.Discount = d.Discount
		t.writes++
		return domain.UpsertResult{TransactionID: t.id}, nil
	}
	t := &storedTrx{id: s.id(), draft: *d, writes: 1}
	s.transactions[key] = t
	return domain.UpsertResult{TransactionID: t.id, Inserted: true}, nil
}

func (s *memStore) ListCategoryMappings(ctx context.Context) ([]domain.CategoryMapping, error) {
	return s.mappings, nil
}

func (s *memStore) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d|%s|%d|%s", e.TransactionID, e.ProgramCode, e.Amount, e.Date)
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	e.ID = s.id()
	s.entries[key] = *e
	return true, nil
}

func (s *memStore) UpsertPatient(ctx context.Context, clinicID int64, recordNumber, name string, date civil.Date) (*domain.PatientUpsert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d|%s", clinicID, recordNumber)
	if p, ok := s.patients[key]; ok {
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
	p := &domain.Patient{
		ID: s.id(), ClinicID: clinicID, RecordNumber: recordNumber, Name: name,
		FirstVisit: date, LastVisit: date, VisitCount: 1, SyncStatus: domain.PatientUnsynced,
	}
	s.patients[key] = p
	return &domain.PatientUpsert{Patient: *p, Inserted: true}, nil
}

func (s *memStore) IncrementVisit(ctx context.Context, patientID int64) (int, error) {
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

func (s *memStore) LinkPatient(ctx context.Context, transactionID, patientID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.id == transactionID {
			t.patientID = patientID
		}
	}
	return nil
}

func (s *memStore) BackfillDonorID(ctx context.Context, patientID int64, donorID string) (int64, error) {
	return 0, nil
}

func (s *memStore) patient(clinicID int64, record string) *domain.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patients[fmt.Sprintf("%d|%s", clinicID, record)]
}

type countingTrigger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTrigger) TriggerPatientSync(ctx context.Context, clinicID, patientID int64) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}
