package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/ledger"
	"github.com/dvloznov/clinic-ledger/internal/logger"
	"github.com/dvloznov/clinic-ledger/internal/normalize"
	"github.com/dvloznov/clinic-ledger/internal/pipeline"
	"github.com/dvloznov/clinic-ledger/internal/reconcile"
	"github.com/dvloznov/clinic-ledger/internal/resolve"
)

func newRunner(store *memStore, trigger reconcile.SyncTrigger) *pipeline.Runner {
	return pipeline.NewRunner(
		normalize.New(),
		store,
		resolve.NewResolver(store),
		store,
		ledger.NewEngine(store),
		reconcile.NewReconciler(store, store, store, trigger),
	)
}

func testCtx() context.Context {
	return logger.WithContext(context.Background(), logger.NewWithWriter(&bytes.Buffer{}))
}

func scrapeRow(record, procedurePaid string) map[string]string {
	return map[string]string{
		"Tanggal":          "28 Januari 2026",
		"No. RM":           record,
		"Nama Pasien":      "Pasien " + record,
		"Poli":             "Poli Umum",
		"Tagihan Tindakan": procedurePaid,
		"Dibayar Tindakan": procedurePaid,
	}
}

func TestRunBatch_IdempotentIngestion(t *testing.T) {
	store := newMemStore()
	trigger := &countingTrigger{}
	runner := newRunner(store, trigger)
	ctx := testCtx()

	req := pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceScrape, Rows: []map[string]string{scrapeRow("RM-1", "150,000")}}

	first, err := runner.RunBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 1, first.ZainsInserted)

	row := scrapeRow("RM-1", "150,000")
	row["Nama Pasien"] = "Pasien Satu"
	second, err := runner.RunBatch(ctx, pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceScrape, Rows: []map[string]string{row}})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Updated)
	assert.Equal(t, 0, second.ZainsInserted)
	assert.Empty(t, second.Errors)

	require.Len(t, store.transactions, 1)
	for _, tx := range store.transactions {
		assert.Equal(t, "Pasien Satu", tx.draft.PatientName, "mutable field merged")
		assert.Equal(t, 2, tx.writes)
	}
	assert.Len(t, store.entries, 1)
	assert.Equal(t, 1, store.patient(7, "RM-1").VisitCount)
}

func TestRunBatch_ChangedTotalIsNewTransaction(t *testing.T) {
	store := newMemStore()
	runner := newRunner(store, &countingTrigger{})
	ctx := testCtx()

	_, err := runner.RunBatch(ctx, pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceScrape, Rows: []map[string]string{scrapeRow("RM-1", "150,000")}})
	require.NoError(t, err)
	summary, err := runner.RunBatch(ctx, pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceScrape, Rows: []map[string]string{scrapeRow("RM-1", "175,000")}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Inserted)
	assert.Len(t, store.transactions, 2)
	assert.Equal(t, 2, store.patient(7, "RM-1").VisitCount)
}

func TestRunBatch_BatchIsolation(t *testing.T) {
	store := newMemStore()
	store.failRecord = "RM-DB"
	runner := newRunner(store, &countingTrigger{})

	bad := scrapeRow("RM-3", "10,000")
	bad["Tanggal"] = "31 February 2026"

	rows := []map[string]string{
		scrapeRow("RM-1", "10,000"),
		scrapeRow("RM-2", "20,000"),
		bad,
		scrapeRow("RM-4", "40,000"),
		scrapeRow("RM-5", "50,000"),
	}
	summary, err := runner.RunBatch(testCtx(), pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceScrape, Rows: rows})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 2, summary.Errors[0].Index)
	assert.Contains(t, summary.Errors[0].Message, "invalid date")
	assert.Len(t, store.transactions, 4)

	require.Len(t, summary.Results, 5)
	assert.Equal(t, pipeline.RowResult{Row: 3, Status: pipeline.StatusError, Message: summary.Errors[0].Message}, summary.Results[2])
}

func TestRunBatch_DatastoreErrorIsolated(t *testing.T) {
	store := newMemStore()
	store.failRecord = "RM-DB"
	runner := newRunner(store, &countingTrigger{})

	rows := []map[string]string{scrapeRow("RM-DB", "10,000"), scrapeRow("RM-2", "20,000")}
	summary, err := runner.RunBatch(testCtx(), pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceAPI, Rows: rows})
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 0, summary.Errors[0].Index)
	assert.Equal(t, 1, summary.Inserted)
}

func TestRunBatch_ZeroFanOutLeavesPatientUntouched(t *testing.T) {
	store := newMemStore()
	trigger := &countingTrigger{}
	runner := newRunner(store, trigger)

	row := scrapeRow("RM-9", "100,000")
	row["Diskon Tindakan"] = "100,000"
	summary, err := runner.RunBatch(testCtx(), pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceScrape, Rows: []map[string]string{row}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.ZainsInserted)
	assert.Empty(t, store.entries)
	assert.Nil(t, store.patient(7, "RM-9"))
	assert.Zero(t, trigger.calls)
}

func TestRunBatch_EnvelopeValidation(t *testing.T) {
	runner := newRunner(newMemStore(), nil)
	ctx := testCtx()

	tests := []struct {
		name string
		req  pipeline.BatchRequest
	}{
		{"missing clinic id", pipeline.BatchRequest{Source: domain.SourceAPI, Rows: []map[string]string{}}},
		{"missing rows", pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceAPI}},
		{"unknown source", pipeline.BatchRequest{ClinicID: 7, Source: "fax", Rows: []map[string]string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.RunBatch(ctx, tt.req)
			assert.True(t, errors.Is(err, domain.ErrMalformedEnvelope))
		})
	}
}

func TestRunBatch_MultiClinicUpload(t *testing.T) {
	store := newMemStore()
	runner := newRunner(store, &countingTrigger{})

	row := func(clinic, record string) map[string]string {
		return map[string]string{
			"Clinic ID":        clinic,
			"Tanggal":          "46050",
			"No. RM":           record,
			"Poli":             "Poli Umum",
			"Tagihan Tindakan": "100.000",
			"Dibayar Tindakan": "100.000",
		}
	}
	rows := []map[string]string{
		row("7", "RM-1"),
		row("9", "RM-1"),
		row("8", "RM-2"),
		row("abc", "RM-3"),
		{"Tanggal": "46050", "No. RM": "RM-4"},
	}
	summary, err := runner.RunBatch(testCtx(), pipeline.BatchRequest{
		Source: domain.SourceUpload, Rows: rows, RowOffset: pipeline.UploadRowOffset,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 3, summary.Skipped)
	assert.NotNil(t, store.patient(7, "RM-1"))
	assert.NotNil(t, store.patient(9, "RM-1"))
	assert.Contains(t, summary.Results[2].Message, "inactive")
	assert.Equal(t, 4, summary.Results[2].Row)
	assert.Contains(t, summary.Results[4].Message, "missing clinic id")
}

func TestRunBatch_APIRowCannotRedirectClinic(t *testing.T) {
	store := newMemStore()
	runner := newRunner(store, &countingTrigger{})

	other := scrapeRow("RM-1", "10,000")
	other["clinic_id"] = "9"
	same := scrapeRow("RM-2", "20,000")
	same["clinic_id"] = "7"

	summary, err := runner.RunBatch(testCtx(), pipeline.BatchRequest{
		ClinicID: 7, Source: domain.SourceAPI, Rows: []map[string]string{other, same},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Inserted)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 0, summary.Errors[0].Index)
	assert.Contains(t, summary.Errors[0].Message, "does not match batch clinic 7")
	assert.Nil(t, store.patient(9, "RM-1"))
	assert.NotNil(t, store.patient(7, "RM-2"))
	for _, tx := range store.transactions {
		assert.Equal(t, int64(7), tx.draft.ClinicID)
	}
}

func TestRunBatch_UploadAggregateDiscount(t *testing.T) {
	store := newMemStore()
	runner := newRunner(store, &countingTrigger{})

	rows := []map[string]string{{
		"Tanggal":           "28/01/2026",
		"No. RM":            "RM-1",
		"Poli":              "Poli Umum",
		"Dibayar Tindakan":  "100.000",
		"Dibayar Obat":      "30.000",
		"Diskon Pembayaran": "25.000",
		"Total Tagihan":     "130.000",
	}}
	summary, err := runner.RunBatch(testCtx(), pipeline.BatchRequest{ClinicID: 7, Source: domain.SourceUpload, Rows: rows})
	require.NoError(t, err)
	require.Equal(t, 2, summary.ZainsInserted)

	amounts := map[domain.Category]int64{}
	for _, e := range store.entries {
		amounts[e.Category] = e.Amount
	}
	assert.Equal(t, int64(75000), amounts[domain.CategoryProcedure])
	assert.Equal(t, int64(30000), amounts[domain.CategoryPharmacy])
}

func TestRunBatch_ConcurrentDuplicateSubmission(t *testing.T) {
	store := newMemStore()
	trigger := &countingTrigger{}
	runner := newRunner(store, trigger)
	ctx := testCtx()

	const submitters = 12
	var wg sync.WaitGroup
	summaries := make([]*pipeline.BatchSummary, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := runner.RunBatch(ctx, pipeline.BatchRequest{
				ClinicID: 7, Source: domain.SourceAPI,
				Rows: []map[string]string{scrapeRow("RM-1", "150,000")},
			})
			assert.NoError(t, err)
			summaries[i] = s
		}(i)
	}
	wg.Wait()

	inserted, entries := 0, 0
	for _, s := range summaries {
		inserted += s.Inserted
		entries += s.ZainsInserted
	}
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, entries)
	assert.Len(t, store.transactions, 1)
	assert.Len(t, store.entries, 1)
	assert.Equal(t, 1, store.patient(7, "RM-1").VisitCount)
}
