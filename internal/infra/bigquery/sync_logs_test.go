package bigquery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/clinic-ledger/internal/audit"
)

func TestSyncLogRowFromRecord(t *testing.T) {
	at := time.Date(2026, 1, 28, 17, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	rec := audit.Record{
		ClinicID:  7,
		Process:   audit.ProcessLedgerSync,
		Status:    audit.StatusFailed,
		Message:   "platform error (status 502)",
		Payload:   json.RawMessage(`{"request":{"amount":150000}}`),
		CreatedAt: at,
	}

	row := SyncLogRowFromRecord("log-1", rec)

	assert.Equal(t, "log-1", row.LogID)
	assert.Equal(t, int64(7), row.ClinicID)
	assert.Equal(t, "ledger_sync", row.Process)
	assert.Equal(t, "failed", row.Status)
	assert.True(t, row.Message.Valid)
	assert.True(t, row.Payload.Valid)
	assert.Equal(t, time.UTC, row.CreatedTS.Location())
	assert.True(t, at.Equal(row.CreatedTS))

	back := row.Record()
	assert.Equal(t, rec.ClinicID, back.ClinicID)
	assert.Equal(t, rec.Process, back.Process)
	assert.Equal(t, rec.Status, back.Status)
	assert.Equal(t, rec.Message, back.Message)
	assert.JSONEq(t, string(rec.Payload), string(back.Payload))
}

func TestSyncLogRowFromRecord_EmptyFieldsAreNull(t *testing.T) {
	row := SyncLogRowFromRecord("log-2", audit.Record{ClinicID: 3, Process: audit.ProcessLedgerSweep, Status: audit.StatusSuccess})

	assert.False(t, row.Message.Valid)
	assert.False(t, row.Payload.Valid)
	assert.Nil(t, row.Record().Payload)
}
