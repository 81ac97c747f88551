package bigquery

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/clinic-ledger/internal/audit"
)

// SyncLogRow mirrors one sync_logs audit record.
type SyncLogRow struct {
	LogID    string `bigquery:"log_id"`    // REQUIRED
	ClinicID int64  `bigquery:"clinic_id"` // REQUIRED
	Process  string `bigquery:"process"`   // REQUIRED
	Status   string `bigquery:"status"`    // REQUIRED

	Message bigquery.NullString `bigquery:"message"` // NULLABLE
	Payload bigquery.NullJSON   `bigquery:"payload"` // NULLABLE JSON

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// SyncLogRowFromRecord converts an audit record into a mirror row.
func SyncLogRowFromRecord(logID string, rec audit.Record) *SyncLogRow {
	row := &SyncLogRow{
		LogID:     logID,
		ClinicID:  rec.ClinicID,
		Process:   string(rec.Process),
		Status:    string(rec.Status),
		Message:   bigquery.NullString{StringVal: rec.Message, Valid: rec.Message != ""},
		CreatedTS: rec.CreatedAt.UTC(),
	}
	if len(rec.Payload) > 0 {
		row.Payload = bigquery.NullJSON{JSONVal: string(rec.Payload), Valid: true}
	}
	return row
}

// Record converts the row back into an audit record.
func (r *SyncLogRow) Record() audit.Record {
	rec := audit.Record{
		ClinicID:  r.ClinicID,
		Process:   audit.Process(r.Process),
		Status:    audit.Status(r.Status),
		Message:   r.Message.StringVal,
		CreatedAt: r.CreatedTS,
	}
	if r.Payload.Valid {
		rec.Payload = json.RawMessage(r.Payload.JSONVal)
	}
	return rec
}
