package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/clinic-ledger/internal/audit"
)

const (
	syncLogsTable   = "sync_logs"
	defaultLogLimit = 100
)

// InsertSyncLogWithClient streams one row into {dataset}.sync_logs.
func InsertSyncLogWithClient(ctx context.Context, client *bigquery.Client, datasetID string, row *SyncLogRow) error {
	inserter := client.Dataset(datasetID).Table(syncLogsTable).Inserter()
	// InsertID makes retried inserts best-effort deduplicated.
	saver := &bigquery.StructSaver{Struct: row, InsertID: row.LogID}
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("InsertSyncLog: inserting row: %w", err)
	}
	return nil
}

// ListSyncLogsWithClient returns the newest audit rows of a clinic. A zero
// clinicID lists every clinic.
func ListSyncLogsWithClient(ctx context.Context, client *bigquery.Client, datasetID string, clinicID int64, limit int) ([]*SyncLogRow, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			log_id,
			clinic_id,
			process,
			status,
			message,
			payload,
			created_ts
		FROM `+"`%s.%s`"+`
		WHERE (@clinic_id = 0 OR clinic_id = @clinic_id)
		ORDER BY created_ts DESC
		LIMIT @limit
	`, datasetID, syncLogsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "clinic_id", Value: clinicID},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSyncLogs: query read: %w", err)
	}

	var rows []*SyncLogRow
	for {
		var r SyncLogRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSyncLogs: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

// ListSyncLogRecords is ListSyncLogsWithClient converted to audit records.
func ListSyncLogRecords(ctx context.Context, client *bigquery.Client, datasetID string, clinicID int64, limit int) ([]audit.Record, error) {
	rows, err := ListSyncLogsWithClient(ctx, client, datasetID, clinicID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]audit.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Record())
	}
	return out, nil
}
