// Package bigquery mirrors sync audit records into BigQuery for long-term
// inspection.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/clinic-ledger/internal/audit"
)

// SyncLogRepository is the BigQuery audit mirror. It holds a shared client to
// avoid creating a new connection for each operation.
type SyncLogRepository struct {
	client    *bigquery.Client
	datasetID string
	newID     func() string
}

// NewSyncLogRepository creates a repository with a shared BigQuery client.
func NewSyncLogRepository(ctx context.Context, projectID, datasetID string) (*SyncLogRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewSyncLogRepository: creating client: %w", err)
	}
	return &SyncLogRepository{
		client:    client,
		datasetID: datasetID,
		newID:     uuid.NewString,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *SyncLogRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// WriteSyncLog implements audit.Sink.
func (r *SyncLogRepository) WriteSyncLog(ctx context.Context, rec audit.Record) error {
	return InsertSyncLogWithClient(ctx, r.client, r.datasetID, SyncLogRowFromRecord(r.newID(), rec))
}

// ListSyncLogs returns the newest mirrored records of a clinic.
func (r *SyncLogRepository) ListSyncLogs(ctx context.Context, clinicID int64, limit int) ([]audit.Record, error) {
	return ListSyncLogRecords(ctx, r.client, r.datasetID, clinicID, limit)
}

var _ audit.Sink = (*SyncLogRepository)(nil)
