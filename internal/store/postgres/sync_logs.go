package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dvloznov/clinic-ledger/internal/audit"
)

// SyncLogRepository is the primary audit sink.
type SyncLogRepository struct {
	db *sql.DB
}

// NewSyncLogRepository creates a SyncLogRepository.
func NewSyncLogRepository(db *sql.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

var _ audit.Sink = (*SyncLogRepository)(nil)

// WriteSyncLog appends one audit record.
func (r *SyncLogRepository) WriteSyncLog(ctx context.Context, rec audit.Record) error {
	clinic := sql.NullInt64{Int64: rec.ClinicID, Valid: rec.ClinicID > 0}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_logs (clinic_id, process, status, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		clinic, string(rec.Process), string(rec.Status), rec.Message, string(rec.Payload), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("WriteSyncLog: %w", err)
	}
	return nil
}

// ListSyncLogs returns the newest records, optionally for one clinic
// (clinicID 0 lists all clinics).
func (r *SyncLogRepository) ListSyncLogs(ctx context.Context, clinicID int64, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(clinic_id, 0), process, status, message, payload::text, created_at
		FROM sync_logs
		WHERE ($1 = 0 OR clinic_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, clinicID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListSyncLogs: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec             audit.Record
			process, status string
			payload         string
		)
		if err := rows.Scan(&rec.ID, &rec.ClinicID, &process, &status, &rec.Message, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListSyncLogs: scanning: %w", err)
		}
		rec.Process = audit.Process(process)
		rec.Status = audit.Status(status)
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListSyncLogs: iterating: %w", err)
	}
	return out, nil
}
