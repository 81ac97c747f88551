// Package postgres is the relational ledger: transactions, ledger entries,
// patients, reference mappings and the sync audit log. Idempotency is enforced
// by the schema's uniqueness constraints, never by check-then-insert.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/lib/pq"

	"github.com/dvloznov/clinic-ledger/internal/config"
)

// Open connects to Postgres, applies pool settings and pings.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("Open: opening database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: pinging database: %w", err)
	}
	return db, nil
}

// Repositories bundles every repository over one shared pool.
type Repositories struct {
	Transactions *TransactionRepository
	Ledger       *LedgerRepository
	Patients     *PatientRepository
	Clinics      *ClinicRepository
	Mappings     *MappingRepository
	SyncLogs     *SyncLogRepository
}

// NewRepositories wires all repositories to db.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Transactions: NewTransactionRepository(db),
		Ledger:       NewLedgerRepository(db),
		Patients:     NewPatientRepository(db),
		Clinics:      NewClinicRepository(db),
		Mappings:     NewMappingRepository(db),
		SyncLogs:     NewSyncLogRepository(db),
	}
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
