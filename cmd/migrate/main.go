package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/logger"
	"github.com/dvloznov/clinic-ledger/internal/store/postgres"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	var (
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "migrations/postgres", "Path to migrations directory")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.WithFields(logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat), map[string]interface{}{
		"service": "migrate",
	})
	ctx := logger.WithContext(context.Background(), log)

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer db.Close()

	log.Info().Str("database", cfg.Database.Name).Msg("Connected to Postgres")

	count, err := run(ctx, db, resolveDir(*migrationsDir), *appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if count == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", count).Msg("Successfully applied migrations")
	}
}

// run applies every pending migration in version order and returns how many
// were applied.
func run(ctx context.Context, db *sql.DB, dir, appliedBy string, log zerolog.Logger) (int, error) {
	if err := ensureSchemaMigrationsTable(ctx, db); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	migrations, err := readMigrations(dir, log)
	if err != nil {
		return 0, fmt.Errorf("reading migrations: %w", err)
	}
	log.Info().Int("files", len(migrations)).Msg("Found migration files")

	applied, err := getAppliedMigrations(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}
	log.Info().Int("applied", len(applied)).Msg("Found already applied migrations")

	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		mlog := log.With().Int("version", m.Version).Str("name", m.Name).Logger()

		if am, ok := appliedByVersion[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				mlog.Warn().Msg("Applied migration file has changed since it was applied")
			}
			mlog.Debug().Msg("Already applied")
			continue
		}

		mlog.Info().Msg("Applying migration")
		if err := applyMigration(ctx, db, m, appliedBy); err != nil {
			return count, fmt.Errorf("migration %04d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// resolveDir falls back to the repository root when run from cmd/migrate.
func resolveDir(dir string) string {
	if _, err := os.Stat(dir); err == nil {
		return dir
	}
	if alt := filepath.Join("..", "..", dir); dirExists(alt) {
		return alt
	}
	return dir
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func ensureSchemaMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	return err
}

// readMigrations reads all migration files from dir, sorted by version
func readMigrations(dir string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid version")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      string(content),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT version, name, applied_at, checksum, applied_by
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			am        AppliedMigration
			checksum  sql.NullString
			appliedBy sql.NullString
		)
		if err := rows.Scan(&am.Version, &am.Name, &am.AppliedAt, &checksum, &appliedBy); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		am.Checksum = checksum.String
		am.AppliedBy = appliedBy.String
		applied = append(applied, am)
	}
	return applied, rows.Err()
}

// applyMigration runs the migration and records it in one transaction, so a
// failed migration leaves no partial schema behind.
func applyMigration(ctx context.Context, db *sql.DB, m Migration, appliedBy string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, checksum, applied_by)
		VALUES ($1, $2, $3, $4)`,
		m.Version, m.Name, m.Checksum, appliedBy); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
