package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/clinic-ledger/internal/app"
	"github.com/dvloznov/clinic-ledger/internal/audit"
	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/dispatch"
	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/gcsuploader"
	"github.com/dvloznov/clinic-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/clinic-ledger/internal/logger"
	"github.com/dvloznov/clinic-ledger/internal/pipeline"
	"github.com/dvloznov/clinic-ledger/internal/spreadsheet"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.WithFields(logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat), map[string]interface{}{
		"service": "cli",
	})

	switch os.Args[1] {
	case "ingest-xlsx":
		runIngestXLSX(cfg, log)
	case "sweep":
		runSweep(cfg, log)
	case "sync-patient":
		runSyncPatient(cfg, log)
	case "logs":
		runLogs(cfg, log)
	case "transaction":
		runTransaction(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Clinic Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest-xlsx   Ingest a billing workbook from a local file or GCS")
	fmt.Println("  sweep         Run one ledger sweep against the external platform")
	fmt.Println("  sync-patient  Sync one patient and its pending ledger entries")
	fmt.Println("  logs          Show recent sync audit logs")
	fmt.Println("  transaction   Show one stored transaction")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) *app.App {
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	return a
}

func runIngestXLSX(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest-xlsx", flag.ExitOnError)
	clinicID := fs.Int64("clinic-id", 0, "Clinic ID (omit for multi-clinic workbooks with a clinic column)")
	filePath := fs.String("file", "", "Path to local .xlsx file")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of the .xlsx file")
	fs.Parse(os.Args[2:])

	if (*filePath == "") == (*gcsURI == "") {
		log.Fatal().Msg("Usage: cli ingest-xlsx [-clinic-id ID] (-file PATH | -gcs-uri gs://bucket/object)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	data, name := readWorkbook(ctx, log, *filePath, *gcsURI)

	a := build(ctx, cfg, log)
	defer a.Close(log)

	sheet, err := a.Sheets.ParseXLSX(bytes.NewReader(data))
	if err != nil {
		log.Fatal().Err(err).Str("file", name).Msg("Failed to read workbook")
	}
	if err := a.Sheets.ValidateHeaders(sheet.Headers, spreadsheet.UploadFields(*clinicID > 0)); err != nil {
		log.Fatal().Err(err).Str("file", name).Msg("Workbook rejected")
	}

	// Patient syncs triggered by the batch are drained before exit.
	queue := inmemory.NewQueue(inmemory.QueueConfig{Workers: 2}, nil)
	if err := queue.Start(ctx, a.Dispatcher.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job queue")
	}
	runner := a.NewRunner(dispatch.NewAsyncTrigger(queue, a.Dispatcher))

	log.Info().Str("file", name).Int("rows", len(sheet.Rows)).Msg("Starting ingestion")

	summary, err := runner.RunBatch(ctx, pipeline.BatchRequest{
		ClinicID:  *clinicID,
		Source:    domain.SourceUpload,
		Rows:      sheet.Rows,
		RowOffset: pipeline.UploadRowOffset,
	})
	if stopErr := queue.Stop(ctx); stopErr != nil {
		log.Error().Err(stopErr).Msg("Patient sync queue did not drain")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	printJSON(summary)
}

func readWorkbook(ctx context.Context, log zerolog.Logger, filePath, gcsURI string) ([]byte, string) {
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("file", filePath).Msg("Failed to read file")
		}
		return data, filePath
	}

	storage, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer storage.Close()

	data, err := storage.FetchFromGCS(ctx, gcsURI)
	if err != nil {
		log.Fatal().Err(err).Str("gcs_uri", gcsURI).Msg("Failed to fetch workbook")
	}
	return data, gcsuploader.ExtractFilenameFromGCSURI(gcsURI)
}

func runSweep(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := build(ctx, cfg, log)
	defer a.Close(log)

	result, err := a.Sweeper.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Sweep failed")
	}
	printJSON(result)
}

func runSyncPatient(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("sync-patient", flag.ExitOnError)
	patientID := fs.Int64("id", 0, "Patient ID")
	fs.Parse(os.Args[2:])

	if *patientID <= 0 {
		log.Fatal().Msg("Error: --id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := build(ctx, cfg, log)
	defer a.Close(log)

	outcome, err := a.Workflow.SyncPatient(ctx, *patientID)
	if err != nil {
		log.Fatal().Err(err).Int64("patient_id", *patientID).Msg("Patient sync failed")
	}
	printJSON(outcome)
}

func runLogs(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	clinicID := fs.Int64("clinic-id", 0, "Clinic ID (0 for all clinics)")
	limit := fs.Int("limit", 50, "Maximum number of records")
	source := fs.String("source", "postgres", "Where to read from: postgres or bigquery")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := build(ctx, cfg, log)
	defer a.Close(log)

	var (
		records []audit.Record
		err     error
	)
	switch *source {
	case "postgres":
		records, err = a.Repos.SyncLogs.ListSyncLogs(ctx, *clinicID, *limit)
	case "bigquery":
		if a.Mirror == nil {
			log.Fatal().Msg("BigQuery mirror not configured (set BQ_PROJECT)")
		}
		records, err = a.Mirror.ListSyncLogs(ctx, *clinicID, *limit)
	default:
		log.Fatal().Str("source", *source).Msg("Unknown log source")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list sync logs")
	}

	fmt.Printf("\n=== Sync logs (%d) ===\n", len(records))
	for i, rec := range records {
		fmt.Printf("\n%d. [%s] %s %s\n", i+1, rec.CreatedAt.Format(time.RFC3339), rec.Process, rec.Status)
		fmt.Printf("   Clinic:  %d\n", rec.ClinicID)
		fmt.Printf("   Message: %s\n", rec.Message)
		if len(rec.Payload) > 0 {
			fmt.Printf("   Payload: %s\n", rec.Payload)
		}
	}
	fmt.Println()
}

func runTransaction(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("transaction", flag.ExitOnError)
	id := fs.Int64("id", 0, "Transaction ID")
	fs.Parse(os.Args[2:])

	if *id <= 0 {
		log.Fatal().Msg("Error: --id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := build(ctx, cfg, log)
	defer a.Close(log)

	trx, err := a.Repos.Transactions.GetTransaction(ctx, *id)
	if err != nil {
		log.Fatal().Err(err).Int64("transaction_id", *id).Msg("Failed to load transaction")
	}
	printJSON(trx)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
