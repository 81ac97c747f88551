package handlers

import (
	"context"
	"io"

	"github.com/dvloznov/clinic-ledger/internal/pipeline"
	"github.com/dvloznov/clinic-ledger/internal/platformsync"
	"github.com/dvloznov/clinic-ledger/internal/spreadsheet"
)

// BatchRunner runs ingestion batches.
type BatchRunner interface {
	RunBatch(ctx context.Context, req pipeline.BatchRequest) (*pipeline.BatchSummary, error)
}

// SheetReader parses uploaded workbooks and validates their headers.
type SheetReader interface {
	ParseXLSX(src io.Reader) (*spreadsheet.Sheet, error)
	ValidateHeaders(headers []string, fields []string) error
}

// Archiver stores uploaded files.
type Archiver interface {
	UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error
}

// PatientSyncer runs the patient sync workflow.
type PatientSyncer interface {
	SyncPatient(ctx context.Context, patientID int64) (*platformsync.PatientOutcome, error)
}

// SweepRunner runs one batch sweep.
type SweepRunner interface {
	Run(ctx context.Context) (*platformsync.SweepResult, error)
}
