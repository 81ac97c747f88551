package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/clinic-ledger/internal/api/middleware"
	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/gcsuploader"
	"github.com/dvloznov/clinic-ledger/internal/logger"
	"github.com/dvloznov/clinic-ledger/internal/pipeline"
	"github.com/dvloznov/clinic-ledger/internal/spreadsheet"
)

const (
	maxJSONBody   = 16 << 20
	maxUploadBody = 32 << 20
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// IngestHandler serves the three ingestion endpoints.
type IngestHandler struct {
	runner   BatchRunner
	sheets   SheetReader
	archiver Archiver
	bucket   string
	log      zerolog.Logger
	now      func() time.Time
}

// NewIngestHandler creates an ingest handler. archiver may be nil, in which
// case uploads are not archived.
func NewIngestHandler(runner BatchRunner, sheets SheetReader, archiver Archiver, bucket string, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		runner:   runner,
		sheets:   sheets,
		archiver: archiver,
		bucket:   bucket,
		log:      log,
		now:      time.Now,
	}
}

type scrapeRequest struct {
	ClinicID  flexID           `json:"clinic_id"`
	StartDate string           `json:"start_date"`
	EndDate   string           `json:"end_date"`
	Rows      []map[string]any `json:"rows"`
}

// Scrape handles POST /api/ingest/scrape
func (h *IngestHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, maxJSONBody)
	if !ok {
		return
	}
	var req scrapeRequest
	if err := decodeJSON(body, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Int64("clinic_id", int64(req.ClinicID)).
		Str("start_date", req.StartDate).
		Str("end_date", req.EndDate).
		Int("rows", len(req.Rows)).
		Msg("Scrape batch received")

	summary, ok := h.run(w, r, pipeline.BatchRequest{
		ClinicID: int64(req.ClinicID),
		Source:   domain.SourceScrape,
		Rows:     stringifyRows(req.Rows),
	})
	if !ok {
		return
	}
	summary.Results = nil
	middleware.WriteJSON(w, http.StatusOK, summary)
}

type bulkRequest struct {
	ClinicID flexID           `json:"clinic_id"`
	Records  []map[string]any `json:"records"`
}

// Bulk handles POST /api/ingest/bulk
func (h *IngestHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, maxJSONBody)
	if !ok {
		return
	}
	var req bulkRequest
	if err := decodeJSON(body, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	summary, ok := h.run(w, r, pipeline.BatchRequest{
		ClinicID: int64(req.ClinicID),
		Source:   domain.SourceAPI,
		Rows:     stringifyRows(req.Records),
	})
	if !ok {
		return
	}
	summary.Results = nil
	middleware.WriteJSON(w, http.StatusOK, summary)
}

type uploadRequest struct {
	ClinicID flexID           `json:"clinic_id"`
	Rows     []map[string]any `json:"rows"`
}

type uploadResponse struct {
	*pipeline.BatchSummary
	Archive string `json:"archive,omitempty"`
}

// Upload handles POST /api/ingest/upload. It accepts rows already parsed to
// JSON or a multipart form with an .xlsx file field.
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.uploadWorkbook(w, r)
		return
	}

	body, ok := h.readBody(w, r, maxJSONBody)
	if !ok {
		return
	}
	var req uploadRequest
	if err := decodeJSON(body, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rows := stringifyRows(req.Rows)
	h.runUpload(w, r, int64(req.ClinicID), rowHeaders(rows), rows, "")
}

func (h *IngestHandler) uploadWorkbook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	var clinicID int64
	if v := strings.TrimSpace(r.FormValue("clinic_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid clinic_id")
			return
		}
		clinicID = id
	}

	file, fh, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	sheet, err := h.sheets.ParseXLSX(bytes.NewReader(data))
	if err != nil {
		h.writeBatchError(w, r, err)
		return
	}

	archive := h.archive(r.Context(), clinicID, fh.Filename, data)
	h.runUpload(w, r, clinicID, sheet.Headers, sheet.Rows, archive)
}

func (h *IngestHandler) runUpload(w http.ResponseWriter, r *http.Request, clinicID int64, headers []string, rows []map[string]string, archive string) {
	if rows != nil {
		if err := h.sheets.ValidateHeaders(headers, spreadsheet.UploadFields(clinicID > 0)); err != nil {
			h.writeBatchError(w, r, err)
			return
		}
	}

	summary, ok := h.run(w, r, pipeline.BatchRequest{
		ClinicID:  clinicID,
		Source:    domain.SourceUpload,
		Rows:      rows,
		RowOffset: pipeline.UploadRowOffset,
	})
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, uploadResponse{BatchSummary: summary, Archive: archive})
}

// archive stores the uploaded workbook. Failures are logged and never fail
// the upload.
func (h *IngestHandler) archive(ctx context.Context, clinicID int64, filename string, data []byte) string {
	if h.archiver == nil || h.bucket == "" {
		return ""
	}
	object := gcsuploader.ArchiveObjectName(clinicID, filename, h.now())
	if err := h.archiver.UploadBytes(ctx, h.bucket, object, xlsxMIME, data); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("object", object).Msg("Failed to archive upload")
		return ""
	}
	return fmt.Sprintf("gs://%s/%s", h.bucket, object)
}

func (h *IngestHandler) run(w http.ResponseWriter, r *http.Request, req pipeline.BatchRequest) (*pipeline.BatchSummary, bool) {
	summary, err := h.runner.RunBatch(r.Context(), req)
	if err != nil {
		h.writeBatchError(w, r, err)
		return nil, false
	}
	return summary, true
}

func (h *IngestHandler) writeBatchError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrMalformedEnvelope) {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := logger.FromContext(r.Context())
	log.Error().Err(err).Msg("Batch failed")
	middleware.WriteError(w, http.StatusInternalServerError, "Failed to process batch")
}

func (h *IngestHandler) readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return nil, false
	}
	return body, true
}
