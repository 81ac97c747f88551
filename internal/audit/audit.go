// Package audit records every external sync attempt as a structured log
// entry. Recording never fails the caller.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// Process names the sync operation being audited.
type Process string

const (
	ProcessPatientSync Process = "patient_sync"
	ProcessLedgerSync  Process = "ledger_sync"
	ProcessLedgerSweep Process = "ledger_sweep"
)

// Status is the outcome of an audited call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Record is one audit log entry.
type Record struct {
	ID        int64           `json:"id,omitempty"`
	ClinicID  int64           `json:"clinic_id"`
	Process   Process         `json:"process"`
	Status    Status          `json:"status"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sink persists audit records.
type Sink interface {
	WriteSyncLog(ctx context.Context, rec Record) error
}

// Recorder writes each record to every configured sink.
type Recorder struct {
	sinks []Sink
	now   func() time.Time
}

// NewRecorder returns a Recorder over the non-nil sinks.
func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{now: time.Now}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record writes rec to all sinks. Sink failures are logged and dropped.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if r == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage(`{}`)
	}
	log := logger.FromContext(ctx)
	for _, s := range r.sinks {
		if err := s.WriteSyncLog(ctx, rec); err != nil {
			log.Error().
				Err(err).
				Int64("clinic_id", rec.ClinicID).
				Str("process", string(rec.Process)).
				Str("status", string(rec.Status)).
				Msg("Failed to write sync audit log")
		}
	}
}

// Payload bundles a request, its response and an optional error into the
// JSON stored with an audit record.
func Payload(request, response any, callErr error) json.RawMessage {
	body := map[string]any{"request": request}
	if response != nil {
		body["response"] = response
	}
	if callErr != nil {
		body["error"] = callErr.Error()
	}
	b, err := json.Marshal(body)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return b
}
