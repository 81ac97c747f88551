package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/clinic-ledger/internal/api/middleware"
	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/platformsync"
)

// SyncHandler serves the internal sync endpoints the dispatcher and
// operators call.
type SyncHandler struct {
	syncer  PatientSyncer
	sweeper SweepRunner
	log     zerolog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(syncer PatientSyncer, sweeper SweepRunner, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:  syncer,
		sweeper: sweeper,
		log:     log,
	}
}

// SyncPatient handles POST /internal/sync/patients/{id}
func (h *SyncHandler) SyncPatient(w http.ResponseWriter, r *http.Request, idText string) {
	patientID, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || patientID <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid patient id")
		return
	}

	outcome, err := h.syncer.SyncPatient(r.Context(), patientID)
	switch {
	case err == nil:
		middleware.WriteJSON(w, http.StatusOK, outcome)
	case errors.Is(err, domain.ErrSyncDisabled):
		middleware.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Patient not found")
	default:
		h.log.Error().Err(err).Int64("patient_id", patientID).Msg("Patient sync failed")
		middleware.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"error":   err.Error(),
			"outcome": outcome,
		})
	}
}

// Sweep handles POST /internal/sync/sweep
func (h *SyncHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Run(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrSyncDisabled) {
			middleware.WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Sweep failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sweepResponse{SweepResult: result, DurationMS: result.Duration.Milliseconds()})
}

type sweepResponse struct {
	*platformsync.SweepResult
	DurationMS int64 `json:"duration_ms"`
}
