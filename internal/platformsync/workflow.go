package platformsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/clinic-ledger/internal/audit"
	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// Payment codes sent as both payment and routing code.
const (
	PaymentCash    = "CASH"
	PaymentInstant = "QRIS"
)

// ErrMissingRemoteID means the platform accepted or acknowledged a contact
// without returning its id.
var ErrMissingRemoteID = errors.New("platform response carries no id")

// EntryOutcome is the result of one ledger entry sync attempt.
type EntryOutcome string

const (
	OutcomeSynced   EntryOutcome = "synced"
	OutcomeSkipped  EntryOutcome = "skipped"
	OutcomeFailed   EntryOutcome = "failed"
	OutcomeDeferred EntryOutcome = "deferred"
	OutcomeNoop     EntryOutcome = "noop"
)

// EntryCounts tallies entry outcomes.
type EntryCounts struct {
	Synced   int `json:"synced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
	Noop     int `json:"noop"`
}

func (c *EntryCounts) add(o EntryOutcome) {
	switch o {
	case OutcomeSynced:
		c.Synced++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeFailed:
		c.Failed++
	case OutcomeDeferred:
		c.Deferred++
	default:
		c.Noop++
	}
}

// PatientOutcome is the result of SyncPatient.
type PatientOutcome struct {
	PatientID  int64       `json:"patient_id"`
	DonorID    string      `json:"donor_id,omitempty"`
	Registered bool        `json:"registered"`
	Claimed    bool        `json:"claimed"`
	Entries    EntryCounts `json:"entries"`
}

// WorkflowConfig holds the workflow's explicit settings.
type WorkflowConfig struct {
	Enabled       bool
	StaffID       string
	ContactDomain string
	StaleAfter    time.Duration
}

// Workflow syncs patients and their ledger entries to the platform.
type Workflow struct {
	platform Platform
	patients PatientStore
	ledger   LedgerStore
	trx      TransactionMarker
	recorder *audit.Recorder
	cfg      WorkflowConfig

	now      func() time.Time
	newToken func() string
}

// NewWorkflow creates a Workflow. recorder may be nil.
func NewWorkflow(platform Platform, patients PatientStore, ledger LedgerStore, trx TransactionMarker, recorder *audit.Recorder, cfg WorkflowConfig) *Workflow {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.ContactDomain == "" {
		cfg.ContactDomain = "patients.invalid"
	}
	return &Workflow{
		platform: platform,
		patients: patients,
		ledger:   ledger,
		trx:      trx,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// Enabled reports whether external sync is switched on.
func (w *Workflow) Enabled() bool {
	return w.cfg.Enabled
}

// SyncPatient registers the patient as a platform contact when it has no
// donor id yet, backfills the donor id onto its entries and then syncs every
// PENDING entry of the patient. An existing donor id is never overwritten.
func (w *Workflow) SyncPatient(ctx context.Context, patientID int64) (*PatientOutcome, error) {
	if !w.cfg.Enabled {
		return nil, domain.ErrSyncDisabled
	}

	p, err := w.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("SyncPatient: %w", err)
	}
	log := logger.FromContext(ctx).With().
		Int64("clinic_id", p.ClinicID).
		Int64("patient_id", p.ID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	out := &PatientOutcome{PatientID: p.ID, DonorID: p.DonorID, Claimed: true}
	if p.DonorID == "" {
		donorID, claimed, err := w.registerPatient(ctx, p)
		if err != nil {
			return out, err
		}
		if !claimed {
			out.Claimed = false
			log.Debug().Msg("Patient sync already in progress elsewhere")
			return out, nil
		}
		out.DonorID = donorID
		out.Registered = true
	}

	n, err := w.ledger.BackfillDonorID(ctx, p.ID, out.DonorID)
	if err != nil {
		return out, fmt.Errorf("SyncPatient: %w", err)
	}
	if n > 0 {
		log.Debug().Int64("entries", n).Msg("Backfilled donor id")
	}

	ids, err := w.ledger.ListPendingForPatient(ctx, p.ID)
	if err != nil {
		return out, fmt.Errorf("SyncPatient: %w", err)
	}
	for _, id := range ids {
		outcome, err := w.SyncLedgerEntry(ctx, id)
		if err != nil {
			log.Warn().Err(err).Int64("entry_id", id).Msg("Ledger entry sync failed")
		}
		out.Entries.add(outcome)
	}

	log.Info().
		Str("donor_id", out.DonorID).
		Bool("registered", out.Registered).
		Int("synced", out.Entries.Synced).
		Int("skipped", out.Entries.Skipped).
		Int("failed", out.Entries.Failed).
		Msg("Patient sync complete")
	return out, nil
}

func (w *Workflow) registerPatient(ctx context.Context, p *domain.Patient) (string, bool, error) {
	log := logger.FromContext(ctx)

	claimed, err := w.patients.ClaimPatient(ctx, p.ID, w.cfg.StaleAfter)
	if err != nil {
		return "", false, fmt.Errorf("SyncPatient: %w", err)
	}
	if !claimed {
		return "", false, nil
	}

	req := ContactRequestFor(p, w.cfg.ContactDomain)
	res, callErr := w.platform.RegisterContact(ctx, req)

	var donorID string
	var resp *Response
	if res != nil {
		donorID, resp = res.DonorID, res.Response
	}

	switch {
	case callErr == nil:
	case IsAlreadyRegistered(callErr):
		log.Info().Str("donor_id", donorID).Msg("Contact already registered on platform")
	default:
		w.releasePatient(ctx, p.ID)
		w.audit(ctx, p.ClinicID, audit.ProcessPatientSync, audit.StatusFailed,
			fmt.Sprintf("register contact for patient %d failed", p.ID), req, resp, callErr)
		return "", true, fmt.Errorf("SyncPatient %d: %w", p.ID, callErr)
	}

	if donorID == "" {
		w.releasePatient(ctx, p.ID)
		err := fmt.Errorf("SyncPatient %d: %w", p.ID, ErrMissingRemoteID)
		w.audit(ctx, p.ClinicID, audit.ProcessPatientSync, audit.StatusFailed, err.Error(), req, resp, callErr)
		return "", true, err
	}

	current, err := w.patients.SetDonorIDIfUnset(ctx, p.ID, donorID)
	if err != nil {
		w.releasePatient(ctx, p.ID)
		return "", true, fmt.Errorf("SyncPatient: %w", err)
	}
	if current != donorID {
		log.Warn().Str("donor_id", current).Str("remote_donor_id", donorID).Msg("Patient already had a donor id, kept existing")
	}

	w.audit(ctx, p.ClinicID, audit.ProcessPatientSync, audit.StatusSuccess,
		fmt.Sprintf("patient %d registered as donor %s", p.ID, current), req, resp, callErr)
	return current, true, nil
}

// SyncLedgerEntry records one ledger entry on the platform. Entries whose
// patient has no donor id yet are deferred; entries claimed by another
// worker or already terminal are left alone.
func (w *Workflow) SyncLedgerEntry(ctx context.Context, entryID int64) (EntryOutcome, error) {
	if !w.cfg.Enabled {
		return OutcomeFailed, domain.ErrSyncDisabled
	}

	item, err := w.ledger.GetSyncItem(ctx, entryID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("SyncLedgerEntry: %w", err)
	}
	e := item.Entry
	log := logger.FromContext(ctx).With().
		Int64("clinic_id", e.ClinicID).
		Int64("entry_id", e.ID).
		Str("program_code", e.ProgramCode).
		Logger()

	if e.Settled() {
		return OutcomeNoop, nil
	}
	if e.DonorID == "" {
		log.Debug().Msg("Entry has no donor id yet, deferring")
		return OutcomeDeferred, nil
	}

	claimed, err := w.ledger.ClaimEntry(ctx, e.ID, w.cfg.StaleAfter)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("SyncLedgerEntry: %w", err)
	}
	if !claimed {
		return OutcomeNoop, nil
	}

	req := w.TransactionRequestFor(item)
	res, callErr := w.platform.RecordTransaction(ctx, req)

	var externalID string
	var resp *Response
	if res != nil {
		externalID, resp = res.ExternalID, res.Response
	}

	switch {
	case callErr == nil:
	case IsAlreadyExists(callErr):
		if externalID == "" {
			if err := w.ledger.MarkEntrySkipped(ctx, e.ID); err != nil {
				w.releaseEntry(ctx, e.ID)
				return OutcomeFailed, fmt.Errorf("SyncLedgerEntry: %w", err)
			}
			w.audit(ctx, e.ClinicID, audit.ProcessLedgerSync, audit.StatusSkipped,
				fmt.Sprintf("entry %d already exists on platform without id", e.ID), req, resp, callErr)
			log.Info().Msg("Entry already exists on platform, skipped")
			return OutcomeSkipped, nil
		}
		log.Info().Str("external_trx_id", externalID).Msg("Entry already exists on platform")
	default:
		w.releaseEntry(ctx, e.ID)
		w.audit(ctx, e.ClinicID, audit.ProcessLedgerSync, audit.StatusFailed,
			fmt.Sprintf("record transaction for entry %d failed", e.ID), req, resp, callErr)
		return OutcomeFailed, fmt.Errorf("SyncLedgerEntry %d: %w", e.ID, callErr)
	}

	if err := w.ledger.MarkEntrySynced(ctx, e.ID, externalID); err != nil {
		return OutcomeFailed, fmt.Errorf("SyncLedgerEntry: %w", err)
	}
	if err := w.trx.MarkTransactionSynced(ctx, e.TransactionID, w.now().UTC()); err != nil {
		log.Error().Err(err).Int64("transaction_id", e.TransactionID).Msg("Failed to mark transaction synced")
	}

	w.audit(ctx, e.ClinicID, audit.ProcessLedgerSync, audit.StatusSuccess,
		fmt.Sprintf("entry %d recorded as %s", e.ID, externalID), req, resp, callErr)
	return OutcomeSynced, nil
}

// ContactRequestFor derives the contact payload from the patient's record
// key. The same key fills the phone fields and the email local part.
func ContactRequestFor(p *domain.Patient, contactDomain string) ContactRequest {
	key := p.RecordKey
	if key == "" {
		key = domain.RecordKey(p.ClinicID, p.RecordNumber)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = key
	}
	return ContactRequest{
		Name:      name,
		Phone:     key,
		Telephone: key,
		Email:     strings.ToLower(key) + "@" + contactDomain,
	}
}

// PaymentCode maps a payment method to the platform payment code.
func PaymentCode(method string) string {
	if domain.IsInstantPayment(method) {
		return PaymentInstant
	}
	return PaymentCash
}

// TransactionRequestFor builds the record-transaction request for an entry
// with a fresh idempotency token.
func (w *Workflow) TransactionRequestFor(item *domain.LedgerSyncItem) TransactionRequest {
	e := item.Entry
	code := PaymentCode(item.PaymentMethod)
	token := w.newToken()
	req := TransactionRequest{
		ProgramCode:   e.ProgramCode,
		OfficeCode:    e.OfficeCode,
		StaffID:       w.cfg.StaffID,
		DonorID:       e.DonorID,
		Date:          e.Date.String(),
		Amount:        e.Amount,
		PaymentCode:   code,
		RoutingCode:   code,
		Note:          fmt.Sprintf("%s %s - %s", e.Category.Label(), item.ClinicName, item.PatientName),
		ReceiptNumber: token,
		NoteReference: token,
	}
	if code != PaymentCash {
		req.AccountRef = e.AccountRef
	}
	return req
}

func (w *Workflow) releasePatient(ctx context.Context, patientID int64) {
	if err := w.patients.ReleasePatient(ctx, patientID); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Int64("patient_id", patientID).Msg("Failed to release patient claim")
	}
}

func (w *Workflow) releaseEntry(ctx context.Context, entryID int64) {
	if err := w.ledger.ReleaseEntry(ctx, entryID); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Int64("entry_id", entryID).Msg("Failed to release entry claim")
	}
}

func (w *Workflow) audit(ctx context.Context, clinicID int64, process audit.Process, status audit.Status, msg string, req any, resp *Response, callErr error) {
	w.recorder.Record(ctx, audit.Record{
		ClinicID: clinicID,
		Process:  process,
		Status:   status,
		Message:  msg,
		Payload:  audit.Payload(req, responsePayload(resp), callErr),
	})
}

// responsePayload keeps a JSON body as-is and quotes anything else.
func responsePayload(resp *Response) any {
	if resp == nil || len(resp.Body) == 0 {
		return nil
	}
	if json.Valid(resp.Body) {
		return json.RawMessage(resp.Body)
	}
	return string(resp.Body)
}
