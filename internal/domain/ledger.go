package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// SyncStatus is the external sync state of a ledger entry.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSyncing SyncStatus = "SYNCING"
	SyncSynced  SyncStatus = "SYNCED"
	// SyncSkipped is terminal: the platform confirmed a duplicate without
	// returning its id.
	SyncSkipped SyncStatus = "SKIPPED"
)

// LedgerEntry is one category-scoped slice of a transaction destined for the
// external platform.
type LedgerEntry struct {
	ID            int64      `json:"id"`
	TransactionID int64      `json:"transaction_id"`
	ClinicID      int64      `json:"clinic_id"`
	Category      Category   `json:"category"`
	ProgramCode   string     `json:"program_code"`
	OfficeCode    string     `json:"office_code"`
	Date          civil.Date `json:"date"`
	DonorID       string     `json:"donor_id,omitempty"`
	Amount        int64      `json:"amount"`
	AccountRef    string     `json:"account_ref,omitempty"`
	Status        SyncStatus `json:"status"`
	ExternalTrxID string     `json:"external_trx_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Settled reports whether the entry needs no further sync attempt.
func (e *LedgerEntry) Settled() bool {
	return e.Status == SyncSynced || e.Status == SyncSkipped
}

// LedgerSyncItem is a ledger entry joined with everything the sync call needs.
type LedgerSyncItem struct {
	Entry         LedgerEntry
	PatientID     int64
	PatientName   string
	ClinicName    string
	PaymentMethod string
}

var instantPaymentMarkers = []string{"qris", "qr ", "qr-", "instant", "e-wallet", "ewallet"}

// IsInstantPayment reports whether a payment method is a QRIS-style instant
// payment.
func IsInstantPayment(method string) bool {
	m := strings.ToLower(strings.TrimSpace(method))
	if m == "" {
		return false
	}
	if m == "qr" {
		return true
	}
	for _, marker := range instantPaymentMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}
