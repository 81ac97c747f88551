package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// PatientSyncStatus is the external sync state of a patient.
type PatientSyncStatus string

const (
	PatientUnsynced PatientSyncStatus = "UNSYNCED"
	PatientSyncing  PatientSyncStatus = "SYNCING"
	PatientSynced   PatientSyncStatus = "SYNCED"
)

// Patient is one person per (clinic, record number).
type Patient struct {
	ID           int64             `json:"id"`
	ClinicID     int64             `json:"clinic_id"`
	RecordNumber string            `json:"record_number"`
	Name         string            `json:"name"`
	FirstVisit   civil.Date        `json:"first_visit"`
	LastVisit    civil.Date        `json:"last_visit"`
	VisitCount   int               `json:"visit_count"`
	DonorID      string            `json:"donor_id,omitempty"`
	RecordKey    string            `json:"record_key"`
	SyncStatus   PatientSyncStatus `json:"sync_status"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// PatientUpsert is the outcome of a patient upsert. Inserted is true when
// the row did not exist before.
type PatientUpsert struct {
	Patient  Patient
	Inserted bool
}

// RecordKey re-encodes a clinic and record number into the key the external
// platform stores for the contact.
func RecordKey(clinicID int64, recordNumber string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(recordNumber) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return fmt.Sprintf("C%d-%s", clinicID, b.String())
}
