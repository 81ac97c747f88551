package pipeline

import "github.com/dvloznov/clinic-ledger/internal/domain"

// Row outcome statuses reported in BatchSummary.Results.
const (
	StatusInserted = "inserted"
	StatusUpdated  = "updated"
	StatusError    = "error"
)

// BatchRequest is one submitted batch of raw rows.
type BatchRequest struct {
	ClinicID int64
	Source   domain.Source
	Rows     []map[string]string
	// RowOffset is added to the zero-based index to number Results rows.
	// Uploads use 2 (1-based plus the header row); other sources use 1.
	RowOffset int
}

// RowError reports a failed row by zero-based index.
type RowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// RowResult reports the outcome of every input row.
type RowResult struct {
	Row     int    `json:"row"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// BatchSummary is the per-batch outcome. ZainsInserted counts ledger entries
// created; the JSON name is kept for API compatibility.
type BatchSummary struct {
	Inserted      int         `json:"inserted"`
	Updated       int         `json:"updated"`
	Skipped       int         `json:"skipped"`
	ZainsInserted int         `json:"zains_inserted"`
	Errors        []RowError  `json:"errors"`
	Results       []RowResult `json:"results,omitempty"`
}
