package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDate is wrapped by a NormalizationError when no date layout
	// matches or the parsed date does not exist on the calendar.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidDraft means a draft lacks one of its identity fields.
	ErrInvalidDraft = errors.New("invalid draft")

	// ErrMalformedEnvelope is a batch-level failure detected before any row
	// is touched.
	ErrMalformedEnvelope = errors.New("malformed request envelope")

	// ErrNotFound is returned by repository lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrSyncDisabled is returned by the sync workflow when external sync is
	// switched off.
	ErrSyncDisabled = errors.New("external sync disabled")
)

// NormalizationError describes a raw field that could not be normalized.
type NormalizationError struct {
	Field  string
	Value  string
	Reason error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %q: %v", e.Field, e.Value, e.Reason)
}

func (e *NormalizationError) Unwrap() error {
	return e.Reason
}
