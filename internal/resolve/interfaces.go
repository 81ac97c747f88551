package resolve

import "context"

// MappingStore looks up clinic-scoped raw-string mappings. A nil id with a
// nil error means unmapped.
type MappingStore interface {
	LookupPolyID(ctx context.Context, clinicID int64, key string, normalized bool) (*int64, error)
	LookupInsuranceID(ctx context.Context, clinicID int64, key string, normalized bool) (*int64, error)
}
