// Package resolve maps clinic-specific polyclinic and insurance strings to
// master-entity ids.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dvloznov/clinic-ledger/internal/domain"
)

// Resolution holds the resolved ids; nil means unmapped.
type Resolution struct {
	PolyID      *int64
	InsuranceID *int64
}

type table string

const (
	tablePoly      table = "poly"
	tableInsurance table = "insurance"
)

type cacheKey struct {
	clinicID int64
	table    table
	key      string
}

type cacheEntry struct {
	id *int64
}

// Resolver is a read-through cache over a MappingStore. Reset clears the
// cache between batches so mapping edits take effect on the next batch.
type Resolver struct {
	store MappingStore

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// NewResolver creates a Resolver.
func NewResolver(store MappingStore) *Resolver {
	return &Resolver{store: store, cache: make(map[cacheKey]cacheEntry)}
}

// Resolve maps the raw strings of one row. Spreadsheet uploads match on a
// case- and whitespace-normalized key; other sources match the raw string
// exactly.
func (r *Resolver) Resolve(ctx context.Context, clinicID int64, rawPoly, rawInsurance string, source domain.Source) (Resolution, error) {
	normalized := source == domain.SourceUpload

	polyID, err := r.lookup(ctx, clinicID, tablePoly, rawPoly, normalized)
	if err != nil {
		return Resolution{}, err
	}
	insuranceID, err := r.lookup(ctx, clinicID, tableInsurance, rawInsurance, normalized)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{PolyID: polyID, InsuranceID: insuranceID}, nil
}

// Reset drops every cached mapping.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[cacheKey]cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) lookup(ctx context.Context, clinicID int64, t table, raw string, normalized bool) (*int64, error) {
	key := raw
	if normalized {
		key = NormalizeKey(raw)
	}
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}

	ck := cacheKey{clinicID: clinicID, table: t, key: key}
	if normalized {
		ck.key = "n:" + key
	}
	r.mu.RLock()
	hit, ok := r.cache[ck]
	r.mu.RUnlock()
	if ok {
		return hit.id, nil
	}

	var (
		id  *int64
		err error
	)
	switch t {
	case tablePoly:
		id, err = r.store.LookupPolyID(ctx, clinicID, key, normalized)
	default:
		id, err = r.store.LookupInsuranceID(ctx, clinicID, key, normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("Resolve %s %q: %w", t, raw, err)
	}

	r.mu.Lock()
	r.cache[ck] = cacheEntry{id: id}
	r.mu.Unlock()
	return id, nil
}

// NormalizeKey lowercases s and collapses runs of whitespace.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
