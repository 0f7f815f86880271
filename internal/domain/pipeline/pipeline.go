// Package pipeline applies the list transformations served by the proxy:
// sort, then paginate. Every function returns a new slice and leaves its
// input untouched, so records fetched for one request are never reordered
// under another.
package pipeline

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/okian/tripproxy/internal/domain/trip"
)

// Order is the direction of a sort.
type Order int

// Sort orders.
const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// ParseOrder accepts asc/ascending and desc/descending, case-insensitive.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("%w: %q", ErrInvalidSortOrder, s)
	}
}

// SortSpec selects the key and direction of a sort.
type SortSpec struct {
	Key   string
	Order Order
}

// PageSpec selects a 1-based page of at most Limit records.
type PageSpec struct {
	Page  int
	Limit int
}

// Query is the composition applied to a fetched list. Sort, when set,
// always runs before Page.
type Query struct {
	Sort *SortSpec
	Page *PageSpec
}

// Validate checks the query without touching any records.
func (q Query) Validate() error {
	if q.Sort != nil {
		if _, err := resolveKey(q.Sort.Key); err != nil {
			return err
		}
	}
	if q.Page != nil {
		if err := validatePage(q.Page.Page, q.Page.Limit); err != nil {
			return err
		}
	}
	return nil
}

// Stage names passed to an Observer.
const (
	StageSort     = "sort"
	StagePaginate = "paginate"
)

// Observer is told how long each stage of Apply took. It is not called for
// a stage that fails.
type Observer func(stage string, elapsed time.Duration)

// Apply runs the query over records: sort when set, then paginate when set.
// observe may be nil.
func Apply(records []trip.Record, q Query, observe Observer) ([]trip.Record, error) {
	if observe == nil {
		observe = func(string, time.Duration) {}
	}
	out := records
	if q.Sort != nil {
		start := time.Now()
		sorted, err := Sort(out, q.Sort.Key, q.Sort.Order)
		if err != nil {
			return nil, err
		}
		observe(StageSort, time.Since(start))
		out = sorted
	}
	if q.Page != nil {
		start := time.Now()
		paged, err := Paginate(out, q.Page.Page, q.Page.Limit)
		if err != nil {
			return nil, err
		}
		observe(StagePaginate, time.Since(start))
		out = paged
	}
	return out, nil
}

func resolveKey(name string) (trip.Key, error) {
	k, err := trip.LookupKey(name)
	if err != nil {
		return trip.Key{}, fmt.Errorf("%w: %w", ErrInvalidSortKey, err)
	}
	return k, nil
}

type decorated struct {
	val trip.Value
	idx int
}

// Sort returns a copy of records ordered by key. Values are extracted once
// per record; the sort is stable.
func Sort(records []trip.Record, key string, order Order) ([]trip.Record, error) {
	k, err := resolveKey(key)
	if err != nil {
		return nil, err
	}

	dec := make([]decorated, len(records))
	for i := range records {
		dec[i] = decorated{val: k.Extract(&records[i]), idx: i}
	}
	slices.SortStableFunc(dec, func(a, b decorated) int {
		c := k.Compare(a.val, b.val)
		if order == Descending {
			return -c
		}
		return c
	})

	out := make([]trip.Record, len(records))
	for i, d := range dec {
		out[i] = records[d.idx]
	}
	return out, nil
}

func validatePage(page, limit int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidPage, page)
	}
	if limit < 1 {
		return fmt.Errorf("%w: limit must be >= 1, got %d", ErrInvalidPage, limit)
	}
	return nil
}

// Paginate returns a copy of the half-open window
// [(page-1)*limit, (page-1)*limit+limit) clipped to the list. A page past
// the end yields an empty, non-nil slice.
func Paginate(records []trip.Record, page, limit int) ([]trip.Record, error) {
	if err := validatePage(page, limit); err != nil {
		return nil, err
	}

	start := len(records)
	if page-1 <= (math.MaxInt-limit)/limit {
		start = min((page-1)*limit, len(records))
	}
	end := len(records)
	if start <= len(records)-limit {
		end = start + limit
	}
	out := make([]trip.Record, end-start)
	copy(out, records[start:end])
	return out, nil
}
