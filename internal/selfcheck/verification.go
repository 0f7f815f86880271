package selfcheck

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/okian/tripproxy/internal/domain/trip"
)

// verifyPage checks that page holds at most limit records and equals the
// head of full.
func verifyPage(full, page []trip.Record, limit int) error {
	if len(page) > limit {
		return fmt.Errorf("page has %d records, limit is %d", len(page), limit)
	}
	want := min(limit, len(full))
	if len(page) != want {
		return fmt.Errorf("page has %d records, expected %d", len(page), want)
	}
	for i := range page {
		same, err := sameRecord(full[i], page[i])
		if err != nil {
			return err
		}
		if !same {
			return fmt.Errorf("record %d differs from the unpaginated list", i)
		}
	}
	return nil
}

// verifySorted checks that records are non-decreasing on key.
func verifySorted(records []trip.Record, key string) error {
	k, err := trip.LookupKey(key)
	if err != nil {
		return fmt.Errorf("sort key %q: %w", key, err)
	}
	for i := 1; i < len(records); i++ {
		prev, cur := k.Extract(&records[i-1]), k.Extract(&records[i])
		if k.Compare(prev, cur) > 0 {
			return fmt.Errorf("records %d and %d are out of order on %s", i-1, i, key)
		}
	}
	return nil
}

// verifySameSet checks that sorted is a permutation of full, by id.
func verifySameSet(full, sorted []trip.Record) error {
	if len(full) != len(sorted) {
		return fmt.Errorf("sorted list has %d records, unsorted has %d", len(sorted), len(full))
	}
	counts := make(map[string]int, len(full))
	for _, r := range full {
		counts[r.ID]++
	}
	for _, r := range sorted {
		counts[r.ID]--
	}
	for id, n := range counts {
		if n != 0 {
			return fmt.Errorf("record %q appears a different number of times after sorting", id)
		}
	}
	return nil
}

// sameRecord compares the wire form of two records.
func sameRecord(a, b trip.Record) (bool, error) {
	ab, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}
