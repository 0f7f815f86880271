package selfcheck

import (
	"time"
)

// Check names, in the order they appear in a Report.
const (
	CheckHealth               = "healthz"
	CheckFetchAll             = "fetch-all"
	CheckFetchPaginated       = "fetch-paginated"
	CheckFetchSorted          = "fetch-sorted"
	CheckFetchSortedPaginated = "fetch-sorted-paginated"
	CheckRejectsUnknownKey    = "rejects-unknown-sort-key"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report collects the results of one run.
type Report struct {
	BaseURL   string        `json:"baseUrl"`
	SortKey   string        `json:"sortKey"`
	Limit     int           `json:"limit"`
	Records   int           `json:"records"`
	Checks    []CheckResult `json:"checks"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	return len(r.Failed()) == 0
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Check returns the named result, if present.
func (r *Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}
