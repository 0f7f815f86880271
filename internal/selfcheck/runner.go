// Package selfcheck fires sample requests at a running proxy and verifies
// that pagination and sorting behave as documented.
package selfcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/okian/tripproxy/internal/domain/trip"
	"github.com/okian/tripproxy/pkg/logger"
)

type runner struct {
	cfg Config
}

// fetched holds the lists pulled from the four proxy routes.
type fetched struct {
	all, paginated, sorted, sortedPaginated []trip.Record
	errs                                    map[string]error
	took                                    map[string]time.Duration
}

// Run executes the self-check. The returned report is always non-nil once the
// config is valid; the error wraps ErrCheckFailed when any check failed.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	r := &runner{cfg: cfg}
	log := cfg.Logger

	report := &Report{
		BaseURL:   cfg.BaseURL,
		SortKey:   cfg.SortKey,
		Limit:     cfg.Limit,
		StartedAt: time.Now().UTC(),
	}
	log.Info(ctx, "starting self-check",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("sortKey", cfg.SortKey),
		logger.Int("limit", cfg.Limit),
	)

	// Step 1: health gates everything else.
	report.add(r.timed(CheckHealth, func() error { return r.checkHealth(ctx) }))
	if !report.Passed() {
		return r.finish(ctx, report)
	}

	// Step 2: fetch the four views concurrently.
	f := r.fetchAll(ctx)
	report.Records = len(f.all)

	// Step 3: verify each view against the others.
	report.add(r.result(CheckFetchAll, f, CheckFetchAll, nil))
	report.add(r.result(CheckFetchPaginated, f, CheckFetchAll, func() error {
		return verifyPage(f.all, f.paginated, cfg.Limit)
	}))
	report.add(r.result(CheckFetchSorted, f, CheckFetchAll, func() error {
		if err := verifySorted(f.sorted, cfg.SortKey); err != nil {
			return err
		}
		return verifySameSet(f.all, f.sorted)
	}))
	report.add(r.result(CheckFetchSortedPaginated, f, CheckFetchSorted, func() error {
		return verifyPage(f.sorted, f.sortedPaginated, cfg.Limit)
	}))

	// Step 4: a bad key must be rejected, not silently ignored.
	report.add(r.timed(CheckRejectsUnknownKey, func() error { return r.checkRejectsUnknownKey(ctx) }))

	return r.finish(ctx, report)
}

func (r *runner) fetchAll(ctx context.Context) *fetched {
	f := &fetched{errs: map[string]error{}, took: map[string]time.Duration{}}
	key := r.cfg.SortKey
	limit := r.cfg.Limit

	sortedPage := sortQuery(key)
	for k, v := range pageQuery(1, limit) {
		sortedPage[k] = v
	}

	jobs := []struct {
		name string
		path string
		q    url.Values
		dst  *[]trip.Record
	}{
		{CheckFetchAll, "/fetch-all", nil, &f.all},
		{CheckFetchPaginated, "/fetch-paginated", pageQuery(1, limit), &f.paginated},
		{CheckFetchSorted, "/fetch-sorted", sortQuery(key), &f.sorted},
		{CheckFetchSortedPaginated, "/fetch-sorted-paginated", sortedPage, &f.sortedPaginated},
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			var out []trip.Record
			err := r.getJSON(ctx, job.path, job.q, &out)

			mu.Lock()
			defer mu.Unlock()
			f.took[job.name] = time.Since(start)
			if err != nil {
				f.errs[job.name] = err
				return
			}
			*job.dst = out
		}()
	}
	wg.Wait()
	return f
}

// result turns a fetch plus its verification into a CheckResult. The check
// fails early when its own fetch or the fetch it depends on failed.
func (r *runner) result(name string, f *fetched, dependsOn string, verify func() error) CheckResult {
	res := CheckResult{Name: name, Duration: f.took[name]}
	switch {
	case f.errs[name] != nil:
		res.Detail = f.errs[name].Error()
	case dependsOn != name && f.errs[dependsOn] != nil:
		res.Detail = "skipped: " + dependsOn + " failed"
	case verify != nil:
		if err := verify(); err != nil {
			res.Detail = err.Error()
		} else {
			res.Passed = true
		}
	default:
		res.Passed = true
	}
	return res
}

func (r *runner) timed(name string, fn func() error) CheckResult {
	start := time.Now()
	err := fn()
	res := CheckResult{Name: name, Passed: err == nil, Duration: time.Since(start)}
	if err != nil {
		res.Detail = err.Error()
	}
	return res
}

// checkHealth verifies the service is running.
func (r *runner) checkHealth(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := r.getJSON(ctx, "/healthz", nil, &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("health status %q", body.Status)
	}
	return nil
}

func (r *runner) checkRejectsUnknownKey(ctx context.Context) error {
	resp, err := r.get(ctx, "/fetch-sorted", sortQuery("__no_such_key__"))
	if err != nil {
		return err
	}
	if resp.status != http.StatusBadRequest {
		return fmt.Errorf("unknown sort key answered %d, expected 400", resp.status)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return fmt.Errorf("decode error body: %w", err)
	}
	if body.Code != "invalid_sort_key" {
		return fmt.Errorf("unknown sort key answered code %q, expected invalid_sort_key", body.Code)
	}
	return nil
}

func (r *runner) finish(ctx context.Context, report *Report) (*Report, error) {
	report.Duration = time.Since(report.StartedAt)
	log := r.cfg.Logger

	for _, c := range report.Checks {
		switch {
		case !c.Passed:
			log.Warn(ctx, "self-check failed",
				logger.String("check", c.Name),
				logger.String("detail", c.Detail),
			)
		case r.cfg.Verbose:
			log.Info(ctx, "self-check passed",
				logger.String("check", c.Name),
				logger.Duration("duration", c.Duration),
			)
		}
	}

	failed := report.Failed()
	log.Info(ctx, "self-check completed",
		logger.Int("checks", len(report.Checks)),
		logger.Int("failed", len(failed)),
		logger.Int("records", report.Records),
		logger.Duration("duration", report.Duration),
	)
	if len(failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d checks failed, first: %s: %s",
			ErrCheckFailed, len(failed), len(report.Checks), failed[0].Name, failed[0].Detail)
	}
	return report, nil
}

func (r *Report) add(c CheckResult) {
	r.Checks = append(r.Checks, c)
}
