// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/tripproxy/internal/adapters/upstream"
	"github.com/okian/tripproxy/internal/domain/pipeline"
	"github.com/okian/tripproxy/internal/domain/trip"
	"github.com/okian/tripproxy/pkg/logger"
	"github.com/okian/tripproxy/pkg/metrics"
)

// Fetcher retrieves the full upstream record list.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]trip.Record, error)
	Stats() upstream.Stats
	URL() string
}

// Service implements the API dependencies for the trip proxy.
type Service struct {
	mu sync.RWMutex

	fetcher Fetcher

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithFetcher sets the upstream the service reads from.
func WithFetcher(f Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		logger: logger.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start marks the service ready to serve. It fails when no fetcher is set.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.fetcher == nil {
		return ErrNoFetcher
	}

	s.started = true
	s.logger.Info(ctx, "trip proxy service started",
		logger.String("upstream", s.fetcher.URL()),
		logger.Int("sortKeys", len(trip.Keys())),
	)
	return nil
}

// Stop marks the service stopped. In-flight requests finish on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	s.logger.Info(context.Background(), "trip proxy service stopped")
}

// FetchAll returns the upstream list unchanged.
func (s *Service) FetchAll(ctx context.Context) ([]trip.Record, error) {
	return s.run(ctx, pipeline.Query{})
}

// FetchPaginated returns one page of the upstream list.
func (s *Service) FetchPaginated(ctx context.Context, page, limit int) ([]trip.Record, error) {
	return s.run(ctx, pipeline.Query{
		Page: &pipeline.PageSpec{Page: page, Limit: limit},
	})
}

// FetchSorted returns the upstream list ordered by key.
func (s *Service) FetchSorted(ctx context.Context, order pipeline.Order, key string) ([]trip.Record, error) {
	return s.run(ctx, pipeline.Query{
		Sort: &pipeline.SortSpec{Key: key, Order: order},
	})
}

// FetchSortedPaginated sorts the upstream list and then returns one page of it.
func (s *Service) FetchSortedPaginated(ctx context.Context, order pipeline.Order, key string, page, limit int) ([]trip.Record, error) {
	return s.run(ctx, pipeline.Query{
		Sort: &pipeline.SortSpec{Key: key, Order: order},
		Page: &pipeline.PageSpec{Page: page, Limit: limit},
	})
}

// SortKeys lists the accepted sort keys.
func (s *Service) SortKeys() []string {
	return trip.Keys()
}

// run validates q, fetches fresh data and applies sort then paginate.
func (s *Service) run(ctx context.Context, q pipeline.Query) ([]trip.Record, error) {
	if s.fetcher == nil {
		return nil, ErrNoFetcher
	}

	// Bad input never costs an upstream call.
	if err := q.Validate(); err != nil {
		metrics.RecordPipelineRejected(rejectReason(err))
		return nil, err
	}

	records, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	records, err = pipeline.Apply(records, q, func(stage string, elapsed time.Duration) {
		metrics.RecordPipelineOperation(stage, float64(elapsed.Microseconds())/1000)
	})
	if err != nil {
		metrics.RecordPipelineRejected(rejectReason(err))
		return nil, err
	}

	s.logger.Debug(ctx, "pipeline applied",
		logger.Bool("sorted", q.Sort != nil),
		logger.Bool("paginated", q.Page != nil),
		logger.Int("records", len(records)),
	)
	return records, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrInvalidSortKey):
		return "invalid_sort_key"
	case errors.Is(err, pipeline.ErrInvalidPage):
		return "invalid_page"
	case errors.Is(err, pipeline.ErrInvalidSortOrder):
		return "invalid_sort_order"
	default:
		return "other"
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started": s.started,
	}

	if s.fetcher != nil {
		us := s.fetcher.Stats()
		stats["upstreamURL"] = s.fetcher.URL()
		stats["breakerState"] = us.BreakerState
		stats["fetches"] = us.Fetches
		stats["fetchFailures"] = us.Failures
		stats["lastRecordCount"] = us.LastRecordCount
		if !us.LastFetchAt.IsZero() {
			stats["lastFetchAt"] = us.LastFetchAt.Format(time.RFC3339Nano)
		}
	}

	return stats
}
