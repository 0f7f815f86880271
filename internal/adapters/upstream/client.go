// Package upstream fetches the trip list from the remote JSON API.
//
// The fetch primitive is a single GET that buffers the whole body and decodes
// the {"data": [...]} envelope. Retry (httpretry) and circuit breaking
// (gobreaker) wrap that primitive and are configured independently.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/okian/tripproxy/internal/domain/trip"
	"github.com/okian/tripproxy/pkg/logger"
	"github.com/okian/tripproxy/pkg/metrics"
	"github.com/sony/gobreaker"
	"github.com/ybbus/httpretry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults for a Client built without options.
const (
	DefaultTimeout            = 15 * time.Second
	DefaultMaxBodyBytes int64 = 32 << 20
	DefaultRetryMinWait       = 100 * time.Millisecond
	DefaultRetryMaxWait       = 2 * time.Second
	DefaultRetryJitter        = 100 * time.Millisecond
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultUserAgent          = "tripproxy/1.0"

	tracerName = "tripproxy/upstream"
)

// Stats is a snapshot of the client's counters.
type Stats struct {
	Fetches         int64
	Failures        int64
	LastRecordCount int64
	LastFetchAt     time.Time
	BreakerState    string
}

// Client fetches the full record list from one fixed URL.
type Client struct {
	url       string
	userAgent string

	base         *http.Client
	http         *http.Client
	timeout      time.Duration
	maxBodyBytes int64

	retryMaxCount int
	retryMinWait  time.Duration
	retryMaxWait  time.Duration
	retryJitter   time.Duration

	breakerThreshold   int
	breakerOpenTimeout time.Duration
	breaker            *gobreaker.CircuitBreaker

	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	logger         logger.Logger

	fetches     atomic.Int64
	failures    atomic.Int64
	lastCount   atomic.Int64
	lastFetchAt atomic.Int64
}

// New builds a Client for rawURL, which must be an absolute http(s) URL.
func New(rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q must be an absolute http(s) url", ErrInvalidURL, rawURL)
	}

	c := &Client{
		url:                rawURL,
		userAgent:          DefaultUserAgent,
		base:               &http.Client{},
		timeout:            DefaultTimeout,
		maxBodyBytes:       DefaultMaxBodyBytes,
		retryMinWait:       DefaultRetryMinWait,
		retryMaxWait:       DefaultRetryMaxWait,
		retryJitter:        DefaultRetryJitter,
		breakerOpenTimeout: DefaultBreakerTimeout,
		logger:             logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	// Copy so the caller's client keeps its own timeout.
	hc := *c.base
	hc.Timeout = c.timeout
	c.http = &hc
	if c.retryMaxCount > 0 {
		c.http = httpretry.NewCustomClient(&hc,
			httpretry.WithMaxRetryCount(c.retryMaxCount),
			httpretry.WithBackoffPolicy(httpretry.ExponentialBackoff(c.retryMinWait, c.retryMaxWait, c.retryJitter)),
		)
	}

	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	c.tracer = c.tracerProvider.Tracer(tracerName)

	if c.breakerThreshold > 0 {
		c.breaker = c.newBreaker()
	}

	return c, nil
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker {
	threshold := uint32(c.breakerThreshold) //nolint:gosec // positive, checked by caller
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     c.breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn(context.Background(), "upstream circuit breaker state change",
				logger.String("name", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.RecordBreakerTransition(from.String(), to.String(), int(to))
		},
	})
}

// URL returns the upstream endpoint.
func (c *Client) URL() string { return c.url }

// FetchAll retrieves and decodes the full record list. Every failure wraps
// ErrUpstream; a rejected call while the circuit is open wraps ErrCircuitOpen.
func (c *Client) FetchAll(ctx context.Context) ([]trip.Record, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "upstream.fetch_all",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", c.url)),
	)
	defer span.End()

	c.fetches.Add(1)
	c.lastFetchAt.Store(start.UnixNano())

	records, outcome, err := c.guarded(ctx, span)
	metrics.RecordUpstreamFetch(outcome, float64(time.Since(start).Microseconds())/1000)

	if err != nil {
		c.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Warn(ctx, "upstream fetch failed",
			logger.String("outcome", outcome),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err),
		)
		return nil, err
	}

	c.lastCount.Store(int64(len(records)))
	span.SetAttributes(attribute.Int("upstream.records", len(records)))
	span.SetStatus(codes.Ok, "")
	c.logger.Debug(ctx, "upstream fetch succeeded",
		logger.Int("records", len(records)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return records, nil
}

type fetchResult struct {
	records []trip.Record
	outcome string
}

// guarded runs fetch through the breaker when one is configured. A caller
// that is already gone never reaches the breaker, so it neither resets the
// failure streak nor spends the half-open trial.
func (c *Client) guarded(ctx context.Context, span trace.Span) ([]trip.Record, string, error) {
	if c.breaker == nil {
		return c.fetch(ctx, span)
	}
	if err := ctx.Err(); err != nil {
		return nil, metrics.OutcomeTransportError, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	var res fetchResult
	_, err := c.breaker.Execute(func() (interface{}, error) {
		records, outcome, err := c.fetch(ctx, span)
		res = fetchResult{records: records, outcome: outcome}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, metrics.OutcomeCircuitOpen, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return res.records, res.outcome, err
}

// fetch is the primitive: one GET, whole body buffered, envelope decoded.
func (c *Client) fetch(ctx context.Context, span trace.Span) ([]trip.Record, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, metrics.OutcomeTransportError, fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, metrics.OutcomeTransportError, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, metrics.OutcomeBadStatus, fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, metrics.OutcomeTransportError, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, metrics.OutcomeTooLarge, fmt.Errorf("%w: body exceeds %d bytes", ErrUpstream, c.maxBodyBytes)
	}
	span.SetAttributes(attribute.Int("upstream.body_bytes", len(body)))

	records, err := decode(body)
	if err != nil {
		return nil, metrics.OutcomeDecodeError, err
	}
	metrics.UpdateUpstreamPayload(len(records), len(body))
	return records, metrics.OutcomeOK, nil
}

type envelope struct {
	Data *[]trip.Record `json:"data"`
}

func decode(body []byte) ([]trip.Record, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrUpstream, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: payload has no data list", ErrUpstream)
	}
	return *env.Data, nil
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Fetches:         c.fetches.Load(),
		Failures:        c.failures.Load(),
		LastRecordCount: c.lastCount.Load(),
		BreakerState:    "disabled",
	}
	if ns := c.lastFetchAt.Load(); ns != 0 {
		s.LastFetchAt = time.Unix(0, ns).UTC()
	}
	if c.breaker != nil {
		s.BreakerState = c.breaker.State().String()
	}
	return s
}
