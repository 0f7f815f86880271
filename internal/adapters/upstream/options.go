package upstream

import (
	"net/http"
	"time"

	"github.com/okian/tripproxy/pkg/logger"
	"go.opentelemetry.io/otel/trace"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout bounds a whole fetch, retries included. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithMaxBodyBytes caps the buffered response body.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithRetry retries failed attempts with exponential backoff. A count of zero
// disables retries.
func WithRetry(maxCount int, minWait, maxWait, jitter time.Duration) Option {
	return func(c *Client) {
		if maxCount < 0 {
			return
		}
		c.retryMaxCount = maxCount
		if minWait > 0 {
			c.retryMinWait = minWait
		}
		if maxWait >= c.retryMinWait {
			c.retryMaxWait = maxWait
		}
		if jitter > 0 {
			c.retryJitter = jitter
		}
	}
}

// WithBreaker opens the circuit after threshold consecutive failures and keeps
// it open for openTimeout. A zero threshold disables the breaker.
func WithBreaker(threshold int, openTimeout time.Duration) Option {
	return func(c *Client) {
		if threshold < 0 {
			return
		}
		c.breakerThreshold = threshold
		if openTimeout > 0 {
			c.breakerOpenTimeout = openTimeout
		}
	}
}

// WithHTTPClient sets the base client; retries are layered on top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.base = hc
		}
	}
}

// WithTracerProvider sets the tracer provider used for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUserAgent overrides the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}
