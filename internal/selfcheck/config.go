package selfcheck

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/tripproxy/pkg/logger"
)

// Defaults for a Config left partly empty.
const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultSortKey = "id"
	DefaultLimit   = 5
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for a self-check run.
type Config struct {
	BaseURL    string        // Base URL of the proxy
	SortKey    string        // Key used by the sorted checks
	Limit      int           // Page size used by the paginated checks
	Timeout    time.Duration // Per-request timeout
	Verbose    bool          // Log every check, not just failures
	Logger     logger.Logger
	HTTPClient *http.Client
}

func (c Config) withDefaults() (Config, error) {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c, fmt.Errorf("%w: base url %q must be an absolute http(s) url", ErrInvalidConfig, c.BaseURL)
	}
	if c.SortKey == "" {
		c.SortKey = DefaultSortKey
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Limit < 1 {
		return c, fmt.Errorf("%w: limit must be >= 1, got %d", ErrInvalidConfig, c.Limit)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c, nil
}
