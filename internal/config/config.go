// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Durations are stored as integer milliseconds and exposed as time.Duration.
// - Validation failures wrap ErrInvalidConfig; source failures wrap ErrLoadConfig.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoder: json or console.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":3000".
	Addr string `koanf:"addr"`

	// UpstreamURL is the endpoint returning {"data": [...]}.
	UpstreamURL string `koanf:"upstream_url"`

	// UpstreamTimeoutMS bounds one fetch, retries included. 0 disables it.
	UpstreamTimeoutMS int `koanf:"upstream_timeout_ms"`

	// UpstreamMaxBodyBytes caps the buffered upstream body.
	UpstreamMaxBodyBytes int64 `koanf:"upstream_max_body_bytes"`

	// Retry policy for upstream fetches. RetryMaxCount 0 disables retries.
	RetryMaxCount  int `koanf:"retry_max_count"`
	RetryMinWaitMS int `koanf:"retry_min_wait_ms"`
	RetryMaxWaitMS int `koanf:"retry_max_wait_ms"`
	RetryJitterMS  int `koanf:"retry_jitter_ms"`

	// Circuit breaker around upstream fetches.
	BreakerEnabled          bool `koanf:"breaker_enabled"`
	BreakerFailureThreshold int  `koanf:"breaker_failure_threshold"`
	BreakerOpenTimeoutMS    int  `koanf:"breaker_open_timeout_ms"`

	// SelfCheckOnStart fires sample requests at the local listener after start.
	SelfCheckOnStart bool `koanf:"self_check_on_start"`

	// Metrics naming and collection. Empty names keep the built-in defaults.
	MetricsEnabled   bool   `koanf:"metrics_enabled"`
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`
	MetricsPrefix    string `koanf:"metrics_prefix"`

	// MetricsLabels are constant labels on every series, as "env=prod,region=eu".
	MetricsLabels string `koanf:"metrics_labels"`

	// MetricsBucketsMS overrides the latency histogram buckets, as "5,25,100".
	MetricsBucketsMS string `koanf:"metrics_buckets_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "json",
		Addr:                    ":3000",
		UpstreamURL:             "https://api.example.com/trips",
		UpstreamTimeoutMS:       15_000,
		UpstreamMaxBodyBytes:    32 << 20,
		RetryMaxCount:           2,
		RetryMinWaitMS:          100,
		RetryMaxWaitMS:          2_000,
		RetryJitterMS:           100,
		BreakerEnabled:          true,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeoutMS:    30_000,
		SelfCheckOnStart:        false,
		MetricsEnabled:          true,
	}
}

// UpstreamTimeout returns the fetch timeout.
func (c *Config) UpstreamTimeout() time.Duration { return ms(c.UpstreamTimeoutMS) }

// RetryMinWait returns the smallest backoff between retries.
func (c *Config) RetryMinWait() time.Duration { return ms(c.RetryMinWaitMS) }

// RetryMaxWait returns the largest backoff between retries.
func (c *Config) RetryMaxWait() time.Duration { return ms(c.RetryMaxWaitMS) }

// RetryJitter returns the random jitter added to each backoff.
func (c *Config) RetryJitter() time.Duration { return ms(c.RetryJitterMS) }

// BreakerOpenTimeout returns how long the circuit stays open.
func (c *Config) BreakerOpenTimeout() time.Duration { return ms(c.BreakerOpenTimeoutMS) }

// BreakerThreshold returns the failure threshold, or 0 when the breaker is off.
func (c *Config) BreakerThreshold() int {
	if !c.BreakerEnabled {
		return 0
	}
	return c.BreakerFailureThreshold
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

var metricName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MetricsConstLabels parses MetricsLabels. It returns nil when none are set.
func (c *Config) MetricsConstLabels() (map[string]string, error) {
	if strings.TrimSpace(c.MetricsLabels) == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(c.MetricsLabels, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name = strings.TrimSpace(name)
		if !ok || !metricName.MatchString(name) || strings.HasPrefix(name, "__") {
			return nil, fmt.Errorf("%w: metrics_labels entry %q must be name=value", ErrInvalidConfig, pair)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: metrics_labels repeats %q", ErrInvalidConfig, name)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

// MetricsBuckets parses MetricsBucketsMS. It returns nil when unset.
func (c *Config) MetricsBuckets() ([]float64, error) {
	if strings.TrimSpace(c.MetricsBucketsMS) == "" {
		return nil, nil
	}
	var out []float64
	for _, f := range strings.Split(c.MetricsBucketsMS, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: metrics_buckets_ms: %w", ErrInvalidConfig, err)
		}
		if len(out) > 0 && v <= out[len(out)-1] {
			return nil, fmt.Errorf("%w: metrics_buckets_ms must be strictly increasing", ErrInvalidConfig)
		}
		out = append(out, v)
	}
	return out, nil
}

// Validate reports the first problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}

	u, err := url.Parse(c.UpstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: upstream_url %q must be an absolute http(s) url", ErrInvalidConfig, c.UpstreamURL)
	}

	for name, v := range map[string]int64{
		"upstream_timeout_ms":       int64(c.UpstreamTimeoutMS),
		"upstream_max_body_bytes":   c.UpstreamMaxBodyBytes,
		"retry_max_count":           int64(c.RetryMaxCount),
		"retry_min_wait_ms":         int64(c.RetryMinWaitMS),
		"retry_max_wait_ms":         int64(c.RetryMaxWaitMS),
		"retry_jitter_ms":           int64(c.RetryJitterMS),
		"breaker_failure_threshold": int64(c.BreakerFailureThreshold),
		"breaker_open_timeout_ms":   int64(c.BreakerOpenTimeoutMS),
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidConfig, name, v)
		}
	}

	if c.RetryMinWaitMS > c.RetryMaxWaitMS {
		return fmt.Errorf("%w: retry_min_wait_ms (%d) exceeds retry_max_wait_ms (%d)",
			ErrInvalidConfig, c.RetryMinWaitMS, c.RetryMaxWaitMS)
	}
	if c.BreakerEnabled && c.BreakerFailureThreshold == 0 {
		return fmt.Errorf("%w: breaker_failure_threshold must be >= 1 when the breaker is enabled", ErrInvalidConfig)
	}

	for name, v := range map[string]string{
		"metrics_namespace": c.MetricsNamespace,
		"metrics_subsystem": c.MetricsSubsystem,
		"metrics_prefix":    c.MetricsPrefix,
	} {
		if v != "" && !metricName.MatchString(v) {
			return fmt.Errorf("%w: %s %q is not a valid metric name part", ErrInvalidConfig, name, v)
		}
	}
	if _, err := c.MetricsConstLabels(); err != nil {
		return err
	}
	if _, err := c.MetricsBuckets(); err != nil {
		return err
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
