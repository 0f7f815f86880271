package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/okian/tripproxy/internal/adapters/http/api"
	"github.com/okian/tripproxy/internal/adapters/http/swagger"
	"github.com/okian/tripproxy/internal/adapters/upstream"
	app "github.com/okian/tripproxy/internal/app"
	"github.com/okian/tripproxy/internal/config"
	"github.com/okian/tripproxy/internal/selfcheck"
	"github.com/okian/tripproxy/pkg/logger"
	"github.com/okian/tripproxy/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants. The write timeout must outlast one upstream
// fetch including retries.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	selfCheckTimeout          = time.Minute
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// The logger format comes from config, so report on stderr
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	err = run(ctx, cfg, loggerInstance)
	if syncErr := logger.Sync(); syncErr != nil {
		os.Stderr.WriteString("failed to sync logger: " + syncErr.Error() + "\n")
	}
	if err != nil {
		os.Stderr.WriteString("tripproxy: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// metricsOptions maps the metrics settings of cfg onto manager options.
func metricsOptions(cfg *config.Config) ([]metrics.Option, error) {
	labels, err := cfg.MetricsConstLabels()
	if err != nil {
		return nil, err
	}
	buckets, err := cfg.MetricsBuckets()
	if err != nil {
		return nil, err
	}
	return []metrics.Option{
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithMetricPrefix(cfg.MetricsPrefix),
		metrics.WithCustomLabels(labels),
		metrics.WithHistogramBuckets(buckets),
	}, nil
}

// run serves until ctx is canceled or the listener fails.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	opts, err := metricsOptions(cfg)
	if err != nil {
		return err
	}
	metrics.Configure(opts...)

	client, err := newUpstream(cfg, log)
	if err != nil {
		return err
	}

	svc := app.New(
		app.WithFetcher(client),
		app.WithLogger(log.Named("service")),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := newHTTPServer(newMux(svc, log))

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.SelfCheckOnStart {
		go runSelfCheck(ctx, localBaseURL(ln.Addr()), log.Named("selfcheck"))
	}

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// newUpstream builds the upstream client from config.
func newUpstream(cfg *config.Config, log logger.Logger) (*upstream.Client, error) {
	return upstream.New(cfg.UpstreamURL,
		upstream.WithTimeout(cfg.UpstreamTimeout()),
		upstream.WithMaxBodyBytes(cfg.UpstreamMaxBodyBytes),
		upstream.WithRetry(cfg.RetryMaxCount, cfg.RetryMinWait(), cfg.RetryMaxWait(), cfg.RetryJitter()),
		upstream.WithBreaker(cfg.BreakerThreshold(), cfg.BreakerOpenTimeout()),
		upstream.WithLogger(log.Named("upstream")),
	)
}

// newMux registers the docs and business routes.
func newMux(svc *app.Service, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Register API docs under /api-docs and /openapi.yaml
	swagger.Register(mux)

	// Register business API routes with the service dependency.
	api.NewServer(svc, svc, api.WithServerLogger(log.Named("http"))).Register(mux)
	return mux
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// localBaseURL turns a listener address into a URL reachable from this host.
func localBaseURL(addr net.Addr) string {
	host, port := "127.0.0.1", ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
		if tcp.IP != nil && !tcp.IP.IsUnspecified() {
			host = tcp.IP.String()
		}
	} else if h, p, err := net.SplitHostPort(addr.String()); err == nil {
		host, port = h, p
	}
	return "http://" + net.JoinHostPort(host, port)
}

// runSelfCheck exercises the local listener once and logs the report.
func runSelfCheck(ctx context.Context, baseURL string, log logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, selfCheckTimeout)
	defer cancel()

	report, err := selfcheck.Run(ctx, selfcheck.Config{BaseURL: baseURL, Logger: log})
	if err != nil {
		log.Warn(ctx, "startup self-check did not pass", logger.Error(err))
		return
	}
	log.Info(ctx, "startup self-check passed",
		logger.Int("checks", len(report.Checks)),
		logger.Int("records", report.Records),
	)
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystem(m.Alloc, runtime.NumGoroutine())

	if m.NumGC > 0 {
		// Average GC pause time
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordGCPause(avgPauseMs)
	}
}
