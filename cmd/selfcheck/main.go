// Command selfcheck fires sample requests at a running tripproxy and verifies
// that pagination and sorting behave as documented.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/tripproxy/internal/selfcheck"
	"github.com/okian/tripproxy/pkg/logger"
	"github.com/spf13/cobra"
)

const defaultRunTimeout = 5 * time.Minute

type options struct {
	url     string
	key     string
	limit   int
	timeout time.Duration
	verbose bool
	json    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "selfcheck",
		Short: "Verify a running tripproxy",
		Long: `Fires sample requests at a running tripproxy and verifies that
pages hold at most --limit records, sorted output is non-decreasing on --key,
and the sorted paginated route returns the first page of the sorted route.`,
		Example: `  selfcheck --url http://localhost:3000 --key price --limit 10
  selfcheck --key host.name --verbose`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCheck(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", selfcheck.DefaultBaseURL, "Base URL of the proxy")
	cmd.Flags().StringVar(&opts.key, "key", selfcheck.DefaultSortKey, "Sort key used by the sorted checks")
	cmd.Flags().IntVar(&opts.limit, "limit", selfcheck.DefaultLimit, "Page size used by the paginated checks")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", selfcheck.DefaultTimeout, "Per-request timeout")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Log every check, not just failures")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the report as JSON")
	return cmd
}

func runCheck(ctx context.Context, opts *options, out io.Writer) error {
	if err := logger.InitWithFormat(logger.FormatConsole); err != nil {
		return err
	}
	if opts.verbose {
		_ = logger.SetLevelString("debug")
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	report, err := selfcheck.Run(ctx, selfcheck.Config{
		BaseURL: opts.url,
		SortKey: opts.key,
		Limit:   opts.limit,
		Timeout: opts.timeout,
		Verbose: opts.verbose,
		Logger:  logger.Named("selfcheck"),
	})
	if report != nil {
		if perr := printReport(out, report, opts.json); perr != nil {
			return perr
		}
	}
	return err
}

func printReport(out io.Writer, report *selfcheck.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "tripproxy self-check against %s (sortKey=%s, limit=%d, records=%d)\n",
		report.BaseURL, report.SortKey, report.Limit, report.Records)
	for _, c := range report.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "  %s  %-26s %8s", mark, c.Name, c.Duration.Round(time.Millisecond))
		if c.Detail != "" {
			fmt.Fprintf(out, "  %s", c.Detail)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d/%d checks passed in %s\n",
		len(report.Checks)-len(report.Failed()), len(report.Checks), report.Duration.Round(time.Millisecond))
	return nil
}
