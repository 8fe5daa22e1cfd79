package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/ipsweep/internal/config"
	"github.com/anstrom/ipsweep/internal/daemon"
	"github.com/anstrom/ipsweep/internal/export"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
	"github.com/anstrom/ipsweep/internal/scanning"
)

const outputFilePerm = 0600

var (
	scanFlags  paramFlags
	scanOutput string
	scanQuiet  bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <range> [range...]",
	Short: "Scan IPv4 ranges in the foreground",
	Long: `Scan one or more IPv4 ranges and print the results when the scan finishes.
Ranges are single addresses, CIDR blocks or dash ranges. Results are kept in
memory only; use the daemon to persist them.

A progress line is written to stderr while the scan runs. Interrupting the
scan cancels it and discards partial results.`,
	Example: `  ipsweep scan 192.168.1.0/24
  ipsweep scan 10.0.0.1-10.0.0.50 --ports 22,80,443
  ipsweep scan 172.16.0.0/28 --check-type SSH --format csv --output hosts.csv
  ipsweep scan 192.168.1.0/24 --liveness-only --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanFlags.register(scanCmd.Flags())
	scanCmd.Flags().String("format", "", "output format: json, csv, table")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "write results to a file instead of stdout")
	scanCmd.Flags().BoolVarP(&scanQuiet, "quiet", "q", false, "suppress the progress line")
	scanCmd.Flags().String("liveness-method", "", "liveness method: exec, icmp, icmp-raw, nmap, tcp")

	scanCmd.MarkFlagsMutuallyExclusive("ports", "check-type")
	mustBind("format", scanCmd.Flags().Lookup("format"))
	mustBind("engine.liveness_method", scanCmd.Flags().Lookup("liveness-method"))
}

// outputFormat returns the validated export format.
func outputFormat() (string, error) {
	format := strings.ToLower(viper.GetString("format"))
	if !slices.Contains(export.Formats, format) {
		return "", fmt.Errorf("unsupported format %q (want one of %s)", format, strings.Join(export.Formats, ", "))
	}
	return format, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	params, err := scanFlags.params(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	logger := scanLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := runForegroundScan(ctx, cfg, params, logger, progressWriter(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	switch status.State {
	case jobs.StateCompleted:
	case jobs.StateCancelled:
		return fmt.Errorf("scan cancelled")
	default:
		return fmt.Errorf("scan %s: %s", status.State, status.Error)
	}
	for _, w := range status.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
	}

	out := cmd.OutOrStdout()
	if scanOutput != "" {
		f, err := os.OpenFile(scanOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputFilePerm)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := export.Write(out, format, status.Results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if summary := status.Summary; summary != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Scanned %d hosts in %s: %d online, %d offline\n",
			summary.TotalScanned, summary.Duration, summary.Online, summary.Offline)
	}
	return nil
}

// runForegroundScan runs params as a job on an in-memory manager and waits
// for it. Cancelling ctx cancels the job.
func runForegroundScan(ctx context.Context, cfg *config.Config, params jobs.Params, logger *logging.Logger,
	progress jobs.Listener) (jobs.Status, error) {
	scanner, err := daemon.NewScanner(cfg.Engine)
	if err != nil {
		return jobs.Status{}, err
	}

	opts := []jobs.Option{jobs.WithLogger(logger), jobs.WithSaveTimeout(cfg.Engine.SaveTimeout)}
	if progress != nil {
		opts = append(opts, jobs.WithListener(progress))
	}
	manager := jobs.NewManager(jobs.NewMemoryStore(),
		jobs.NewEngineFactory(scanner, scanning.WithLogger(logger),
			scanning.WithStaleAfter(cfg.Engine.StaleHostAfter)), opts...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	id, err := manager.Submit(ctx, params)
	if err != nil {
		return jobs.Status{}, err
	}
	if err := manager.Wait(ctx, id); err != nil {
		manager.Cancel(context.Background(), id)
		_ = manager.Wait(context.Background(), id)
	}
	return manager.GetStatus(context.Background(), id)
}

// scanLogger keeps log output off stdout, which carries the results.
func scanLogger(cfg *config.Config) *logging.Logger {
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	return setupLogging(cfg)
}

// progressWriter renders progress events as a single rewritten line.
func progressWriter(w io.Writer) jobs.Listener {
	if scanQuiet {
		return nil
	}
	var mu sync.Mutex
	return jobs.ListenerFunc(func(e jobs.Event) {
		mu.Lock()
		defer mu.Unlock()
		st := e.Status
		if e.Kind == jobs.EventState {
			if st.State.Terminal() {
				fmt.Fprintln(w)
			}
			return
		}
		fmt.Fprintf(w, "\rScanning: %d/%d hosts, %d online (%.1f%%)",
			st.Stats.Scanned, st.Stats.Total, st.Stats.Online, st.Progress)
	})
}
