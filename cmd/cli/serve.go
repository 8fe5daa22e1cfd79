package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipsweep/internal/daemon"
)

var servePIDFile string

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ipsweep daemon",
	Long: `Run the ipsweep daemon in the foreground. The daemon accepts scan jobs
over the REST API, pushes progress over websockets, runs scheduled scans and
periodic external discovery imports, and serves Prometheus metrics.

SIGINT and SIGTERM shut it down gracefully; SIGUSR1 logs a status summary.`,
	Example: `  ipsweep serve
  ipsweep serve --config /etc/ipsweep/config.yaml
  ipsweep serve --listen 0.0.0.0 --port 9090 --pid-file /run/ipsweep.pid`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "API listen address (overrides config)")
	serveCmd.Flags().Int("port", 0, "API port (overrides config)")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "PID file path (overrides config)")

	mustBind("api.listen_addr", serveCmd.Flags().Lookup("listen"))
	mustBind("api.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if servePIDFile != "" {
		cfg.Daemon.PIDFile = servePIDFile
	}
	return daemon.Run(cmd.Context(), cfg)
}
