package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/ipsweep/internal/export"
	"github.com/anstrom/ipsweep/internal/jobs"
)

const defaultPollInterval = time.Second

var (
	submitFlags  paramFlags
	submitWait   bool
	pollInterval time.Duration
	statusJSON   bool
	statusExport string
)

// jobsCmd represents the jobs command.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scan jobs on a running daemon",
	Long: `Submit, inspect and cancel asynchronous scan jobs through the REST API of
a running ipsweep daemon. The daemon address comes from --server or
IPSWEEP_SERVER; an API key, if the daemon requires one, from --api-key or
IPSWEEP_API_KEY.`,
	Example: `  ipsweep jobs submit 192.168.1.0/24 --ports 22,80 --wait
  ipsweep jobs list
  ipsweep jobs status 3f1c2a9e-... --results csv
  ipsweep jobs cancel 3f1c2a9e-...`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <range> [range...]",
	Short: "Submit a scan job",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel an active job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd, jobsStatusCmd, jobsCancelCmd, jobsListCmd)

	addClientFlags(jobsCmd.PersistentFlags())

	submitFlags.register(jobsSubmitCmd.Flags())
	jobsSubmitCmd.MarkFlagsMutuallyExclusive("ports", "check-type")
	jobsSubmitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the job to finish, showing progress")
	jobsSubmitCmd.Flags().DurationVar(&pollInterval, "poll-interval", defaultPollInterval, "status poll interval with --wait")

	jobsStatusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status as JSON")
	jobsStatusCmd.Flags().StringVar(&statusExport, "results", "", "print the results of a completed job as json, csv or table")
}

// addClientFlags registers the daemon connection flags.
func addClientFlags(fs *pflag.FlagSet) {
	fs.String("server", "", "daemon URL (default "+defaultServerURL+")")
	fs.String("api-key", "", "API key for the daemon")
	fs.Duration("timeout", 0, "HTTP request timeout")
}

// newClient builds an API client. Flags set on cmd win over IPSWEEP_SERVER,
// IPSWEEP_API_KEY and IPSWEEP_TIMEOUT, which win over the defaults.
func newClient(cmd *cobra.Command) (*APIClient, error) {
	server := viper.GetString("server")
	apiKey := viper.GetString("api_key")
	timeout := viper.GetDuration("timeout")

	fs := cmd.Flags()
	if fs.Changed("server") {
		server, _ = fs.GetString("server")
	}
	if fs.Changed("api-key") {
		apiKey, _ = fs.GetString("api-key")
	}
	if fs.Changed("timeout") {
		timeout, _ = fs.GetDuration("timeout")
	}

	if server == "" {
		server = defaultServerURL
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return NewAPIClient(server, apiKey, timeout)
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	params, err := submitFlags.params(args)
	if err != nil {
		return err
	}
	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	resp, err := client.SubmitJob(cmd.Context(), params)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s accepted (%s)\n", resp.JobID, resp.State)
	if !submitWait {
		return nil
	}

	st, err := waitForJob(cmd.Context(), client, resp.JobID, pollInterval, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), st)
}

// waitForJob polls a job until it reaches a terminal state.
func waitForJob(ctx context.Context, client *APIClient, id string, every time.Duration, progress io.Writer) (jobs.Status, error) {
	if every <= 0 {
		every = defaultPollInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		st, err := client.JobStatus(ctx, id)
		if err != nil {
			return jobs.Status{}, err
		}
		if st.State.Terminal() {
			fmt.Fprintln(progress)
			return st, nil
		}
		fmt.Fprintf(progress, "\r%s: %d/%d hosts, %d online (%.1f%%)",
			st.State, st.Stats.Scanned, st.Stats.Total, st.Stats.Online, st.Progress)

		select {
		case <-ctx.Done():
			return jobs.Status{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	st, err := client.JobStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case statusExport != "":
		if st.State != jobs.StateCompleted {
			return fmt.Errorf("job is %s; only completed jobs have results", st.State)
		}
		return export.Write(out, statusExport, st.Results)
	case statusJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	default:
		return printStatus(out, st)
	}
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	st, err := client.CancelJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s\n", st.JobID, st.State)
	return nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	ids, err := client.ListJobs(cmd.Context())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No active jobs")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Job ID")
	for _, id := range ids {
		if err := table.Append([]string{id}); err != nil {
			return err
		}
	}
	return table.Render()
}

// printStatus renders a job status as a two-column table.
func printStatus(w io.Writer, st jobs.Status) error {
	rows := [][]string{
		{"Job ID", st.JobID},
		{"State", string(st.State)},
		{"Progress", strconv.FormatFloat(st.Progress, 'f', 1, 64) + "%"},
		{"Hosts", fmt.Sprintf("%d/%d scanned, %d online, %d offline",
			st.Stats.Scanned, st.Stats.Total, st.Stats.Online, st.Stats.Offline)},
		{"Created", formatTime(&st.CreatedAt)},
		{"Started", formatTime(st.StartedAt)},
		{"Completed", formatTime(st.CompletedAt)},
	}
	if st.Summary != nil {
		rows = append(rows, []string{"Duration", st.Summary.Duration})
	}
	if st.Error != "" {
		rows = append(rows, []string{"Error", st.Error})
	}
	for _, warning := range st.Warnings {
		rows = append(rows, []string{"Warning", warning})
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
