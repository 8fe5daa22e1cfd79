package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	hostsLimit  int
	hostsSource string
)

// hostsCmd lists the daemon's host inventory.
var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the host inventory of a running daemon",
	Long: `List the hosts the daemon has seen, either through its own scans or
through external discovery imports, most recently seen first.`,
	Example: `  ipsweep hosts
  ipsweep hosts --source external --limit 50`,
	Args: cobra.NoArgs,
	RunE: runHosts,
}

func init() {
	rootCmd.AddCommand(hostsCmd)
	addClientFlags(hostsCmd.Flags())

	hostsCmd.Flags().IntVar(&hostsLimit, "limit", 0, "maximum hosts to list (0 = server default)")
	hostsCmd.Flags().StringVar(&hostsSource, "source", "", "filter by source: scan, external")
}

func runHosts(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	resp, err := client.ListHosts(cmd.Context(), hostsLimit, hostsSource)
	if err != nil {
		return err
	}
	if resp.Count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No hosts found")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Address", "Hostname", "Source", "Rule", "First seen", "Last seen")
	for i := range resp.Hosts {
		h := &resp.Hosts[i]
		if err := table.Append([]string{
			h.Address.String(), h.Hostname, string(h.Source), h.RuleID,
			formatTime(&h.FirstSeen), formatTime(&h.LastSeen),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
