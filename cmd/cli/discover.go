package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipsweep/internal/config"
	"github.com/anstrom/ipsweep/internal/daemon"
	"github.com/anstrom/ipsweep/internal/discovery"
	"github.com/anstrom/ipsweep/internal/errors"
	"github.com/anstrom/ipsweep/internal/logging"
)

var discoverRules []string

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Import hosts from external discovery",
}

// discoverImportCmd runs one import outside the daemon.
var discoverImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import hosts found by Zabbix network discovery",
	Long: `Fetch the hosts found by one or more Zabbix network discovery rules and
upsert them into the host inventory as externally sourced records. The
Zabbix frontend is taken from the discovery section of the config file.

Without a configured database the import only verifies that the rules can
be read; nothing outlives the command.`,
	Example: `  ipsweep discover import --rule 12
  ipsweep discover import --rule 12 --rule 15 --config /etc/ipsweep/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runDiscoverImport,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.AddCommand(discoverImportCmd)

	discoverImportCmd.Flags().StringSliceVar(&discoverRules, "rule", nil, "discovery rule id (repeatable; default: discovery.rule_ids)")
	discoverImportCmd.Flags().String("zabbix-url", "", "Zabbix frontend URL (overrides config)")
	mustBind("discovery.zabbix.url", discoverImportCmd.Flags().Lookup("zabbix-url"))
}

func runDiscoverImport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	rules := discoverRules
	if len(rules) == 0 {
		rules = cfg.Discovery.RuleIDs
	}
	if len(rules) == 0 {
		return fmt.Errorf("no discovery rule given; use --rule or discovery.rule_ids")
	}
	if cfg.Discovery.Zabbix.URL == "" {
		return errors.ErrConfigMissing("discovery.zabbix.url")
	}

	logger := setupLogging(cfg)
	summaries, err := importRules(cmd.Context(), cfg, rules, logger)
	for _, s := range summaries {
		fmt.Fprintf(cmd.OutOrStdout(), "Rule %s (%s): %d seen, %d upserted, %d failed\n",
			s.RuleID, s.Source, s.Seen, s.Upserted, s.Failed)
	}
	return err
}

// importRules runs the import for every rule against the configured store,
// stopping at the first rule whose source cannot be read.
func importRules(ctx context.Context, cfg *config.Config, rules []string,
	logger *logging.Logger) ([]discovery.ImportSummary, error) {
	store, database, err := daemon.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if database != nil {
		defer func() { _ = database.Close() }()
	}

	discoveryCfg := cfg.Discovery
	discoveryCfg.Enabled = true
	importer := daemon.NewImporter(discoveryCfg, store, nil, logger)

	summaries := make([]discovery.ImportSummary, 0, len(rules))
	for _, rule := range rules {
		summary, err := importer.Import(ctx, rule)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, fmt.Errorf("rule %s: %w", rule, err)
		}
	}
	return summaries, nil
}
