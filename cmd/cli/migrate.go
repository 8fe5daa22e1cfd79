package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/ipsweep/internal/db"
	"github.com/anstrom/ipsweep/internal/logging"
)

var (
	migrateStatus bool
	migrateReset  bool
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply every pending schema migration to the configured PostgreSQL
database. With --status the migrations are listed instead. --reset drops
all ipsweep tables before migrating and destroys stored jobs and hosts.`,
	Example: `  ipsweep migrate
  ipsweep migrate --status`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations and whether they are applied")
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "drop all tables and re-apply migrations")
	migrateCmd.MarkFlagsMutuallyExclusive("status", "reset")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !cfg.UseDatabase() {
		return fmt.Errorf("no database configured; set database.host, database.database and database.username")
	}
	setupLogging(cfg)

	database, err := db.Connect(cmd.Context(), &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer func() { _ = database.Close() }()

	migrator := db.NewMigrator(database.DB)
	switch {
	case migrateStatus:
		states, err := migrator.Status(cmd.Context())
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Migration", "Applied", "Applied at", "Modified")
		for _, st := range states {
			appliedAt := "-"
			if st.AppliedAt != nil {
				appliedAt = st.AppliedAt.Local().Format("2006-01-02 15:04:05")
			}
			if err := table.Append([]string{st.Name, yesNo(st.Applied), appliedAt, yesNo(st.Modified)}); err != nil {
				return err
			}
		}
		return table.Render()
	case migrateReset:
		if err := migrator.Reset(cmd.Context()); err != nil {
			return err
		}
		logging.Info("Database reset", "database", cfg.Database.Database)
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset and migrated")
		return nil
	default:
		if err := migrator.Up(cmd.Context()); err != nil {
			return err
		}
		logging.Info("Database migrations applied", "database", cfg.Database.Database)
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
		return nil
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
