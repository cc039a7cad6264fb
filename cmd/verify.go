package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"migration-guard/internal/export"
	"migration-guard/internal/integrity"
)

func init() {
	rootCmd.AddCommand(verifyStateCmd())
	rootCmd.AddCommand(verifyIntegrityCmd())
	rootCmd.AddCommand(validateSchemaCmd())
}

func verifyStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-state",
		Short: "Verify the migration state is sound",
		Long: `Check the migration ledger against the on-disk migration definitions:
every applied migration has a definition file, the dependency graph is
acyclic, and the backup directory is writable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			e.display.PrintHeader("Verifying migration state")
			snapshot, err := e.inspector.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			fields := map[string]string{
				"Applied migrations": fmt.Sprintf("%d", snapshot.AppliedCount),
				"Pending migrations": fmt.Sprintf("%d", snapshot.PendingCount),
			}
			for app, latest := range snapshot.LatestPerApp {
				fields["Latest "+app] = latest
			}
			e.display.PrintSummary("Migration state", fields)

			if !e.inspector.VerifyMigrationState(cmd.Context()) {
				e.display.Failure("Migration state verification failed")
				return fmt.Errorf("migration state verification failed")
			}
			e.display.Success("Migration state is sound")
			return nil
		},
	}
}

func verifyIntegrityCmd() *cobra.Command {
	var exportPath string

	cmd := &cobra.Command{
		Use:   "verify-integrity",
		Short: "Run the data integrity verification battery",
		Long: `Run the six-check integrity battery: connectivity, critical table
presence, foreign key orphans, duplicate and timestamp consistency,
comparison against an export snapshot, and business rules. A failing or
crashing check is reported as failed; the battery itself never aborts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			var snapshot *export.Snapshot
			if exportPath != "" {
				snapshot, err = export.LoadSnapshot(exportPath)
				if err != nil {
					return fmt.Errorf("failed to load export snapshot: %w", err)
				}
			}

			e.display.PrintHeader("Verifying data integrity")
			report := integrity.NewVerifier(e.db, e.cfg, e.logger).Verify(cmd.Context(), snapshot)
			displayIntegrityReport(e, report)

			if report.OverallStatus != integrity.StatusPassed {
				return fmt.Errorf("integrity verification %s: %d of %d checks failed",
					report.OverallStatus, report.ChecksFailed, report.ChecksPassed+report.ChecksFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&exportPath, "export-path", "", "export snapshot to compare live counts against")
	return cmd
}

func validateSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-schema",
		Short: "Validate that expected tables exist in the database",
		Long: `Check that every critical table and every table owned by a configured
application exists in the target database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			expected := make(map[string]bool)
			for _, table := range e.cfg.Integrity.CriticalTables {
				expected[table] = true
			}
			for _, app := range e.cfg.Apps {
				for _, table := range app.Tables {
					expected[table] = true
				}
			}
			if len(expected) == 0 {
				return fmt.Errorf("no tables configured; set integrity.critical_tables or apps in the configuration")
			}

			tables := make([]string, 0, len(expected))
			for table := range expected {
				tables = append(tables, table)
			}
			sort.Strings(tables)

			e.display.PrintHeader(fmt.Sprintf("Validating schema (%d tables)", len(tables)))
			var missing []string
			for _, table := range tables {
				exists, err := e.ledger.TableExists(cmd.Context(), table)
				if err != nil {
					return fmt.Errorf("failed to check table %s: %w", table, err)
				}
				if exists {
					e.display.Success(fmt.Sprintf("Table %s exists", table))
				} else {
					e.display.Failure(fmt.Sprintf("Table %s is missing", table))
					missing = append(missing, table)
				}
			}

			if len(missing) > 0 {
				return fmt.Errorf("schema validation failed: missing tables: %s", strings.Join(missing, ", "))
			}
			e.display.Success("Schema validation passed")
			return nil
		},
	}
}

func displayIntegrityReport(e *engine, report *integrity.Report) {
	for _, check := range report.Details {
		if check.Passed {
			e.display.Success(fmt.Sprintf("%s: %s", check.Name, check.Details))
		} else {
			e.display.Failure(fmt.Sprintf("%s: %s", check.Name, check.Details))
		}
	}
	e.display.PrintSummary("Integrity report", map[string]string{
		"Status": report.OverallStatus,
		"Passed": fmt.Sprintf("%d", report.ChecksPassed),
		"Failed": fmt.Sprintf("%d", report.ChecksFailed),
	})
}
