package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"migration-guard/internal/conflict"
)

func init() {
	rootCmd.AddCommand(resolveConflictsCmd())
	rootCmd.AddCommand(listMigrationsCmd())
	rootCmd.AddCommand(checkDependenciesCmd())
}

func resolveConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-conflicts [app]",
		Short: "Detect and resolve migration state conflicts",
		Long: `Compare the migration ledger against the on-disk definitions and
resolve every conflict found: ledger entries without a definition file
are marked unapplied (the filesystem is ground truth), unapplied files
are applied through the migration tool, missing dependencies are applied
recursively, and circular dependencies produce a remediation report for
manual action. Every conflict reaches a terminal state; the run never
aborts midway.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			app := ""
			if len(args) > 0 {
				app = args[0]
			}

			ms, err := e.inspector.GetMigrationState(cmd.Context())
			if err != nil {
				return err
			}

			e.display.PrintHeader("Resolving conflicts")
			resolver := conflict.NewResolver(e.ledger, e.runner, e.cfg.Tools.MigrateCommand, e.cfg.Paths.ReportsDir, e.logger)
			result := resolver.ResolveAll(cmd.Context(), ms, app)

			for _, res := range result.ConflictsResolved {
				e.display.Success(fmt.Sprintf("%s %s: %s", res.Conflict.Type, res.Conflict.ID(), res.Action))
			}
			for _, res := range result.ConflictsFailed {
				msg := fmt.Sprintf("%s %s: %s", res.Conflict.Type, res.Conflict.ID(), res.Error)
				if res.ReportPath != "" {
					msg += fmt.Sprintf(" (report: %s)", res.ReportPath)
				}
				e.display.Failure(msg)
			}

			e.display.PrintSummary("Conflict resolution", map[string]string{
				"Status":   string(result.OverallStatus),
				"Found":    fmt.Sprintf("%d", len(result.ConflictsFound)),
				"Resolved": fmt.Sprintf("%d", len(result.ConflictsResolved)),
				"Failed":   fmt.Sprintf("%d", len(result.ConflictsFailed)),
			})

			if len(result.ConflictsFailed) > 0 {
				return fmt.Errorf("%d conflicts require manual action", len(result.ConflictsFailed))
			}
			return nil
		},
	}
}

func listMigrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-migrations [app]",
		Short: "List migrations with their applied state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			app := ""
			if len(args) > 0 {
				app = args[0]
			}

			views, err := e.inspector.ListMigrations(cmd.Context(), app)
			if err != nil {
				return err
			}
			if len(views) == 0 {
				e.display.Info("No migrations found")
				return nil
			}

			e.display.PrintHeader(fmt.Sprintf("Migrations (%d)", len(views)))
			for _, view := range views {
				id := view.App + "." + view.Name
				switch {
				case view.Applied && !view.FileFound:
					e.display.Warning(fmt.Sprintf("%s applied but definition file missing", id))
				case view.Applied:
					applied := ""
					if view.AppliedAt != nil {
						applied = " at " + view.AppliedAt.Format("2006-01-02 15:04:05")
					}
					e.display.Success(fmt.Sprintf("%s applied%s", id, applied))
				default:
					e.display.Info(fmt.Sprintf("%s pending", id))
				}
			}
			return nil
		},
	}
}

func checkDependenciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-dependencies <app> <migration>",
		Short: "Show the transitive dependency chain of a migration",
		Long: `Resolve the ordered transitive dependency chain of one migration from
the definition files. A circular dependency is reported as a conflict,
never a crash.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			chain, err := e.inspector.CheckDependencies(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			id := args[0] + "." + args[1]
			if len(chain) == 0 {
				e.display.Success(fmt.Sprintf("%s has no dependencies", id))
				return nil
			}
			e.display.PrintHeader(fmt.Sprintf("Dependencies of %s", id))
			e.display.Info(strings.Join(chain, " -> "))
			return nil
		},
	}
}
