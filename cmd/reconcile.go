package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"migration-guard/internal/confirmation"
	"migration-guard/internal/export"
	"migration-guard/internal/integrity"
	"migration-guard/internal/reconcile"
)

func init() {
	rootCmd.AddCommand(reconcileDataCmd())
}

func reconcileDataCmd() *cobra.Command {
	var exportPath string

	cmd := &cobra.Command{
		Use:   "reconcile-data <backupPath>",
		Short: "Reconcile live data against a known-good backup",
		Long: `Compare the live database against a backup restored into a disposable
comparison database, report missing tables and row count mismatches,
scan for foreign key orphans, restore fully emptied tables from an
export snapshot when one is provided, and finish with a full integrity
verification. The comparison database is dropped afterwards.`,
		Args: cobra.ExactArgs(1),
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

			summary := map[string]string{"Backup": args[0]}
			if exportPath != "" {
				summary["Export snapshot"] = exportPath
			}
			ok, err := e.confirm.Confirm(confirmation.Operation{
				Name:     "reconcile-data",
				Database: e.cfg.Database.Database,
				Summary:  summary,
				Warnings: []string{
					fmt.Sprintf("A disposable comparison database %s_reconcile will be created and dropped.", e.cfg.Database.Database),
					"Fully emptied tables may be restored from the export snapshot.",
				},
			}, autoApprove)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			verifier := integrity.NewVerifier(e.db, e.cfg, e.logger)
			validate := func(path string) error {
				_, err := e.backups.ValidateBackup(path)
				return err
			}
			rec := reconcile.NewEngine(e.db, e.cfg, e.runner, e.backups, validate, verifier, e.logger)

			e.display.PrintHeader("Reconciling data")
			result, err := rec.Reconcile(cmd.Context(), args[0], snapshot)
			if err != nil {
				e.display.Failure(fmt.Sprintf("Reconciliation failed: %v", err))
				return err
			}

			displayReconcileResult(e, result)

			if result.OverallStatus != reconcile.OutcomeSuccess {
				return fmt.Errorf("reconciliation finished with status %s: %d issues found, %d resolved, %d failed",
					result.OverallStatus, len(result.IssuesFound), len(result.IssuesResolved), len(result.IssuesFailed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&exportPath, "export-path", "", "export snapshot to restore emptied tables from")
	return cmd
}

func displayReconcileResult(e *engine, result *reconcile.Result) {
	for _, issue := range result.IssuesResolved {
		e.display.Success(fmt.Sprintf("%s %s: %s", issue.Category, issue.Table, issue.Description))
	}
	for _, issue := range result.IssuesFailed {
		switch issue.Status {
		case reconcile.StatusNeedsInvestigation:
			e.display.Warning(fmt.Sprintf("%s %s: %s", issue.Category, issue.Table, issue.Description))
		default:
			e.display.Failure(fmt.Sprintf("%s %s: %s", issue.Category, issue.Table, issue.Description))
		}
	}

	fields := map[string]string{
		"Status":   result.OverallStatus,
		"Found":    fmt.Sprintf("%d", len(result.IssuesFound)),
		"Resolved": fmt.Sprintf("%d", len(result.IssuesResolved)),
		"Failed":   fmt.Sprintf("%d", len(result.IssuesFailed)),
	}
	if result.FinalIntegrity != nil {
		fields["Final integrity"] = result.FinalIntegrity.OverallStatus
	}
	e.display.PrintSummary("Reconciliation", fields)
}
