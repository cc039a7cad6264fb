package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"migration-guard/internal/confirmation"
	"migration-guard/internal/export"
	"migration-guard/internal/rollback"
)

func init() {
	rootCmd.AddCommand(rollbackMigrationCmd())
	rootCmd.AddCommand(gradualRollbackCmd())
}

func newOrchestrator(e *engine) *rollback.Orchestrator {
	exporter := export.NewExporter(e.db, e.cfg, e.logger)
	counter := rollback.NewTableRowCounter(e.ledger, e.cfg)
	return rollback.NewOrchestrator(e.cfg, e.backups, exporter, e.runner, e.inspector, counter, e.notifier, e.logger)
}

func confirmRollback(e *engine, name, app, migration string) (bool, error) {
	return e.confirm.Confirm(confirmation.Operation{
		Name:     name,
		Database: e.cfg.Database.Database,
		Summary: map[string]string{
			"Application": app,
			"Migration":   migration,
		},
		Warnings: []string{
			"A backup is created first; any failure after that point restores the database from it.",
		},
	}, autoApprove)
}

func displayRollbackResult(e *engine, result *rollback.Result) {
	for _, step := range result.Steps {
		label := step.Description
		if step.Batches > 0 {
			label = fmt.Sprintf("%s (%d batches)", label, step.Batches)
		}
		if step.Success {
			e.display.Success(label)
		} else {
			e.display.Failure(fmt.Sprintf("%s: %s", label, step.Error))
		}
	}

	fields := map[string]string{
		"Success": fmt.Sprintf("%t", result.Success),
		"Backup":  result.BackupName,
	}
	if result.Recovered {
		fields["Recovered"] = "database restored from backup"
	}
	e.display.PrintSummary("Rollback result", fields)
}

func rollbackMigrationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback-migration <app> <migration>",
		Short: "Roll back a single migration with automatic recovery",
		Long: `Roll back one migration. A backup is created before anything else; if
the rollback command or the post-rollback verification fails, the
database is restored from that backup before the failure is reported.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := confirmRollback(e, "rollback-migration", args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			e.display.PrintHeader(fmt.Sprintf("Rolling back %s.%s", args[0], args[1]))
			result, err := newOrchestrator(e).Rollback(cmd.Context(), args[0], args[1])
			displayRollbackResult(e, result)
			return err
		},
	}
}

func gradualRollbackCmd() *cobra.Command {
	var batchSize int
	var delaySeconds int

	cmd := &cobra.Command{
		Use:   "gradual-rollback <app> <migration>",
		Short: "Roll back a migration in paced batches",
		Long: `Roll back one migration through the four-step sequence: preparation
(backup + export), batched data rollback, schema rollback, and
verification. Batches are paced with a configurable delay to limit load
on the database. Any step failure restores the preparation backup.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			if !cmd.Flags().Changed("batch-size") {
				batchSize = e.cfg.Rollback.BatchSize
			}
			if !cmd.Flags().Changed("delay-seconds") {
				delaySeconds = e.cfg.Rollback.DelaySeconds
			}
			if batchSize < 1 {
				return fmt.Errorf("batch size must be at least 1, got %d", batchSize)
			}
			if delaySeconds < 0 {
				return fmt.Errorf("delay seconds cannot be negative")
			}

			ok, err := confirmRollback(e, "gradual-rollback", args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			strategy := rollback.NewBatchStrategy(batchSize, time.Duration(delaySeconds)*time.Second)

			e.display.PrintHeader(fmt.Sprintf("Gradual rollback of %s.%s (batch size %d, delay %ds)",
				args[0], args[1], batchSize, delaySeconds))
			result, err := newOrchestrator(e).GradualRollback(cmd.Context(), args[0], args[1], strategy)
			displayRollbackResult(e, result)
			return err
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows per batch (default from config)")
	cmd.Flags().IntVar(&delaySeconds, "delay-seconds", 0, "delay between batches in seconds (default from config)")
	return cmd
}
