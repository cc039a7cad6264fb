package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"migration-guard/internal/backup"
	"migration-guard/internal/confirmation"
	"migration-guard/internal/notify"
)

func init() {
	rootCmd.AddCommand(createBackupCmd())
	rootCmd.AddCommand(backupRestoreCmd())
	rootCmd.AddCommand(listBackupsCmd())
	rootCmd.AddCommand(cleanupBackupsCmd())
	rootCmd.AddCommand(emergencyRecoveryCmd())
}

func createBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-backup [name]",
		Short: "Create a validated backup of the target database",
		Long: `Create a backup of the target database with the external dump tool,
seal it through the configured compression and encryption pipeline, write
the metadata and checksum sidecars, and validate the artifact before
reporting success. The backup embeds a snapshot of the current migration
state.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			name := ""
			if len(args) > 0 {
				name = args[0]
			}

			e.display.PrintHeader("Creating backup")
			meta, err := e.backups.CreateBackup(cmd.Context(), name, backup.TypeManual)
			if err != nil {
				e.display.Failure(fmt.Sprintf("Backup failed: %v", err))
				return err
			}

			e.display.Success(fmt.Sprintf("Backup %s created", meta.BackupName))
			e.display.PrintSummary("Backup", backupSummary(e, meta))
			return nil
		},
	}
}

func backupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup-restore <backupPath>",
		Short: "Restore the target database from a backup artifact",
		Long: `Validate the backup artifact, drop and recreate the target database,
restore the dump, and verify the migration state afterwards. The target
database is destroyed before the restore begins.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := e.confirm.Confirm(confirmation.Operation{
				Name:     "backup-restore",
				Database: e.cfg.Database.Database,
				Summary:  map[string]string{"Backup": args[0]},
				Warnings: []string{fmt.Sprintf("Database %s will be dropped and recreated from the backup.", e.cfg.Database.Database)},
			}, autoApprove)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			e.display.PrintHeader("Restoring backup")
			if err := e.backups.RestoreBackup(cmd.Context(), args[0]); err != nil {
				e.display.Failure(fmt.Sprintf("Restore failed: %v", err))
				return err
			}

			e.display.Success(fmt.Sprintf("Database %s restored from %s", e.cfg.Database.Database, args[0]))
			return nil
		},
	}
}

func listBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-backups",
		Short: "List local backup artifacts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			metas, err := e.backups.ListBackups()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				e.display.Info("No backups found")
				return nil
			}

			e.display.PrintHeader(fmt.Sprintf("Backups (%d)", len(metas)))
			for _, meta := range metas {
				e.display.PrintSummary(meta.BackupName, backupSummary(e, meta))
			}
			return nil
		},
	}
}

func cleanupBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-backups",
		Short: "Delete backups beyond the retention policy",
		Long: `Apply the configured retention policy (max_backups, max_age) to the
local backup directory. The newest backup is never deleted. Offsite
replicas of deleted backups are removed as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := e.confirm.Confirm(confirmation.Operation{
				Name:     "cleanup-backups",
				Database: e.cfg.Database.Database,
				Summary: map[string]string{
					"Max backups": fmt.Sprintf("%d", e.cfg.Retention.MaxBackups),
					"Max age":     e.cfg.Retention.MaxAge.String(),
				},
				Warnings: []string{"Backups beyond the retention policy will be permanently deleted."},
			}, autoApprove)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			removed, err := e.backups.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				e.display.Info("No backups exceeded the retention policy")
				return nil
			}
			for _, name := range removed {
				e.display.Success(fmt.Sprintf("Deleted backup %s", name))
			}
			return nil
		},
	}
}

func emergencyRecoveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emergency-recovery",
		Short: "Restore the database from the newest valid backup",
		Long: `Walk the local backups newest first, validate each artifact, and
restore the first valid one. Used when the database is in an unknown
state and the most recent trusted recovery point is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			metas, err := e.backups.ListBackups()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				return fmt.Errorf("no backups available for emergency recovery")
			}

			var chosen *backup.Metadata
			for _, meta := range metas {
				result, err := e.backups.ValidateBackup(meta.ArtifactPath(e.cfg.Paths.BackupDir))
				if err != nil {
					e.display.Warning(fmt.Sprintf("Skipping backup %s: %v", meta.BackupName, err))
					continue
				}
				if result.Warning != "" {
					e.display.Warning(fmt.Sprintf("Backup %s: %s", meta.BackupName, result.Warning))
				}
				chosen = meta
				break
			}
			if chosen == nil {
				return fmt.Errorf("no valid backup found among %d candidates", len(metas))
			}

			ok, err := e.confirm.Confirm(confirmation.Operation{
				Name:     "emergency-recovery",
				Database: e.cfg.Database.Database,
				Summary: map[string]string{
					"Backup":  chosen.BackupName,
					"Created": chosen.CreatedAt.Format("2006-01-02 15:04:05"),
				},
				Warnings: []string{fmt.Sprintf("Database %s will be dropped and restored from backup %s.", e.cfg.Database.Database, chosen.BackupName)},
			}, autoApprove)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			e.display.PrintHeader("Emergency recovery")
			if err := e.backups.RestoreBackup(cmd.Context(), chosen.BackupName); err != nil {
				e.display.Failure(fmt.Sprintf("Recovery failed: %v", err))
				e.notifier.Notify(cmd.Context(), "emergency_recovery_failed",
					fmt.Sprintf("recovery from backup %s failed: %v", chosen.BackupName, err), notify.SeverityCritical)
				return err
			}

			e.display.Success(fmt.Sprintf("Database %s recovered from backup %s", e.cfg.Database.Database, chosen.BackupName))
			e.notifier.Notify(cmd.Context(), "emergency_recovery_completed",
				fmt.Sprintf("database %s recovered from backup %s", e.cfg.Database.Database, chosen.BackupName), notify.SeverityWarning)
			return nil
		},
	}
}

func backupSummary(e *engine, meta *backup.Metadata) map[string]string {
	fields := map[string]string{
		"Database": meta.Database,
		"Type":     meta.BackupType,
		"Created":  meta.CreatedAt.Format("2006-01-02 15:04:05"),
		"Artifact": meta.ArtifactPath(e.cfg.Paths.BackupDir),
		"Size":     fmt.Sprintf("%d bytes", meta.SizeBytes),
	}
	if meta.Compression != "" {
		fields["Compression"] = meta.Compression
	}
	if meta.Encrypted {
		fields["Encrypted"] = "yes"
	}
	if meta.OffsiteLocation != "" {
		fields["Offsite"] = meta.OffsiteLocation
	}
	return fields
}
