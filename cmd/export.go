package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"migration-guard/internal/export"
)

func init() {
	rootCmd.AddCommand(exportDataCmd())
}

func exportDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-data [app] [table]",
		Short: "Export application data to a JSON snapshot",
		Long: `Export the configured application tables to a JSON snapshot with a
SHA-256 checksum sidecar. The snapshot is used for comparison during
integrity verification and reconciliation; backups remain the restore
source of truth. Per-table export failures are recorded in the snapshot
instead of aborting the export.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			defer e.Close()

			scope := export.Scope{}
			if len(args) > 0 {
				scope.App = args[0]
			}
			if len(args) > 1 {
				scope.Table = args[1]
			}

			e.display.PrintHeader("Exporting data")
			snapshot, err := export.NewExporter(e.db, e.cfg, e.logger).ExportData(cmd.Context(), scope)
			if err != nil {
				e.display.Failure(fmt.Sprintf("Export failed: %v", err))
				return err
			}

			tables := 0
			failures := 0
			for _, appTables := range snapshot.Apps {
				for _, te := range appTables {
					tables++
					if te.Error != "" {
						failures++
					}
				}
			}

			if failures > 0 {
				e.display.Warning(fmt.Sprintf("%d of %d tables failed to export", failures, tables))
			}
			e.display.Success(fmt.Sprintf("Export %s written", snapshot.Name))
			e.display.PrintSummary("Export", map[string]string{
				"Path":     snapshot.Path,
				"Checksum": snapshot.Checksum,
				"Tables":   fmt.Sprintf("%d", tables),
				"Failures": fmt.Sprintf("%d", failures),
			})
			return nil
		},
	}
}
