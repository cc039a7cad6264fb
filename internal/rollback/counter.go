package rollback

import (
	"context"

	"migration-guard/internal/config"
	"migration-guard/internal/database"
)

// TableRowCounter sums the live row counts of the tables an application
// owns. It backs the batched data rollback's progress arithmetic.
type TableRowCounter struct {
	ledger *database.LedgerStore
	cfg    *config.Config
}

// NewTableRowCounter creates a row counter over the configured app tables
func NewTableRowCounter(ledger *database.LedgerStore, cfg *config.Config) *TableRowCounter {
	return &TableRowCounter{ledger: ledger, cfg: cfg}
}

// CountRows returns the total row count across the app's tables. An app
// with no configured tables counts as zero rows, which skips the data
// rollback step entirely.
func (trc *TableRowCounter) CountRows(ctx context.Context, app string) (int, error) {
	total := int64(0)
	for _, table := range trc.cfg.TablesForApp(app) {
		count, err := trc.ledger.TableRowCount(ctx, table)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return int(total), nil
}
