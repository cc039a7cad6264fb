package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"migration-guard/internal/errors"
	"migration-guard/internal/logging"
)

// MigrationRecord is one row of the applied-migration ledger, uniquely
// identified by (App, Name). AppliedAt is nil for records repaired to the
// unapplied state.
type MigrationRecord struct {
	App       string     `json:"app"`
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at"`
}

// ID returns the canonical "app.name" identifier for the record
func (r MigrationRecord) ID() string {
	return r.App + "." + r.Name
}

// LedgerStore reads and repairs the applied-migration ledger. The ledger is
// owned by the external migration tool; the only write this engine performs
// is the explicit mark-unapplied repair.
type LedgerStore struct {
	db           *sql.DB
	table        string
	queryTimeout time.Duration
	logger       *logging.Logger
}

// NewLedgerStore creates a ledger store over an open connection
func NewLedgerStore(db *sql.DB, table string, queryTimeout time.Duration, logger *logging.Logger) *LedgerStore {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if queryTimeout == 0 {
		queryTimeout = 10 * time.Second
	}
	return &LedgerStore{
		db:           db,
		table:        table,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// AppliedMigrations returns every ledger row, ordered by application time
func (ls *LedgerStore) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	queryCtx, cancel := context.WithTimeout(ctx, ls.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT app, name, applied_at FROM %s ORDER BY applied_at, app, name", ls.table)

	rows, err := ls.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, errors.WrapError(err, "failed to read migration ledger")
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var appliedAt sql.NullTime
		if err := rows.Scan(&rec.App, &rec.Name, &appliedAt); err != nil {
			return nil, errors.WrapError(err, "failed to scan ledger row")
		}
		if appliedAt.Valid {
			t := appliedAt.Time
			rec.AppliedAt = &t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, "failed to iterate migration ledger")
	}

	return records, nil
}

// AppliedMigrationsForApp returns ledger rows for a single application
func (ls *LedgerStore) AppliedMigrationsForApp(ctx context.Context, app string) ([]MigrationRecord, error) {
	all, err := ls.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	var filtered []MigrationRecord
	for _, rec := range all {
		if rec.App == app {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

// IsApplied reports whether (app, name) is present in the ledger
func (ls *LedgerStore) IsApplied(ctx context.Context, app, name string) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, ls.queryTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE app = ? AND name = ?", ls.table)

	var count int
	if err := ls.db.QueryRowContext(queryCtx, query, app, name).Scan(&count); err != nil {
		return false, errors.WrapError(err, "failed to query migration ledger")
	}
	return count > 0, nil
}

// MarkUnapplied removes (app, name) from the ledger. Used by conflict
// resolution when the filesystem is trusted over the ledger.
func (ls *LedgerStore) MarkUnapplied(ctx context.Context, app, name string) error {
	queryCtx, cancel := context.WithTimeout(ctx, ls.queryTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE app = ? AND name = ?", ls.table)

	result, err := ls.db.ExecContext(queryCtx, query, app, name)
	if err != nil {
		return errors.WrapError(err, fmt.Sprintf("failed to mark %s.%s unapplied", app, name))
	}

	affected, _ := result.RowsAffected()
	ls.logger.WithFields(map[string]interface{}{
		"app":           app,
		"migration":     name,
		"rows_affected": affected,
	}).Info("Marked migration unapplied in ledger")

	return nil
}

// TableRowCount returns the row count of an arbitrary table
func (ls *LedgerStore) TableRowCount(ctx context.Context, table string) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, ls.queryTimeout)
	defer cancel()

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := ls.db.QueryRowContext(queryCtx, query).Scan(&count); err != nil {
		return 0, errors.WrapError(err, fmt.Sprintf("failed to count rows in %s", table))
	}
	return count, nil
}

// TableExists reports whether a table exists in the connected schema
func (ls *LedgerStore) TableExists(ctx context.Context, table string) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, ls.queryTimeout)
	defer cancel()

	var count int
	query := "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	if err := ls.db.QueryRowContext(queryCtx, query, table).Scan(&count); err != nil {
		return false, errors.WrapError(err, "failed to query information_schema")
	}
	return count > 0, nil
}

// ListTables returns every base table in the connected schema
func (ls *LedgerStore) ListTables(ctx context.Context) ([]string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, ls.queryTimeout)
	defer cancel()

	query := "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name"
	rows, err := ls.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, errors.WrapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WrapError(err, "failed to scan table name")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DB exposes the underlying connection for components issuing their own queries
func (ls *LedgerStore) DB() *sql.DB {
	return ls.db
}

// Table returns the configured ledger table name
func (ls *LedgerStore) Table() string {
	return ls.table
}
