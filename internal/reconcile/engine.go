package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
	"migration-guard/internal/export"
	"migration-guard/internal/integrity"
	"migration-guard/internal/logging"
	"migration-guard/internal/procrunner"
)

// Issue categories.
const (
	IssueMissingTable  = "missing_table"
	IssueCountMismatch = "count_mismatch"
	IssueOrphanedRows  = "orphaned_rows"
	IssueIntegrity     = "integrity_failure"
)

// Issue statuses.
const (
	StatusResolved           = "resolved"
	StatusFailed             = "failed"
	StatusNeedsInvestigation = "needs_investigation"
)

// Overall reconciliation outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomePartial     = "partial"
	OutcomeIssuesFound = "issues_found"
)

// Issue is one discrepancy discovered during reconciliation
type Issue struct {
	Category    string `json:"category"`
	Table       string `json:"table"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Result aggregates a reconciliation run
type Result struct {
	IssuesFound    []Issue           `json:"issues_found"`
	IssuesResolved []Issue           `json:"issues_resolved"`
	IssuesFailed   []Issue           `json:"issues_failed"`
	OverallStatus  string            `json:"overall_status"`
	FinalIntegrity *integrity.Report `json:"final_integrity,omitempty"`
}

func (r *Result) record(issue Issue) {
	r.IssuesFound = append(r.IssuesFound, issue)
	switch issue.Status {
	case StatusResolved:
		r.IssuesResolved = append(r.IssuesResolved, issue)
	case StatusFailed:
		r.IssuesFailed = append(r.IssuesFailed, issue)
	}
}

// Engine drives post-rollback reconciliation: it validates the backup that
// was restored, diffs the live database against a disposable restore of
// that backup, re-checks referential integrity, optionally restores missing
// rows from an export snapshot, and finishes with a full integrity pass.
type Engine struct {
	db       *sql.DB
	cfg      *config.Config
	runner   procrunner.ProcessRunner
	restorer ComparisonRestorer
	validate func(path string) error
	verifier *integrity.Verifier
	logger   *logging.Logger
}

// ComparisonRestorer restores a backup artifact into a named database.
// *backup.Manager's RestoreInto satisfies it.
type ComparisonRestorer interface {
	RestoreInto(ctx context.Context, nameOrPath, database string) error
}

// NewEngine wires a reconciliation engine. validate receives the backup
// path and returns an error when the artifact is unusable.
func NewEngine(db *sql.DB, cfg *config.Config, runner procrunner.ProcessRunner, restorer ComparisonRestorer, validate func(path string) error, verifier *integrity.Verifier, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Engine{
		db:       db,
		cfg:      cfg,
		runner:   runner,
		restorer: restorer,
		validate: validate,
		verifier: verifier,
		logger:   logger,
	}
}

// Reconcile runs the six-phase flow against a backup artifact, optionally
// consulting an export snapshot for row-level restoration.
func (e *Engine) Reconcile(ctx context.Context, backupPath string, snapshot *export.Snapshot) (*Result, error) {
	result := &Result{}

	// Phase 1: the backup must be usable before anything is compared
	// against it.
	if e.validate != nil {
		if err := e.validate(backupPath); err != nil {
			return nil, errors.NewReconciliationIssue("backup validation failed; reconciliation aborted", err)
		}
	}

	// Phase 2: restore into a disposable comparison database and diff
	// table presence and counts.
	comparisonDB := e.cfg.Database.Database + "_reconcile"
	diffs, err := e.compareAgainstBackup(ctx, backupPath, comparisonDB)
	if err != nil {
		return nil, err
	}
	defer e.dropComparisonDB(context.WithoutCancel(ctx), comparisonDB)

	// Phase 3: attempt resolution. Missing tables and count mismatches are
	// never silently fixed; fabricating schema or rows is unsafe, so they
	// escalate to manual investigation.
	for _, diff := range diffs {
		diff.Status = StatusNeedsInvestigation
		diff.Description += "; manual investigation required"
		result.record(diff)
		e.logger.Warnf("Reconciliation: %s %s: %s", diff.Category, diff.Table, diff.Description)
	}

	// Phase 4: referential integrity re-check.
	fkReport := &integrity.Report{GeneratedAt: time.Now().UTC()}
	e.verifier.CheckForeignKeys(ctx, fkReport)
	for _, check := range fkReport.Details {
		if !check.Passed {
			result.record(Issue{
				Category:    IssueOrphanedRows,
				Description: check.Details,
				Status:      StatusNeedsInvestigation,
			})
		}
	}

	// Phase 5: restore rows from the export snapshot for tables the diff
	// showed as emptied. Only fully emptied tables are replayed; partial
	// repair would guess at which rows are missing.
	if snapshot != nil {
		e.restoreFromSnapshot(ctx, result, snapshot)
	}

	// Phase 6: final integrity pass.
	result.FinalIntegrity = e.verifier.Verify(ctx, snapshot)
	if result.FinalIntegrity.OverallStatus != integrity.StatusPassed {
		result.record(Issue{
			Category:    IssueIntegrity,
			Description: "final integrity verification failed",
			Status:      StatusFailed,
		})
	}

	result.OverallStatus = overallStatus(result)
	return result, nil
}

// compareAgainstBackup restores the artifact into comparisonDB and returns
// the table-level differences between it and the live database
func (e *Engine) compareAgainstBackup(ctx context.Context, backupPath, comparisonDB string) ([]Issue, error) {
	if err := e.restorer.RestoreInto(ctx, backupPath, comparisonDB); err != nil {
		return nil, errors.NewReconciliationIssue("failed to restore backup into comparison database", err)
	}

	backupTables, err := e.listTables(ctx, comparisonDB)
	if err != nil {
		return nil, errors.NewReconciliationIssue("failed to list comparison database tables", err)
	}
	liveTables, err := e.listTables(ctx, e.cfg.Database.Database)
	if err != nil {
		return nil, errors.NewReconciliationIssue("failed to list live database tables", err)
	}

	liveSet := make(map[string]bool, len(liveTables))
	for _, t := range liveTables {
		liveSet[t] = true
	}

	var diffs []Issue
	for _, table := range backupTables {
		if !liveSet[table] {
			diffs = append(diffs, Issue{
				Category:    IssueMissingTable,
				Table:       table,
				Description: fmt.Sprintf("table %s exists in the backup but not in the live database", table),
			})
			continue
		}

		backupCount, err := e.qualifiedCount(ctx, comparisonDB, table)
		if err != nil {
			return nil, errors.NewReconciliationIssue("failed to count backup rows of "+table, err)
		}
		liveCount, err := e.qualifiedCount(ctx, e.cfg.Database.Database, table)
		if err != nil {
			return nil, errors.NewReconciliationIssue("failed to count live rows of "+table, err)
		}

		if backupCount != liveCount {
			diffs = append(diffs, Issue{
				Category: IssueCountMismatch,
				Table:    table,
				Description: fmt.Sprintf("table %s has %d row(s) in the backup but %d live",
					table, backupCount, liveCount),
			})
		}
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Table < diffs[j].Table })
	return diffs, nil
}

// restoreFromSnapshot replays exported rows into tables that are live but
// completely empty while the snapshot holds data for them
func (e *Engine) restoreFromSnapshot(ctx context.Context, result *Result, snapshot *export.Snapshot) {
	for app, tables := range snapshot.Apps {
		for table, te := range tables {
			if te.Error != "" || te.Count == 0 {
				continue
			}

			liveCount, err := e.qualifiedCount(ctx, e.cfg.Database.Database, table)
			if err != nil || liveCount > 0 {
				continue
			}

			issue := Issue{
				Category: IssueCountMismatch,
				Table:    table,
				Description: fmt.Sprintf("table %s emptied; restoring %d row(s) from export snapshot of app %s",
					table, te.Count, app),
			}
			if err := e.replayRows(ctx, table, te.Data); err != nil {
				issue.Status = StatusFailed
				issue.Description += fmt.Sprintf("; restore failed: %v", err)
			} else {
				issue.Status = StatusResolved
			}
			result.record(issue)
		}
	}
}

// replayRows rebuilds INSERT statements from snapshot rows and pipes them
// through the database client tool
func (e *Engine) replayRows(ctx context.Context, table string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	var script strings.Builder
	script.WriteString("SET FOREIGN_KEY_CHECKS=0;\n")
	for _, row := range rows {
		columns := make([]string, 0, len(row))
		for col := range row {
			columns = append(columns, col)
		}
		sort.Strings(columns)

		values := make([]string, 0, len(columns))
		for _, col := range columns {
			values = append(values, sqlLiteral(row[col]))
		}
		script.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);\n",
			table, strings.Join(columns, ", "), strings.Join(values, ", ")))
	}
	script.WriteString("SET FOREIGN_KEY_CHECKS=1;\n")

	dc := e.cfg.Database
	_, err := e.runner.Run(ctx, procrunner.CommandSpec{
		Command: e.cfg.Tools.ClientCommand,
		Args: []string{
			"--host", dc.Host,
			"--port", fmt.Sprintf("%d", dc.Port),
			"--user", dc.Username,
			dc.Database,
		},
		Env:     []string{"MYSQL_PWD=" + dc.Password},
		Stdin:   strings.NewReader(script.String()),
		Timeout: e.cfg.Tools.RestoreTimeout,
	})
	return err
}

// dropComparisonDB removes the disposable database; failures are warnings
func (e *Engine) dropComparisonDB(ctx context.Context, name string) {
	dc := e.cfg.Database
	_, err := e.runner.Run(ctx, procrunner.CommandSpec{
		Command: e.cfg.Tools.ClientCommand,
		Args: []string{
			"--host", dc.Host,
			"--port", fmt.Sprintf("%d", dc.Port),
			"--user", dc.Username,
		},
		Env:     []string{"MYSQL_PWD=" + dc.Password},
		Stdin:   strings.NewReader(fmt.Sprintf("DROP DATABASE IF EXISTS `%s`;", name)),
		Timeout: e.cfg.Tools.QueryTimeout,
	})
	if err != nil {
		e.logger.Warnf("Failed to drop comparison database %s: %v", name, err)
	}
}

func (e *Engine) listTables(ctx context.Context, database string) ([]string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.Tools.QueryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name", database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (e *Engine) qualifiedCount(ctx context.Context, database, table string) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.Tools.QueryTimeout)
	defer cancel()

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`.`%s`", database, table)
	if err := e.db.QueryRowContext(queryCtx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// sqlLiteral renders one exported value as a SQL literal
func sqlLiteral(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case float64, int, int64:
		return fmt.Sprintf("%v", val)
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

// overallStatus derives the aggregate outcome: success only when nothing
// was found, partial when resolution was mixed, issues_found otherwise
func overallStatus(r *Result) string {
	if len(r.IssuesFound) == 0 {
		return OutcomeSuccess
	}
	if len(r.IssuesResolved) > 0 && len(r.IssuesResolved) < len(r.IssuesFound) {
		return OutcomePartial
	}
	return OutcomeIssuesFound
}
