package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"migration-guard/internal/config"
	"migration-guard/internal/export"
	"migration-guard/internal/logging"
)

// CheckResult is one line of an integrity report
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details,omitempty"`
}

// Report statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusUnknown = "unknown"
	StatusError   = "error"
)

// Report aggregates one verification run. It is rebuilt from scratch on
// every call and only persists as log output.
type Report struct {
	ChecksPassed  int           `json:"checks_passed"`
	ChecksFailed  int           `json:"checks_failed"`
	Details       []CheckResult `json:"details"`
	OverallStatus string        `json:"overall_status"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

func (r *Report) record(result CheckResult) {
	r.Details = append(r.Details, result)
	if result.Passed {
		r.ChecksPassed++
	} else {
		r.ChecksFailed++
	}
}

// Verifier runs the six-check integrity battery. Every checker is fenced:
// a panicking or erroring check becomes a failed check in the report, the
// battery itself never aborts.
type Verifier struct {
	db     *sql.DB
	cfg    *config.Config
	logger *logging.Logger
}

// NewVerifier creates an integrity verifier
func NewVerifier(db *sql.DB, cfg *config.Config, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Verifier{db: db, cfg: cfg, logger: logger}
}

type checker struct {
	name string
	run  func(ctx context.Context, report *Report)
}

// Verify runs the full battery. snapshot is optional; when nil the
// export-comparison check is skipped.
func (v *Verifier) Verify(ctx context.Context, snapshot *export.Snapshot) *Report {
	report := &Report{GeneratedAt: time.Now().UTC()}

	checkers := []checker{
		{"connectivity", v.checkConnectivity},
		{"critical_tables", v.checkCriticalTables},
		{"foreign_keys", v.CheckForeignKeys},
		{"consistency", v.checkConsistency},
		{"export_comparison", func(ctx context.Context, r *Report) {
			v.checkAgainstSnapshot(ctx, r, snapshot)
		}},
		{"business_rules", v.checkBusinessRules},
	}

	for _, c := range checkers {
		v.runFenced(ctx, c, report)
	}

	if report.ChecksFailed == 0 {
		report.OverallStatus = StatusPassed
	} else {
		report.OverallStatus = StatusFailed
	}

	for _, d := range report.Details {
		v.logger.LogIntegrityCheck(d.Name, d.Passed, d.Details)
	}
	return report
}

// runFenced executes one checker, converting panics into failed checks
func (v *Verifier) runFenced(ctx context.Context, c checker, report *Report) {
	defer func() {
		if r := recover(); r != nil {
			report.record(CheckResult{
				Name:    c.name,
				Passed:  false,
				Details: fmt.Sprintf("check crashed: %v", r),
			})
		}
	}()
	c.run(ctx, report)
}

func (v *Verifier) checkConnectivity(ctx context.Context, report *Report) {
	queryCtx, cancel := v.queryContext(ctx)
	defer cancel()

	if err := v.db.PingContext(queryCtx); err != nil {
		report.record(CheckResult{Name: "connectivity", Passed: false, Details: err.Error()})
		return
	}
	report.record(CheckResult{Name: "connectivity", Passed: true})
}

// checkCriticalTables flags any critical table that is empty or unreadable
func (v *Verifier) checkCriticalTables(ctx context.Context, report *Report) {
	if len(v.cfg.Integrity.CriticalTables) == 0 {
		report.record(CheckResult{Name: "critical_tables", Passed: true, Details: "no critical tables configured"})
		return
	}

	var problems []string
	for _, table := range v.cfg.Integrity.CriticalTables {
		count, err := v.tableCount(ctx, table)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", table, err))
			continue
		}
		if count == 0 {
			problems = append(problems, fmt.Sprintf("%s is empty", table))
		}
	}

	if len(problems) > 0 {
		report.record(CheckResult{Name: "critical_tables", Passed: false, Details: strings.Join(problems, "; ")})
		return
	}
	report.record(CheckResult{Name: "critical_tables", Passed: true})
}

// CheckForeignKeys scans each configured relationship for orphaned child
// rows. Exported separately because reconciliation re-runs it in isolation.
func (v *Verifier) CheckForeignKeys(ctx context.Context, report *Report) {
	if len(v.cfg.Integrity.ForeignKeys) == 0 {
		report.record(CheckResult{Name: "foreign_keys", Passed: true, Details: "no relationships configured"})
		return
	}

	var problems []string
	for _, rule := range v.cfg.Integrity.ForeignKeys {
		query := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON c.%s = p.%s WHERE c.%s IS NOT NULL AND p.%s IS NULL",
			rule.Table, rule.RefTable, rule.Column, rule.RefColumn, rule.Column, rule.RefColumn)

		orphans, err := v.countQuery(ctx, query)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s.%s: %v", rule.Table, rule.Column, err))
			continue
		}
		if orphans > 0 {
			problems = append(problems, fmt.Sprintf("%s.%s has %d orphaned row(s)", rule.Table, rule.Column, orphans))
		}
	}

	if len(problems) > 0 {
		report.record(CheckResult{Name: "foreign_keys", Passed: false, Details: strings.Join(problems, "; ")})
		return
	}
	report.record(CheckResult{Name: "foreign_keys", Passed: true})
}

// checkConsistency covers duplicate and invalid-timestamp scans
func (v *Verifier) checkConsistency(ctx context.Context, report *Report) {
	var problems []string

	for _, rule := range v.cfg.Integrity.Duplicates {
		cols := strings.Join(rule.Columns, ", ")
		query := fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) d",
			cols, rule.Table, cols)
		dupes, err := v.countQuery(ctx, query)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s duplicates: %v", rule.Table, err))
			continue
		}
		if dupes > 0 {
			problems = append(problems, fmt.Sprintf("%s has %d duplicated (%s) group(s)", rule.Table, dupes, cols))
		}
	}

	for _, rule := range v.cfg.Integrity.Timestamps {
		query := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE %s IS NULL OR %s > NOW()",
			rule.Table, rule.Column, rule.Column)
		invalid, err := v.countQuery(ctx, query)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s.%s timestamps: %v", rule.Table, rule.Column, err))
			continue
		}
		if invalid > 0 {
			problems = append(problems, fmt.Sprintf("%s.%s has %d invalid timestamp(s)", rule.Table, rule.Column, invalid))
		}
	}

	if len(problems) > 0 {
		report.record(CheckResult{Name: "consistency", Passed: false, Details: strings.Join(problems, "; ")})
		return
	}
	report.record(CheckResult{Name: "consistency", Passed: true})
}

// checkAgainstSnapshot compares live table counts with an export snapshot.
// A difference within max(10% of the exported count, 10 rows) is tolerated.
func (v *Verifier) checkAgainstSnapshot(ctx context.Context, report *Report, snapshot *export.Snapshot) {
	if snapshot == nil {
		report.record(CheckResult{Name: "export_comparison", Passed: true, Details: "no export snapshot provided; skipped"})
		return
	}

	var problems []string
	for app, tables := range snapshot.Apps {
		for table, te := range tables {
			if te.Error != "" {
				continue
			}
			live, err := v.tableCount(ctx, table)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s.%s: %v", app, table, err))
				continue
			}
			if SignificantDifference(te.Count, live) {
				problems = append(problems,
					fmt.Sprintf("%s.%s: exported %d row(s), live %d", app, table, te.Count, live))
			}
		}
	}

	if len(problems) > 0 {
		report.record(CheckResult{Name: "export_comparison", Passed: false, Details: strings.Join(problems, "; ")})
		return
	}
	report.record(CheckResult{Name: "export_comparison", Passed: true})
}

func (v *Verifier) checkBusinessRules(ctx context.Context, report *Report) {
	if len(v.cfg.Integrity.BusinessRules) == 0 {
		report.record(CheckResult{Name: "business_rules", Passed: true, Details: "no business rules configured"})
		return
	}

	var problems []string
	for _, rule := range v.cfg.Integrity.BusinessRules {
		violations, err := v.countQuery(ctx, rule.Query)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", rule.Name, err))
			continue
		}
		if violations > 0 {
			problems = append(problems, fmt.Sprintf("%s: %d violation(s)", rule.Name, violations))
		}
	}

	if len(problems) > 0 {
		report.record(CheckResult{Name: "business_rules", Passed: false, Details: strings.Join(problems, "; ")})
		return
	}
	report.record(CheckResult{Name: "business_rules", Passed: true})
}

// SignificantDifference reports whether a live count deviates from the
// exported count beyond the tolerance max(10% of exported, 10 rows)
func SignificantDifference(exported, live int) bool {
	diff := exported - live
	if diff < 0 {
		diff = -diff
	}
	tolerance := exported / 10
	if tolerance < 10 {
		tolerance = 10
	}
	return diff > tolerance
}

func (v *Verifier) tableCount(ctx context.Context, table string) (int, error) {
	return v.countQuery(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
}

func (v *Verifier) countQuery(ctx context.Context, query string) (int, error) {
	queryCtx, cancel := v.queryContext(ctx)
	defer cancel()

	var count int
	if err := v.db.QueryRowContext(queryCtx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (v *Verifier) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, v.cfg.Tools.QueryTimeout)
}
