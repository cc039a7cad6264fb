package conflict

import (
	"context"
	"fmt"
	"time"

	"migration-guard/internal/database"
	"migration-guard/internal/logging"
	"migration-guard/internal/procrunner"
	"migration-guard/internal/state"
)

// Resolver applies the deterministic resolution policy: filesystem is ground
// truth for missing files, the external migration tool applies unapplied
// files, dependency gaps are filled recursively, and cycles are never
// auto-resolved; they produce a remediation report instead.
type Resolver struct {
	ledger         *database.LedgerStore
	runner         procrunner.ProcessRunner
	migrateCommand string
	applyTimeout   time.Duration
	reportWriter   *ReportWriter
	logger         *logging.Logger
}

// NewResolver creates a conflict resolver
func NewResolver(
	ledger *database.LedgerStore,
	runner procrunner.ProcessRunner,
	migrateCommand string,
	reportsDir string,
	logger *logging.Logger,
) *Resolver {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Resolver{
		ledger:         ledger,
		runner:         runner,
		migrateCommand: migrateCommand,
		applyTimeout:   300 * time.Second,
		reportWriter:   NewReportWriter(reportsDir),
		logger:         logger,
	}
}

// ResolveAll detects and resolves conflicts for the given migration state.
// Every conflict reaches a terminal state; the engine never aborts midway
// through the list.
func (r *Resolver) ResolveAll(ctx context.Context, ms *state.MigrationState, app string) *Result {
	detector := NewDetector()
	conflicts := detector.Detect(ms, app)

	result := &Result{ConflictsFound: conflicts}

	for _, c := range conflicts {
		resolution := r.resolve(ctx, ms, c)
		if resolution.Resolved {
			result.ConflictsResolved = append(result.ConflictsResolved, resolution)
		} else {
			result.ConflictsFailed = append(result.ConflictsFailed, resolution)
		}
	}

	result.OverallStatus = computeStatus(
		len(result.ConflictsFound),
		len(result.ConflictsResolved),
		len(result.ConflictsFailed),
	)
	return result
}

// resolve applies the policy for one conflict
func (r *Resolver) resolve(ctx context.Context, ms *state.MigrationState, c Conflict) Resolution {
	res := Resolution{Conflict: c}

	switch c.Type {
	case TypeMissingFile:
		// The filesystem is ground truth: repair the ledger.
		if err := r.ledger.MarkUnapplied(ctx, c.App, c.Migration); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Resolved = true
		res.Action = "marked unapplied in ledger"

	case TypeUnappliedFile:
		if err := r.applyMigration(ctx, c.App, c.Migration); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Resolved = true
		res.Action = "applied via migration tool"

	case TypeDependencyConflict:
		if err := r.applyWithDependencies(ctx, ms, c.Dependency, make(map[string]bool)); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Resolved = true
		res.Action = fmt.Sprintf("applied missing dependency %s", c.Dependency)

	case TypeCircularDependency:
		// Deliberate escape hatch: a human-actionable report counts as the
		// terminal state, the cycle itself is untouched.
		path, err := r.reportWriter.WriteCircularDependencyReport(c)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Resolved = true
		res.Action = "remediation report written; manual action required"
		res.ReportPath = path

	default:
		res.Error = fmt.Sprintf("unknown conflict type %q", c.Type)
	}

	if res.Resolved {
		r.logger.WithFields(map[string]interface{}{
			"conflict": string(c.Type),
			"app":      c.App,
			"action":   res.Action,
		}).Info("Conflict resolved")
	}
	return res
}

// applyWithDependencies applies id after recursively applying any of its
// declared dependencies that are missing from the ledger
func (r *Resolver) applyWithDependencies(ctx context.Context, ms *state.MigrationState, id string, visiting map[string]bool) error {
	if visiting[id] {
		return fmt.Errorf("dependency cycle reached while applying %s", id)
	}
	visiting[id] = true
	defer delete(visiting, id)

	applied := ms.AppliedSet()
	if _, ok := applied[id]; ok {
		return nil
	}

	if file, ok := ms.Files[id]; ok {
		for _, dep := range file.Dependencies {
			if _, depApplied := applied[dep]; !depApplied {
				if err := r.applyWithDependencies(ctx, ms, dep, visiting); err != nil {
					return err
				}
			}
		}
	}

	app, name := splitID(id)
	return r.applyMigration(ctx, app, name)
}

// applyMigration invokes the external migration tool for one migration
func (r *Resolver) applyMigration(ctx context.Context, app, name string) error {
	_, err := r.runner.Run(ctx, procrunner.CommandSpec{
		Command: r.migrateCommand,
		Args:    []string{app, name},
		Timeout: r.applyTimeout,
	})
	return err
}
