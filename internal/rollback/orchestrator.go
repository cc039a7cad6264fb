package rollback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"migration-guard/internal/backup"
	"migration-guard/internal/config"
	"migration-guard/internal/errors"
	"migration-guard/internal/export"
	"migration-guard/internal/logging"
	"migration-guard/internal/procrunner"
)

// Gradual rollback step types.
const (
	StepPreparation    = "preparation"
	StepDataRollback   = "data_rollback"
	StepSchemaRollback = "schema_rollback"
	StepVerification   = "verification"
)

// StepResult records one gradual-rollback step
type StepResult struct {
	Step        string `json:"step"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Success     bool   `json:"success"`
	Batches     int    `json:"batches,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Result summarizes one rollback run
type Result struct {
	Success    bool         `json:"success"`
	Recovered  bool         `json:"recovered"`
	BackupName string       `json:"backup_name,omitempty"`
	Steps      []StepResult `json:"steps,omitempty"`
}

// Notifier receives rollback lifecycle events. A nil Notifier disables
// notifications.
type Notifier interface {
	Notify(ctx context.Context, eventType, message, severity string)
}

// Exporter is the slice of the data exporter the orchestrator needs
type Exporter interface {
	ExportData(ctx context.Context, scope export.Scope) (*export.Snapshot, error)
}

// BackupService is the slice of the backup manager the orchestrator needs
type BackupService interface {
	CreateBackup(ctx context.Context, name, backupType string) (*backup.Metadata, error)
	RestoreBackup(ctx context.Context, nameOrPath string) error
}

// Verifier answers whether the migration state is sound after a rollback
type Verifier interface {
	VerifyMigrationState(ctx context.Context) bool
}

// Orchestrator executes single and gradual rollbacks with the try, verify,
// auto-heal pattern: every run starts by creating a backup, and any failure
// after that point restores it before the failure is reported.
type Orchestrator struct {
	cfg      *config.Config
	backups  BackupService
	exporter Exporter
	runner   procrunner.ProcessRunner
	verifier Verifier
	counter  RowCounter
	notifier Notifier
	logger   *logging.Logger
}

// NewOrchestrator wires a rollback orchestrator. exporter, counter and
// notifier may be nil; verification is skipped only when verifier is nil.
func NewOrchestrator(cfg *config.Config, backups BackupService, exporter Exporter, runner procrunner.ProcessRunner, verifier Verifier, counter RowCounter, notifier Notifier, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Orchestrator{
		cfg:      cfg,
		backups:  backups,
		exporter: exporter,
		runner:   runner,
		verifier: verifier,
		counter:  counter,
		notifier: notifier,
		logger:   logger,
	}
}

// Rollback rolls back a single migration. The backup is mandatory: if it
// cannot be created nothing else runs. The export is advisory and its
// failure only logs a warning.
func (o *Orchestrator) Rollback(ctx context.Context, app, migration string) (*Result, error) {
	oc, err := o.prepare(ctx, app, migration)
	if err != nil {
		return &Result{}, err
	}
	result := &Result{BackupName: oc.BackupName}

	o.notify(ctx, "rollback_started",
		fmt.Sprintf("Rollback of %s started (backup %s)", oc.MigrationID(), oc.BackupName), "info")

	if err := o.runRollbackCommand(ctx, app, migration); err != nil {
		return o.recover(ctx, oc, result, errors.NewRollbackFailed(
			fmt.Sprintf("rollback command failed for %s", oc.MigrationID()), err))
	}

	if o.verifier != nil && !o.verifier.VerifyMigrationState(ctx) {
		return o.recover(ctx, oc, result, errors.NewVerificationFailed(
			fmt.Sprintf("migration state verification failed after rolling back %s", oc.MigrationID()), nil))
	}

	result.Success = true
	o.logger.LogRollbackStep(app, migration, "rollback", true, nil)
	o.notify(ctx, "rollback_completed",
		fmt.Sprintf("Rollback of %s completed", oc.MigrationID()), "info")
	return result, nil
}

// GradualRollback runs the four-step zero-downtime state machine. Each step
// is executed and verified before the next starts; any failure triggers the
// same backup-restore recovery as the single-rollback path.
func (o *Orchestrator) GradualRollback(ctx context.Context, app, migration string, strategy *BatchStrategy) (*Result, error) {
	if strategy == nil {
		strategy = NewBatchStrategy(o.cfg.Rollback.BatchSize,
			time.Duration(o.cfg.Rollback.DelaySeconds)*time.Second)
	}

	oc, err := o.prepare(ctx, app, migration)
	if err != nil {
		return &Result{Steps: []StepResult{{
			Step: StepPreparation, Type: StepPreparation,
			Description: "create backup and export data", Error: err.Error(),
		}}}, err
	}

	result := &Result{
		BackupName: oc.BackupName,
		Steps: []StepResult{{
			Step: StepPreparation, Type: StepPreparation,
			Description: "create backup and export data", Success: true,
		}},
	}
	o.notify(ctx, "rollback_started",
		fmt.Sprintf("Gradual rollback of %s started (backup %s)", oc.MigrationID(), oc.BackupName), "info")
	o.notifyStep(ctx, oc, StepPreparation)

	batches, err := o.dataRollback(ctx, oc, strategy)
	step := StepResult{
		Step: StepDataRollback, Type: StepDataRollback,
		Description: fmt.Sprintf("batched data rollback (%d rows per batch)", strategy.BatchSize),
		Batches:     batches,
	}
	if err != nil {
		step.Error = err.Error()
		result.Steps = append(result.Steps, step)
		return o.recover(ctx, oc, result, err)
	}
	step.Success = true
	result.Steps = append(result.Steps, step)
	o.notifyStep(ctx, oc, StepDataRollback)

	if err := o.runRollbackCommand(ctx, app, migration); err != nil {
		wrapped := errors.NewRollbackFailed(
			fmt.Sprintf("schema rollback failed for %s", oc.MigrationID()), err)
		result.Steps = append(result.Steps, StepResult{
			Step: StepSchemaRollback, Type: StepSchemaRollback,
			Description: "run migration tool rollback", Error: wrapped.Error(),
		})
		return o.recover(ctx, oc, result, wrapped)
	}
	result.Steps = append(result.Steps, StepResult{
		Step: StepSchemaRollback, Type: StepSchemaRollback,
		Description: "run migration tool rollback", Success: true,
	})
	o.notifyStep(ctx, oc, StepSchemaRollback)

	if o.verifier != nil && !o.verifier.VerifyMigrationState(ctx) {
		wrapped := errors.NewVerificationFailed(
			fmt.Sprintf("migration state verification failed after rolling back %s", oc.MigrationID()), nil)
		result.Steps = append(result.Steps, StepResult{
			Step: StepVerification, Type: StepVerification,
			Description: "verify migration state", Error: wrapped.Error(),
		})
		return o.recover(ctx, oc, result, wrapped)
	}
	result.Steps = append(result.Steps, StepResult{
		Step: StepVerification, Type: StepVerification,
		Description: "verify migration state", Success: true,
	})
	o.notifyStep(ctx, oc, StepVerification)

	result.Success = true
	o.notify(ctx, "rollback_completed",
		fmt.Sprintf("Gradual rollback of %s completed in %d batch(es)", oc.MigrationID(), batches), "info")
	return result, nil
}

// prepare creates the mandatory backup and the advisory export, returning
// the immutable operation context
func (o *Orchestrator) prepare(ctx context.Context, app, migration string) (*OperationContext, error) {
	meta, err := o.backups.CreateBackup(ctx, "", backup.TypePreRollback)
	if err != nil {
		return nil, errors.NewRollbackFailed("pre-rollback backup failed; rollback aborted", err)
	}

	exportPath := ""
	if o.exporter != nil {
		snapshot, expErr := o.exporter.ExportData(ctx, export.Scope{App: app})
		if expErr != nil {
			o.logger.Warnf("Pre-rollback export failed, continuing without snapshot: %v", expErr)
		} else {
			exportPath = snapshot.Path
		}
	}

	return NewOperationContext(app, migration, meta.BackupName, exportPath), nil
}

// dataRollback walks the app's rows in batches. When data_rollback_sql is
// configured it runs once per batch with :app and :migration substituted;
// otherwise the batches only pace the rollback.
func (o *Orchestrator) dataRollback(ctx context.Context, oc *OperationContext, strategy *BatchStrategy) (int, error) {
	totalRows := 0
	if o.counter != nil {
		var err error
		totalRows, err = o.counter.CountRows(ctx, oc.App)
		if err != nil {
			return 0, errors.NewRollbackFailed("failed to count rows for batched rollback", err)
		}
	}

	statement := o.cfg.Rollback.DataRollbackSQL
	if statement != "" {
		statement = strings.ReplaceAll(statement, ":app", oc.App)
		statement = strings.ReplaceAll(statement, ":migration", oc.Migration)
	}

	return strategy.Run(ctx, totalRows, func(batch, offset, size int) error {
		o.logger.Debugf("Data rollback batch %d: rows %d..%d", batch, offset, offset+size)
		if statement == "" {
			return nil
		}
		return o.runClientSQL(ctx, statement)
	})
}

// recover restores the pre-rollback backup. A restore failure is fatal and
// requires manual intervention; it is never retried.
func (o *Orchestrator) recover(ctx context.Context, oc *OperationContext, result *Result, cause error) (*Result, error) {
	o.logger.LogRollbackStep(oc.App, oc.Migration, "rollback", false, cause)
	o.notify(ctx, "rollback_failed",
		fmt.Sprintf("Rollback of %s failed: %v", oc.MigrationID(), cause), "error")

	if err := o.backups.RestoreBackup(ctx, oc.BackupName); err != nil {
		o.notify(ctx, "recovery_failed",
			fmt.Sprintf("Restore of backup %s failed; manual intervention required", oc.BackupName), "critical")
		return result, errors.NewRollbackFailed(
			fmt.Sprintf("rollback of %s failed and restoring backup %s also failed; manual intervention required",
				oc.MigrationID(), oc.BackupName), err)
	}

	result.Recovered = true
	o.notify(ctx, "rollback_recovered",
		fmt.Sprintf("Database restored from backup %s after failed rollback of %s", oc.BackupName, oc.MigrationID()), "warning")
	return result, cause
}

// runRollbackCommand invokes the external migration tool's rollback mode
func (o *Orchestrator) runRollbackCommand(ctx context.Context, app, migration string) error {
	_, err := o.runner.Run(ctx, procrunner.CommandSpec{
		Command: o.cfg.Tools.MigrateCommand,
		Args:    []string{"rollback", app, migration},
		Timeout: o.cfg.Tools.RestoreTimeout,
	})
	return err
}

// runClientSQL pipes one statement to the database client tool
func (o *Orchestrator) runClientSQL(ctx context.Context, sqlText string) error {
	dc := o.cfg.Database
	_, err := o.runner.Run(ctx, procrunner.CommandSpec{
		Command: o.cfg.Tools.ClientCommand,
		Args: []string{
			"--host", dc.Host,
			"--port", fmt.Sprintf("%d", dc.Port),
			"--user", dc.Username,
			dc.Database,
		},
		Env:     []string{"MYSQL_PWD=" + dc.Password},
		Stdin:   strings.NewReader(sqlText),
		Timeout: o.cfg.Tools.QueryTimeout,
	})
	return err
}

func (o *Orchestrator) notify(ctx context.Context, eventType, message, severity string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, eventType, message, severity)
}

func (o *Orchestrator) notifyStep(ctx context.Context, oc *OperationContext, step string) {
	o.notify(ctx, "rollback_step_completed",
		fmt.Sprintf("Gradual rollback of %s: step %s completed", oc.MigrationID(), step), "info")
}
