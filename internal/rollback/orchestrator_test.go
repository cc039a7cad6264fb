package rollback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/backup"
	"migration-guard/internal/config"
	"migration-guard/internal/export"
	"migration-guard/internal/logging"
	"migration-guard/internal/procrunner"
)

type fakeBackups struct {
	createErr  error
	restoreErr error
	created    []string
	restored   []string
}

func (f *fakeBackups) CreateBackup(ctx context.Context, name, backupType string) (*backup.Metadata, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, backupType)
	return &backup.Metadata{BackupName: "backup-clinic-test", BackupType: backupType}, nil
}

func (f *fakeBackups) RestoreBackup(ctx context.Context, nameOrPath string) error {
	f.restored = append(f.restored, nameOrPath)
	return f.restoreErr
}

type fakeExporter struct {
	err    error
	scopes []export.Scope
}

func (f *fakeExporter) ExportData(ctx context.Context, scope export.Scope) (*export.Snapshot, error) {
	f.scopes = append(f.scopes, scope)
	if f.err != nil {
		return nil, f.err
	}
	return &export.Snapshot{Path: "exports/export-test.json"}, nil
}

type fakeVerifier struct{ ok bool }

func (f *fakeVerifier) VerifyMigrationState(ctx context.Context) bool { return f.ok }

type fixedCounter struct{ rows int }

func (f *fixedCounter) CountRows(ctx context.Context, app string) (int, error) {
	return f.rows, nil
}

type recordedEvent struct {
	eventType string
	severity  string
}

type recordingNotifier struct{ events []recordedEvent }

func (r *recordingNotifier) Notify(ctx context.Context, eventType, message, severity string) {
	r.events = append(r.events, recordedEvent{eventType, severity})
}

func (r *recordingNotifier) types() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.eventType)
	}
	return out
}

func rollbackConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Database.Host = "localhost"
	cfg.Database.Username = "guard"
	cfg.Database.Password = "secret"
	cfg.Database.Database = "clinic"
	return cfg
}

func TestRollback_HappyPath(t *testing.T) {
	backups := &fakeBackups{}
	exporter := &fakeExporter{}
	runner := procrunner.NewMockRunner()
	notifier := &recordingNotifier{}

	o := NewOrchestrator(rollbackConfig(), backups, exporter, runner,
		&fakeVerifier{ok: true}, nil, notifier, logging.NewDefaultLogger())

	result, err := o.Rollback(context.Background(), "patients", "0003_add_allergies")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Recovered)

	assert.Equal(t, []string{backup.TypePreRollback}, backups.created)
	assert.Empty(t, backups.restored)
	require.Len(t, exporter.scopes, 1)
	assert.Equal(t, "patients", exporter.scopes[0].App)

	calls := runner.CallsFor("migrate-apply")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"rollback", "patients", "0003_add_allergies"}, calls[0].Args)

	assert.Equal(t, []string{"rollback_started", "rollback_completed"}, notifier.types())
}

func TestRollback_CommandFailureRestoresBackup(t *testing.T) {
	backups := &fakeBackups{}
	runner := procrunner.NewMockRunner()
	runner.Stub("migrate-apply", "rollback patients", nil, assert.AnError)
	notifier := &recordingNotifier{}

	o := NewOrchestrator(rollbackConfig(), backups, nil, runner,
		&fakeVerifier{ok: true}, nil, notifier, logging.NewDefaultLogger())

	result, err := o.Rollback(context.Background(), "patients", "0003_add_allergies")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Recovered, "failed rollback must restore the pre-rollback backup")
	assert.Equal(t, []string{"backup-clinic-test"}, backups.restored)
	assert.Contains(t, notifier.types(), "rollback_failed")
	assert.Contains(t, notifier.types(), "rollback_recovered")
}

func TestRollback_VerificationFailureRestoresBackup(t *testing.T) {
	backups := &fakeBackups{}
	runner := procrunner.NewMockRunner()

	o := NewOrchestrator(rollbackConfig(), backups, nil, runner,
		&fakeVerifier{ok: false}, nil, nil, logging.NewDefaultLogger())

	result, err := o.Rollback(context.Background(), "patients", "0003_add_allergies")
	require.Error(t, err)
	assert.True(t, result.Recovered)
	assert.Equal(t, []string{"backup-clinic-test"}, backups.restored)
}

func TestRollback_BackupFailureAbortsBeforeRollback(t *testing.T) {
	backups := &fakeBackups{createErr: assert.AnError}
	runner := procrunner.NewMockRunner()

	o := NewOrchestrator(rollbackConfig(), backups, nil, runner,
		&fakeVerifier{ok: true}, nil, nil, logging.NewDefaultLogger())

	_, err := o.Rollback(context.Background(), "patients", "0003_add_allergies")
	require.Error(t, err)
	assert.Empty(t, runner.CallsFor("migrate-apply"), "no rollback without a backup")
	assert.Empty(t, backups.restored)
}

func TestRollback_RestoreFailureIsFatal(t *testing.T) {
	backups := &fakeBackups{restoreErr: assert.AnError}
	runner := procrunner.NewMockRunner()
	notifier := &recordingNotifier{}

	o := NewOrchestrator(rollbackConfig(), backups, nil, runner,
		&fakeVerifier{ok: false}, nil, notifier, logging.NewDefaultLogger())

	result, err := o.Rollback(context.Background(), "patients", "0003_add_allergies")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual intervention required")
	assert.False(t, result.Recovered)
	assert.Contains(t, notifier.types(), "recovery_failed")
}

func TestRollback_ExportFailureIsAdvisory(t *testing.T) {
	backups := &fakeBackups{}
	exporter := &fakeExporter{err: assert.AnError}
	runner := procrunner.NewMockRunner()

	o := NewOrchestrator(rollbackConfig(), backups, exporter, runner,
		&fakeVerifier{ok: true}, nil, nil, logging.NewDefaultLogger())

	result, err := o.Rollback(context.Background(), "patients", "0003_add_allergies")
	require.NoError(t, err, "a failed export must not block a rollback")
	assert.True(t, result.Success)
}

func TestGradualRollback_RunsAllFourSteps(t *testing.T) {
	backups := &fakeBackups{}
	runner := procrunner.NewMockRunner()
	notifier := &recordingNotifier{}

	strategy := NewBatchStrategy(100, 0)
	strategy.Sleep = func(time.Duration) {}

	o := NewOrchestrator(rollbackConfig(), backups, nil, runner,
		&fakeVerifier{ok: true}, &fixedCounter{rows: 250}, notifier, logging.NewDefaultLogger())

	result, err := o.GradualRollback(context.Background(), "patients", "0003_add_allergies", strategy)
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, result.Steps, 4)
	assert.Equal(t, StepPreparation, result.Steps[0].Step)
	assert.Equal(t, StepDataRollback, result.Steps[1].Step)
	assert.Equal(t, 3, result.Steps[1].Batches)
	assert.Equal(t, StepSchemaRollback, result.Steps[2].Step)
	assert.Equal(t, StepVerification, result.Steps[3].Step)
	for _, s := range result.Steps {
		assert.True(t, s.Success, s.Step)
	}

	types := notifier.types()
	assert.Equal(t, "rollback_started", types[0])
	assert.Equal(t, "rollback_completed", types[len(types)-1])

	stepEvents := 0
	for _, e := range notifier.events {
		if e.eventType == "rollback_step_completed" {
			stepEvents++
		}
	}
	assert.Equal(t, 4, stepEvents)
}

func TestGradualRollback_BatchThrottling(t *testing.T) {
	backups := &fakeBackups{}
	runner := procrunner.NewMockRunner()

	var delays []time.Duration
	strategy := NewBatchStrategy(50, time.Second)
	strategy.Sleep = func(d time.Duration) { delays = append(delays, d) }

	o := NewOrchestrator(rollbackConfig(), backups, nil, runner,
		&fakeVerifier{ok: true}, &fixedCounter{rows: 1000}, nil, logging.NewDefaultLogger())

	result, err := o.GradualRollback(context.Background(), "patients", "0003_add_allergies", strategy)
	require.NoError(t, err)

	assert.Equal(t, 20, result.Steps[1].Batches, "1000 rows at batch size 50 is exactly 20 batches")
	assert.Len(t, delays, 19, "delay runs between consecutive batches")
	for _, d := range delays {
		assert.Equal(t, time.Second, d)
	}
}

func TestGradualRollback_DataRollbackSQLRunsPerBatch(t *testing.T) {
	cfg := rollbackConfig()
	cfg.Rollback.DataRollbackSQL = "CALL undo_batch(':app', ':migration')"

	backups := &fakeBackups{}
	runner := procrunner.NewMockRunner()
	strategy := NewBatchStrategy(10, 0)
	strategy.Sleep = func(time.Duration) {}

	o := NewOrchestrator(cfg, backups, nil, runner,
		&fakeVerifier{ok: true}, &fixedCounter{rows: 30}, nil, logging.NewDefaultLogger())

	_, err := o.GradualRollback(context.Background(), "patients", "0003_add_allergies", strategy)
	require.NoError(t, err)

	clientCalls := runner.CallsFor("mysql")
	require.Len(t, clientCalls, 3, "one client invocation per batch")
}

func TestGradualRollback_SchemaStepFailureRecovers(t *testing.T) {
	backups := &fakeBackups{}
	runner := procrunner.NewMockRunner()
	runner.Stub("migrate-apply", "rollback", nil, assert.AnError)
	strategy := NewBatchStrategy(50, 0)
	strategy.Sleep = func(time.Duration) {}

	o := NewOrchestrator(rollbackConfig(), backups, nil, runner,
		&fakeVerifier{ok: true}, &fixedCounter{rows: 100}, nil, logging.NewDefaultLogger())

	result, err := o.GradualRollback(context.Background(), "patients", "0003_add_allergies", strategy)
	require.Error(t, err)
	assert.True(t, result.Recovered)
	assert.Equal(t, []string{"backup-clinic-test"}, backups.restored)

	last := result.Steps[len(result.Steps)-1]
	assert.Equal(t, StepSchemaRollback, last.Step)
	assert.False(t, last.Success)
}

func TestBatchStrategy_ZeroRowsRunsNoBatches(t *testing.T) {
	strategy := NewBatchStrategy(50, time.Second)
	strategy.Sleep = func(time.Duration) { t.Fatal("no sleep expected") }

	batches, err := strategy.Run(context.Background(), 0, func(batch, offset, size int) error {
		t.Fatal("no batch expected")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, batches)
}

func TestBatchStrategy_LastBatchIsPartial(t *testing.T) {
	strategy := NewBatchStrategy(40, 0)
	strategy.Sleep = func(time.Duration) {}

	var sizes []int
	batches, err := strategy.Run(context.Background(), 100, func(batch, offset, size int) error {
		sizes = append(sizes, size)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, batches)
	assert.Equal(t, []int{40, 40, 20}, sizes)
}
