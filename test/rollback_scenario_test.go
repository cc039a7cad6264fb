package test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/backup"
	"migration-guard/internal/config"
	"migration-guard/internal/logging"
	"migration-guard/internal/procrunner"
	"migration-guard/internal/rollback"
	"migration-guard/internal/state"
)

const dumpSQL = `-- MySQL dump 10.13  Distrib 8.0.36
--
-- Host: localhost    Database: clinic
CREATE TABLE patients (id INT PRIMARY KEY, name VARCHAR(255));
INSERT INTO patients VALUES (1, 'first');
`

type stubProber struct {
	verifyOK bool
}

func (s *stubProber) Snapshot(ctx context.Context) (*state.Snapshot, error) {
	return &state.Snapshot{
		CapturedAt:   time.Now().UTC(),
		AppliedCount: 3,
		LatestPerApp: map[string]string{"clinic": "20240101_add_visits"},
	}, nil
}

func (s *stubProber) VerifyMigrationState(ctx context.Context) bool { return s.verifyOK }

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

func scenarioConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Username: "root",
			Password: "secret",
			Database: "clinic",
		},
		Paths: config.PathsConfig{
			BackupDir:     t.TempDir(),
			ExportDir:     t.TempDir(),
			ReportsDir:    t.TempDir(),
			MigrationsDir: t.TempDir(),
		},
	}
	cfg.SetDefaults()
	return cfg
}

// A failed rollback command must leave the database exactly as the backup
// captured it: the artifact created in the preparation step is validated and
// restored before the failure is reported.
func TestRollbackFailureRestoresFromFreshBackup(t *testing.T) {
	cfg := scenarioConfig(t)
	logger := logging.NewDefaultLogger()
	runner := procrunner.NewMockRunner()
	prober := &stubProber{verifyOK: true}
	notifier := &recordingNotifier{}

	runner.Stub("mysqldump", "", &procrunner.Result{Stdout: dumpSQL}, nil)
	runner.Stub("migrate-apply", "rollback", &procrunner.Result{ExitCode: 1}, errors.New("rollback tool failed"))

	manager := backup.NewManager(cfg, runner, prober, nil, logger)
	orch := rollback.NewOrchestrator(cfg, manager, nil, runner, prober, nil, notifier, logger)

	result, err := orch.Rollback(context.Background(), "clinic", "20240101_add_visits")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Recovered)
	require.NotEmpty(t, result.BackupName)

	// The preparation backup exists on disk with its sidecars.
	meta, err := backup.FindMetadata(cfg.Paths.BackupDir, result.BackupName)
	require.NoError(t, err)
	artifact := meta.ArtifactPath(cfg.Paths.BackupDir)
	validation, err := manager.ValidateBackup(artifact)
	require.NoError(t, err)
	assert.Equal(t, "mysqldump", validation.Format)

	checksumPath := filepath.Join(cfg.Paths.BackupDir, meta.BackupName+".checksum")
	assert.FileExists(t, checksumPath)

	// Restore ran: drop/recreate without a database argument, then the dump
	// piped into the client against the recreated database.
	clientCalls := runner.CallsFor("mysql")
	require.GreaterOrEqual(t, len(clientCalls), 2)

	assert.Equal(t, []string{"rollback_started", "rollback_failed", "rollback_recovered"}, notifier.types())
}

// A successful rollback verifies the migration state and never touches the
// restore path.
func TestRollbackSuccessLeavesBackupUntouched(t *testing.T) {
	cfg := scenarioConfig(t)
	logger := logging.NewDefaultLogger()
	runner := procrunner.NewMockRunner()
	prober := &stubProber{verifyOK: true}
	notifier := &recordingNotifier{}

	runner.Stub("mysqldump", "", &procrunner.Result{Stdout: dumpSQL}, nil)

	manager := backup.NewManager(cfg, runner, prober, nil, logger)
	orch := rollback.NewOrchestrator(cfg, manager, nil, runner, prober, nil, notifier, logger)

	result, err := orch.Rollback(context.Background(), "clinic", "20240101_add_visits")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Recovered)

	// No restore means no client invocations at all.
	assert.Empty(t, runner.CallsFor("mysql"))

	// The safety-net backup still exists for later use.
	metas, err := manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, backup.TypePreRollback, metas[0].BackupType)

	assert.Equal(t, []string{"rollback_started", "rollback_completed"}, notifier.types())
}

// A verification failure after the rollback command succeeds counts as a
// failure and triggers the same restore path.
func TestRollbackVerificationFailureTriggersRestore(t *testing.T) {
	cfg := scenarioConfig(t)
	logger := logging.NewDefaultLogger()
	runner := procrunner.NewMockRunner()
	notifier := &recordingNotifier{}

	// Verification fails after the rollback, then the restore path calls
	// VerifyMigrationState again on the restored database. The prober flips
	// to healthy once the restore client calls have happened.
	prober := &flippingProber{failuresLeft: 1}

	runner.Stub("mysqldump", "", &procrunner.Result{Stdout: dumpSQL}, nil)

	manager := backup.NewManager(cfg, runner, prober, nil, logger)
	orch := rollback.NewOrchestrator(cfg, manager, nil, runner, prober, nil, notifier, logger)

	result, err := orch.Rollback(context.Background(), "clinic", "20240101_add_visits")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Recovered)
	assert.Contains(t, notifier.types(), "rollback_recovered")
}

type flippingProber struct {
	failuresLeft int
}

func (f *flippingProber) Snapshot(ctx context.Context) (*state.Snapshot, error) {
	return &state.Snapshot{CapturedAt: time.Now().UTC()}, nil
}

func (f *flippingProber) VerifyMigrationState(ctx context.Context) bool {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return false
	}
	return true
}
