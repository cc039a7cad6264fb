package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
	"migration-guard/internal/logging"
	"migration-guard/internal/procrunner"
	"migration-guard/internal/state"
)

// StateProber answers migration-state questions for backup metadata and
// post-restore verification. *state.Inspector satisfies it.
type StateProber interface {
	Snapshot(ctx context.Context) (*state.Snapshot, error)
	VerifyMigrationState(ctx context.Context) bool
}

// Manager owns the backup artifact lifecycle: creation via the dump tool,
// local validation, restore with post-restore verification, and offsite
// replication.
type Manager struct {
	cfg       *config.Config
	runner    procrunner.ProcessRunner
	prober    StateProber
	pipeline  *Pipeline
	validator *Validator
	offsite   OffsiteProvider
	logger    *logging.Logger
}

// NewManager creates a backup manager. prober and offsite may be nil.
func NewManager(cfg *config.Config, runner procrunner.ProcessRunner, prober StateProber, offsite OffsiteProvider, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{
		cfg:       cfg,
		runner:    runner,
		prober:    prober,
		pipeline:  NewPipeline(cfg),
		validator: NewValidator(logger),
		offsite:   offsite,
		logger:    logger,
	}
}

// CreateBackup dumps the database into a timestamped artifact, records the
// current migration state in the metadata sidecar, validates the artifact,
// and replicates it offsite when configured. Replication failures are
// warnings; the local artifact is canonical.
func (m *Manager) CreateBackup(ctx context.Context, name, backupType string) (*Metadata, error) {
	start := time.Now()
	if name == "" {
		name = fmt.Sprintf("backup-%s-%s", m.cfg.Database.Database, start.UTC().Format("20060102-150405"))
	}
	if backupType == "" {
		backupType = TypeManual
	}

	if err := os.MkdirAll(m.cfg.Paths.BackupDir, 0o755); err != nil {
		return nil, errors.NewBackupFailed("failed to create backup directory", err)
	}

	dump, err := m.runDump(ctx)
	if err != nil {
		return nil, err
	}

	var snapshot *state.Snapshot
	if m.prober != nil {
		snapshot, err = m.prober.Snapshot(ctx)
		if err != nil {
			m.logger.Warnf("Could not capture migration state for backup metadata: %v", err)
			snapshot = nil
		}
	}

	sealed, compression, encrypted, err := m.pipeline.Seal(dump)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		ID:             uuid.New().String(),
		BackupName:     name,
		CreatedAt:      start.UTC(),
		Database:       m.cfg.Database.Database,
		BackupType:     backupType,
		MigrationState: snapshot,
		ArtifactFile:   name + artifactExtension(compression, encrypted),
		SizeBytes:      int64(len(sealed)),
		Checksum:       checksumHex(sealed),
		Compression:    compression,
		Encrypted:      encrypted,
	}

	artifactPath := meta.ArtifactPath(m.cfg.Paths.BackupDir)
	if err := os.WriteFile(artifactPath, sealed, 0o600); err != nil {
		return nil, errors.NewBackupFailed("failed to write backup artifact", err)
	}
	checksumPath := filepath.Join(m.cfg.Paths.BackupDir, name+".checksum")
	if err := os.WriteFile(checksumPath, []byte(meta.Checksum), 0o644); err != nil {
		return nil, errors.NewBackupFailed("failed to write backup checksum", err)
	}

	if _, err := m.validator.Validate(artifactPath); err != nil {
		return nil, err
	}

	if m.offsite != nil {
		location, repErr := m.offsite.Store(ctx, meta, sealed)
		if repErr != nil {
			m.logger.Warnf("Offsite replication to %s failed: %v", m.offsite.Name(), repErr)
		} else {
			meta.OffsiteLocation = location
		}
	}

	if err := meta.Save(m.cfg.Paths.BackupDir); err != nil {
		return nil, err
	}

	m.logger.LogBackupOperation("create", artifactPath, meta.SizeBytes, time.Since(start), nil)
	return meta, nil
}

// ValidateBackup runs the read-only artifact validation battery
func (m *Manager) ValidateBackup(path string) (*ValidationResult, error) {
	return m.validator.Validate(path)
}

// ListBackups returns metadata for every local backup, newest first
func (m *Manager) ListBackups() ([]*Metadata, error) {
	return ListMetadata(m.cfg.Paths.BackupDir)
}

// RestoreBackup replaces the target database with a backup artifact's
// contents, then verifies the migration state. The restore timeout is a
// shared budget across all steps. The error names the step that failed.
func (m *Manager) RestoreBackup(ctx context.Context, nameOrPath string) error {
	return m.restore(ctx, nameOrPath, m.cfg.Database.Database, true)
}

// RestoreInto restores an artifact into an alternate database, leaving the
// primary untouched. Reconciliation uses this for disposable comparison
// restores; migration-state verification is skipped since the comparison
// database carries no ledger of its own worth verifying.
func (m *Manager) RestoreInto(ctx context.Context, nameOrPath, database string) error {
	return m.restore(ctx, nameOrPath, database, false)
}

func (m *Manager) restore(ctx context.Context, nameOrPath, targetDB string, verify bool) error {
	start := time.Now()
	deadline := start.Add(m.cfg.Tools.RestoreTimeout)

	artifactPath, err := m.resolveArtifact(nameOrPath)
	if err != nil {
		return err
	}

	if _, err := m.validator.Validate(artifactPath); err != nil {
		return restoreStepError("validate_artifact", err)
	}

	sealed, err := os.ReadFile(artifactPath)
	if err != nil {
		return restoreStepError("read_artifact", errors.NewBackupFailed("failed to read backup artifact", err))
	}

	if meta, metaErr := FindMetadata(m.cfg.Paths.BackupDir, strings.TrimSuffix(nameOrPath, ".json")); metaErr == nil {
		if meta.Checksum != "" && meta.Checksum != checksumHex(sealed) {
			return restoreStepError("verify_checksum",
				errors.NewVerificationFailed("backup artifact checksum does not match its metadata", nil))
		}
	}

	dump, err := m.pipeline.Open(sealed)
	if err != nil {
		return restoreStepError("unseal_artifact", err)
	}

	dropAndCreate := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`; CREATE DATABASE `%s`;", targetDB, targetDB)
	if err := m.runClient(ctx, deadline, "", dropAndCreate); err != nil {
		return restoreStepError("recreate_database", err)
	}

	if err := m.runClient(ctx, deadline, targetDB, string(dump)); err != nil {
		return restoreStepError("restore_dump", err)
	}

	if verify && m.prober != nil && !m.prober.VerifyMigrationState(ctx) {
		return restoreStepError("verify_state",
			errors.NewVerificationFailed("migration state verification failed after restore", nil))
	}

	m.logger.LogBackupOperation("restore", artifactPath, int64(len(dump)), time.Since(start), nil)
	return nil
}

// Cleanup applies the retention policy to the local backup directory
func (m *Manager) Cleanup(ctx context.Context) ([]string, error) {
	rm := NewRetentionManager(m.cfg.Paths.BackupDir, m.cfg.Retention, m.offsite, m.logger)
	return rm.Cleanup(ctx)
}

// runDump invokes the dump tool and returns its raw output
func (m *Manager) runDump(ctx context.Context) ([]byte, error) {
	dc := m.cfg.Database
	args := []string{
		"--host", dc.Host,
		"--port", fmt.Sprintf("%d", dc.Port),
		"--user", dc.Username,
		"--single-transaction",
		"--routines",
		"--triggers",
		dc.Database,
	}

	result, err := m.runner.Run(ctx, procrunner.CommandSpec{
		Command: m.cfg.Tools.DumpCommand,
		Args:    args,
		Env:     []string{"MYSQL_PWD=" + dc.Password},
		Timeout: m.cfg.Tools.DumpTimeout,
	})
	if err != nil {
		return nil, errors.NewBackupFailed("database dump failed", err)
	}
	if len(result.Stdout) == 0 {
		return nil, errors.NewBackupFailed("database dump produced no output", nil)
	}
	return []byte(result.Stdout), nil
}

// runClient pipes SQL to the client tool within the remaining restore budget
func (m *Manager) runClient(ctx context.Context, deadline time.Time, database, sqlText string) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return errors.NewToolTimeout("restore timeout budget exhausted", nil)
	}

	dc := m.cfg.Database
	args := []string{
		"--host", dc.Host,
		"--port", fmt.Sprintf("%d", dc.Port),
		"--user", dc.Username,
	}
	if database != "" {
		args = append(args, database)
	}

	_, err := m.runner.Run(ctx, procrunner.CommandSpec{
		Command: m.cfg.Tools.ClientCommand,
		Args:    args,
		Env:     []string{"MYSQL_PWD=" + dc.Password},
		Stdin:   strings.NewReader(sqlText),
		Timeout: remaining,
	})
	return err
}

// resolveArtifact accepts either a backup name (looked up via its metadata
// sidecar) or a direct artifact path
func (m *Manager) resolveArtifact(nameOrPath string) (string, error) {
	if _, err := os.Stat(nameOrPath); err == nil && !strings.HasSuffix(nameOrPath, ".json") {
		return nameOrPath, nil
	}

	meta, err := FindMetadata(m.cfg.Paths.BackupDir, strings.TrimSuffix(nameOrPath, ".json"))
	if err != nil {
		return "", err
	}
	return meta.ArtifactPath(m.cfg.Paths.BackupDir), nil
}

func restoreStepError(step string, err error) error {
	return errors.NewRollbackFailed(fmt.Sprintf("restore failed at step %s", step), err)
}
