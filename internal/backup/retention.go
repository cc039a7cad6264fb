package backup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"migration-guard/internal/config"
	"migration-guard/internal/logging"
)

// RetentionManager prunes old backup artifacts so the backup directory does
// not grow without bound. Retention never deletes the most recent backup.
type RetentionManager struct {
	backupDir string
	policy    config.RetentionConfig
	offsite   OffsiteProvider
	logger    *logging.Logger
}

// NewRetentionManager creates a retention manager. offsite may be nil when
// replication is disabled.
func NewRetentionManager(backupDir string, policy config.RetentionConfig, offsite OffsiteProvider, logger *logging.Logger) *RetentionManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RetentionManager{
		backupDir: backupDir,
		policy:    policy,
		offsite:   offsite,
		logger:    logger,
	}
}

// Cleanup removes backups beyond MaxBackups or older than MaxAge. It
// returns the names of the backups it deleted.
func (rm *RetentionManager) Cleanup(ctx context.Context) ([]string, error) {
	metas, err := ListMetadata(rm.backupDir)
	if err != nil {
		return nil, err
	}
	if len(metas) <= 1 {
		return nil, nil
	}

	now := time.Now().UTC()
	var expired []*Metadata

	// metas is newest-first; index 0 is always retained.
	for i, meta := range metas {
		if i == 0 {
			continue
		}
		overCount := rm.policy.MaxBackups > 0 && i >= rm.policy.MaxBackups
		overAge := rm.policy.MaxAge > 0 && now.Sub(meta.CreatedAt) > rm.policy.MaxAge
		if overCount || overAge {
			expired = append(expired, meta)
		}
	}

	var deleted []string
	for _, meta := range expired {
		if err := rm.deleteBackup(ctx, meta); err != nil {
			rm.logger.Warnf("Retention cleanup of %s failed: %v", meta.BackupName, err)
			continue
		}
		deleted = append(deleted, meta.BackupName)
	}

	if len(deleted) > 0 {
		rm.logger.Infof("Retention cleanup removed %d backup(s)", len(deleted))
	}
	return deleted, nil
}

// deleteBackup removes the artifact, its metadata sidecar, and any offsite
// replica. A failed replica deletion is logged, not fatal.
func (rm *RetentionManager) deleteBackup(ctx context.Context, meta *Metadata) error {
	if err := os.Remove(meta.ArtifactPath(rm.backupDir)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(rm.backupDir, meta.BackupName+".json")); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(filepath.Join(rm.backupDir, meta.BackupName+".checksum")); err != nil && !os.IsNotExist(err) {
		return err
	}

	if rm.offsite != nil && meta.OffsiteLocation != "" {
		if err := rm.offsite.Delete(ctx, meta.BackupName); err != nil {
			rm.logger.Warnf("Failed to delete offsite replica of %s: %v", meta.BackupName, err)
		}
	}
	return nil
}
