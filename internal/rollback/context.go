package rollback

import (
	"time"

	"github.com/google/uuid"
)

// OperationContext carries the facts of one rollback run. It is built once
// when the operation starts and never mutated afterwards; per-step outcomes
// live in step results, not here. Keeping run state out of package globals
// makes every run independently reproducible.
type OperationContext struct {
	ID         string
	App        string
	Migration  string
	StartedAt  time.Time
	BackupName string
	ExportPath string
}

// NewOperationContext creates the context for one rollback run. backupName
// and exportPath may be empty when the corresponding phase was skipped.
func NewOperationContext(app, migration, backupName, exportPath string) *OperationContext {
	return &OperationContext{
		ID:         uuid.New().String(),
		App:        app,
		Migration:  migration,
		StartedAt:  time.Now().UTC(),
		BackupName: backupName,
		ExportPath: exportPath,
	}
}

// MigrationID returns the canonical app.migration identifier
func (oc *OperationContext) MigrationID() string {
	return oc.App + "." + oc.Migration
}
