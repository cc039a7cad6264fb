package state

import (
	"context"
	"os"
	"sort"
	"time"

	"migration-guard/internal/database"
	"migration-guard/internal/errors"
	"migration-guard/internal/logging"
)

// MigrationState is the combined view of the applied-migration ledger and
// the on-disk definition graph
type MigrationState struct {
	Applied []database.MigrationRecord
	Files   map[string]MigrationFile
	Graph   *DependencyGraph
}

// AppliedSet returns the applied records keyed by canonical identifier
func (ms *MigrationState) AppliedSet() map[string]database.MigrationRecord {
	set := make(map[string]database.MigrationRecord, len(ms.Applied))
	for _, rec := range ms.Applied {
		set[rec.ID()] = rec
	}
	return set
}

// Pending returns definition files not present in the ledger, sorted by id
func (ms *MigrationState) Pending() []MigrationFile {
	applied := ms.AppliedSet()

	var pending []MigrationFile
	for id, file := range ms.Files {
		if _, ok := applied[id]; !ok {
			pending = append(pending, file)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID() < pending[j].ID() })
	return pending
}

// Snapshot is a compact migration-state summary embedded in backup metadata
type Snapshot struct {
	CapturedAt   time.Time         `json:"captured_at"`
	AppliedCount int               `json:"applied_count"`
	PendingCount int               `json:"pending_count"`
	LatestPerApp map[string]string `json:"latest_per_app"`
}

// MigrationView is one row of the list-migrations output
type MigrationView struct {
	App       string
	Name      string
	Applied   bool
	AppliedAt *time.Time
	FileFound bool
}

// Inspector reads migration state and answers dependency questions
type Inspector struct {
	ledger        *database.LedgerStore
	migrationsDir string
	backupDir     string
	logger        *logging.Logger
}

// NewInspector creates a migration state inspector
func NewInspector(ledger *database.LedgerStore, migrationsDir, backupDir string, logger *logging.Logger) *Inspector {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Inspector{
		ledger:        ledger,
		migrationsDir: migrationsDir,
		backupDir:     backupDir,
		logger:        logger,
	}
}

// GetMigrationState reads the ledger and the on-disk definition graph
func (i *Inspector) GetMigrationState(ctx context.Context) (*MigrationState, error) {
	applied, err := i.ledger.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	files, err := LoadMigrationFiles(i.migrationsDir)
	if err != nil {
		return nil, err
	}

	return &MigrationState{
		Applied: applied,
		Files:   files,
		Graph:   BuildGraph(files),
	}, nil
}

// Snapshot captures a compact state summary for backup metadata
func (i *Inspector) Snapshot(ctx context.Context) (*Snapshot, error) {
	state, err := i.GetMigrationState(ctx)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]string)
	for _, rec := range state.Applied {
		// Applied records arrive ordered by application time, so the last
		// record per app wins.
		latest[rec.App] = rec.Name
	}

	return &Snapshot{
		CapturedAt:   time.Now().UTC(),
		AppliedCount: len(state.Applied),
		PendingCount: len(state.Pending()),
		LatestPerApp: latest,
	}, nil
}

// VerifyMigrationState runs the ordered verification battery: connectivity,
// ledger readability, pending-migration check, graph-conflict check, and an
// advisory deployment-readiness check. Hard failures return false
// immediately; the readiness check only logs a warning.
func (i *Inspector) VerifyMigrationState(ctx context.Context) bool {
	if err := i.ledger.DB().PingContext(ctx); err != nil {
		i.logger.Errorf("Migration state verification failed: database unreachable: %v", err)
		return false
	}

	state, err := i.GetMigrationState(ctx)
	if err != nil {
		i.logger.Errorf("Migration state verification failed: %v", err)
		return false
	}

	if pending := state.Pending(); len(pending) > 0 {
		i.logger.WithField("pending", len(pending)).
			Error("Migration state verification failed: pending migrations present")
		return false
	}

	if cycles := state.Graph.DetectCycles(); len(cycles) > 0 {
		i.logger.WithField("cycles", len(cycles)).
			Error("Migration state verification failed: dependency cycles in migration graph")
		return false
	}

	applied := state.AppliedSet()
	for id := range applied {
		if _, ok := state.Files[id]; !ok {
			i.logger.WithField("migration", id).
				Error("Migration state verification failed: applied migration has no definition file")
			return false
		}
	}

	// Advisory only: a deployment environment that cannot take a backup is
	// worth flagging, but it does not invalidate the migration state itself.
	if err := i.checkDeploymentReadiness(); err != nil {
		i.logger.Warnf("Deployment readiness check failed: %v", err)
	}

	return true
}

// checkDeploymentReadiness confirms the backup directory is writable
func (i *Inspector) checkDeploymentReadiness() error {
	if i.backupDir == "" {
		return nil
	}
	if err := os.MkdirAll(i.backupDir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(i.backupDir, ".readiness-*")
	if err != nil {
		return err
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// ListMigrations merges ledger and filesystem views for display. An empty
// app lists everything.
func (i *Inspector) ListMigrations(ctx context.Context, app string) ([]MigrationView, error) {
	state, err := i.GetMigrationState(ctx)
	if err != nil {
		return nil, err
	}

	applied := state.AppliedSet()
	seen := make(map[string]bool)
	var views []MigrationView

	for id, file := range state.Files {
		if app != "" && file.App != app {
			continue
		}
		seen[id] = true
		view := MigrationView{App: file.App, Name: file.Name, FileFound: true}
		if rec, ok := applied[id]; ok {
			view.Applied = true
			view.AppliedAt = rec.AppliedAt
		}
		views = append(views, view)
	}

	// Ledger rows without definition files still show up in the listing
	for id, rec := range applied {
		if seen[id] {
			continue
		}
		if app != "" && rec.App != app {
			continue
		}
		views = append(views, MigrationView{
			App: rec.App, Name: rec.Name, Applied: true, AppliedAt: rec.AppliedAt,
		})
	}

	sort.Slice(views, func(a, b int) bool {
		if views[a].App != views[b].App {
			return views[a].App < views[b].App
		}
		return views[a].Name < views[b].Name
	})
	return views, nil
}

// CheckDependencies returns the transitive dependency chain of a migration
// in apply order. A chain through a cycle returns ErrorTypeConflictUnresolved.
func (i *Inspector) CheckDependencies(ctx context.Context, app, name string) ([]string, error) {
	state, err := i.GetMigrationState(ctx)
	if err != nil {
		return nil, err
	}

	id := app + "." + name
	if _, ok := state.Files[id]; !ok {
		return nil, errors.NewValidationError("no migration definition for "+id, nil)
	}

	chain, ok := state.Graph.TransitiveDependencies(id)
	if !ok {
		return chain, errors.NewConflictUnresolved(
			"dependency chain of "+id+" passes through a cycle", nil)
	}
	return chain, nil
}
