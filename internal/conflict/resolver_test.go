package conflict

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"migration-guard/internal/database"
	"migration-guard/internal/procrunner"
	"migration-guard/internal/state"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildState assembles a MigrationState fixture without touching a database
func buildState(applied []string, files map[string][]string) *state.MigrationState {
	ms := &state.MigrationState{
		Files: make(map[string]state.MigrationFile),
	}

	appliedAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range applied {
		app, name := splitID(id)
		t := appliedAt
		ms.Applied = append(ms.Applied, database.MigrationRecord{
			App: app, Name: name, AppliedAt: &t,
		})
	}

	for id, deps := range files {
		app, name := splitID(id)
		ms.Files[id] = state.MigrationFile{
			App: app, Name: name, Dependencies: deps, Atomic: true,
		}
	}

	ms.Graph = state.BuildGraph(ms.Files)
	return ms
}

func TestDetect_MissingAndUnappliedFiles(t *testing.T) {
	ms := buildState(
		[]string{"patients.0001_initial", "patients.0002_ghost"},
		map[string][]string{
			"patients.0001_initial":  nil,
			"patients.0003_new_file": nil,
		},
	)

	conflicts := NewDetector().Detect(ms, "")
	require.Len(t, conflicts, 2)

	byType := map[Type]Conflict{}
	for _, c := range conflicts {
		byType[c.Type] = c
	}

	missing := byType[TypeMissingFile]
	assert.Equal(t, "0002_ghost", missing.Migration)

	unapplied := byType[TypeUnappliedFile]
	assert.Equal(t, "0003_new_file", unapplied.Migration)
}

func TestDetect_DependencyConflict(t *testing.T) {
	ms := buildState(
		[]string{"patients.0002_add_visits"},
		map[string][]string{
			"patients.0001_initial":    nil,
			"patients.0002_add_visits": {"patients.0001_initial"},
		},
	)

	conflicts := NewDetector().Detect(ms, "")

	var depConflicts []Conflict
	for _, c := range conflicts {
		if c.Type == TypeDependencyConflict {
			depConflicts = append(depConflicts, c)
		}
	}
	require.Len(t, depConflicts, 1)
	assert.Equal(t, "patients.0001_initial", depConflicts[0].Dependency)
}

func TestDetect_CircularDependency(t *testing.T) {
	ms := buildState(
		nil,
		map[string][]string{
			"a.0001_first":  {"b.0001_second"},
			"b.0001_second": {"a.0001_first"},
		},
	)

	conflicts := NewDetector().Detect(ms, "")

	var cycles []Conflict
	for _, c := range conflicts {
		if c.Type == TypeCircularDependency {
			cycles = append(cycles, c)
		}
	}
	require.Len(t, cycles, 1)
	assert.NotEmpty(t, cycles[0].Cycle)
}

func TestDetect_AppFilter(t *testing.T) {
	ms := buildState(
		[]string{"patients.0001_ghost", "pharmacy.0001_ghost"},
		map[string][]string{},
	)

	conflicts := NewDetector().Detect(ms, "pharmacy")
	require.Len(t, conflicts, 1)
	assert.Equal(t, "pharmacy", conflicts[0].App)
}

func newTestResolver(t *testing.T, runner procrunner.ProcessRunner) (*Resolver, sqlmock.Sqlmock, string) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := database.NewLedgerStore(db, "migration_ledger", 5*time.Second, nil)
	reportsDir := t.TempDir()
	return NewResolver(ledger, runner, "migrate-apply", reportsDir, nil), mock, reportsDir
}

func TestResolveAll_ConflictCompleteness(t *testing.T) {
	// One missing file plus one unapplied file must produce exactly one
	// conflict of each kind, both resolved.
	runner := procrunner.NewMockRunner()
	resolver, mock, _ := newTestResolver(t, runner)

	mock.ExpectExec("DELETE FROM migration_ledger").
		WithArgs("patients", "0002_ghost").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ms := buildState(
		[]string{"patients.0001_initial", "patients.0002_ghost"},
		map[string][]string{
			"patients.0001_initial":  nil,
			"patients.0003_new_file": nil,
		},
	)

	result := resolver.ResolveAll(context.Background(), ms, "")

	require.Len(t, result.ConflictsFound, 2)
	assert.Len(t, result.ConflictsResolved, 2)
	assert.Empty(t, result.ConflictsFailed)
	assert.Equal(t, StatusSuccess, result.OverallStatus)

	applyCalls := runner.CallsFor("migrate-apply")
	require.Len(t, applyCalls, 1)
	assert.Equal(t, []string{"patients", "0003_new_file"}, applyCalls[0].Args)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAll_DependencyConflictAppliesChain(t *testing.T) {
	runner := procrunner.NewMockRunner()
	resolver, _, _ := newTestResolver(t, runner)

	ms := buildState(
		[]string{"patients.0003_merge"},
		map[string][]string{
			"patients.0001_initial":    nil,
			"patients.0002_add_visits": {"patients.0001_initial"},
			"patients.0003_merge":      {"patients.0002_add_visits"},
		},
	)

	result := resolver.ResolveAll(context.Background(), ms, "")

	// 0001 and 0002 are unapplied files; 0003's dependency gap overlaps them.
	assert.Equal(t, StatusSuccess, result.OverallStatus)

	// Dependency resolution must apply 0001 before 0002.
	var order []string
	for _, call := range runner.CallsFor("migrate-apply") {
		order = append(order, call.Args[1])
	}
	idx1, idx2 := indexOf(order, "0001_initial"), indexOf(order, "0002_add_visits")
	require.GreaterOrEqual(t, idx1, 0)
	require.GreaterOrEqual(t, idx2, 0)
	assert.Less(t, idx1, idx2)
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func TestResolveAll_CycleSafety(t *testing.T) {
	// An A->B->A graph must not crash; it must yield a circular-dependency
	// conflict with a generated report path.
	runner := procrunner.NewMockRunner()
	resolver, _, reportsDir := newTestResolver(t, runner)

	ms := buildState(
		[]string{"a.0001_first", "b.0001_second"},
		map[string][]string{
			"a.0001_first":  {"b.0001_second"},
			"b.0001_second": {"a.0001_first"},
		},
	)

	result := resolver.ResolveAll(context.Background(), ms, "")

	var cycleRes *Resolution
	for i := range result.ConflictsResolved {
		if result.ConflictsResolved[i].Conflict.Type == TypeCircularDependency {
			cycleRes = &result.ConflictsResolved[i]
		}
	}
	require.NotNil(t, cycleRes, "cycle must reach a terminal state")
	require.NotEmpty(t, cycleRes.ReportPath)
	assert.Equal(t, reportsDir, filepath.Dir(cycleRes.ReportPath))

	content, err := os.ReadFile(cycleRes.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Circular Migration Dependency")
	assert.Contains(t, string(content), "a.0001_first")

	// The cycle itself must not have triggered any migration tool runs.
	assert.Empty(t, runner.CallsFor("migrate-apply"))
}

func TestResolveAll_NoConflicts(t *testing.T) {
	runner := procrunner.NewMockRunner()
	resolver, _, _ := newTestResolver(t, runner)

	ms := buildState(
		[]string{"patients.0001_initial"},
		map[string][]string{"patients.0001_initial": nil},
	)

	result := resolver.ResolveAll(context.Background(), ms, "")
	assert.Equal(t, StatusNoConflicts, result.OverallStatus)
}

func TestResolveAll_FailedResolutionIsPartial(t *testing.T) {
	runner := procrunner.NewMockRunner()
	resolver, mock, _ := newTestResolver(t, runner)

	// Ledger repair succeeds, migration tool fails.
	mock.ExpectExec("DELETE FROM migration_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	runner.Stub("migrate-apply", "", &procrunner.Result{ExitCode: 1, Stderr: "boom"},
		assert.AnError)

	ms := buildState(
		[]string{"patients.0002_ghost"},
		map[string][]string{"patients.0003_new_file": nil},
	)

	result := resolver.ResolveAll(context.Background(), ms, "")
	assert.Equal(t, StatusPartial, result.OverallStatus)
	require.Len(t, result.ConflictsFailed, 1)
	assert.NotEmpty(t, result.ConflictsFailed[0].Error)
}
