package conflict

import (
	"fmt"
	"sort"
	"strings"

	"migration-guard/internal/state"
)

// Detector finds inconsistencies between the applied-migration ledger, the
// on-disk migration definitions and the dependency graph
type Detector struct{}

// NewDetector creates a conflict detector
func NewDetector() *Detector {
	return &Detector{}
}

// Detect evaluates the detection rules against a migration state. The app
// argument limits detection to one application; empty means all apps.
func (d *Detector) Detect(ms *state.MigrationState, app string) []Conflict {
	var conflicts []Conflict
	applied := ms.AppliedSet()

	// Rule (a): applied in the ledger but definition file absent
	for id, rec := range applied {
		if app != "" && rec.App != app {
			continue
		}
		if _, ok := ms.Files[id]; !ok {
			conflicts = append(conflicts, Conflict{
				Type:        TypeMissingFile,
				App:         rec.App,
				Migration:   rec.Name,
				Description: fmt.Sprintf("ledger records %s as applied but no definition file exists", id),
			})
		}
	}

	// Rule (b): definition file present but not applied
	for id, file := range ms.Files {
		if app != "" && file.App != app {
			continue
		}
		if _, ok := applied[id]; !ok {
			conflicts = append(conflicts, Conflict{
				Type:        TypeUnappliedFile,
				App:         file.App,
				Migration:   file.Name,
				Description: fmt.Sprintf("definition file %s exists but is not recorded as applied", id),
			})
		}
	}

	// Rule (c): an applied migration declares a dependency that is not applied
	for id, file := range ms.Files {
		if app != "" && file.App != app {
			continue
		}
		if _, isApplied := applied[id]; !isApplied {
			continue
		}
		for _, dep := range file.Dependencies {
			if _, depApplied := applied[dep]; !depApplied {
				conflicts = append(conflicts, Conflict{
					Type:        TypeDependencyConflict,
					App:         file.App,
					Migration:   file.Name,
					Dependency:  dep,
					Description: fmt.Sprintf("%s is applied but its dependency %s is not", id, dep),
				})
			}
		}
	}

	// Rule (d): dependency cycles. A cycle is attributed to its first node
	// for reporting; the full node sequence travels with the conflict.
	for _, cycle := range ms.Graph.DetectCycles() {
		first := cycle[0]
		if app != "" && !strings.HasPrefix(first, app+".") {
			continue
		}
		cApp, cName := splitID(first)
		conflicts = append(conflicts, Conflict{
			Type:        TypeCircularDependency,
			App:         cApp,
			Migration:   cName,
			Cycle:       cycle,
			Description: fmt.Sprintf("circular dependency: %s", strings.Join(cycle, " -> ")),
		})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Type != conflicts[j].Type {
			return conflicts[i].Type < conflicts[j].Type
		}
		return conflicts[i].ID() < conflicts[j].ID()
	})
	return conflicts
}

func splitID(id string) (app, name string) {
	parts := strings.SplitN(id, ".", 2)
	if len(parts) != 2 {
		return id, ""
	}
	return parts[0], parts[1]
}
