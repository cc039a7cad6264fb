package conflict

// Type enumerates the conflict kinds the detector recognizes
type Type string

const (
	// TypeMissingFile means the ledger says applied but no definition file exists
	TypeMissingFile Type = "missing_file"
	// TypeUnappliedFile means a definition file exists but is not in the ledger
	TypeUnappliedFile Type = "unapplied_file"
	// TypeDependencyConflict means an applied migration declares an unapplied dependency
	TypeDependencyConflict Type = "dependency_conflict"
	// TypeCircularDependency means the migration graph contains a cycle
	TypeCircularDependency Type = "circular_dependency"
)

// Conflict is one detected inconsistency between the ledger, the filesystem
// and the dependency graph
type Conflict struct {
	Type        Type     `json:"type"`
	App         string   `json:"app"`
	Migration   string   `json:"migration"`
	Description string   `json:"description"`
	Cycle       []string `json:"cycle,omitempty"`
	Dependency  string   `json:"dependency,omitempty"`
}

// ID returns the canonical identifier of the conflicting migration
func (c Conflict) ID() string {
	return c.App + "." + c.Migration
}

// Resolution records the terminal state of one conflict
type Resolution struct {
	Conflict   Conflict `json:"conflict"`
	Resolved   bool     `json:"resolved"`
	Action     string   `json:"action"`
	Error      string   `json:"error,omitempty"`
	ReportPath string   `json:"report_path,omitempty"`
}

// Status summarizes a resolution run
type Status string

const (
	StatusSuccess     Status = "success"
	StatusPartial     Status = "partial"
	StatusNoConflicts Status = "no_conflicts"
	StatusFailed      Status = "failed"
)

// Result aggregates a detect-and-resolve run
type Result struct {
	ConflictsFound    []Conflict   `json:"conflicts_found"`
	ConflictsResolved []Resolution `json:"conflicts_resolved"`
	ConflictsFailed   []Resolution `json:"conflicts_failed"`
	OverallStatus     Status       `json:"overall_status"`
}

// computeStatus derives the aggregate status from the tallies
func computeStatus(found, resolved, failed int) Status {
	switch {
	case found == 0:
		return StatusNoConflicts
	case failed == 0:
		return StatusSuccess
	case resolved > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}
