package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"migration-guard/internal/errors"
)

// ReportWriter produces human-actionable remediation reports for conflicts
// the engine refuses to fix automatically
type ReportWriter struct {
	reportsDir string
}

// NewReportWriter creates a report writer rooted at reportsDir
func NewReportWriter(reportsDir string) *ReportWriter {
	return &ReportWriter{reportsDir: reportsDir}
}

// WriteCircularDependencyReport writes a Markdown remediation report for a
// dependency cycle and returns the report path
func (w *ReportWriter) WriteCircularDependencyReport(c Conflict) (string, error) {
	if err := os.MkdirAll(w.reportsDir, 0o755); err != nil {
		return "", errors.WrapError(err, "failed to create reports directory")
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	path := filepath.Join(w.reportsDir,
		fmt.Sprintf("circular-dependency-%s-%s.md", c.App, timestamp))

	var b strings.Builder
	b.WriteString("# Circular Migration Dependency\n\n")
	b.WriteString(fmt.Sprintf("Detected: %s\n\n", time.Now().UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Application: `%s`\n\n", c.App))
	b.WriteString("## Cycle\n\n")
	b.WriteString("```\n")
	b.WriteString(strings.Join(c.Cycle, "\n  -> "))
	b.WriteString("\n```\n\n")
	b.WriteString("## Why this was not auto-resolved\n\n")
	b.WriteString("Breaking a dependency cycle requires choosing which migration's\n")
	b.WriteString("dependency declaration is wrong. That is a judgment call about intent,\n")
	b.WriteString("so this engine leaves the graph untouched.\n\n")
	b.WriteString("## Suggested remediation\n\n")
	b.WriteString("1. Inspect the `-- depends:` headers of the migrations listed above.\n")
	b.WriteString("2. Remove or correct the declaration that closes the loop.\n")
	b.WriteString("3. Re-run `migration-guard resolve-conflicts` to confirm the cycle is gone.\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", errors.WrapError(err, "failed to write remediation report")
	}
	return path, nil
}
