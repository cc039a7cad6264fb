package state

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"migration-guard/internal/errors"
)

// MigrationFile is one on-disk migration definition. Definitions live under
// <migrationsDir>/<app>/<name>.sql with dependencies declared in header
// comment lines of the form "-- depends: app.migration".
type MigrationFile struct {
	App          string
	Name         string
	Path         string
	Dependencies []string
	Atomic       bool
}

// ID returns the canonical "app.name" identifier
func (f MigrationFile) ID() string {
	return f.App + "." + f.Name
}

const (
	dependsPrefix = "-- depends:"
	atomicPrefix  = "-- atomic:"
)

// LoadMigrationFiles scans migrationsDir for migration definitions, keyed by
// canonical identifier. A missing directory is a validation error; an
// unreadable individual file aborts the scan so a partially loaded graph is
// never mistaken for the real one.
func LoadMigrationFiles(migrationsDir string) (map[string]MigrationFile, error) {
	info, err := os.Stat(migrationsDir)
	if err != nil {
		return nil, errors.NewValidationError("migrations directory not found: "+migrationsDir, err)
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError(migrationsDir+" is not a directory", nil)
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.WrapError(err, "failed to read migrations directory")
	}

	files := make(map[string]MigrationFile)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		app := entry.Name()

		appDir := filepath.Join(migrationsDir, app)
		appEntries, err := os.ReadDir(appDir)
		if err != nil {
			return nil, errors.WrapError(err, "failed to read migrations for app "+app)
		}

		for _, ae := range appEntries {
			if ae.IsDir() || !strings.HasSuffix(ae.Name(), ".sql") {
				continue
			}

			path := filepath.Join(appDir, ae.Name())
			file, err := parseMigrationFile(app, path)
			if err != nil {
				return nil, err
			}
			files[file.ID()] = file
		}
	}

	return files, nil
}

// parseMigrationFile reads dependency declarations from the file header.
// Parsing stops at the first non-comment, non-blank line.
func parseMigrationFile(app, path string) (MigrationFile, error) {
	file := MigrationFile{
		App:    app,
		Name:   strings.TrimSuffix(filepath.Base(path), ".sql"),
		Path:   path,
		Atomic: true,
	}

	f, err := os.Open(path)
	if err != nil {
		return file, errors.WrapError(err, "failed to open migration file "+path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}

		switch {
		case strings.HasPrefix(line, dependsPrefix):
			dep := strings.TrimSpace(strings.TrimPrefix(line, dependsPrefix))
			if dep != "" {
				file.Dependencies = append(file.Dependencies, dep)
			}
		case strings.HasPrefix(line, atomicPrefix):
			val := strings.TrimSpace(strings.TrimPrefix(line, atomicPrefix))
			file.Atomic = val != "false"
		}
	}
	if err := scanner.Err(); err != nil {
		return file, errors.WrapError(err, "failed to read migration file "+path)
	}

	sort.Strings(file.Dependencies)
	return file, nil
}

// BuildGraph constructs the dependency graph from loaded definitions
func BuildGraph(files map[string]MigrationFile) *DependencyGraph {
	graph := NewDependencyGraph()
	for id, file := range files {
		graph.AddNode(id)
		for _, dep := range file.Dependencies {
			graph.AddDependency(id, dep)
		}
	}
	return graph
}
