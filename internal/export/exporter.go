package export

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
	"migration-guard/internal/logging"
)

// TableExport holds one table's exported rows. A failed table records its
// error and an empty row set instead of aborting the snapshot.
type TableExport struct {
	Count int                      `json:"count"`
	Data  []map[string]interface{} `json:"data"`
	Error string                   `json:"error,omitempty"`
}

// Snapshot is a portable JSON document keyed by app then table. It is used
// for comparison and row-level restoration, never as the canonical restore
// source (the backup artifact is canonical).
type Snapshot struct {
	Name       string                            `json:"name"`
	CreatedAt  time.Time                         `json:"created_at"`
	Database   string                            `json:"database"`
	Apps       map[string]map[string]TableExport `json:"apps"`
	Path       string                            `json:"-"`
	Checksum   string                            `json:"-"`
}

// TableCount returns the exported count for app.table, with ok=false when
// the table is not part of the snapshot
func (s *Snapshot) TableCount(app, table string) (int, bool) {
	tables, ok := s.Apps[app]
	if !ok {
		return 0, false
	}
	te, ok := tables[table]
	if !ok {
		return 0, false
	}
	return te.Count, true
}

// Scope limits an export run. Zero value means every configured app/table.
type Scope struct {
	App   string
	Table string
}

// Exporter serializes application records to portable snapshots
type Exporter struct {
	db        *sql.DB
	cfg       *config.Config
	exportDir string
	logger    *logging.Logger
}

// NewExporter creates a data exporter
func NewExporter(db *sql.DB, cfg *config.Config, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Exporter{
		db:        db,
		cfg:       cfg,
		exportDir: cfg.Paths.ExportDir,
		logger:    logger,
	}
}

// ExportData exports every table in scope to a JSON snapshot with a SHA-256
// checksum sidecar. Per-table failures are tolerated and recorded so one bad
// table does not block the rest of the export.
func (e *Exporter) ExportData(ctx context.Context, scope Scope) (*Snapshot, error) {
	snapshot := &Snapshot{
		Name:      fmt.Sprintf("export-%s", time.Now().UTC().Format("20060102-150405")),
		CreatedAt: time.Now().UTC(),
		Database:  e.cfg.Database.Database,
		Apps:      make(map[string]map[string]TableExport),
	}

	exported, failed := 0, 0
	for _, appTables := range e.cfg.Apps {
		if scope.App != "" && appTables.App != scope.App {
			continue
		}

		tables := make(map[string]TableExport)
		for _, table := range appTables.Tables {
			if scope.Table != "" && table != scope.Table {
				continue
			}

			te := e.exportTable(ctx, table)
			if te.Error != "" {
				failed++
			} else {
				exported++
			}
			tables[table] = te
		}
		if len(tables) > 0 {
			snapshot.Apps[appTables.App] = tables
		}
	}

	if exported == 0 && failed == 0 {
		return nil, errors.NewExportFailed("nothing to export for the requested scope", nil)
	}

	if err := e.writeSnapshot(snapshot); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"path":          snapshot.Path,
		"tables":        exported,
		"failed_tables": failed,
	}).Info("Data export completed")

	return snapshot, nil
}

// exportTable reads every row of one table. Errors are captured, not raised.
func (e *Exporter) exportTable(ctx context.Context, table string) TableExport {
	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.Tools.QueryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		e.logger.Warnf("Export of table %s failed: %v", table, err)
		return TableExport{Count: 0, Data: []map[string]interface{}{}, Error: err.Error()}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return TableExport{Count: 0, Data: []map[string]interface{}{}, Error: err.Error()}
	}

	data := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return TableExport{Count: 0, Data: []map[string]interface{}{}, Error: err.Error()}
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return TableExport{Count: 0, Data: []map[string]interface{}{}, Error: err.Error()}
	}

	return TableExport{Count: len(data), Data: data}
}

// normalizeValue converts driver values to JSON-friendly representations.
// Timestamps become ISO-8601 strings so snapshots diff cleanly across runs.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []byte:
		return string(val)
	default:
		return val
	}
}

// writeSnapshot persists the snapshot JSON plus its checksum sidecar
func (e *Exporter) writeSnapshot(snapshot *Snapshot) error {
	if err := os.MkdirAll(e.exportDir, 0o755); err != nil {
		return errors.NewExportFailed("failed to create export directory", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.NewExportFailed("failed to serialize snapshot", err)
	}

	path := filepath.Join(e.exportDir, snapshot.Name+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errors.NewExportFailed("failed to write snapshot", err)
	}

	checksum := sha256.Sum256(payload)
	checksumHex := hex.EncodeToString(checksum[:])
	if err := os.WriteFile(path+".checksum", []byte(checksumHex), 0o644); err != nil {
		return errors.NewExportFailed("failed to write snapshot checksum", err)
	}

	snapshot.Path = path
	snapshot.Checksum = checksumHex
	return nil
}

// LoadSnapshot reads a snapshot from disk, verifying its checksum sidecar
// when one is present
func LoadSnapshot(path string) (*Snapshot, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewExportFailed("failed to read snapshot "+path, err)
	}

	if sidecar, err := os.ReadFile(path + ".checksum"); err == nil {
		sum := sha256.Sum256(payload)
		if hex.EncodeToString(sum[:]) != string(sidecar) {
			return nil, errors.NewExportFailed("snapshot checksum mismatch for "+path, nil)
		}
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, errors.NewExportFailed("failed to parse snapshot "+path, err)
	}
	snapshot.Path = path
	return &snapshot, nil
}
