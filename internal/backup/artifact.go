package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"migration-guard/internal/errors"
	"migration-guard/internal/state"
)

// Backup types recorded in artifact metadata.
const (
	TypeManual       = "manual"
	TypePreRollback  = "pre_rollback"
	TypePreReconcile = "pre_reconcile"
)

// Metadata is the JSON sidecar written next to every backup artifact. It
// carries everything needed to decide whether the artifact is restorable
// without opening the artifact itself.
type Metadata struct {
	ID              string          `json:"id"`
	BackupName      string          `json:"backup_name"`
	CreatedAt       time.Time       `json:"created_at"`
	Database        string          `json:"database"`
	BackupType      string          `json:"backup_type"`
	MigrationState  *state.Snapshot `json:"migration_state,omitempty"`
	ArtifactFile    string          `json:"artifact_file"`
	SizeBytes       int64           `json:"size_bytes"`
	Checksum        string          `json:"checksum"`
	Compression     string          `json:"compression,omitempty"`
	Encrypted       bool            `json:"encrypted"`
	OffsiteLocation string          `json:"offsite_location,omitempty"`
}

// ArtifactPath returns the absolute path of the artifact this metadata
// describes, given the backup directory.
func (m *Metadata) ArtifactPath(backupDir string) string {
	return filepath.Join(backupDir, m.ArtifactFile)
}

// Save writes the metadata sidecar as <backup_name>.json
func (m *Metadata) Save(backupDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.NewBackupFailed("failed to serialize backup metadata", err)
	}
	path := filepath.Join(backupDir, m.BackupName+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewBackupFailed("failed to write backup metadata", err)
	}
	return nil
}

// LoadMetadata reads one metadata sidecar
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to read backup metadata "+path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.NewBackupFailed("failed to parse backup metadata "+path, err)
	}
	return &meta, nil
}

// ListMetadata loads every metadata sidecar in the backup directory, newest
// first. Sidecars that fail to parse are skipped.
func ListMetadata(backupDir string) ([]*Metadata, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewBackupFailed("failed to read backup directory", err)
	}

	var metas []*Metadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		meta, err := LoadMetadata(filepath.Join(backupDir, entry.Name()))
		if err != nil || meta.BackupName == "" {
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// FindMetadata resolves a backup name to its metadata sidecar
func FindMetadata(backupDir, backupName string) (*Metadata, error) {
	meta, err := LoadMetadata(filepath.Join(backupDir, backupName+".json"))
	if err != nil {
		return nil, errors.NewBackupFailed("backup "+backupName+" not found", err)
	}
	return meta, nil
}

// checksumHex returns the SHA-256 of a payload as lowercase hex
func checksumHex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// artifactExtension derives the artifact file suffix from its processing
// stages so the on-disk name reflects the content.
func artifactExtension(compression string, encrypted bool) string {
	ext := ".sql"
	switch compression {
	case "gzip":
		ext += ".gz"
	case "zstd":
		ext += ".zst"
	case "lz4":
		ext += ".lz4"
	}
	if encrypted {
		ext += ".enc"
	}
	return ext
}
