package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, `
database:
  host: db.internal
  port: 3307
  username: guard
  password: secret
  database: healthcare
rollback:
  batch_size: 50
  delay_seconds: 2
apps:
  - app: clinic
    tables: [patients, visits]
compression:
  enabled: true
  algorithm: zstd
  level: 3
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, 50, cfg.Rollback.BatchSize)
	assert.Equal(t, "zstd", cfg.Compression.Algorithm)
	assert.Equal(t, []string{"patients", "visits"}, cfg.TablesForApp("clinic"))

	// Defaults fill what the file does not set.
	assert.Equal(t, "mysqldump", cfg.Tools.DumpCommand)
	assert.Equal(t, 600*time.Second, cfg.Tools.DumpTimeout)
	assert.Equal(t, "migration_ledger", cfg.LedgerTable)
}

func TestLoadFileInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `
database:
  host: db.internal
  username: guard
  database: healthcare
storage:
  provider: s3
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 requires a bucket")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadFileMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "database: [not a mapping")
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}
