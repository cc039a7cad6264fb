package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Username: "guard",
			Password: "secret",
			Database: "healthcare",
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "backups", cfg.Paths.BackupDir)
	assert.Equal(t, "mysqldump", cfg.Tools.DumpCommand)
	assert.Equal(t, 10*time.Second, cfg.Tools.QueryTimeout)
	assert.Equal(t, 600*time.Second, cfg.Tools.DumpTimeout)
	assert.Equal(t, 100, cfg.Rollback.BatchSize)
	assert.Equal(t, "migration_ledger", cfg.LedgerTable)
	assert.Equal(t, "none", cfg.Storage.Provider)
	assert.Equal(t, "gzip", cfg.Compression.Algorithm)
	assert.Equal(t, 20, cfg.Retention.MaxBackups)
}

func TestDSN(t *testing.T) {
	dc := DatabaseConfig{
		Host: "db.internal", Port: 3307,
		Username: "guard", Password: "pw", Database: "records",
	}
	assert.Equal(t,
		"guard:pw@tcp(db.internal:3307)/records?parseTime=true&timeout=10s",
		dc.DSN())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing host", func(c *Config) { c.Database.Host = "" }, "host is required"},
		{"bad port", func(c *Config) { c.Database.Port = 70000 }, "port"},
		{"missing user", func(c *Config) { c.Database.Username = "" }, "username is required"},
		{"zero batch size", func(c *Config) { c.Rollback.BatchSize = 0 }, "batch_size"},
		{"negative delay", func(c *Config) { c.Rollback.DelaySeconds = -1 }, "delay_seconds"},
		{"s3 without bucket", func(c *Config) { c.Storage.Provider = "s3" }, "requires a bucket"},
		{"unknown provider", func(c *Config) { c.Storage.Provider = "ftp" }, "unknown storage provider"},
		{"unknown compression", func(c *Config) { c.Compression.Algorithm = "rar" }, "unknown compression"},
		{"encryption without passphrase", func(c *Config) { c.Encryption.Enabled = true }, "passphrase"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ConfiguredProviders(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Provider = "azure"
	cfg.Storage.Azure = &AzureConfig{AccountName: "acct", ContainerName: "backups"}
	require.NoError(t, cfg.Validate())

	cfg.Storage.Provider = "gcs"
	cfg.Storage.GCS = &GCSConfig{Bucket: "dr-backups"}
	require.NoError(t, cfg.Validate())
}

func TestTablesForApp(t *testing.T) {
	cfg := validConfig()
	cfg.Apps = []AppTables{
		{App: "patients", Tables: []string{"patients", "visits"}},
		{App: "pharmacy", Tables: []string{"prescriptions"}},
	}

	assert.Equal(t, []string{"patients", "visits"}, cfg.TablesForApp("patients"))
	assert.Nil(t, cfg.TablesForApp("billing"))
}
