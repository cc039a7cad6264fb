package config

import (
	"fmt"
	"time"
)

// DatabaseConfig holds connection settings for the target database
type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// DSN returns the MySQL driver connection string
func (dc *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
		dc.Username, dc.Password, dc.Host, dc.Port, dc.Database)
}

// Validate checks that required connection settings are present
func (dc *DatabaseConfig) Validate() error {
	if dc.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", dc.Port)
	}
	if dc.Username == "" {
		return fmt.Errorf("database username is required")
	}
	if dc.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// PathsConfig holds filesystem locations used by the engine
type PathsConfig struct {
	BackupDir     string `mapstructure:"backup_dir" yaml:"backup_dir"`
	ExportDir     string `mapstructure:"export_dir" yaml:"export_dir"`
	ReportsDir    string `mapstructure:"reports_dir" yaml:"reports_dir"`
	MigrationsDir string `mapstructure:"migrations_dir" yaml:"migrations_dir"`
}

// ToolsConfig holds external tool commands and timeout budgets
type ToolsConfig struct {
	DumpCommand    string        `mapstructure:"dump_command" yaml:"dump_command"`
	ClientCommand  string        `mapstructure:"client_command" yaml:"client_command"`
	MigrateCommand string        `mapstructure:"migrate_command" yaml:"migrate_command"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	DumpTimeout    time.Duration `mapstructure:"dump_timeout" yaml:"dump_timeout"`
	RestoreTimeout time.Duration `mapstructure:"restore_timeout" yaml:"restore_timeout"`
}

// RollbackConfig holds gradual rollback pacing settings
type RollbackConfig struct {
	BatchSize    int    `mapstructure:"batch_size" yaml:"batch_size"`
	DelaySeconds int    `mapstructure:"delay_seconds" yaml:"delay_seconds"`
	// DataRollbackSQL is an optional statement executed once per batch during
	// the data_rollback step. Placeholders :app and :migration are substituted.
	// When empty, batches pace the rollback without mutating rows.
	DataRollbackSQL string `mapstructure:"data_rollback_sql" yaml:"data_rollback_sql"`
}

// ForeignKeyRule describes one parent/child relationship to scan for orphans
type ForeignKeyRule struct {
	Table     string `mapstructure:"table" yaml:"table"`
	Column    string `mapstructure:"column" yaml:"column"`
	RefTable  string `mapstructure:"ref_table" yaml:"ref_table"`
	RefColumn string `mapstructure:"ref_column" yaml:"ref_column"`
}

// DuplicateRule describes a column set that must be unique within a table
type DuplicateRule struct {
	Table   string   `mapstructure:"table" yaml:"table"`
	Columns []string `mapstructure:"columns" yaml:"columns"`
}

// TimestampRule describes a timestamp column that must not be in the future
// or null on active rows
type TimestampRule struct {
	Table  string `mapstructure:"table" yaml:"table"`
	Column string `mapstructure:"column" yaml:"column"`
}

// BusinessRule is a domain predicate expressed as a SQL query returning a
// violation count; a non-zero result fails the check
type BusinessRule struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Query       string `mapstructure:"query" yaml:"query"`
	Description string `mapstructure:"description" yaml:"description"`
}

// IntegrityConfig holds the verification battery configuration
type IntegrityConfig struct {
	CriticalTables []string         `mapstructure:"critical_tables" yaml:"critical_tables"`
	ForeignKeys    []ForeignKeyRule `mapstructure:"foreign_keys" yaml:"foreign_keys"`
	Duplicates     []DuplicateRule  `mapstructure:"duplicates" yaml:"duplicates"`
	Timestamps     []TimestampRule  `mapstructure:"timestamps" yaml:"timestamps"`
	BusinessRules  []BusinessRule   `mapstructure:"business_rules" yaml:"business_rules"`
}

// AppTables maps an application name to the tables it owns, in the order
// they should be exported
type AppTables struct {
	App    string   `mapstructure:"app" yaml:"app"`
	Tables []string `mapstructure:"tables" yaml:"tables"`
}

// NotificationsConfig holds outbound notification settings
type NotificationsConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	System      string `mapstructure:"system" yaml:"system"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	MinSeverity string `mapstructure:"min_severity" yaml:"min_severity"`
	// RateLimit suppresses repeats of the same event type within the window.
	// Critical notifications are never suppressed. Zero disables the limit.
	RateLimit time.Duration `mapstructure:"rate_limit" yaml:"rate_limit"`

	Email   *EmailConfig   `mapstructure:"email" yaml:"email,omitempty"`
	Webhook *WebhookConfig `mapstructure:"webhook" yaml:"webhook,omitempty"`
	Slack   *SlackConfig   `mapstructure:"slack" yaml:"slack,omitempty"`
	File    *FileSinkConfig `mapstructure:"file" yaml:"file,omitempty"`
}

// EmailConfig for SMTP notifications
type EmailConfig struct {
	SMTPHost string   `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	From     string   `mapstructure:"from" yaml:"from"`
	To       []string `mapstructure:"to" yaml:"to"`
}

// WebhookConfig for generic webhook notifications
type WebhookConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SlackConfig for Slack webhook notifications
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
	Username   string `mapstructure:"username" yaml:"username"`
}

// FileSinkConfig appends notification payloads to a local file
type FileSinkConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// StorageConfig selects the offsite replication provider for backup artifacts
type StorageConfig struct {
	Provider string       `mapstructure:"provider" yaml:"provider"` // none, s3, azure, gcs
	S3       *S3Config    `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure    *AzureConfig `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS      *GCSConfig   `mapstructure:"gcs" yaml:"gcs,omitempty"`
}

// S3Config for Amazon S3 replication
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// AzureConfig for Azure Blob Storage replication
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage replication
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
}

// CompressionConfig for backup artifact compression
type CompressionConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm"` // gzip, zstd, lz4
	Level     int    `mapstructure:"level" yaml:"level"`
}

// EncryptionConfig for backup artifact encryption
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`
}

// RetentionConfig bounds how many local backups are kept
type RetentionConfig struct {
	MaxBackups int           `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// Config is the complete engine configuration
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Paths         PathsConfig         `mapstructure:"paths" yaml:"paths"`
	Tools         ToolsConfig         `mapstructure:"tools" yaml:"tools"`
	Rollback      RollbackConfig      `mapstructure:"rollback" yaml:"rollback"`
	Integrity     IntegrityConfig     `mapstructure:"integrity" yaml:"integrity"`
	Apps          []AppTables         `mapstructure:"apps" yaml:"apps"`
	LedgerTable   string              `mapstructure:"ledger_table" yaml:"ledger_table"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Storage       StorageConfig       `mapstructure:"storage" yaml:"storage"`
	Compression   CompressionConfig   `mapstructure:"compression" yaml:"compression"`
	Encryption    EncryptionConfig    `mapstructure:"encryption" yaml:"encryption"`
	Retention     RetentionConfig     `mapstructure:"retention" yaml:"retention"`
}

// SetDefaults fills zero-valued settings with engine defaults
func (c *Config) SetDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Paths.BackupDir == "" {
		c.Paths.BackupDir = "backups"
	}
	if c.Paths.ExportDir == "" {
		c.Paths.ExportDir = "exports"
	}
	if c.Paths.ReportsDir == "" {
		c.Paths.ReportsDir = "reports"
	}
	if c.Paths.MigrationsDir == "" {
		c.Paths.MigrationsDir = "migrations"
	}
	if c.Tools.DumpCommand == "" {
		c.Tools.DumpCommand = "mysqldump"
	}
	if c.Tools.ClientCommand == "" {
		c.Tools.ClientCommand = "mysql"
	}
	if c.Tools.MigrateCommand == "" {
		c.Tools.MigrateCommand = "migrate-apply"
	}
	if c.Tools.QueryTimeout == 0 {
		c.Tools.QueryTimeout = 10 * time.Second
	}
	if c.Tools.DumpTimeout == 0 {
		c.Tools.DumpTimeout = 600 * time.Second
	}
	if c.Tools.RestoreTimeout == 0 {
		c.Tools.RestoreTimeout = 600 * time.Second
	}
	if c.Rollback.BatchSize == 0 {
		c.Rollback.BatchSize = 100
	}
	if c.Rollback.DelaySeconds == 0 {
		c.Rollback.DelaySeconds = 1
	}
	if c.LedgerTable == "" {
		c.LedgerTable = "migration_ledger"
	}
	if c.Notifications.System == "" {
		c.Notifications.System = "migration-guard"
	}
	if c.Notifications.Environment == "" {
		c.Notifications.Environment = "production"
	}
	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = "info"
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = "none"
	}
	if c.Compression.Algorithm == "" {
		c.Compression.Algorithm = "gzip"
	}
	if c.Compression.Level == 0 {
		c.Compression.Level = 6
	}
	if c.Retention.MaxBackups == 0 {
		c.Retention.MaxBackups = 20
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Rollback.BatchSize < 1 {
		return fmt.Errorf("rollback batch_size must be at least 1, got %d", c.Rollback.BatchSize)
	}
	if c.Rollback.DelaySeconds < 0 {
		return fmt.Errorf("rollback delay_seconds cannot be negative")
	}
	switch c.Storage.Provider {
	case "none", "":
	case "s3":
		if c.Storage.S3 == nil || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage provider s3 requires a bucket")
		}
	case "azure":
		if c.Storage.Azure == nil || c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage provider azure requires a container name")
		}
	case "gcs":
		if c.Storage.GCS == nil || c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage provider gcs requires a bucket")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	switch c.Compression.Algorithm {
	case "gzip", "zstd", "lz4":
	default:
		return fmt.Errorf("unknown compression algorithm: %s", c.Compression.Algorithm)
	}
	if c.Encryption.Enabled && c.Encryption.Passphrase == "" {
		return fmt.Errorf("encryption enabled but no passphrase configured")
	}
	return nil
}

// TablesForApp returns the configured table list for an application
func (c *Config) TablesForApp(app string) []string {
	for _, at := range c.Apps {
		if at.App == app {
			return at.Tables
		}
	}
	return nil
}
