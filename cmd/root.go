package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"migration-guard/internal/backup"
	"migration-guard/internal/config"
	"migration-guard/internal/confirmation"
	"migration-guard/internal/database"
	"migration-guard/internal/display"
	"migration-guard/internal/logging"
	"migration-guard/internal/notify"
	"migration-guard/internal/procrunner"
	"migration-guard/internal/state"
)

var cfgFile string

// CLI flag variables
var (
	dbHost     string
	dbPort     int
	dbUser     string
	dbPassword string
	dbName     string

	verbose     bool
	quiet       bool
	autoApprove bool
	logFile     string

	noColor bool
	noIcons bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "migration-guard",
	Short: "Emergency migration rollback and reconciliation for MySQL databases",
	Long: `Migration Guard protects a production MySQL database during emergency
migration rollbacks. Every destructive operation starts with a validated
backup, and any failure after that point restores the database from it
before the failure is reported.

Operations include backups with compression, encryption and offsite
replication, single and gradual migration rollbacks, conflict detection
and resolution, data integrity verification, and post-rollback
reconciliation against a backup.

Examples:
  # Create a backup before a risky change
  migration-guard create-backup pre-deploy

  # Roll back one migration with automatic recovery on failure
  migration-guard rollback-migration clinic 20240101_add_visits

  # Gradual rollback with back-pressure between batches
  migration-guard gradual-rollback clinic 20240101_add_visits --batch-size 50 --delay-seconds 2

  # Verify database integrity against the latest export
  migration-guard verify-integrity --export-path exports/export-20240101.json

  # Reconcile live data against a known-good backup
  migration-guard reconcile-data backups/backup-clinic-20240101.sql`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.migration-guard.yaml)")

	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "", "database host")
	rootCmd.PersistentFlags().IntVar(&dbPort, "db-port", 3306, "database port")
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", "", "database username")
	rootCmd.PersistentFlags().StringVar(&dbPassword, "db-password", "", "database password")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "", "database name")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&autoApprove, "auto-approve", false, "skip confirmation prompts for destructive operations")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file in addition to stdout")

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().BoolVar(&noIcons, "no-icons", false, "disable Unicode icons")

	viper.BindPFlag("database.host", rootCmd.PersistentFlags().Lookup("db-host"))
	viper.BindPFlag("database.port", rootCmd.PersistentFlags().Lookup("db-port"))
	viper.BindPFlag("database.username", rootCmd.PersistentFlags().Lookup("db-user"))
	viper.BindPFlag("database.password", rootCmd.PersistentFlags().Lookup("db-password"))
	viper.BindPFlag("database.database", rootCmd.PersistentFlags().Lookup("db-name"))

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".migration-guard")
	}

	viper.SetEnvPrefix("MIGRATION_GUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig builds the engine configuration from the config file, the
// environment and CLI flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	flags := cmd.Root().PersistentFlags()
	if dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if flags.Changed("db-port") {
		cfg.Database.Port = dbPort
	}
	if dbUser != "" {
		cfg.Database.Username = dbUser
	}
	if dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if dbName != "" {
		cfg.Database.Database = dbName
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// engine holds the wired components one CLI invocation operates on
type engine struct {
	cfg       *config.Config
	logger    *logging.Logger
	display   display.DisplayService
	confirm   confirmation.Service
	runner    procrunner.ProcessRunner
	notifier  *notify.Dispatcher
	dbService *database.Service
	db        *sql.DB
	ledger    *database.LedgerStore
	inspector *state.Inspector
	backups   *backup.Manager
}

// newEngine loads configuration and wires the components. Commands that
// never touch the ledger pass needsDB=false and skip the connection.
func newEngine(ctx context.Context, cmd *cobra.Command, needsDB bool) (*engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:    cfg,
		logger: logger,
		display: display.NewDisplayService(display.Options{
			Theme:   "dark",
			NoColor: noColor,
			NoIcons: noIcons,
			Quiet:   quiet,
		}),
		runner:   procrunner.NewRunner(logger),
		notifier: notify.NewDispatcher(cfg.Notifications, logger),
	}
	e.confirm = confirmation.NewService(e.display)

	if needsDB {
		e.dbService = database.NewServiceWithLogger(logger)
		db, err := e.dbService.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		e.db = db
		e.ledger = database.NewLedgerStore(db, cfg.LedgerTable, cfg.Tools.QueryTimeout, logger)
		e.inspector = state.NewInspector(e.ledger, cfg.Paths.MigrationsDir, cfg.Paths.BackupDir, logger)
	}

	if err := ensurePassphrase(cfg); err != nil {
		return nil, err
	}

	offsite, err := backup.NewOffsiteProvider(ctx, cfg.Storage)
	if err != nil {
		e.display.Warning(fmt.Sprintf("Offsite storage unavailable: %v", err))
		logger.Warnf("Offsite storage provider failed to initialize: %v", err)
		offsite = nil
	}

	var prober backup.StateProber
	if e.inspector != nil {
		prober = e.inspector
	}
	e.backups = backup.NewManager(cfg, e.runner, prober, offsite, logger)

	return e, nil
}

// Close releases the database connection if one was opened
func (e *engine) Close() {
	if e.db != nil {
		if err := e.dbService.Close(e.db); err != nil {
			e.logger.Warnf("Failed to close database connection: %v", err)
		}
	}
}

func newLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}
	return logging.NewLogger(logging.Config{
		Level:   level,
		LogFile: logFile,
	})
}

// ensurePassphrase prompts for the encryption passphrase when encryption is
// enabled but no passphrase was configured. The prompt never echoes.
func ensurePassphrase(cfg *config.Config) error {
	if !cfg.Encryption.Enabled || cfg.Encryption.Passphrase != "" {
		return nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("encryption enabled but no passphrase configured; set encryption.passphrase or MIGRATION_GUARD_ENCRYPTION_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, "Encryption passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return fmt.Errorf("passphrase cannot be empty")
	}
	cfg.Encryption.Passphrase = string(passphrase)
	return nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("migration-guard version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file for use with the --config flag.

Examples:
  migration-guard config > .migration-guard.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(sampleConfig)
		},
	}
}

const sampleConfig = `# Migration Guard configuration file

# Target database connection
database:
  host: localhost
  port: 3306
  username: root
  password: ""            # prefer MIGRATION_GUARD_DATABASE_PASSWORD
  database: clinic

# Filesystem locations
paths:
  backup_dir: backups
  export_dir: exports
  reports_dir: reports
  migrations_dir: migrations

# External tool commands and timeout budgets
tools:
  dump_command: mysqldump
  client_command: mysql
  migrate_command: migrate-apply
  query_timeout: 10s
  dump_timeout: 600s
  restore_timeout: 600s

# Migration ledger table read over SQL
ledger_table: migration_ledger

# Applications and the tables they own, in export order
apps:
  - app: clinic
    tables: [patients, visits, prescriptions]

# Gradual rollback pacing
rollback:
  batch_size: 100
  delay_seconds: 1
  # data_rollback_sql: "DELETE FROM audit_log WHERE migration = ':migration' LIMIT 100"

# Integrity verification battery
integrity:
  critical_tables: [patients, visits]
  foreign_keys:
    - table: visits
      column: patient_id
      ref_table: patients
      ref_column: id
  duplicates:
    - table: patients
      columns: [national_id]
  timestamps:
    - table: visits
      column: visit_date
  business_rules:
    - name: orphaned_prescriptions
      query: "SELECT COUNT(*) FROM prescriptions p LEFT JOIN visits v ON p.visit_id = v.id WHERE v.id IS NULL"
      description: prescriptions must reference an existing visit

# Backup artifact pipeline
compression:
  enabled: true
  algorithm: gzip         # gzip, zstd, lz4
  level: 6
encryption:
  enabled: false
  passphrase: ""          # prefer MIGRATION_GUARD_ENCRYPTION_PASSPHRASE
retention:
  max_backups: 20
  max_age: 720h

# Offsite backup replication (local artifact stays canonical)
storage:
  provider: none          # none, s3, azure, gcs
  # s3:
  #   bucket: my-backups
  #   region: eu-west-1
  #   prefix: migration-guard/

# Outbound notifications
notifications:
  enabled: false
  system: migration-guard
  environment: production
  min_severity: info
  rate_limit: 0s          # suppress repeats of an event type within the window
  # webhook:
  #   url: https://ops.example.com/hooks/migrations
  #   timeout: 10s
  # file:
  #   path: notifications.log
`
