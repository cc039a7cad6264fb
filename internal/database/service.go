package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
	"migration-guard/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// DatabaseService defines the interface for database connections
type DatabaseService interface {
	Connect(cfg config.DatabaseConfig) (*sql.DB, error)
	TestConnection(ctx context.Context, db *sql.DB) error
	Close(db *sql.DB) error
}

// Service implements the DatabaseService interface
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
}

// NewService creates a new database service with default settings
func NewService() *Service {
	return NewServiceWithLogger(logging.NewDefaultLogger())
}

// NewServiceWithLogger creates a new database service with a custom logger
func NewServiceWithLogger(logger *logging.Logger) *Service {
	return &Service{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
		retryHandler:      errors.NewDefaultRetryHandler(),
	}
}

// Connect establishes a connection to the target database with retry logic
func (s *Service) Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	startTime := time.Now()

	s.logger.WithFields(map[string]interface{}{
		"host":     cfg.Host,
		"database": cfg.Database,
		"port":     cfg.Port,
	}).Info("Attempting database connection")

	ctx, cancel := errors.CreateContextWithTimeout(s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		var connectErr error

		db, connectErr = sql.Open("mysql", cfg.DSN())
		if connectErr != nil {
			return connectErr
		}

		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)

		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		defer pingCancel()
		return db.PingContext(pingCtx)
	})

	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"host":     cfg.Host,
			"database": cfg.Database,
			"duration": time.Since(startTime).String(),
			"error":    err.Error(),
		}).Error("Database connection failed")
		return nil, errors.WrapError(err, fmt.Sprintf("failed to connect to %s/%s", cfg.Host, cfg.Database))
	}

	s.logger.WithFields(map[string]interface{}{
		"host":     cfg.Host,
		"database": cfg.Database,
		"duration": time.Since(startTime).String(),
	}).Info("Database connection established")

	return db, nil
}

// TestConnection verifies the connection is alive
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewValidationError("database connection is nil", nil)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return errors.NewErrorClassifier().ClassifyError(err)
	}
	return nil
}

// Close closes the database connection
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
