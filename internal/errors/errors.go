package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of engine errors
type ErrorType string

const (
	// ErrorTypeBackupFailed represents backup creation or restore failures
	ErrorTypeBackupFailed ErrorType = "backup_failed"
	// ErrorTypeExportFailed represents data export failures
	ErrorTypeExportFailed ErrorType = "export_failed"
	// ErrorTypeRollbackFailed represents migration rollback failures
	ErrorTypeRollbackFailed ErrorType = "rollback_failed"
	// ErrorTypeVerificationFailed represents integrity verification failures
	ErrorTypeVerificationFailed ErrorType = "verification_failed"
	// ErrorTypeConflictUnresolved represents conflicts that require human action
	ErrorTypeConflictUnresolved ErrorType = "conflict_unresolved"
	// ErrorTypeReconciliationIssue represents post-rollback reconciliation issues
	ErrorTypeReconciliationIssue ErrorType = "reconciliation_issue"
	// ErrorTypeToolTimeout represents an external tool exceeding its timeout
	ErrorTypeToolTimeout ErrorType = "tool_timeout"
	// ErrorTypeToolError represents an external tool exiting non-zero
	ErrorTypeToolError ErrorType = "tool_error"
	// ErrorTypeConnection represents database connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// EngineError represents an engine-specific error with context
type EngineError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *EngineError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *EngineError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new engine error
func New(errorType ErrorType, message string, cause error) *EngineError {
	return &EngineError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverable creates a new recoverable engine error
func NewRecoverable(errorType ErrorType, message string, cause error) *EngineError {
	return &EngineError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// NewBackupFailed creates a backup failure error
func NewBackupFailed(message string, cause error) *EngineError {
	return New(ErrorTypeBackupFailed, message, cause)
}

// NewExportFailed creates an export failure error
func NewExportFailed(message string, cause error) *EngineError {
	return New(ErrorTypeExportFailed, message, cause)
}

// NewRollbackFailed creates a rollback failure error
func NewRollbackFailed(message string, cause error) *EngineError {
	return New(ErrorTypeRollbackFailed, message, cause)
}

// NewVerificationFailed creates a verification failure error
func NewVerificationFailed(message string, cause error) *EngineError {
	return New(ErrorTypeVerificationFailed, message, cause)
}

// NewConflictUnresolved creates an error for conflicts needing human action
func NewConflictUnresolved(message string, cause error) *EngineError {
	return New(ErrorTypeConflictUnresolved, message, cause)
}

// NewReconciliationIssue creates a post-rollback reconciliation error
func NewReconciliationIssue(message string, cause error) *EngineError {
	return New(ErrorTypeReconciliationIssue, message, cause)
}

// NewToolTimeout creates an external tool timeout error. Timeouts are
// recoverable: the caller decides whether to retry or restore from backup.
func NewToolTimeout(message string, cause error) *EngineError {
	return NewRecoverable(ErrorTypeToolTimeout, message, cause)
}

// NewToolError creates an external tool failure error
func NewToolError(message string, cause error) *EngineError {
	return New(ErrorTypeToolError, message, cause)
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *EngineError {
	return New(ErrorTypeValidation, message, cause)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an EngineError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *EngineError {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	if execErr := ec.classifyExecError(err); execErr != nil {
		return execErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return New(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyMySQLError classifies MySQL driver errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *EngineError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return New(ErrorTypePermission,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return New(ErrorTypeValidation,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1146: // Table doesn't exist
			return New(ErrorTypeVerificationFailed,
				"Table does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003: // Can't connect to server
			return NewRecoverable(ErrorTypeConnection,
				"Cannot connect to database server - server may be down or unreachable", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2006: // Server has gone away
			return NewRecoverable(ErrorTypeConnection,
				"Database server connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return New(ErrorTypeToolError,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return New(ErrorTypeValidation, "No rows found", err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return NewRecoverable(ErrorTypeConnection, "Database connection is closed", err)
	}

	return nil
}

// classifyExecError classifies subprocess execution errors
func (ec *ErrorClassifier) classifyExecError(err error) *EngineError {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return New(ErrorTypeToolError,
			fmt.Sprintf("external tool exited with code %d", exitErr.ExitCode()), err).
			WithContext("exit_code", exitErr.ExitCode())
	}

	if errors.Is(err, exec.ErrNotFound) {
		return New(ErrorTypeToolError, "external tool not found in PATH", err)
	}

	return nil
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *EngineError {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewRecoverable(ErrorTypeToolTimeout, "Network operation timed out", err)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverable(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverable(ErrorTypeConnection, "Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *EngineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewToolTimeout("Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrorTypeInterruption, "Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *EngineError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return New(ErrorTypeValidation,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return New(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return New(ErrorTypeBackupFailed,
				"No space left on device", err)
		}
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for recoverable operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return New(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		engineErr := rh.classifier.ClassifyError(err)

		if !engineErr.IsRecoverable() {
			return engineErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		delay := rh.calculateDelay(attempt)

		select {
		case <-ctx.Done():
			return New(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(delay):
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

// CreateContextWithTimeout creates a context with timeout and cancellation support
func CreateContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.GetUserMessage()
	}

	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError wraps an existing error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return New(engineErr.Type, message, err)
	}

	classifier := NewErrorClassifier()
	classifiedErr := classifier.ClassifyError(err)
	classifiedErr.Message = message
	return classifiedErr
}
