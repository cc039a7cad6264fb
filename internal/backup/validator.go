package backup

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"migration-guard/internal/errors"
	"migration-guard/internal/logging"
)

// ValidationResult reports the outcome of a local artifact validation pass.
// Validation is read-only: running it twice on the same artifact yields the
// same result and never touches the file.
type ValidationResult struct {
	Path      string
	SizeBytes int64
	Format    string
	Warning   string
}

// Validator checks backup artifacts without opening a database connection
type Validator struct {
	logger *logging.Logger
}

// NewValidator creates an artifact validator
func NewValidator(logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Validator{logger: logger}
}

// Validate checks that an artifact exists, is non-empty, and carries a
// recognizable dump signature. An unrecognized but non-empty artifact is
// accepted with a warning rather than rejected; only missing, empty, or
// unreadable files fail.
func (v *Validator) Validate(path string) (*ValidationResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewVerificationFailed(fmt.Sprintf("backup artifact %s does not exist", path), err)
	}
	if info.Size() == 0 {
		return nil, errors.NewVerificationFailed(fmt.Sprintf("backup artifact %s is empty", path), nil)
	}

	header, err := readHeader(path, 512)
	if err != nil {
		return nil, errors.NewVerificationFailed(fmt.Sprintf("backup artifact %s is unreadable", path), err)
	}

	result := &ValidationResult{
		Path:      path,
		SizeBytes: info.Size(),
		Format:    classifyHeader(header),
	}
	if result.Format == "unknown" {
		result.Warning = "artifact format not recognized; restore may fail"
		v.logger.Warnf("Backup %s: %s", path, result.Warning)
	}
	return result, nil
}

// readHeader reads up to n leading bytes of a file
func readHeader(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, n)
	read, err := f.Read(header)
	if read == 0 && err != nil {
		return nil, err
	}
	return header[:read], nil
}

// classifyHeader maps leading bytes to a known dump format name
func classifyHeader(header []byte) string {
	if IsEncrypted(header) {
		return "encrypted"
	}
	if algorithm := DetectCompression(header); algorithm != "" {
		return algorithm
	}
	if bytes.HasPrefix(header, []byte("PGDMP")) {
		return "pg_custom"
	}

	text := strings.TrimSpace(string(header))
	if strings.HasPrefix(text, "-- MySQL dump") {
		return "mysqldump"
	}
	for _, prefix := range []string{"--", "/*", "CREATE ", "INSERT ", "DROP ", "SET ", "USE ", "BEGIN"} {
		if strings.HasPrefix(text, prefix) {
			return "sql"
		}
	}
	return "unknown"
}
