package backup

import (
	"context"
	"strings"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
)

// OffsiteProvider replicates backup artifacts to remote object storage. The
// local backup directory stays canonical: replication failures degrade to
// warnings and never fail the backup.
type OffsiteProvider interface {
	// Store uploads an artifact payload with its metadata sidecar and
	// returns the remote location.
	Store(ctx context.Context, meta *Metadata, payload []byte) (string, error)
	// Delete removes a replicated artifact.
	Delete(ctx context.Context, backupName string) error
	// HealthCheck verifies the remote target is reachable and writable.
	HealthCheck(ctx context.Context) error
	// Name identifies the provider in logs.
	Name() string
}

// NewOffsiteProvider constructs the configured replication provider, or
// (nil, nil) when replication is disabled
func NewOffsiteProvider(ctx context.Context, cfg config.StorageConfig) (OffsiteProvider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "s3":
		return newS3Provider(cfg.S3)
	case "azure":
		return newAzureProvider(cfg.Azure)
	case "gcs":
		return newGCSProvider(ctx, cfg.GCS)
	default:
		return nil, errors.NewValidationError("unknown storage provider: "+cfg.Provider, nil)
	}
}

// objectPrefix normalizes a configured key prefix to end with a slash
func objectPrefix(prefix string) string {
	if prefix == "" {
		return "backups/"
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}

// sanitizeObjectName keeps backup names safe as object key segments
func sanitizeObjectName(name string) string {
	sanitized := strings.ReplaceAll(name, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	return sanitized
}
