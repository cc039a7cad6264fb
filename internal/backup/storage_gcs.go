package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
)

// gcsProvider replicates backup artifacts to Google Cloud Storage
type gcsProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

func newGCSProvider(ctx context.Context, cfg *config.GCSConfig) (*gcsProvider, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("gcs storage configuration is required", nil)
	}

	var client *storage.Client
	var err error
	if cfg.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
	} else {
		// Fall back to ambient credentials from the environment.
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create GCS client", err)
	}

	return &gcsProvider{
		client:     client,
		bucketName: cfg.Bucket,
		prefix:     objectPrefix(cfg.Prefix),
	}, nil
}

func (p *gcsProvider) Store(ctx context.Context, meta *Metadata, payload []byte) (string, error) {
	objectName := p.prefix + sanitizeObjectName(meta.BackupName)
	location := fmt.Sprintf("gs://%s/%s", p.bucketName, objectName)
	bucket := p.client.Bucket(p.bucketName)

	artifactWriter := bucket.Object(objectName + "/" + meta.ArtifactFile).NewWriter(ctx)
	artifactWriter.ContentType = "application/octet-stream"
	artifactWriter.Metadata = map[string]string{
		"backup-id":       meta.ID,
		"database-name":   meta.Database,
		"backup-type":     meta.BackupType,
		"backup-checksum": meta.Checksum,
	}
	if _, err := artifactWriter.Write(payload); err != nil {
		artifactWriter.Close()
		return "", errors.NewBackupFailed("failed to write artifact to GCS", err)
	}
	if err := artifactWriter.Close(); err != nil {
		return "", errors.NewBackupFailed("failed to upload artifact to GCS", err)
	}

	sidecar, err := json.Marshal(meta)
	if err != nil {
		return "", errors.NewBackupFailed("failed to serialize backup metadata", err)
	}

	metadataWriter := bucket.Object(objectName + "/metadata.json").NewWriter(ctx)
	metadataWriter.ContentType = "application/json"
	metadataWriter.Metadata = map[string]string{
		"backup-id":     meta.ID,
		"database-name": meta.Database,
	}
	if _, err := metadataWriter.Write(sidecar); err != nil {
		metadataWriter.Close()
		return "", errors.NewBackupFailed("failed to write metadata to GCS", err)
	}
	if err := metadataWriter.Close(); err != nil {
		return "", errors.NewBackupFailed("failed to upload metadata to GCS", err)
	}

	return location, nil
}

func (p *gcsProvider) Delete(ctx context.Context, backupName string) error {
	objectName := p.prefix + sanitizeObjectName(backupName)
	bucket := p.client.Bucket(p.bucketName)

	it := bucket.Objects(ctx, &storage.Query{Prefix: objectName + "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return errors.NewBackupFailed("failed to list replicated objects", err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
			return errors.NewBackupFailed("failed to delete replicated object "+attrs.Name, err)
		}
	}
	return nil
}

func (p *gcsProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Bucket(p.bucketName).Attrs(ctx)
	if err != nil {
		return errors.NewBackupFailed("GCS bucket not accessible", err)
	}
	return nil
}

func (p *gcsProvider) Name() string { return "gcs" }
