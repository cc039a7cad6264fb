package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
)

// azureProvider replicates backup artifacts to Azure Blob Storage
type azureProvider struct {
	serviceURL    azblob.ServiceURL
	containerName string
	prefix        string
}

func newAzureProvider(cfg *config.AzureConfig) (*azureProvider, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("azure storage configuration is required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, errors.NewBackupFailed("failed to parse Azure service URL", err)
	}

	return &azureProvider{
		serviceURL:    azblob.NewServiceURL(*serviceURL, pipeline),
		containerName: cfg.ContainerName,
		prefix:        objectPrefix(cfg.Prefix),
	}, nil
}

func (p *azureProvider) Store(ctx context.Context, meta *Metadata, payload []byte) (string, error) {
	blobName := p.prefix + sanitizeObjectName(meta.BackupName)
	location := fmt.Sprintf("azure://%s/%s", p.containerName, blobName)
	containerURL := p.serviceURL.NewContainerURL(p.containerName)

	artifactURL := containerURL.NewBlockBlobURL(blobName + "/" + meta.ArtifactFile)
	_, err := azblob.UploadBufferToBlockBlob(ctx, payload, artifactURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata: azblob.Metadata{
			"backup_id":       meta.ID,
			"database_name":   meta.Database,
			"backup_type":     meta.BackupType,
			"backup_checksum": meta.Checksum,
		},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/octet-stream"},
	})
	if err != nil {
		return "", errors.NewBackupFailed("failed to upload artifact to Azure", err)
	}

	sidecar, err := json.Marshal(meta)
	if err != nil {
		return "", errors.NewBackupFailed("failed to serialize backup metadata", err)
	}

	metadataURL := containerURL.NewBlockBlobURL(blobName + "/metadata.json")
	_, err = azblob.UploadBufferToBlockBlob(ctx, sidecar, metadataURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata: azblob.Metadata{
			"backup_id":     meta.ID,
			"database_name": meta.Database,
		},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/json"},
	})
	if err != nil {
		return "", errors.NewBackupFailed("failed to upload metadata to Azure", err)
	}

	return location, nil
}

func (p *azureProvider) Delete(ctx context.Context, backupName string) error {
	blobName := p.prefix + sanitizeObjectName(backupName)
	containerURL := p.serviceURL.NewContainerURL(p.containerName)

	for marker := (azblob.Marker{}); marker.NotDone(); {
		listing, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: blobName + "/",
		})
		if err != nil {
			return errors.NewBackupFailed("failed to list replicated blobs", err)
		}
		marker = listing.NextMarker

		for _, blob := range listing.Segment.BlobItems {
			blobURL := containerURL.NewBlockBlobURL(blob.Name)
			_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
			if err != nil {
				return errors.NewBackupFailed("failed to delete replicated blob "+blob.Name, err)
			}
		}
	}
	return nil
}

func (p *azureProvider) HealthCheck(ctx context.Context) error {
	containerURL := p.serviceURL.NewContainerURL(p.containerName)
	_, err := containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return errors.NewBackupFailed("Azure container not accessible", err)
	}
	return nil
}

func (p *azureProvider) Name() string { return "azure" }
