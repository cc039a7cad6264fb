package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"migration-guard/internal/config"
	"migration-guard/internal/errors"
)

// s3Provider replicates backup artifacts to an Amazon S3 bucket
type s3Provider struct {
	client *s3.S3
	bucket string
	prefix string
}

func newS3Provider(cfg *config.S3Config) (*s3Provider, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("s3 storage configuration is required", nil)
	}

	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create AWS session", err)
	}

	return &s3Provider{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		prefix: objectPrefix(cfg.Prefix),
	}, nil
}

func (p *s3Provider) Store(ctx context.Context, meta *Metadata, payload []byte) (string, error) {
	objectKey := p.prefix + sanitizeObjectName(meta.BackupName)
	location := fmt.Sprintf("s3://%s/%s", p.bucket, objectKey)

	_, err := p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objectKey + "/" + meta.ArtifactFile),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]*string{
			"backup-id":       aws.String(meta.ID),
			"database-name":   aws.String(meta.Database),
			"backup-type":     aws.String(meta.BackupType),
			"backup-checksum": aws.String(meta.Checksum),
		},
	})
	if err != nil {
		return "", errors.NewBackupFailed("failed to upload artifact to S3", err)
	}

	sidecar, err := json.Marshal(meta)
	if err != nil {
		return "", errors.NewBackupFailed("failed to serialize backup metadata", err)
	}

	_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objectKey + "/metadata.json"),
		Body:        bytes.NewReader(sidecar),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"backup-id":     aws.String(meta.ID),
			"database-name": aws.String(meta.Database),
		},
	})
	if err != nil {
		return "", errors.NewBackupFailed("failed to upload metadata to S3", err)
	}

	return location, nil
}

func (p *s3Provider) Delete(ctx context.Context, backupName string) error {
	objectKey := p.prefix + sanitizeObjectName(backupName)

	listResult, err := p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(objectKey + "/"),
	})
	if err != nil {
		return errors.NewBackupFailed("failed to list replicated objects", err)
	}
	if len(listResult.Contents) == 0 {
		return nil
	}

	var objects []*s3.ObjectIdentifier
	for _, obj := range listResult.Contents {
		objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
	}

	_, err = p.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(p.bucket),
		Delete: &s3.Delete{Objects: objects},
	})
	if err != nil {
		return errors.NewBackupFailed("failed to delete replicated objects from S3", err)
	}
	return nil
}

func (p *s3Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		return errors.NewBackupFailed("S3 bucket not accessible", err)
	}

	_, err = p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(p.prefix),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return errors.NewBackupFailed("cannot list S3 objects", err)
	}
	return nil
}

func (p *s3Provider) Name() string { return "s3" }
