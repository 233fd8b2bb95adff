package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client builds an S3 client for the resolved storage target. Static
// credentials are used when both key and secret are set, otherwise the
// default AWS credential chain applies.
func NewS3Client(ctx context.Context, target config.StorageTarget) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(target.Region),
	}

	if target.AccessKeyID != "" && target.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(target.AccessKeyID, target.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// S3-compatible providers (MinIO, R2, Spaces, B2) are reached through a custom endpoint.
		if target.Endpoint != "" {
			o.BaseEndpoint = aws.String(target.Endpoint)
		}
		o.UsePathStyle = target.UsePathStyle
	})

	return client, nil
}

// Open wires an ObjectManager for target: one S3 client shared by the
// uploader and the retention manager.
func Open(ctx context.Context, target config.StorageTarget, logger *slog.Logger) (*ObjectManager, error) {
	client, err := NewS3Client(ctx, target)
	if err != nil {
		return nil, err
	}

	logger = logger.With("bucket", target.Bucket)
	uploader := NewUploader(client, target, logger)
	retention := NewS3RetentionManager(client, target.Bucket, logger)
	return NewObjectManager(uploader, retention, target.Retention, logger), nil
}
