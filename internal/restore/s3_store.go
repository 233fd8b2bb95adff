package restore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/GreedyKomodoDragon/s3-backup/internal/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements ObjectStore for AWS S3 or S3-compatible storage.
// Downloads are split into ranged GETs using the target's part size and
// concurrency.
type S3Store struct {
	lister     storage.RetentionManager
	downloader *manager.Downloader
	bucket     string
	logger     *slog.Logger
}

func NewS3Store(ctx context.Context, target config.StorageTarget, logger *slog.Logger) (*S3Store, error) {
	client, err := storage.NewS3Client(ctx, target)
	if err != nil {
		return nil, err
	}

	logger.Debug("S3 client initialized",
		"bucket", target.Bucket,
		"region", target.Region,
		"custom_endpoint", target.Endpoint != "",
	)
	return newS3Store(client, target, logger), nil
}

func newS3Store(client *s3.Client, target config.StorageTarget, logger *slog.Logger) *S3Store {
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		if target.PartSize > 0 {
			d.PartSize = target.PartSize
		}
		if target.MaxConcurrentParts > 0 {
			d.Concurrency = target.MaxConcurrentParts
		}
	})

	return &S3Store{
		lister:     storage.NewS3RetentionManager(client, target.Bucket, logger),
		downloader: downloader,
		bucket:     target.Bucket,
		logger:     logger,
	}
}

func (s *S3Store) ListBackups(ctx context.Context, database string) ([]storage.BackupFile, error) {
	return s.lister.ListBackupFiles(ctx, database)
}

func (s *S3Store) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	return n, nil
}

func (s *S3Store) BucketName() string {
	return s.bucket
}
