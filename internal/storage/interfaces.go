package storage

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// UploadAPI is the part of the S3 API the upload engine drives. *s3.Client satisfies it.
type UploadAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// ListDeleteAPI is used by retention and listing.
type ListDeleteAPI interface {
	s3.ListObjectsV2APIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// BackupFile represents a backup object in S3
type BackupFile struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Putter transfers a local file to a destination key.
type Putter interface {
	Put(ctx context.Context, key, path string) (*Outcome, error)
}

// RetentionManager interface for handling backup retention
type RetentionManager interface {
	// ManageRetention keeps the newest retentionCount backups of a database and deletes the rest
	ManageRetention(ctx context.Context, database string, retentionCount int) error

	// ListBackupFiles returns the stored backups of a database, newest first
	ListBackupFiles(ctx context.Context, database string) ([]BackupFile, error)
}
