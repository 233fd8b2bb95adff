package restore

import (
	"context"
	"io"

	"github.com/GreedyKomodoDragon/s3-backup/internal/storage"
)

// ObjectStore is the read side of the backup bucket.
type ObjectStore interface {
	// ListBackups returns the backups of a database, newest first
	ListBackups(ctx context.Context, database string) ([]storage.BackupFile, error)

	// Download writes the object at key into w and returns the bytes written
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)

	// BucketName returns the bucket name for logging purposes
	BucketName() string
}
