package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/GreedyKomodoDragon/s3-backup/internal/dump"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Key is the object key of a backup: one browsable prefix per database.
func Key(database, filename string) string {
	return database + "/" + filename
}

// S3RetentionManager handles retention management for S3 backups
type S3RetentionManager struct {
	logger *slog.Logger
	client ListDeleteAPI
	bucket string
}

// NewS3RetentionManager creates a new S3 retention manager
func NewS3RetentionManager(client ListDeleteAPI, bucket string, logger *slog.Logger) *S3RetentionManager {
	return &S3RetentionManager{
		logger: logger,
		client: client,
		bucket: bucket,
	}
}

// ManageRetention keeps the newest retentionCount backups of database.
func (rm *S3RetentionManager) ManageRetention(ctx context.Context, database string, retentionCount int) error {
	if retentionCount <= 0 {
		return nil
	}

	rm.logger.Debug("Managing backup retention", "retention_count", retentionCount, "database", database)

	backupFiles, err := rm.ListBackupFiles(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to list backup files: %w", err)
	}

	filesToDelete := GetFilesToDelete(backupFiles, retentionCount)
	if len(filesToDelete) == 0 {
		return nil
	}

	keysToDelete := make([]string, len(filesToDelete))
	for i, file := range filesToDelete {
		keysToDelete[i] = file.Key
	}

	rm.logger.Info("Deleting old backup files", "database", database, "count", len(keysToDelete), "files", keysToDelete)

	if err := rm.DeleteBackupFiles(ctx, keysToDelete); err != nil {
		return fmt.Errorf("failed to delete old backup files: %w", err)
	}
	return nil
}

// GetFilesToDelete returns the files beyond the newest retentionCount.
// files must be sorted newest first, as ListBackupFiles returns them.
func GetFilesToDelete(files []BackupFile, retentionCount int) []BackupFile {
	if retentionCount <= 0 || len(files) <= retentionCount {
		return nil
	}
	return files[retentionCount:]
}

// ListBackupFiles lists the backups stored under the database prefix, newest
// first by the timestamp in their filename. Objects whose name does not
// follow the backup naming scheme are ignored.
func (rm *S3RetentionManager) ListBackupFiles(ctx context.Context, database string) ([]BackupFile, error) {
	prefix := Key(database, "")

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(rm.bucket),
		Prefix: aws.String(prefix),
	}

	type stamped struct {
		file  BackupFile
		taken int64
	}
	var found []stamped

	paginator := s3.NewListObjectsV2Paginator(rm.client, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			taken, ok := dump.ParseTimestamp(database, path.Base(key))
			if !ok {
				rm.logger.Debug("Skipping object without backup timestamp", "key", key)
				continue
			}
			found = append(found, stamped{
				file: BackupFile{
					Key:          key,
					LastModified: aws.ToTime(obj.LastModified),
					Size:         aws.ToInt64(obj.Size),
				},
				taken: taken.Unix(),
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].taken != found[j].taken {
			return found[i].taken > found[j].taken
		}
		return found[i].file.LastModified.After(found[j].file.LastModified)
	})

	files := make([]BackupFile, len(found))
	for i, f := range found {
		files[i] = f.file
	}
	return files, nil
}

// DeleteBackupFiles deletes multiple backup files from S3
func (rm *S3RetentionManager) DeleteBackupFiles(ctx context.Context, keys []string) error {
	// For compatibility with MinIO, use individual delete operations
	// instead of bulk delete which requires Content-MD5 header
	for _, key := range keys {
		_, err := rm.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(rm.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete object %s: %w", key, err)
		}
	}
	return nil
}
