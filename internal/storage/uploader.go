package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const uploadedBy = "s3-backup"

// Outcome describes an object that was stored successfully.
type Outcome struct {
	Bucket    string
	Key       string
	Location  string
	ETag      string
	Size      int64
	Multipart bool
	Parts     int

	// RetentionErr is set by ObjectManager when the upload succeeded but
	// pruning older backups did not.
	RetentionErr error
}

// Uploader transfers local files to one bucket. Files below the multipart
// threshold go up in a single PutObject call, larger ones through a
// multipart session that is either completed or aborted before Put returns.
type Uploader struct {
	client UploadAPI
	bucket string
	logger *slog.Logger

	multipartThreshold int64
	partSize           int64
	maxConcurrentParts int
	abortTimeout       time.Duration
}

// NewUploader creates an uploader for the bucket and multipart tuning of target.
func NewUploader(client UploadAPI, target config.StorageTarget, logger *slog.Logger) *Uploader {
	u := &Uploader{
		client:             client,
		bucket:             target.Bucket,
		logger:             logger,
		multipartThreshold: target.MultipartThreshold,
		partSize:           target.PartSize,
		maxConcurrentParts: target.MaxConcurrentParts,
		abortTimeout:       30 * time.Second,
	}
	if u.multipartThreshold <= 0 {
		u.multipartThreshold = config.DefaultMultipartThreshold
	}
	if u.partSize < config.MinPartSize {
		u.partSize = config.DefaultPartSize
	}
	if u.maxConcurrentParts < 1 {
		u.maxConcurrentParts = 1
	}
	return u
}

// Put uploads the file at path to key.
func (u *Uploader) Put(ctx context.Context, key, path string) (*Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &AccessError{Path: path, Err: fmt.Errorf("not a regular file")}
	}

	size := info.Size()
	if size == 0 {
		return nil, &EmptyPayloadError{Path: path}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}
	defer file.Close()

	if size < u.multipartThreshold {
		return u.putSingle(ctx, key, file, size)
	}
	return u.putMultipart(ctx, key, file, size)
}

func (u *Uploader) putSingle(ctx context.Context, key string, file *os.File, size int64) (*Outcome, error) {
	u.logger.Debug("Uploading backup in a single request", "key", key, "size_bytes", size)

	output, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(size),
		Metadata:      u.metadata(),
	})
	if err != nil {
		return nil, &PutError{Key: key, Err: err}
	}

	return &Outcome{
		Bucket:   u.bucket,
		Key:      key,
		Location: u.location(key),
		ETag:     aws.ToString(output.ETag),
		Size:     size,
	}, nil
}

func (u *Uploader) metadata() map[string]string {
	return map[string]string{
		"uploaded-by": uploadedBy,
		"timestamp":   fmt.Sprintf("%d", time.Now().Unix()),
	}
}

func (u *Uploader) location(key string) string {
	return fmt.Sprintf("s3://%s/%s", u.bucket, key)
}
