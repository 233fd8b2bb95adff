package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// maxParts is the S3 limit on parts per multipart upload.
const maxParts = 10000

// partRange is the byte range [Offset, Offset+Length) of one part.
type partRange struct {
	Number int32
	Offset int64
	Length int64
}

// planParts splits size bytes into ceil(size/partSize) parts. Every part but
// the last is exactly partSize bytes long.
func planParts(size, partSize int64) []partRange {
	count := (size + partSize - 1) / partSize
	parts := make([]partRange, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * partSize
		parts = append(parts, partRange{
			Number: int32(i + 1),
			Offset: offset,
			Length: min(partSize, size-offset),
		})
	}
	return parts
}

// batchParts groups parts into consecutive batches of at most batchSize.
func batchParts(parts []partRange, batchSize int) [][]partRange {
	var batches [][]partRange
	for start := 0; start < len(parts); start += batchSize {
		end := min(start+batchSize, len(parts))
		batches = append(batches, parts[start:end])
	}
	return batches
}

func (u *Uploader) putMultipart(ctx context.Context, key string, file io.ReaderAt, size int64) (outcome *Outcome, err error) {
	parts := planParts(size, u.partSize)
	if len(parts) > maxParts {
		return nil, fmt.Errorf("%w: %d parts of %d bytes for %s", ErrTooManyParts, len(parts), u.partSize, key)
	}

	u.logger.Debug("Using multipart upload", "key", key, "size_mb", size/(1024*1024))

	created, err := u.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		Metadata: u.metadata(),
	})
	if err != nil {
		return nil, &SessionError{Key: key, Err: err}
	}

	uploadID := aws.ToString(created.UploadId)
	if uploadID == "" {
		return nil, &SessionError{Key: key, Err: fmt.Errorf("object store returned an empty upload id")}
	}

	// From here on the session must be completed or aborted.
	defer func() {
		if err != nil {
			err = u.abort(ctx, key, uploadID, err)
		}
	}()

	u.logger.Debug("Multipart upload initiated",
		"key", key,
		"upload_id", uploadID,
		"parts", len(parts),
		"max_concurrent_parts", u.maxConcurrentParts,
	)

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, batch := range batchParts(parts, u.maxConcurrentParts) {
		results, err := u.uploadBatch(ctx, key, uploadID, file, batch)
		if err != nil {
			return nil, err
		}
		completed = append(completed, results...)

		u.logger.Debug("Uploaded part batch",
			"key", key,
			"first_part", batch[0].Number,
			"last_part", batch[len(batch)-1].Number,
			"total_parts", len(parts),
		)
	}

	// Parts finish in any order inside a batch; completion needs them ascending.
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	output, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, &CompletionError{Key: key, UploadID: uploadID, Err: err}
	}

	u.logger.Debug("Multipart upload completed", "key", key, "upload_id", uploadID)

	location := aws.ToString(output.Location)
	if location == "" {
		location = u.location(key)
	}
	return &Outcome{
		Bucket:    u.bucket,
		Key:       key,
		Location:  location,
		ETag:      aws.ToString(output.ETag),
		Size:      size,
		Multipart: true,
		Parts:     len(parts),
	}, nil
}

// uploadBatch uploads every part of the batch concurrently and returns once
// all of them have finished. The first failure is returned.
func (u *Uploader) uploadBatch(ctx context.Context, key, uploadID string, file io.ReaderAt, batch []partRange) ([]types.CompletedPart, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make([]types.CompletedPart, 0, len(batch))

	for _, part := range batch {
		g.Go(func() error {
			etag, err := u.uploadPart(gctx, key, uploadID, file, part)
			if err != nil {
				return &PartUploadError{Key: key, UploadID: uploadID, PartNumber: part.Number, Err: err}
			}

			mu.Lock()
			results = append(results, types.CompletedPart{
				PartNumber: aws.Int32(part.Number),
				ETag:       aws.String(etag),
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (u *Uploader) uploadPart(ctx context.Context, key, uploadID string, file io.ReaderAt, part partRange) (string, error) {
	buf := make([]byte, part.Length)
	n, err := file.ReadAt(buf, part.Offset)
	if int64(n) < part.Length {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("failed to read bytes %d-%d: %w", part.Offset, part.Offset+part.Length, err)
	}

	output, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(part.Number),
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(part.Length),
	})
	if err != nil {
		return "", err
	}

	etag := aws.ToString(output.ETag)
	if etag == "" {
		return "", fmt.Errorf("object store returned no ETag")
	}
	return etag, nil
}

// abort releases the multipart session after cause. The returned error is
// always cause; when the abort itself fails a LeakedSessionWarning is
// attached to it.
func (u *Uploader) abort(ctx context.Context, key, uploadID string, cause error) error {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.abortTimeout)
	defer cancel()

	_, err := u.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		warning := &LeakedSessionWarning{Bucket: u.bucket, Key: key, UploadID: uploadID, Err: err}
		u.logger.Error("Failed to abort multipart upload, session left open",
			"key", key,
			"upload_id", uploadID,
			"error", err,
			"cause", cause,
		)
		return &leakedError{err: cause, warning: warning}
	}

	u.logger.Debug("Aborted multipart upload", "key", key, "upload_id", uploadID, "cause", cause)
	return cause
}
