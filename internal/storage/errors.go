package storage

import (
	"errors"
	"fmt"
)

// ErrTooManyParts is returned when a file would need more parts than S3 allows.
var ErrTooManyParts = errors.New("file needs more multipart parts than the object store allows")

// AccessError means the local file could not be stat'ed or opened. No
// network call has been made when it is returned.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot access backup file %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// EmptyPayloadError means the local file has zero bytes.
type EmptyPayloadError struct {
	Path string
}

func (e *EmptyPayloadError) Error() string {
	return fmt.Sprintf("backup file %s is empty", e.Path)
}

// PutError is a failed single-object upload.
type PutError struct {
	Key string
	Err error
}

func (e *PutError) Error() string {
	return fmt.Sprintf("failed to upload %s: %v", e.Key, e.Err)
}

func (e *PutError) Unwrap() error { return e.Err }

// SessionError is a failure to open a multipart session.
type SessionError struct {
	Key string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("failed to create multipart upload for %s: %v", e.Key, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

type PartUploadError struct {
	Key        string
	UploadID   string
	PartNumber int32
	Err        error
}

func (e *PartUploadError) Error() string {
	return fmt.Sprintf("failed to upload part %d of %s: %v", e.PartNumber, e.Key, e.Err)
}

func (e *PartUploadError) Unwrap() error { return e.Err }

type CompletionError struct {
	Key      string
	UploadID string
	Err      error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("failed to complete multipart upload for %s: %v", e.Key, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// LeakedSessionWarning reports a multipart session that could not be
// aborted. The object store keeps its parts (and bills for them) until its
// own cleanup of abandoned uploads runs.
type LeakedSessionWarning struct {
	Bucket   string
	Key      string
	UploadID string
	Err      error
}

func (w *LeakedSessionWarning) Error() string {
	return fmt.Sprintf("multipart upload %s for s3://%s/%s was not aborted: %v", w.UploadID, w.Bucket, w.Key, w.Err)
}

func (w *LeakedSessionWarning) Unwrap() error { return w.Err }

// leakedError carries the original transfer failure together with the
// warning about the session left behind. Error() leads with the original.
type leakedError struct {
	err     error
	warning *LeakedSessionWarning
}

func (e *leakedError) Error() string {
	return fmt.Sprintf("%v (abort failed, upload %s left open)", e.err, e.warning.UploadID)
}

func (e *leakedError) Unwrap() []error {
	return []error{e.err, e.warning}
}
