package config

import (
	"fmt"
)

// StorageTarget is the resolved S3 destination for one instance.
type StorageTarget struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool

	MultipartThreshold int64
	PartSize           int64
	MaxConcurrentParts int
	Retention          int
}

// Target applies defaults to the storage block and checks the multipart tuning.
func (s S3Config) Target() (StorageTarget, error) {
	if err := validate.Struct(s); err != nil {
		return StorageTarget{}, err
	}

	t := StorageTarget{
		Endpoint:           s.Endpoint,
		Region:             s.Region,
		AccessKeyID:        s.Key,
		SecretAccessKey:    s.Secret,
		Bucket:             s.Bucket,
		MultipartThreshold: s.MultipartThreshold,
		PartSize:           s.PartSize,
		MaxConcurrentParts: s.MaxConcurrentParts,
		Retention:          s.Retention,
	}

	if t.Region == "" {
		t.Region = DefaultRegion
	}
	if t.MultipartThreshold == 0 {
		t.MultipartThreshold = DefaultMultipartThreshold
	}
	if t.PartSize == 0 {
		t.PartSize = DefaultPartSize
	}
	if t.MaxConcurrentParts == 0 {
		t.MaxConcurrentParts = DefaultMaxConcurrentParts
	}

	// Most S3-compatible services need path-style addressing, AWS does not.
	if s.ForcePathStyle != nil {
		t.UsePathStyle = *s.ForcePathStyle
	} else {
		t.UsePathStyle = s.Endpoint != ""
	}

	if t.PartSize < MinPartSize {
		return StorageTarget{}, fmt.Errorf("%w (got %d)", ErrPartSizeTooSmall, t.PartSize)
	}

	return t, nil
}

// StorageTarget resolves the destination for an instance: its own s3 block
// when present, the process-wide default otherwise.
func (c *Config) StorageTarget(inst Instance) (StorageTarget, error) {
	s3 := c.S3Default
	if inst.S3 != nil {
		s3 = *inst.S3
	}
	if s3.Bucket == "" {
		return StorageTarget{}, fmt.Errorf("%w %s", ErrNoStorage, inst.DisplayName())
	}

	t, err := s3.Target()
	if err != nil {
		return StorageTarget{}, fmt.Errorf("instance %s storage: %w", inst.DisplayName(), err)
	}
	return t, nil
}
