package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory object store that records every call.
type fakeS3 struct {
	mu sync.Mutex

	putErr      error
	createErr   error
	noUploadID  bool
	partErrs    map[int32]error
	partDelay   map[int32]time.Duration
	completeErr error
	abortErr    error
	deleteErr   error

	objects   map[string]types.Object
	putBodies map[string][]byte
	metadata  map[string]map[string]string
	parts     map[int32][]byte

	putCalls      int
	createCalls   int
	partCalls     int
	completeCalls int
	abortCalls    int
	deleted       []string

	inFlight    int
	maxInFlight int
	events      []string

	completed []types.CompletedPart
	abortedID string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		partErrs:  map[int32]error{},
		partDelay: map[int32]time.Duration{},
		objects:   map[string]types.Object{},
		putBodies: map[string][]byte{},
		metadata:  map[string]map[string]string{},
		parts:     map[int32][]byte{},
	}
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := aws.ToString(params.Key)
	f.putBodies[key] = body
	f.metadata[key] = params.Metadata
	return &s3.PutObjectOutput{ETag: aws.String(`"single"`)}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.metadata[aws.ToString(params.Key)] = params.Metadata
	if f.noUploadID {
		return &s3.CreateMultipartUploadOutput{}, nil
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	number := aws.ToInt32(params.PartNumber)

	f.mu.Lock()
	f.partCalls++
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.events = append(f.events, fmt.Sprintf("start %d", number))
	delay := f.partDelay[number]
	partErr := f.partErrs[number]
	f.mu.Unlock()

	body, readErr := io.ReadAll(params.Body)
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.events = append(f.events, fmt.Sprintf("end %d", number))
	if readErr != nil {
		return nil, readErr
	}
	if partErr != nil {
		return nil, partErr
	}
	f.parts[number] = body
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, number))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	f.completed = params.MultipartUpload.Parts
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"multi-3"`)}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls++
	f.abortedID = aws.ToString(params.UploadId)
	if f.abortErr != nil {
		return nil, f.abortErr
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(params.Prefix)
	var contents []types.Object
	for key, obj := range f.objects {
		if strings.HasPrefix(key, prefix) {
			contents = append(contents, obj)
		}
	}
	sort.Slice(contents, func(i, j int) bool {
		return aws.ToString(contents[i].Key) < aws.ToString(contents[j].Key)
	})
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	key := aws.ToString(params.Key)
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) addObject(key string, modified time.Time, size int64) {
	f.objects[key] = types.Object{
		Key:          aws.String(key),
		LastModified: aws.Time(modified),
		Size:         aws.Int64(size),
	}
}

// assembled joins the uploaded parts in part-number order.
func (f *fakeS3) assembled() []byte {
	var numbers []int
	for n := range f.parts {
		numbers = append(numbers, int(n))
	}
	sort.Ints(numbers)

	var out []byte
	for _, n := range numbers {
		out = append(out, f.parts[int32(n)]...)
	}
	return out
}
