package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/storage"
)

// mockObjectStore is an in-memory ObjectStore.
type mockObjectStore struct {
	bucketName  string
	files       []storage.BackupFile
	contents    map[string][]byte
	listErr     error
	downloadErr error
	downloaded  []string
}

func newMockObjectStore(bucketName string) *mockObjectStore {
	return &mockObjectStore{bucketName: bucketName, contents: map[string][]byte{}}
}

// addFile appends a backup; callers add them newest first.
func (m *mockObjectStore) addFile(key string, lastModified time.Time, content string) {
	m.files = append(m.files, storage.BackupFile{Key: key, LastModified: lastModified, Size: int64(len(content))})
	m.contents[key] = []byte(content)
}

func (m *mockObjectStore) ListBackups(_ context.Context, database string) ([]storage.BackupFile, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}

	var matching []storage.BackupFile
	for _, f := range m.files {
		if strings.HasPrefix(f.Key, storage.Key(database, "")) {
			matching = append(matching, f)
		}
	}
	return matching, nil
}

func (m *mockObjectStore) Download(_ context.Context, key string, w io.WriterAt) (int64, error) {
	m.downloaded = append(m.downloaded, key)
	data, ok := m.contents[key]
	if !ok {
		return 0, fmt.Errorf("no such key %s", key)
	}
	if m.downloadErr != nil {
		// Simulate a transfer that dies half way.
		n, _ := w.WriteAt(data[:len(data)/2], 0)
		return int64(n), m.downloadErr
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func (m *mockObjectStore) BucketName() string {
	return m.bucketName
}

var errMock = errors.New("mock failure")
