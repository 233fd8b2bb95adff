package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/GreedyKomodoDragon/s3-backup/internal/storage"
)

// ErrNoBackups is returned when a database has no stored backup.
var ErrNoBackups = errors.New("no backups found")

// Service lists stored backups and fetches them back to local disk.
type Service struct {
	store  ObjectStore
	logger *slog.Logger
}

func NewService(store ObjectStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// List returns the stored backups of database, newest first.
func (s *Service) List(ctx context.Context, database string) ([]storage.BackupFile, error) {
	s.logger.Debug("Searching for backups", "bucket", s.store.BucketName(), "database", database)

	files, err := s.store.ListBackups(ctx, database)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups of %s: %w", database, err)
	}
	return files, nil
}

// Latest returns the newest backup of database.
func (s *Service) Latest(ctx context.Context, database string) (storage.BackupFile, error) {
	files, err := s.List(ctx, database)
	if err != nil {
		return storage.BackupFile{}, err
	}
	if len(files) == 0 {
		return storage.BackupFile{}, fmt.Errorf("%w for %s in bucket %s", ErrNoBackups, database, s.store.BucketName())
	}

	s.logger.Info("Latest backup found",
		"key", files[0].Key,
		"size", files[0].Size,
		"last_modified", files[0].LastModified,
		"count", len(files),
	)
	return files[0], nil
}

// Fetch downloads the newest backup of database into dir and returns the
// local path. The file only appears under its final name once complete.
func (s *Service) Fetch(ctx context.Context, database, dir string) (string, error) {
	latest, err := s.Latest(ctx, database)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dest := filepath.Join(dir, path.Base(latest.Key))
	partial := dest + ".part"

	file, err := os.Create(partial)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", partial, err)
	}

	n, err := s.store.Download(ctx, latest.Key, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return "", err
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}

	s.logger.Info("Backup fetched", "key", latest.Key, "file", dest, "size_bytes", n)
	return dest, nil
}
