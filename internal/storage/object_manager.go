package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// ObjectManager coordinates uploads and retention management
type ObjectManager struct {
	uploader         Putter
	retentionManager RetentionManager
	retentionCount   int
	logger           *slog.Logger
}

// NewObjectManager creates a new object manager. retentionCount <= 0 keeps every backup.
func NewObjectManager(uploader Putter, retentionManager RetentionManager, retentionCount int, logger *slog.Logger) *ObjectManager {
	return &ObjectManager{
		uploader:         uploader,
		retentionManager: retentionManager,
		retentionCount:   retentionCount,
		logger:           logger,
	}
}

// Store uploads a dump file to {database}/{filename} and applies the retention policy.
func (m *ObjectManager) Store(ctx context.Context, database, filename, path string) (*Outcome, error) {
	key := Key(database, filename)

	outcome, err := m.uploader.Put(ctx, key, path)
	if err != nil {
		return nil, err
	}

	if m.retentionCount > 0 && m.retentionManager != nil {
		if err := m.retentionManager.ManageRetention(ctx, database, m.retentionCount); err != nil {
			// Don't fail the upload if retention fails
			m.logger.Warn("Failed to apply retention policy", "database", database, "error", err)
			outcome.RetentionErr = fmt.Errorf("retention for %s: %w", database, err)
		}
	}

	return outcome, nil
}
