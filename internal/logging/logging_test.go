package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	logger, closer, err := New(&config.Config{})
	require.NoError(t, err)
	defer closer.Close()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger, closer, err = New(&config.Config{Debug: true})
	require.NoError(t, err)
	defer closer.Close()
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "s3-backup.log")

	logger, closer, err := New(&config.Config{Log: config.Log{File: path, MaxSizeMB: 1}})
	require.NoError(t, err)

	logger.Info("Backup started", "instance", "primary")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Backup started")
	assert.Contains(t, string(content), "instance=primary")
}
