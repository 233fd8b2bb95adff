package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), version)
}

func TestRootCommandMissingConfig(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "absent.yaml")})

	err := root.Execute()
	assert.ErrorIs(t, err, config.ErrConfigFileMissing)
}

func TestRunWithNoInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("s3Default:\n  bucket: backups\n"), 0o600))

	root := newRootCommand()
	root.SetArgs([]string{"--config", path})
	assert.NoError(t, root.Execute())
}

func TestStorageFor(t *testing.T) {
	cfg := &config.Config{
		S3Default: config.S3Config{Bucket: "default"},
		Instances: []config.Instance{
			{Name: "main", Engine: config.EngineMySQL, Databases: []string{"shop"}},
			{Name: "analytics", Engine: config.EnginePostgres, Databases: []string{"events", "shop"}, S3: &config.S3Config{Bucket: "analytics"}},
		},
	}

	target, err := storageFor(cfg, "shop", "")
	require.NoError(t, err)
	assert.Equal(t, "default", target.Bucket)

	target, err = storageFor(cfg, "shop", "analytics")
	require.NoError(t, err)
	assert.Equal(t, "analytics", target.Bucket)

	target, err = storageFor(cfg, "unlisted", "")
	require.NoError(t, err)
	assert.Equal(t, "default", target.Bucket)

	_, err = storageFor(cfg, "events", "main")
	assert.Error(t, err)
}
