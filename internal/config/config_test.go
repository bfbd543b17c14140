package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults.ArtifactDir, cfg.ArtifactDir)
	assert.Equal(t, defaults.Sources.Scripts, cfg.Sources.Scripts)
	assert.Equal(t, defaults.Sources.Schema, cfg.Sources.Schema)
	assert.Equal(t, 3, cfg.Query.RebuildRetries)
	assert.InDelta(t, 0.3, cfg.Search.Threshold, 1e-9)
}

func TestLoadReadsYAMLOverrides(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DefaultArtifactDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`sources:
  scripts:
    - pipeline/*.py
  schema:
    - db/*.ts
query:
  rebuild_retries: 5
  retry_backoff: 50ms
search:
  limit: 3
`), 0644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"pipeline/*.py"}, cfg.Sources.Scripts)
	assert.Equal(t, []string{"db/*.ts"}, cfg.Sources.Schema)
	assert.Equal(t, DefaultConfig().Sources.Python, cfg.Sources.Python)
	assert.Equal(t, 5, cfg.Query.RebuildRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Query.RetryBackoff)
	assert.Equal(t, 3, cfg.Search.Limit)
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.Threshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ArtifactDir = "/abs"
	assert.Error(t, cfg.Validate())
}
