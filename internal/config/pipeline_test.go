package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotDefaults(t *testing.T) {
	for _, key := range []string{"MAX_DOCUMENT_PAGES", "OCR_TIMEOUT_SECONDS", "BATCH_WORKERS", "PIPELINE_CONFIG_FILE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	s, err := Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 20, s.MaxPages)
	assert.Equal(t, DefaultTimeout, s.Timeout)
	assert.GreaterOrEqual(t, s.Workers, 1)
	assert.Equal(t, 50, s.MinEmbeddedChars)
	assert.Equal(t, 30.0, s.MinTokenConfidence)
	assert.Equal(t, 150, s.RenderDPI)
}

func TestSnapshotEnvironmentOverrides(t *testing.T) {
	t.Setenv("MAX_DOCUMENT_PAGES", "5")
	t.Setenv("OCR_TIMEOUT_SECONDS", "7")
	t.Setenv("BATCH_WORKERS", "3")
	t.Setenv("PIPELINE_CONFIG_FILE", "")

	s, err := Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 5, s.MaxPages)
	assert.Equal(t, 7*time.Second, s.Timeout)
	assert.Equal(t, 3, s.Workers)
}

func TestSnapshotInvalidIntKeepsDefault(t *testing.T) {
	t.Setenv("MAX_DOCUMENT_PAGES", "twenty")
	t.Setenv("PIPELINE_CONFIG_FILE", "")

	s, err := Snapshot()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPages, s.MaxPages)
}

func TestSnapshotYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_pages: 40\ntimeout: 90s\nlanguage: deu\n"), 0o644))

	t.Setenv("MAX_DOCUMENT_PAGES", "5")
	t.Setenv("PIPELINE_CONFIG_FILE", path)

	s, err := Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 40, s.MaxPages)
	assert.Equal(t, 90*time.Second, s.Timeout)
	assert.Equal(t, "deu", s.Language)
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	s := PipelineSettings{MaxPages: -1, MinTokenConfidence: 150}.Normalize()

	assert.Equal(t, DefaultMaxPages, s.MaxPages)
	assert.Equal(t, DefaultMinTokenConfidence, s.MinTokenConfidence)
	assert.Equal(t, DefaultTimeout, s.Timeout)
}
