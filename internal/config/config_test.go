package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 800, cfg.Splitter.ChunkSize)
	assert.Equal(t, 150, cfg.Splitter.ChunkOverlap)
	assert.True(t, cfg.Index.UseAccelerator)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
splitter:
  chunk_size: 200
  chunk_overlap: 50
index:
  use_accelerator: false
embedder:
  type: OpenAI
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Splitter.ChunkSize)
	assert.Equal(t, 50, cfg.Splitter.ChunkOverlap)
	assert.Equal(t, Default().Splitter.Separators, cfg.Splitter.Separators)
	assert.False(t, cfg.Index.UseAccelerator)
	assert.Equal(t, 5, cfg.Index.SearchK)
	assert.Equal(t, "./uploads", cfg.System.UploadDir)
	assert.Equal(t, []string{".txt", ".md", ".docx", ".pdf"}, cfg.Document.SupportedExtensions)

	assert.Equal(t, "openai", cfg.Embedder.Type)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 30, cfg.Embedder.OpenAI.TimeoutSecs)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown embedder", "embedder:\n  type: bert\n"},
		{"overlap above size", "splitter:\n  chunk_size: 100\n  chunk_overlap: 150\n"},
		{"negative size", "splitter:\n  chunk_size: -1\n"},
		{"negative file size", "document:\n  max_file_size_mb: -5\n"},
		{"malformed yaml", "splitter: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.System.IndexName = "docs"
	cfg.Index.Workers = 3
	cfg.Log.Format = "json"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
