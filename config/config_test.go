package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movne/advisor-backend/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "native", cfg.Storage.IndexBackend)
	assert.Equal(t, 3, cfg.Assembler.TopChunks)
	assert.Equal(t, 5, cfg.Assembler.HistoryLimit)
	assert.Equal(t, "tokens", cfg.Assembler.BudgetUnit)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9100"
storage:
  index_backend: chromem
assembler:
  top_chunks: 5
  budget: 12000
memory:
  retention_days: 30
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "chromem", cfg.Storage.IndexBackend)
	assert.Equal(t, 5, cfg.Assembler.TopChunks)
	assert.Equal(t, 12000, cfg.Assembler.Budget)
	assert.Equal(t, 30, cfg.Memory.RetentionDays)
	// Untouched sections keep their defaults.
	assert.Equal(t, "anthropic", cfg.Generation.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9100\"\n"), 0o644))

	t.Setenv("ADVISOR_ADDR", ":9200")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("ADVISOR_RETENTION_DAYS", "7")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.Server.Addr)
	assert.Equal(t, "test-key", cfg.Generation.AnthropicAPIKey)
	assert.Equal(t, 7, cfg.Memory.RetentionDays)
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  backend: openai\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "embedding backend")
}

func TestRetention(t *testing.T) {
	cfg := config.Default()
	assert.Zero(t, cfg.Retention())
	cfg.Memory.RetentionDays = 2
	assert.Equal(t, 48, int(cfg.Retention().Hours()))
}
