package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestEnvOverrides_Migration proves the AGENT_MCP_MIGRATION_<KEY> precedence:
// an explicit env var always wins over whatever Load() already populated
// from YAML or defaults.
func TestEnvOverrides_Migration(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envVal   string
		check    func(t *testing.T, c *Config)
	}{
		{
			name:   "lock timeout override",
			envKey: "AGENT_MCP_MIGRATION_LOCK_TIMEOUT_SEC",
			envVal: "120",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 120, c.Migration.LockTimeoutSec)
			},
		},
		{
			name:   "lock stale override",
			envKey: "AGENT_MCP_MIGRATION_LOCK_STALE_SEC",
			envVal: "600",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 600, c.Migration.LockStaleSec)
			},
		},
		{
			name:   "interactive disabled",
			envKey: "AGENT_MCP_MIGRATION_INTERACTIVE",
			envVal: "false",
			check: func(t *testing.T, c *Config) {
				assert.False(t, c.Migration.Interactive)
			},
		},
		{
			name:   "backup dir override",
			envKey: "AGENT_MCP_MIGRATION_BACKUP_DIR",
			envVal: "/tmp/backups",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "/tmp/backups", c.Migration.BackupDir)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envVal)
			cfg := DefaultConfig()
			cfg.applyEnvOverrides()
			tt.check(t, cfg)
		})
	}
}

func TestEnvOverrides_RAG(t *testing.T) {
	t.Setenv("MAX_EMBEDDING_BATCH_SIZE", "25")
	t.Setenv("TASK_DUPLICATION_THRESHOLD", "0.5")
	t.Setenv("ENABLE_TASK_PLACEMENT_RAG", "false")
	t.Setenv("ALLOW_RAG_OVERRIDE", "false")
	t.Setenv("TASK_PLACEMENT_RAG_TIMEOUT", "10s")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 25, cfg.RAG.MaxEmbeddingBatchSize)
	assert.Equal(t, 0.5, cfg.RAG.TaskDuplicationThresh)
	assert.False(t, cfg.RAG.EnableTaskPlacementRAG)
	assert.False(t, cfg.RAG.AllowRAGOverride)
	assert.Equal(t, "10s", cfg.RAG.QueryTimeout)
}

func TestEnvOverrides_Embedding(t *testing.T) {
	t.Setenv("GENAI_API_KEY", "test-key")
	t.Setenv("OLLAMA_ENDPOINT", "http://example:11434")
	t.Setenv("OLLAMA_EMBEDDING_MODEL", "custom-model")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "test-key", cfg.Embedding.GenAIAPIKey)
	assert.Equal(t, "genai", cfg.Embedding.Provider)
	assert.Equal(t, "http://example:11434", cfg.Embedding.OllamaEndpoint)
	assert.Equal(t, "custom-model", cfg.Embedding.OllamaModel)
}

func TestEnvOverrides_StorePath(t *testing.T) {
	t.Setenv("AGENT_MCP_DB", "/custom/path/state.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/custom/path/state.db", cfg.Store.Path)
}
