// Package config provides YAML-backed configuration for the coordination
// server, with an environment-variable override layer applied on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agent-mcp/agent-mcp/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config holds all coordination-server configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Store       StoreConfig       `yaml:"store"`
	Migration   MigrationConfig   `yaml:"migration"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	RAG         RAGConfig         `yaml:"rag"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Coordination CoordinationConfig `yaml:"coordination"`
}

// StoreConfig configures the embedded relational store (C1).
type StoreConfig struct {
	Path             string `yaml:"path"`               // Default: .agent/state.db
	Driver           string `yaml:"driver"`             // Default: "sqlite3"; store.New always opens the cgo sqlite3 driver and does not read this field
	BusyTimeout      string `yaml:"busy_timeout"`       // Default: 30s
	MaxLockRetries   int    `yaml:"max_lock_retries"`   // Default: 5
	LockRetryBaseMs  int    `yaml:"lock_retry_base_ms"` // Default: 100
	LockRetryCapMs   int    `yaml:"lock_retry_cap_ms"`  // Default: 2000
}

// MigrationConfig configures the schema & migration runtime (C2). Precedence
// is env var (AGENT_MCP_MIGRATION_<KEY>) over .agent/migration.conf over
// these defaults.
type MigrationConfig struct {
	LockTimeoutSec      int    `yaml:"lock_timeout_sec"`      // Default: 120
	LockStaleSec        int    `yaml:"lock_stale_sec"`        // Default: 300
	Interactive         bool   `yaml:"interactive"`           // Default: true (prompt before destructive migration)
	BackupBeforeMigrate bool   `yaml:"backup_before_migrate"` // Default: true
	BackupDir           string `yaml:"backup_dir"`            // Default: .agent/backups

	// Remaining spec.md §4.2 knobs, sourced with the same precedence:
	// AGENT_MCP_MIGRATION_<KEY> env var, then .agent/migration.conf, then these defaults.
	AutoMigrate             bool `yaml:"auto_migrate"`               // Default: true
	AutoBackup              bool `yaml:"auto_backup"`                // Default: true
	BackupRetentionDays     int  `yaml:"backup_retention_days"`      // Default: 7 (0 disables pruning)
	PreserveHierarchies     bool `yaml:"preserve_hierarchies"`       // Default: true
	ConsolidateWorkstreams  bool `yaml:"consolidate_workstreams"`    // Default: true
	MinTasksPerWorkstream   int  `yaml:"min_tasks_per_workstream"`   // Default: 5
	MaxWorkstreamsPerPhase  int  `yaml:"max_workstreams_per_phase"`  // Default: 7
}

// EmbeddingConfig mirrors internal/embedding.Config for YAML (de)serialization
// at the top level; NewEngine is constructed from this at startup.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// RAGConfig configures the RAG pipeline (C7) chunking/query/placement tunables.
type RAGConfig struct {
	MaxEmbeddingBatchSize  int     `yaml:"max_embedding_batch_size"`   // Default: 100
	QueryTimeout           string  `yaml:"query_timeout"`              // Default: 5s (TASK_PLACEMENT_RAG_TIMEOUT)
	TaskDuplicationThresh  float64 `yaml:"task_duplication_threshold"` // Default: 0.8
	EnableTaskPlacementRAG bool    `yaml:"enable_task_placement_rag"`
	AllowRAGOverride       bool    `yaml:"allow_rag_override"`
	ChunkSizeChars         int     `yaml:"chunk_size_chars"`  // Default: 2000
	ChunkOverlapChars      int     `yaml:"chunk_overlap_chars"` // Default: 200
}

// AuthConfig configures token verification and principal resolution (C5).
type AuthConfig struct {
	AdminTokenEnvVar string `yaml:"admin_token_env_var"` // Default: AGENT_MCP_ADMIN_TOKEN
	TokenLength      int    `yaml:"token_length"`        // Default: 32 bytes before encoding
}

// CoordinationConfig configures the runtime lifecycle (C8).
type CoordinationConfig struct {
	ProjectDir         string `yaml:"project_dir"`          // Default: "."
	ShutdownDrainSec   int    `yaml:"shutdown_drain_sec"`   // Default: 10
	WorkerPoolSize     int    `yaml:"worker_pool_size"`     // Default: 4
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agent-mcp",
		Version: "1.0.0",

		Store: StoreConfig{
			Path:            filepath.Join(".agent", "state.db"),
			Driver:          "sqlite3",
			BusyTimeout:     "30s",
			MaxLockRetries:  5,
			LockRetryBaseMs: 100,
			LockRetryCapMs:  2000,
		},

		Migration: MigrationConfig{
			LockTimeoutSec:      120,
			LockStaleSec:        300,
			Interactive:         true,
			BackupBeforeMigrate: true,
			BackupDir:           filepath.Join(".agent", "backups"),

			AutoMigrate:            true,
			AutoBackup:             true,
			BackupRetentionDays:    7,
			PreserveHierarchies:    true,
			ConsolidateWorkstreams: true,
			MinTasksPerWorkstream:  5,
			MaxWorkstreamsPerPhase: 7,
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},

		RAG: RAGConfig{
			MaxEmbeddingBatchSize:  100,
			QueryTimeout:           "5s",
			TaskDuplicationThresh:  0.8,
			EnableTaskPlacementRAG: true,
			AllowRAGOverride:       true,
			ChunkSizeChars:         2000,
			ChunkOverlapChars:      200,
		},

		Auth: AuthConfig{
			AdminTokenEnvVar: "AGENT_MCP_ADMIN_TOKEN",
			TokenLength:      32,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},

		Coordination: CoordinationConfig{
			ProjectDir:       ".",
			ShutdownDrainSec: 10,
			WorkerPoolSize:   4,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if the
// file does not exist, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: store=%s embedding_provider=%s", cfg.Store.Path, cfg.Embedding.Provider)

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Migration config
// follows AGENT_MCP_MIGRATION_<KEY> precedence over the YAML value.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("AGENT_MCP_DB"); path != "" {
		c.Store.Path = path
	}

	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" || c.Embedding.Provider == "ollama" {
			c.Embedding.Provider = "genai"
		}
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if model := os.Getenv("OLLAMA_EMBEDDING_MODEL"); model != "" {
		c.Embedding.OllamaModel = model
	}

	if v := os.Getenv("AGENT_MCP_MIGRATION_LOCK_TIMEOUT_SEC"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			c.Migration.LockTimeoutSec = n
		}
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_LOCK_STALE_SEC"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			c.Migration.LockStaleSec = n
		}
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_INTERACTIVE"); v != "" {
		c.Migration.Interactive = parseBoolEnv(v)
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_BACKUP_DIR"); v != "" {
		c.Migration.BackupDir = v
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_AUTO_MIGRATE"); v != "" {
		c.Migration.AutoMigrate = parseBoolEnv(v)
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_AUTO_BACKUP"); v != "" {
		c.Migration.AutoBackup = parseBoolEnv(v)
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_BACKUP_RETENTION_DAYS"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			c.Migration.BackupRetentionDays = n
		}
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_PRESERVE_HIERARCHIES"); v != "" {
		c.Migration.PreserveHierarchies = parseBoolEnv(v)
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_CONSOLIDATE_WORKSTREAMS"); v != "" {
		c.Migration.ConsolidateWorkstreams = parseBoolEnv(v)
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_MIN_TASKS_PER_WORKSTREAM"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			c.Migration.MinTasksPerWorkstream = n
		}
	}
	if v := os.Getenv("AGENT_MCP_MIGRATION_MAX_WORKSTREAMS_PER_PHASE"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			c.Migration.MaxWorkstreamsPerPhase = n
		}
	}

	if v := os.Getenv("ENABLE_TASK_PLACEMENT_RAG"); v != "" {
		c.RAG.EnableTaskPlacementRAG = parseBoolEnv(v)
	}
	if v := os.Getenv("ALLOW_RAG_OVERRIDE"); v != "" {
		c.RAG.AllowRAGOverride = parseBoolEnv(v)
	}
	if v := os.Getenv("TASK_PLACEMENT_RAG_TIMEOUT"); v != "" {
		c.RAG.QueryTimeout = v
	}
	if v := os.Getenv("TASK_DUPLICATION_THRESHOLD"); v != "" {
		if f, err := parseFloatEnv(v); err == nil {
			c.RAG.TaskDuplicationThresh = f
		}
	}
	if v := os.Getenv("MAX_EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := parseIntEnv(v); err == nil {
			c.RAG.MaxEmbeddingBatchSize = n
		}
	}
}

func parseIntEnv(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	return n, err
}

func parseFloatEnv(v string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(v, "%g", &f)
	return f, err
}

// parseBoolEnv accepts the boolean literal set spec.md §6 names:
// true/false/1/0/yes/no/on/off (case-insensitive). Unrecognized values are
// treated as false, matching the teacher's lenient env-parsing style.
func parseBoolEnv(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides re-applies the AGENT_MCP_MIGRATION_<KEY> (and other)
// environment overrides. Exported so internal/migration can call it again
// after loading migration.conf, preserving the precedence order env >
// migration.conf > defaults even though migration.conf's path isn't known
// until the project directory is resolved at startup.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ApplyMigrationConfFile parses a `key = value` file with `#` comments
// (spec.md §6's .agent/migration.conf) into c.Migration, sitting between
// defaults and the environment layer in the precedence order. Missing file
// is not an error — migration.conf is optional.
func (c *Config) ApplyMigrationConfFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading migration config: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		c.applyMigrationConfKey(key, val)
	}
	return nil
}

func (c *Config) applyMigrationConfKey(key, val string) {
	switch key {
	case "AUTO_MIGRATE":
		c.Migration.AutoMigrate = parseBoolEnv(val)
	case "AUTO_BACKUP":
		c.Migration.AutoBackup = parseBoolEnv(val)
	case "INTERACTIVE":
		c.Migration.Interactive = parseBoolEnv(val)
	case "BACKUP_RETENTION_DAYS":
		if n, err := parseIntEnv(val); err == nil {
			c.Migration.BackupRetentionDays = n
		}
	case "PRESERVE_HIERARCHIES":
		c.Migration.PreserveHierarchies = parseBoolEnv(val)
	case "CONSOLIDATE_WORKSTREAMS":
		c.Migration.ConsolidateWorkstreams = parseBoolEnv(val)
	case "MIN_TASKS_PER_WORKSTREAM":
		if n, err := parseIntEnv(val); err == nil {
			c.Migration.MinTasksPerWorkstream = n
		}
	case "MAX_WORKSTREAMS_PER_PHASE":
		if n, err := parseIntEnv(val); err == nil {
			c.Migration.MaxWorkstreamsPerPhase = n
		}
	case "BACKUP_DIR":
		c.Migration.BackupDir = val
	}
}

// GetBusyTimeout returns the store busy timeout as a duration.
func (c *Config) GetBusyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Store.BusyTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRAGQueryTimeout returns the RAG query wall-clock budget as a duration.
func (c *Config) GetRAGQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.RAG.QueryTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetMigrationLockTimeout returns the migration lock acquire timeout.
func (c *Config) GetMigrationLockTimeout() time.Duration {
	return time.Duration(c.Migration.LockTimeoutSec) * time.Second
}

// GetMigrationLockStaleThreshold returns the staleness threshold for the
// migration lock file.
func (c *Config) GetMigrationLockStaleThreshold() time.Duration {
	return time.Duration(c.Migration.LockStaleSec) * time.Second
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Embedding.Provider != "ollama" && c.Embedding.Provider != "genai" {
		return fmt.Errorf("invalid embedding provider: %s (valid: ollama, genai)", c.Embedding.Provider)
	}
	if c.RAG.TaskDuplicationThresh < 0 || c.RAG.TaskDuplicationThresh > 1 {
		return fmt.Errorf("task_duplication_threshold must be in [0,1], got %f", c.RAG.TaskDuplicationThresh)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	return nil
}
