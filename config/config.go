// Package config loads the backend configuration from an optional YAML
// file with environment-variable overrides for deployment settings and
// secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Assembler  AssemblerConfig  `yaml:"assembler"`
	Memory     MemoryConfig     `yaml:"memory"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig holds persistence paths.
type StorageConfig struct {
	// DatabasePath is the SQLite file for conversations, profiles, and
	// the document registry.
	DatabasePath string `yaml:"database_path"`

	// SnapshotPath is the vector index snapshot file. Used by the native
	// index backend.
	SnapshotPath string `yaml:"snapshot_path"`

	// IndexBackend selects "native" (flat index + JSON snapshot) or
	// "chromem" (embedded vector database at ChromemPath).
	IndexBackend string `yaml:"index_backend"`
	ChromemPath  string `yaml:"chromem_path"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	// Backend is "ollama" or "mock". The onnx backend is compiled in only
	// under its build tag and selected by the same key.
	Backend    string `yaml:"backend"`
	Dimensions int    `yaml:"dimensions"`

	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`

	// CacheEntries bounds the per-text vector cache. Zero disables it.
	CacheEntries int64 `yaml:"cache_entries"`
}

// GenerationConfig selects and tunes the generation backend.
type GenerationConfig struct {
	// Backend is "anthropic" or "ollama".
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`

	MaxTokens      int64 `yaml:"max_tokens"`
	TimeoutSeconds int   `yaml:"timeout_seconds"`

	// AnthropicAPIKey comes from the environment, never from the file.
	AnthropicAPIKey string `yaml:"-"`

	OllamaURL string `yaml:"ollama_url"`
}

// AssemblerConfig tunes prompt composition.
type AssemblerConfig struct {
	TopChunks    int `yaml:"top_chunks"`
	HistoryLimit int `yaml:"history_limit"`
	Budget       int `yaml:"budget"`

	// BudgetUnit is "tokens" (cl100k_base) or "runes".
	BudgetUnit string `yaml:"budget_unit"`
}

// MemoryConfig tunes the conversation store.
type MemoryConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8000"},
		Storage: StorageConfig{
			DatabasePath: "data/advisor.db",
			SnapshotPath: "data/index.json",
			IndexBackend: "native",
			ChromemPath:  "data/chromem",
		},
		Embedding: EmbeddingConfig{
			Backend:      "ollama",
			Dimensions:   768,
			OllamaURL:    "http://localhost:11434/api/embeddings",
			OllamaModel:  "nomic-embed-text",
			CacheEntries: 4096,
		},
		Generation: GenerationConfig{
			Backend:        "anthropic",
			MaxTokens:      4096,
			TimeoutSeconds: 60,
			OllamaURL:      "http://localhost:11434",
		},
		Assembler: AssemblerConfig{
			TopChunks:    3,
			HistoryLimit: 5,
			Budget:       8000,
			BudgetUnit:   "tokens",
		},
		Memory: MemoryConfig{},
	}
}

// Load reads the YAML file at path (missing file is fine) over the
// defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env only.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ADVISOR_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ADVISOR_DATABASE_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("ADVISOR_SNAPSHOT_PATH"); v != "" {
		cfg.Storage.SnapshotPath = v
	}
	if v := os.Getenv("ADVISOR_INDEX_BACKEND"); v != "" {
		cfg.Storage.IndexBackend = v
	}
	if v := os.Getenv("ADVISOR_EMBEDDING_BACKEND"); v != "" {
		cfg.Embedding.Backend = v
	}
	if v := os.Getenv("ADVISOR_GENERATION_BACKEND"); v != "" {
		cfg.Generation.Backend = v
	}
	if v := os.Getenv("ADVISOR_GENERATION_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("ADVISOR_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Memory.RetentionDays = days
		}
	}
	cfg.Generation.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
}

func (c *Config) validate() error {
	switch c.Storage.IndexBackend {
	case "native", "chromem":
	default:
		return fmt.Errorf("unknown index backend %q", c.Storage.IndexBackend)
	}
	switch c.Embedding.Backend {
	case "ollama", "mock", "onnx":
	default:
		return fmt.Errorf("unknown embedding backend %q", c.Embedding.Backend)
	}
	switch c.Generation.Backend {
	case "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown generation backend %q", c.Generation.Backend)
	}
	switch c.Assembler.BudgetUnit {
	case "tokens", "runes":
	default:
		return fmt.Errorf("unknown budget unit %q", c.Assembler.BudgetUnit)
	}
	return nil
}

// GenerationTimeout returns the configured generation timeout.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.Generation.TimeoutSeconds) * time.Second
}

// Retention returns the configured history retention window; zero keeps
// everything.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Memory.RetentionDays) * 24 * time.Hour
}
