package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Keeper configuration
type Config struct {
	// Store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// AI providers
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Directory watcher
	Watch WatchConfig `json:"watch" mapstructure:"watch"`

	// Maintenance
	Janitor JanitorConfig `json:"janitor" mapstructure:"janitor"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// StoreConfig holds the dual-store settings
type StoreConfig struct {
	Collection   string `json:"collection" mapstructure:"collection"`
	DocumentPath string `json:"document_path" mapstructure:"document_path"`
	VectorPath   string `json:"vector_path" mapstructure:"vector_path"`
	LockPath     string `json:"lock_path" mapstructure:"lock_path"`
	MetaLimit    int    `json:"meta_limit" mapstructure:"meta_limit"`
}

// AIConfig holds provider selection and credentials
type AIConfig struct {
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	LLM       LLMConfig       `json:"llm" mapstructure:"llm"`
}

// EmbeddingConfig selects the embedding provider. The model determines the
// vector dimension, which is fixed for the lifetime of a vector store file.
type EmbeddingConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // openai
	Model    string `json:"model" mapstructure:"model"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// LLMConfig selects the provider used for summarization, decomposition, and
// media description. Optional: without it Keeper degrades to heuristics.
type LLMConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model    string `json:"model" mapstructure:"model"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// WatchConfig holds directory watcher settings
type WatchConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Path        string `json:"path" mapstructure:"path"`
	StabilityMs int    `json:"stability_ms" mapstructure:"stability_ms"`
}

// JanitorConfig holds maintenance settings
type JanitorConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Schedule     string `json:"schedule" mapstructure:"schedule"` // cron expression
	KeepVersions int    `json:"keep_versions" mapstructure:"keep_versions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Collection: "default",
			MetaLimit:  10,
		},
		AI: AIConfig{
			Embedding: EmbeddingConfig{
				Provider: "openai",
				Model:    "text-embedding-3-small",
			},
			LLM: LLMConfig{
				Provider: "anthropic",
				Model:    "claude-sonnet-4-20250514",
			},
		},
		Watch: WatchConfig{
			Enabled:     false,
			StabilityMs: 100,
		},
		Janitor: JanitorConfig{
			Enabled:      true,
			Schedule:     "17 3 * * *",
			KeepVersions: 10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   25,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Store.Collection == "" {
		return fmt.Errorf("store collection is required")
	}

	if c.AI.Embedding.Provider != "openai" {
		return fmt.Errorf("invalid embedding provider %s (must be: openai)", c.AI.Embedding.Provider)
	}
	if c.AI.Embedding.APIKey == "" {
		return fmt.Errorf("embedding api_key is required")
	}
	if c.AI.Embedding.Model == "" {
		return fmt.Errorf("embedding model is required")
	}

	if c.AI.LLM.Provider != "" {
		if c.AI.LLM.Provider != "anthropic" && c.AI.LLM.Provider != "openai" {
			return fmt.Errorf("invalid llm provider %s (must be: anthropic, openai)", c.AI.LLM.Provider)
		}
		if c.AI.LLM.APIKey == "" {
			return fmt.Errorf("llm api_key is required when llm provider is set")
		}
	}

	if c.Watch.Enabled && c.Watch.Path == "" {
		return fmt.Errorf("watch path is required when watch is enabled")
	}

	return nil
}
