package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "default", cfg.Store.Collection)
	assert.Equal(t, 10, cfg.Store.MetaLimit)
	assert.Equal(t, "openai", cfg.AI.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.AI.Embedding.Model)
	assert.Equal(t, "anthropic", cfg.AI.LLM.Provider)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 100, cfg.Watch.StabilityMs)
	assert.True(t, cfg.Janitor.Enabled)
	assert.Equal(t, 10, cfg.Janitor.KeepVersions)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.AI.Embedding.APIKey = "sk-test123"
		cfg.AI.LLM.APIKey = "sk-ant-test123"
		return cfg
	}

	t.Run("valid config", func(t *testing.T) {
		err := valid().Validate()
		assert.NoError(t, err)
	})

	t.Run("missing collection", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Collection = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "collection")
	})

	t.Run("missing embedding api key", func(t *testing.T) {
		cfg := valid()
		cfg.AI.Embedding.APIKey = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
	})

	t.Run("invalid embedding provider", func(t *testing.T) {
		cfg := valid()
		cfg.AI.Embedding.Provider = "cohere"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "embedding provider")
	})

	t.Run("invalid llm provider", func(t *testing.T) {
		cfg := valid()
		cfg.AI.LLM.Provider = "gemini"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "llm provider")
	})

	t.Run("llm without api key", func(t *testing.T) {
		cfg := valid()
		cfg.AI.LLM.APIKey = ""

		err := cfg.Validate()
		assert.Error(t, err)
	})

	t.Run("llm disabled is valid", func(t *testing.T) {
		cfg := valid()
		cfg.AI.LLM.Provider = ""
		cfg.AI.LLM.APIKey = ""

		err := cfg.Validate()
		assert.NoError(t, err)
	})

	t.Run("watch enabled without path", func(t *testing.T) {
		cfg := valid()
		cfg.Watch.Enabled = true
		cfg.Watch.Path = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "watch path")
	})
}
