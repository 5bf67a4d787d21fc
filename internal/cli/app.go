package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/keepstack/keeper/internal/config"
	"github.com/keepstack/keeper/internal/logger"
	"github.com/keepstack/keeper/pkg/docstore"
	"github.com/keepstack/keeper/pkg/keeper"
	"github.com/keepstack/keeper/pkg/modellock"
	"github.com/keepstack/keeper/pkg/provider"
	"github.com/keepstack/keeper/pkg/vecstore"
)

// app holds everything a command needs: config, logger, the singleton lock,
// both stores, and the assembled Keeper.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	release func()
	keeper  *keeper.Keeper
	queue   *keeper.AnalyzeQueue
}

// openApp loads configuration, acquires the model singleton lock, opens both
// stores, and assembles the Keeper. Callers must Close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if collection != "" {
		cfg.Store.Collection = collection
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}

	// Only one process may drive the embedding pipeline at a time
	guard, err := modellock.New(cfg.Store.LockPath)
	if err != nil {
		return nil, err
	}
	release, err := guard.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("another keeper process holds the model lock: %w", err)
	}

	embedder := provider.NewOpenAIEmbedder(cfg.AI.Embedding.APIKey, cfg.AI.Embedding.Model)

	var llm provider.LLMProvider
	var summarizer provider.SummarizationProvider
	var describer provider.MediaDescriber
	switch cfg.AI.LLM.Provider {
	case "anthropic":
		if cfg.AI.LLM.APIKey != "" {
			p := provider.NewAnthropicProvider(cfg.AI.LLM.APIKey, cfg.AI.LLM.Model)
			llm, summarizer, describer = p, p, p
		}
	case "openai":
		if cfg.AI.LLM.APIKey != "" {
			p := provider.NewOpenAIChat(cfg.AI.LLM.APIKey, cfg.AI.LLM.Model)
			llm, summarizer = p, p
		}
	}

	zlog := log.GetZerolog()

	docs, err := docstore.OpenSQLite(cfg.Store.DocumentPath, zlog)
	if err != nil {
		release()
		return nil, err
	}
	vecs, err := vecstore.OpenSQLite(cfg.Store.VectorPath, embedder.Dimension(), zlog)
	if err != nil {
		_ = docs.Close()
		release()
		return nil, err
	}

	k, err := keeper.New(keeper.Config{
		Collection: cfg.Store.Collection,
		Docs:       docs,
		Vecs:       vecs,
		Embedder:   embedder,
		Summarizer: summarizer,
		Describer:  describer,
		Fetcher:    provider.NewFileProvider(),
		LLM:        llm,
		MetaLimit:  cfg.Store.MetaLimit,
		Logger:     zlog,
	})
	if err != nil {
		_ = docs.Close()
		_ = vecs.Close()
		release()
		return nil, err
	}

	queue := keeper.NewAnalyzeQueue(k, 0, zlog)
	queue.Start()

	return &app{
		cfg:     cfg,
		log:     log,
		release: release,
		keeper:  k,
		queue:   queue,
	}, nil
}

// Close releases the lock and closes the stores and logger
func (a *app) Close() {
	_ = a.queue.Close()
	_ = a.keeper.Close()
	a.release()
	_ = a.log.Close()
}

// printJSON writes a value as indented JSON to stdout
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTags parses repeated key=value flags into a tag map
func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := cutTag(pair)
		if !ok {
			return nil, fmt.Errorf("invalid tag %q (expected key=value)", pair)
		}
		tags[k] = v
	}
	return tags, nil
}

func cutTag(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			if i == 0 {
				return "", "", false
			}
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}
