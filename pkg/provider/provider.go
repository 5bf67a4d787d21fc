package provider

import (
	"context"
)

// Document is the result of fetching a URI.
type Document struct {
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"`
	Tags        map[string]string `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// EmbeddingProvider generates vector embeddings from text
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// SummarizationProvider produces a short summary of content
type SummarizationProvider interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// DocumentProvider fetches a document for a URI
type DocumentProvider interface {
	Fetch(ctx context.Context, uri string) (*Document, error)
}

// MediaDescriber describes image or audio files as text.
// An empty string with a nil error means no description is available.
type MediaDescriber interface {
	Describe(ctx context.Context, path, contentType string) (string, error)
}

// LLMProvider makes a single completion call
type LLMProvider interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Provider() string
}
