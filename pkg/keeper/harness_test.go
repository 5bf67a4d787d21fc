package keeper

import (
	"context"
	"crypto/sha256"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/keepstack/keeper/pkg/docstore"
	"github.com/keepstack/keeper/pkg/provider"
	"github.com/keepstack/keeper/pkg/vecstore"
)

const testDimension = 4

// mockEmbedder derives a deterministic unit vector from the text so identical
// texts always land on the same point. Calls are counted to assert skips.
type mockEmbedder struct {
	mu         sync.Mutex
	calls      int
	batchCalls int
	fail       bool
}

func (m *mockEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, testDimension)
	var norm float32
	for i := range vec {
		vec[i] = float32(sum[i]) + 1
		norm += vec[i] * vec[i]
	}
	// Normalize so cosine distance behaves predictably
	for i := range vec {
		vec[i] /= sqrt32(norm)
	}
	return vec
}

func sqrt32(x float32) float32 {
	// Newton iterations are plenty for test vectors
	guess := x / 2
	for i := 0; i < 20; i++ {
		guess = (guess + x/guess) / 2
	}
	return guess
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail {
		return nil, errors.New("embedding unavailable")
	}
	return m.vector(text), nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.fail {
		return nil, errors.New("embedding unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *mockEmbedder) Dimension() int    { return testDimension }
func (m *mockEmbedder) ModelName() string { return "mock-embedder" }

func (m *mockEmbedder) embedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSummarizer returns a fixed prefix so tests can tell LLM summaries from
// fallback summaries.
type mockSummarizer struct {
	fail bool
}

func (m *mockSummarizer) Summarize(ctx context.Context, content string) (string, error) {
	if m.fail {
		return "", errors.New("summarizer unavailable")
	}
	return "summary: " + firstLineSummary(content), nil
}

// mockLLM replays a canned response and counts calls
type mockLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (m *mockLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.response, m.err
}

func (m *mockLLM) Provider() string { return "mock" }

func (m *mockLLM) completeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// countingFetcher wraps the real file provider to count fetches
type countingFetcher struct {
	mu      sync.Mutex
	calls   int
	wrapped *provider.FileProvider
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{wrapped: provider.NewFileProvider()}
}

func (f *countingFetcher) Fetch(ctx context.Context, uri string) (*provider.Document, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.wrapped.Fetch(ctx, uri)
}

func (f *countingFetcher) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// mockDescriber returns a fixed description for any media
type mockDescriber struct {
	mu          sync.Mutex
	description string
	err         error
	calls       int
}

func (m *mockDescriber) Describe(ctx context.Context, path, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.description, m.err
}

func (m *mockDescriber) describeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// faultyVecs delegates to a real store until failUpserts is flipped
type faultyVecs struct {
	vecstore.Store
	mu          sync.Mutex
	failUpserts bool
}

func (f *faultyVecs) setFailUpserts(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpserts = fail
}

func (f *faultyVecs) Upsert(ctx context.Context, e vecstore.Entry) error {
	f.mu.Lock()
	fail := f.failUpserts
	f.mu.Unlock()
	if fail {
		return errors.New("vector store unavailable")
	}
	return f.Store.Upsert(ctx, e)
}

type testEnv struct {
	keeper   *Keeper
	docs     docstore.Store
	vecs     vecstore.Store
	embedder *mockEmbedder
	fetcher  *countingFetcher
	llm      *mockLLM
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()

	docs, err := docstore.OpenSQLite(filepath.Join(tmpDir, "docs.db"), zerolog.Nop())
	require.NoError(t, err)
	vecs, err := vecstore.OpenSQLite(filepath.Join(tmpDir, "vectors.db"), testDimension, zerolog.Nop())
	require.NoError(t, err)

	embedder := &mockEmbedder{}
	fetcher := newCountingFetcher()
	llm := &mockLLM{}

	cfg := Config{
		Collection: "test",
		Docs:       docs,
		Vecs:       vecs,
		Embedder:   embedder,
		Summarizer: &mockSummarizer{},
		Fetcher:    fetcher,
		LLM:        llm,
		Logger:     zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	k, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })

	return &testEnv{
		keeper:   k,
		docs:     docs,
		vecs:     vecs,
		embedder: embedder,
		fetcher:  fetcher,
		llm:      llm,
	}
}
