package keeper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{})
	assert.Error(t, err)

	_, err = env.keeper.Put(ctx, PutRequest{Content: "x", URI: "file:///tmp/x"})
	assert.Error(t, err)
}

func TestPutInlineContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item, err := env.keeper.Put(ctx, PutRequest{
		ID:      "note-1",
		Content: "remember the milk",
		Tags:    map[string]string{"type": "note"},
	})
	require.NoError(t, err)
	assert.Equal(t, "note-1", item.ID)
	assert.True(t, item.Changed)
	assert.Equal(t, "summary: remember the milk", item.Summary)
	assert.Equal(t, "note", item.Tags["type"])

	got, err := env.keeper.Get(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, item.Summary, got.Summary)
}

func TestPutGeneratesID(t *testing.T) {
	env := newTestEnv(t)

	item, err := env.keeper.Put(context.Background(), PutRequest{Content: "anonymous"})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
}

func TestPutUnchangedContentSkipsEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "note-1", Content: "stable content"})
	require.NoError(t, err)
	callsAfterFirst := env.embedder.embedCalls()

	item, err := env.keeper.Put(ctx, PutRequest{ID: "note-1", Content: "stable content"})
	require.NoError(t, err)
	assert.False(t, item.Changed)
	assert.Equal(t, callsAfterFirst, env.embedder.embedCalls())
}

func TestPutTagOnlyUpdateMergesTags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{
		ID:      "note-1",
		Content: "stable content",
		Tags:    map[string]string{"type": "note", "status": "draft"},
	})
	require.NoError(t, err)

	item, err := env.keeper.Put(ctx, PutRequest{
		ID:      "note-1",
		Content: "stable content",
		Tags:    map[string]string{"status": "final"},
	})
	require.NoError(t, err)
	assert.False(t, item.Changed)
	assert.Equal(t, "final", item.Tags["status"])
	assert.Equal(t, "note", item.Tags["type"])

	got, err := env.keeper.Get(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, "final", got.Tags["status"])
	assert.Equal(t, "note", got.Tags["type"])
}

func TestPutChangedContentArchivesVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "note-1", Content: "first draft"})
	require.NoError(t, err)

	item, err := env.keeper.Put(ctx, PutRequest{ID: "note-1", Content: "second draft"})
	require.NoError(t, err)
	assert.True(t, item.Changed)

	n, err := env.docs.VersionCount(ctx, "test", "note-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutFileFastPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("file content here"), 0644))
	uri := "file://" + path
	tags := map[string]string{"source": "disk"}

	first, err := env.keeper.Put(ctx, PutRequest{URI: uri, Tags: tags})
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, uri, first.ID)
	assert.Equal(t, 1, env.fetcher.fetchCalls())

	t.Run("unchanged file skips fetch entirely", func(t *testing.T) {
		second, err := env.keeper.Put(ctx, PutRequest{URI: uri, Tags: tags})
		require.NoError(t, err)
		assert.False(t, second.Changed)
		assert.Equal(t, 1, env.fetcher.fetchCalls())
	})

	t.Run("different tags force a fetch", func(t *testing.T) {
		third, err := env.keeper.Put(ctx, PutRequest{URI: uri, Tags: map[string]string{"source": "other"}})
		require.NoError(t, err)
		assert.False(t, third.Changed)
		assert.Equal(t, 2, env.fetcher.fetchCalls())
		assert.Equal(t, "other", third.Tags["source"])
	})

	t.Run("modified file is re-fetched and changed", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("completely new file content"), 0644))

		fourth, err := env.keeper.Put(ctx, PutRequest{URI: uri, Tags: map[string]string{"source": "other"}})
		require.NoError(t, err)
		assert.True(t, fourth.Changed)
		assert.Equal(t, 3, env.fetcher.fetchCalls())
	})
}

func TestPutUpdatedContentStaysSearchable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "original wording"})
	require.NoError(t, err)

	item, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "rewritten wording"})
	require.NoError(t, err)
	assert.True(t, item.Changed)

	results, err := env.keeper.Find(ctx, "rewritten wording", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-1", results[0].ID)
	assert.InDelta(t, 1.0, *results[0].Score, 1e-4)
}

func TestPutRejectsReservedIDCharacter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc#1", Content: "x"})
	assert.Error(t, err)

	exists, err := env.keeper.Exists(ctx, "doc#1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPutVectorStoreFailureIsExplicit(t *testing.T) {
	var faulty *faultyVecs
	env := newTestEnv(t, func(c *Config) {
		faulty = &faultyVecs{Store: c.Vecs}
		c.Vecs = faulty
	})
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "first"})
	require.NoError(t, err)

	// The stores must never drift apart silently
	faulty.setFailUpserts(true)
	_, err = env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "second"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document store updated but vector store failed")
}

func TestPutEmbeddingFailure(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.fail = true
	ctx := context.Background()

	item, err := env.keeper.Put(ctx, PutRequest{ID: "note-1", Content: "cannot embed this"})
	assert.ErrorIs(t, err, ErrNotIndexed)
	require.NotNil(t, item)
	assert.True(t, item.Changed)

	// Still retrievable by id
	got, err := env.keeper.Get(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, "note-1", got.ID)

	// But absent from semantic search
	env.embedder.fail = false
	results, err := env.keeper.Find(ctx, "cannot embed this", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPutEmbeddingFailureDropsStaleVector(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "original content"})
	require.NoError(t, err)

	env.embedder.fail = true
	item, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "changed content"})
	assert.ErrorIs(t, err, ErrNotIndexed)
	require.NotNil(t, item)
	assert.True(t, item.Changed)
	env.embedder.fail = false

	// The vector for the old content must not answer for the new content
	results, err := env.keeper.Find(ctx, "original content", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = env.keeper.Find(ctx, "changed content", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// A later successful put restores searchability
	_, err = env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "final content"})
	require.NoError(t, err)
	results, err = env.keeper.Find(ctx, "final content", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].ID)
}

func TestFind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "a", Content: "alpha document"})
	require.NoError(t, err)
	_, err = env.keeper.Put(ctx, PutRequest{ID: "b", Content: "beta document"})
	require.NoError(t, err)

	results, err := env.keeper.Find(ctx, "alpha document", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "a", results[0].ID)
	require.NotNil(t, results[0].Score)
	assert.InDelta(t, 1.0, *results[0].Score, 1e-4)

	t.Run("empty query yields nothing", func(t *testing.T) {
		results, err := env.keeper.Find(ctx, "", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestGetNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.keeper.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExistsAndCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	exists, err := env.keeper.Exists(ctx, "note-1")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = env.keeper.Put(ctx, PutRequest{ID: "note-1", Content: "hello"})
	require.NoError(t, err)

	exists, err = env.keeper.Exists(ctx, "note-1")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := env.keeper.Count(ctx)
	require.NoError(t, err)
	// Seeded meta-doc definitions and the marker live in the same collection
	assert.GreaterOrEqual(t, count, 1)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "note-1", Content: "short lived"})
	require.NoError(t, err)

	removed, err := env.keeper.Delete(ctx, "note-1")
	require.NoError(t, err)
	assert.True(t, removed)

	exists, err := env.keeper.Exists(ctx, "note-1")
	require.NoError(t, err)
	assert.False(t, exists)

	removed, err = env.keeper.Delete(ctx, "note-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAnalyze(t *testing.T) {
	sections := `[
		{"summary": "first section", "content": "first section content"},
		{"summary": "second section", "content": "second section content"}
	]`

	env := newTestEnv(t)
	env.llm.response = sections
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{
		ID:      "doc-1",
		Content: "a long document body",
		Tags:    map[string]string{"type": "note"},
	})
	require.NoError(t, err)

	parts, err := env.keeper.Analyze(ctx, "doc-1", false)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 1, parts[0].PartNum)
	assert.Equal(t, "first section", parts[0].Summary)
	// Parts inherit the parent's user tags
	assert.Equal(t, "note", parts[0].Tags["type"])

	t.Run("unchanged content skips the llm", func(t *testing.T) {
		calls := env.llm.completeCalls()
		again, err := env.keeper.Analyze(ctx, "doc-1", false)
		require.NoError(t, err)
		assert.Len(t, again, 2)
		assert.Equal(t, calls, env.llm.completeCalls())
	})

	t.Run("force re-analyzes", func(t *testing.T) {
		calls := env.llm.completeCalls()
		_, err := env.keeper.Analyze(ctx, "doc-1", true)
		require.NoError(t, err)
		assert.Equal(t, calls+1, env.llm.completeCalls())
	})

	t.Run("changed content re-analyzes", func(t *testing.T) {
		_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "a different document body"})
		require.NoError(t, err)

		calls := env.llm.completeCalls()
		_, err = env.keeper.Analyze(ctx, "doc-1", false)
		require.NoError(t, err)
		assert.Equal(t, calls+1, env.llm.completeCalls())
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := env.keeper.Analyze(ctx, "missing", false)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEnqueueAnalyze(t *testing.T) {
	env := newTestEnv(t)
	env.llm.response = `[{"summary": "s", "content": "c"}]`
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "body"})
	require.NoError(t, err)

	needed, err := env.keeper.EnqueueAnalyze(ctx, "doc-1", false)
	require.NoError(t, err)
	assert.True(t, needed)

	_, err = env.keeper.Analyze(ctx, "doc-1", false)
	require.NoError(t, err)

	needed, err = env.keeper.EnqueueAnalyze(ctx, "doc-1", false)
	require.NoError(t, err)
	assert.False(t, needed)

	needed, err = env.keeper.EnqueueAnalyze(ctx, "doc-1", true)
	require.NoError(t, err)
	assert.True(t, needed)

	_, err = env.keeper.EnqueueAnalyze(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPart(t *testing.T) {
	env := newTestEnv(t)
	env.llm.response = `[
		{"summary": "intro", "content": "introduction text"},
		{"summary": "body", "content": "body text"}
	]`
	ctx := context.Background()

	_, err := env.keeper.Put(ctx, PutRequest{ID: "doc-1", Content: "document"})
	require.NoError(t, err)
	_, err = env.keeper.Analyze(ctx, "doc-1", false)
	require.NoError(t, err)

	t.Run("returns full part content", func(t *testing.T) {
		item, err := env.keeper.GetPart(ctx, "doc-1", 2)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "doc-1#2", item.ID)
		assert.Equal(t, "body text", item.Summary)
		assert.Equal(t, "2", item.Tags["_part_num"])
		assert.Equal(t, "doc-1", item.Tags["_base_id"])
		assert.Equal(t, "2", item.Tags["_total_parts"])
	})

	t.Run("out of range returns nil without error", func(t *testing.T) {
		item, err := env.keeper.GetPart(ctx, "doc-1", 3)
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := env.keeper.GetPart(ctx, "missing", 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list parts", func(t *testing.T) {
		items, err := env.keeper.ListParts(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "doc-1#1", items[0].ID)
		assert.Equal(t, "introduction text", items[0].Summary)
	})
}

func TestFallbackSummary(t *testing.T) {
	assert.Equal(t, "first line", fallbackSummary("first line\nsecond line"))
	assert.Equal(t, "trimmed", fallbackSummary("  trimmed  \nrest"))

	long := strings.Repeat("日", 100)
	got := fallbackSummary(long)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 200)
	assert.NotEmpty(t, got)
}

func TestSeededMetaDocs(t *testing.T) {
	env := newTestEnv(t)

	metaDocs, err := env.keeper.ListMetaDocs(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(metaDocs))
	for _, md := range metaDocs {
		names = append(names, md.Name)
	}
	assert.Contains(t, names, "todo")
	assert.Contains(t, names, "learnings")
	assert.Contains(t, names, "genre")
}
