package keeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/keepstack/keeper/pkg/docstore"
	"github.com/keepstack/keeper/pkg/provider"
	"github.com/keepstack/keeper/pkg/vecstore"
)

// Config wires a Keeper together. Docs, Vecs, and Embedder are required;
// the remaining providers are optional and their absence degrades the
// corresponding enrichment rather than failing operations.
type Config struct {
	Collection string
	Docs       docstore.Store
	Vecs       vecstore.Store
	Embedder   provider.EmbeddingProvider
	Summarizer provider.SummarizationProvider
	Describer  provider.MediaDescriber
	Fetcher    provider.DocumentProvider
	LLM        provider.LLMProvider
	MetaLimit  int
	Logger     zerolog.Logger
}

// Keeper orchestrates the dual-store write path, change detection,
// decomposition, and meta-doc resolution. Callers talk only to Keeper; it
// fans out to the two stores and the pluggable providers and never mutates
// one store without the matching hash/tag update in the other.
type Keeper struct {
	collection string
	docs       docstore.Store
	vecs       vecstore.Store
	embedder   provider.EmbeddingProvider
	summarizer provider.SummarizationProvider
	describer  provider.MediaDescriber
	fetcher    provider.DocumentProvider
	detector   ChangeDetector
	decomposer *DecompositionEngine
	meta       *MetaResolutionEngine
	logger     zerolog.Logger
}

// New creates a Keeper and seeds the bundled system meta-docs on first use
func New(cfg Config) (*Keeper, error) {
	if cfg.Docs == nil {
		return nil, errors.New("document store is required")
	}
	if cfg.Vecs == nil {
		return nil, errors.New("vector store is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "default"
	}

	logger := cfg.Logger.With().Str("component", "keeper").Logger()

	k := &Keeper{
		collection: cfg.Collection,
		docs:       cfg.Docs,
		vecs:       cfg.Vecs,
		embedder:   cfg.Embedder,
		summarizer: cfg.Summarizer,
		describer:  cfg.Describer,
		fetcher:    cfg.Fetcher,
		decomposer: NewDecompositionEngine(cfg.LLM, cfg.Logger),
		meta:       NewMetaResolutionEngine(cfg.Collection, cfg.Docs, cfg.Vecs, cfg.MetaLimit, cfg.Logger),
		logger:     logger,
	}

	if err := k.seedSystemDocs(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to seed system docs: %w", err)
	}

	return k, nil
}

// Collection returns the collection this Keeper is scoped to
func (k *Keeper) Collection() string {
	return k.collection
}

// Put writes content (or a fetched URI) into both stores. The content hash
// changes only when raw content changes; tag-only updates merge tags (new
// values win) without re-embedding. For unchanged file:// URIs with
// unchanged caller tags the stat fast path skips fetching entirely.
//
// On embedding failure the document is still stored and retrievable by id
// and tag; the returned error wraps ErrNotIndexed alongside a usable Item.
//
// Ids must not contain "#": it is reserved for part addressing (id#N).
func (k *Keeper) Put(ctx context.Context, req PutRequest) (*Item, error) {
	if (req.Content == "") == (req.URI == "") {
		return nil, errors.New("exactly one of content and uri must be set")
	}

	id := req.ID
	if id == "" {
		if req.URI != "" {
			id = req.URI
		} else {
			generated, err := gonanoid.New()
			if err != nil {
				return nil, fmt.Errorf("failed to generate id: %w", err)
			}
			id = generated
		}
	}
	if strings.Contains(id, "#") {
		return nil, fmt.Errorf("invalid id %q: '#' is reserved for part addressing", id)
	}

	path := provider.FilePath(req.URI)

	// Stat fast path: unchanged file identity plus unchanged caller tags
	// means no fetch, no hash, no collaborator call at all.
	var currentFP string
	var mtimeNS, fileSize int64
	if path != "" {
		fp, m, sz, err := statFingerprint(path)
		if err == nil {
			currentFP, mtimeNS, fileSize = fp, m, sz
			if existing, err := k.docs.Get(ctx, k.collection, id); err == nil {
				storedFP := storedFileFingerprint(existing.Tags)
				if !k.detector.NeedsUpdate(storedFP, currentFP, false) &&
					tagsEqual(userTags(existing.Tags), userTags(req.Tags)) {
					k.logger.Debug().Str("id", id).Msg("File unchanged, skipping fetch")
					_ = k.docs.Touch(ctx, k.collection, id)
					return &Item{ID: id, Summary: existing.Summary, Tags: existing.Tags, Changed: false}, nil
				}
			}
		}
	}

	content := req.Content
	contentType := "text/plain"
	var providerTags map[string]string
	if req.URI != "" {
		if k.fetcher == nil {
			return nil, errors.New("no document provider configured for uri puts")
		}
		doc, err := k.fetcher.Fetch(ctx, req.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", req.URI, err)
		}
		content = doc.Content
		contentType = doc.ContentType
		providerTags = doc.Tags
	}

	content = k.describeMedia(ctx, path, contentType, content)

	hash := HashContent(content)

	var existing *docstore.Record
	if rec, err := k.docs.Get(ctx, k.collection, id); err == nil {
		existing = rec
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}

	changed := existing == nil || existing.ContentHash != hash

	var existingTags map[string]string
	if existing != nil {
		existingTags = existing.Tags
	}
	tags := mergeTags(existingTags, providerTags, req.Tags)
	if path != "" {
		tags[tagFileMtimeNS] = strconv.FormatInt(mtimeNS, 10)
		tags[tagFileSize] = strconv.FormatInt(fileSize, 10)
	}

	if !changed {
		if !tagsEqual(tags, existing.Tags) {
			if err := k.docs.UpdateTags(ctx, k.collection, id, tags); err != nil {
				return nil, fmt.Errorf("failed to update tags: %w", err)
			}
			if err := k.vecs.UpdateTags(ctx, k.collection, id, tags); err != nil && !errors.Is(err, vecstore.ErrNotFound) {
				return nil, fmt.Errorf("document store updated but vector store failed: %w", err)
			}
		}
		_ = k.docs.Touch(ctx, k.collection, id)
		return &Item{ID: id, Summary: existing.Summary, Tags: tags, Changed: false}, nil
	}

	if existing != nil {
		k.archiveVersion(ctx, existing)
	}

	summary := k.summarize(ctx, content)

	embedding, embErr := k.embedder.Embed(ctx, content)
	if embErr != nil {
		k.logger.Warn().Err(embErr).Str("id", id).Msg("Embedding failed, document will not be searchable")
		embedding = nil
	}

	rec := docstore.Record{
		Collection:  k.collection,
		ID:          id,
		Summary:     summary,
		Tags:        tags,
		ContentHash: hash,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}
	if err := k.docs.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}

	if err := k.vecs.Upsert(ctx, vecstore.Entry{
		Collection: k.collection,
		ID:         id,
		Summary:    summary,
		Tags:       tags,
		Content:    content,
		Embedding:  embedding,
	}); err != nil {
		// The two stores must not drift apart silently.
		return nil, fmt.Errorf("document store updated but vector store failed for %q: %w", id, err)
	}

	item := &Item{ID: id, Summary: summary, Tags: tags, Changed: true}
	if embErr != nil {
		return item, fmt.Errorf("%w: %v", ErrNotIndexed, embErr)
	}
	return item, nil
}

// describeMedia enriches non-text content with a generated description.
// Describer failures are logged and indexing proceeds with metadata-only
// content; an empty description leaves content unmodified.
func (k *Keeper) describeMedia(ctx context.Context, path, contentType, content string) string {
	if k.describer == nil || strings.HasPrefix(contentType, "text/") {
		return content
	}
	if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "audio/") {
		return content
	}

	desc, err := k.describer.Describe(ctx, path, contentType)
	if err != nil {
		k.logger.Warn().Err(err).Str("path", path).Msg("Media description failed, indexing metadata only")
		return content
	}
	if desc == "" {
		return content
	}
	return "Description: " + desc + "\n" + content
}

// archiveVersion copies the current record and its embedding snapshot into
// version history. Archive failures are logged, never fatal to the Put.
func (k *Keeper) archiveVersion(ctx context.Context, existing *docstore.Record) {
	version, err := k.docs.CopyRecord(ctx, k.collection, existing.ID)
	if err != nil {
		k.logger.Warn().Err(err).Str("id", existing.ID).Msg("Failed to archive document version")
		return
	}

	embedding, err := k.vecs.GetEmbedding(ctx, k.collection, existing.ID)
	if err != nil && !errors.Is(err, vecstore.ErrNotFound) {
		k.logger.Warn().Err(err).Str("id", existing.ID).Msg("Failed to read embedding for version archive")
	}
	if err := k.vecs.UpsertVersion(ctx, vecstore.Entry{
		Collection: k.collection,
		ID:         existing.ID,
		Summary:    existing.Summary,
		Tags:       existing.Tags,
		Embedding:  embedding,
	}, version); err != nil {
		k.logger.Warn().Err(err).Str("id", existing.ID).Msg("Failed to archive embedding version")
	}
}

// summarize produces a short summary, degrading to a truncated first line
// when no summarizer is configured or the call fails.
func (k *Keeper) summarize(ctx context.Context, content string) string {
	if k.summarizer != nil {
		summary, err := k.summarizer.Summarize(ctx, content)
		if err != nil {
			k.logger.Warn().Err(err).Msg("Summarization failed, using fallback summary")
		} else if summary != "" {
			return summary
		}
	}
	return fallbackSummary(content)
}

func fallbackSummary(content string) string {
	line := strings.TrimSpace(content)
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = strings.TrimSpace(line[:nl])
	}
	const maxLen = 200
	return truncateRunes(line, maxLen)
}

func storedFileFingerprint(tags map[string]string) string {
	m, okM := tags[tagFileMtimeNS]
	s, okS := tags[tagFileSize]
	if !okM || !okS {
		return ""
	}
	return m + ":" + s
}

// Get returns a document by id and bumps its access time
func (k *Keeper) Get(ctx context.Context, id string) (*Item, error) {
	rec, err := k.docs.Get(ctx, k.collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = k.docs.Touch(ctx, k.collection, id)
	return &Item{ID: rec.ID, Summary: rec.Summary, Tags: rec.Tags}, nil
}

// Exists reports whether a document exists
func (k *Keeper) Exists(ctx context.Context, id string) (bool, error) {
	return k.docs.Exists(ctx, k.collection, id)
}

// Count returns the number of documents in the collection
func (k *Keeper) Count(ctx context.Context) (int, error) {
	return k.docs.Count(ctx, k.collection)
}

// Delete removes a document, its parts, and its versions from both stores.
// Returns whether anything was removed.
func (k *Keeper) Delete(ctx context.Context, id string) (bool, error) {
	docsRemoved, err := k.docs.Delete(ctx, k.collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	vecsRemoved, err := k.vecs.Delete(ctx, k.collection, id)
	if err != nil {
		return docsRemoved, fmt.Errorf("document store deleted but vector store failed for %q: %w", id, err)
	}
	return docsRemoved || vecsRemoved, nil
}

// Find returns the nearest documents for a query, best match first. Each
// item carries a similarity score of 1 - cosine_distance; the transform is
// part of the public contract.
func (k *Keeper) Find(ctx context.Context, query string, limit int) ([]Item, error) {
	if query == "" {
		return []Item{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	embedding, err := k.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := k.vecs.QueryEmbedding(ctx, k.collection, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	items := make([]Item, 0, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		score := r.Score
		items = append(items, Item{
			ID:      r.ID,
			Summary: r.Summary,
			Tags:    r.Tags,
			Score:   &score,
		})
		ids = append(ids, r.ID)
	}
	if err := k.docs.TouchMany(ctx, k.collection, ids); err != nil {
		k.logger.Debug().Err(err).Msg("Failed to touch search results")
	}
	return items, nil
}

// Analyze decomposes a document into ordered parts. When the stored
// analysis hash matches the current content hash and force is false, the
// existing parts are returned without invoking any collaborator. Otherwise
// the part set is replaced atomically and the analysis hash updated.
func (k *Keeper) Analyze(ctx context.Context, id string, force bool) ([]docstore.Part, error) {
	rec, err := k.docs.Get(ctx, k.collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !k.detector.NeedsUpdate(rec.Tags[tagAnalyzedHash], rec.ContentHash, force) {
		return k.docs.ListParts(ctx, k.collection, id)
	}

	content := ""
	if entry, err := k.vecs.Get(ctx, k.collection, id); err == nil {
		content = entry.Content
	} else {
		k.logger.Warn().Err(err).Str("id", id).Msg("No stored content for analysis")
	}

	sections := k.decomposer.Decompose(ctx, content)

	parts := make([]docstore.Part, 0, len(sections))
	for i, s := range sections {
		summary := s.Summary
		if summary == "" {
			summary = firstLineSummary(s.Content)
		}
		parts = append(parts, docstore.Part{
			PartNum: i + 1,
			Summary: summary,
			Tags:    mergeTags(userTags(rec.Tags), s.Tags),
			Content: s.Content,
		})
	}

	if err := k.docs.UpsertParts(ctx, k.collection, id, parts); err != nil {
		return nil, fmt.Errorf("failed to store parts: %w", err)
	}
	k.indexParts(ctx, id, parts)

	newTags := mergeTags(rec.Tags, map[string]string{tagAnalyzedHash: rec.ContentHash})
	if err := k.docs.UpdateTags(ctx, k.collection, id, newTags); err != nil {
		return nil, fmt.Errorf("failed to record analysis hash: %w", err)
	}
	if err := k.vecs.UpdateTags(ctx, k.collection, id, newTags); err != nil && !errors.Is(err, vecstore.ErrNotFound) {
		return nil, fmt.Errorf("document store updated but vector store failed for %q: %w", id, err)
	}

	return parts, nil
}

// indexParts embeds and stores part vectors. Failures degrade: parts remain
// readable from the document store even when part embeddings are missing.
func (k *Keeper) indexParts(ctx context.Context, id string, parts []docstore.Part) {
	if err := k.vecs.DeleteParts(ctx, k.collection, id); err != nil {
		k.logger.Warn().Err(err).Str("id", id).Msg("Failed to clear part embeddings")
	}
	if len(parts) == 0 {
		return
	}

	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Content
	}
	embeddings, err := k.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		k.logger.Warn().Err(err).Str("id", id).Msg("Part embedding failed, parts not searchable")
		return
	}

	for i, p := range parts {
		err := k.vecs.UpsertPart(ctx, vecstore.Entry{
			Collection: k.collection,
			ID:         id,
			Summary:    p.Summary,
			Tags:       p.Tags,
			Content:    p.Content,
			Embedding:  embeddings[i],
		}, p.PartNum)
		if err != nil {
			k.logger.Warn().Err(err).Str("id", id).Int("part", p.PartNum).Msg("Failed to index part")
		}
	}
}

// EnqueueAnalyze reports whether analysis is needed: never analyzed, content
// changed since the last analysis, or force. It performs no work itself so
// an external worker can throttle expensive analysis.
func (k *Keeper) EnqueueAnalyze(ctx context.Context, id string, force bool) (bool, error) {
	rec, err := k.docs.Get(ctx, k.collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return k.detector.NeedsUpdate(rec.Tags[tagAnalyzedHash], rec.ContentHash, force), nil
}

// GetPart returns one part of a document as an Item whose Summary holds the
// part's full content. Returns nil (no error) when partNum exceeds the
// stored part count; ErrNotFound when the document itself does not exist.
func (k *Keeper) GetPart(ctx context.Context, id string, partNum int) (*Item, error) {
	exists, err := k.docs.Exists(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	part, err := k.docs.GetPart(ctx, k.collection, id, partNum)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	total, err := k.docs.PartCount(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}

	return k.partItem(id, *part, total), nil
}

// ListParts returns all parts of a document ordered by part number
func (k *Keeper) ListParts(ctx context.Context, id string) ([]Item, error) {
	parts, err := k.docs.ListParts(ctx, k.collection, id)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(parts))
	for _, p := range parts {
		items = append(items, *k.partItem(id, p, len(parts)))
	}
	return items, nil
}

func (k *Keeper) partItem(id string, part docstore.Part, total int) *Item {
	tags := mergeTags(part.Tags, map[string]string{
		tagPartNum:    strconv.Itoa(part.PartNum),
		tagBaseID:     id,
		tagTotalParts: strconv.Itoa(total),
	})
	return &Item{
		ID:      fmt.Sprintf("%s#%d", id, part.PartNum),
		Summary: part.Content,
		Tags:    tags,
	}
}

// ResolveMeta evaluates every registered persistent meta-doc against an
// anchor document. See MetaResolutionEngine.ResolveMeta.
func (k *Keeper) ResolveMeta(ctx context.Context, anchorID string) (map[string][]Item, error) {
	return k.meta.ResolveMeta(ctx, anchorID)
}

// ResolveInlineMeta evaluates ad-hoc tag queries against an anchor document.
// See MetaResolutionEngine.ResolveInlineMeta.
func (k *Keeper) ResolveInlineMeta(ctx context.Context, anchorID string, queries []map[string]string, contextKeys, prereqKeys []string, limit int) ([]Item, error) {
	return k.meta.ResolveInlineMeta(ctx, anchorID, queries, contextKeys, prereqKeys, limit)
}

// RegisterMetaDoc persists a meta-doc definition as a hidden document
func (k *Keeper) RegisterMetaDoc(ctx context.Context, md MetaDoc) error {
	return k.meta.Register(ctx, md)
}

// ListMetaDocs returns all registered persistent meta-docs
func (k *Keeper) ListMetaDocs(ctx context.Context) ([]MetaDoc, error) {
	return k.meta.List(ctx)
}

// Touch bumps a document's access time
func (k *Keeper) Touch(ctx context.Context, id string) error {
	return k.docs.Touch(ctx, k.collection, id)
}

// Close closes both stores
func (k *Keeper) Close() error {
	docErr := k.docs.Close()
	vecErr := k.vecs.Close()
	if docErr != nil {
		return docErr
	}
	return vecErr
}
