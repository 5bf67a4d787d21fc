package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/keepstack/keeper/pkg/docstore"
	"github.com/keepstack/keeper/pkg/vecstore"
)

// metaDocIDPrefix is where persistent meta-doc definitions live. The leading
// dot hides them from resolution results and Find.
const metaDocIDPrefix = ".meta/"

// defaultMetaLimit bounds resolved views when neither the meta-doc nor the
// caller sets a limit.
const defaultMetaLimit = 10

// MetaResolutionEngine resolves persistent and ad-hoc tag-query views around
// an anchor document.
type MetaResolutionEngine struct {
	collection string
	docs       docstore.Store
	vecs       vecstore.Store
	limit      int
	logger     zerolog.Logger
}

// NewMetaResolutionEngine creates a resolution engine over the two stores
func NewMetaResolutionEngine(collection string, docs docstore.Store, vecs vecstore.Store, limit int, logger zerolog.Logger) *MetaResolutionEngine {
	if limit <= 0 {
		limit = defaultMetaLimit
	}
	return &MetaResolutionEngine{
		collection: collection,
		docs:       docs,
		vecs:       vecs,
		limit:      limit,
		logger:     logger.With().Str("component", "meta").Logger(),
	}
}

// Register persists a meta-doc definition as a hidden document. The
// definition JSON is the document content; the structured record carries a
// marker tag so definitions are discoverable by prefix and tag key.
func (e *MetaResolutionEngine) Register(ctx context.Context, md MetaDoc) error {
	if md.Name == "" {
		return errors.New("meta-doc name is required")
	}
	if len(md.Clauses) == 0 {
		return errors.New("meta-doc requires at least one clause")
	}

	defJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to marshal meta-doc: %w", err)
	}

	id := metaDocIDPrefix + md.Name
	hash := HashContent(string(defJSON))

	if err := e.docs.Upsert(ctx, docstore.Record{
		Collection:  e.collection,
		ID:          id,
		Summary:     "meta-doc: " + md.Name,
		Tags:        map[string]string{tagMetaDoc: "true"},
		ContentHash: hash,
	}); err != nil {
		return fmt.Errorf("failed to store meta-doc record: %w", err)
	}

	// No embedding: definitions are plumbing, not searchable memory.
	if err := e.vecs.Upsert(ctx, vecstore.Entry{
		Collection: e.collection,
		ID:         id,
		Summary:    "meta-doc: " + md.Name,
		Tags:       map[string]string{tagMetaDoc: "true"},
		Content:    string(defJSON),
	}); err != nil {
		return fmt.Errorf("document store updated but vector store failed for meta-doc %q: %w", md.Name, err)
	}

	return nil
}

// List returns all registered persistent meta-docs
func (e *MetaResolutionEngine) List(ctx context.Context) ([]MetaDoc, error) {
	records, err := e.docs.QueryByIDPrefix(ctx, e.collection, metaDocIDPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list meta-docs: %w", err)
	}

	var metaDocs []MetaDoc
	for _, rec := range records {
		entry, err := e.vecs.Get(ctx, e.collection, rec.ID)
		if err != nil {
			e.logger.Warn().Err(err).Str("id", rec.ID).Msg("Meta-doc definition missing from vector store")
			continue
		}
		var md MetaDoc
		if err := json.Unmarshal([]byte(entry.Content), &md); err != nil {
			e.logger.Warn().Err(err).Str("id", rec.ID).Msg("Failed to parse meta-doc definition")
			continue
		}
		metaDocs = append(metaDocs, md)
	}
	return metaDocs, nil
}

// ResolveMeta evaluates every registered meta-doc against an anchor and
// returns a mapping of meta-doc name to ordered items. A meta-doc whose
// prerequisite keys are missing from the anchor is omitted from the mapping;
// one whose prerequisites pass but whose query matches nothing appears with
// an empty list. A missing anchor yields an empty mapping, not an error.
func (e *MetaResolutionEngine) ResolveMeta(ctx context.Context, anchorID string) (map[string][]Item, error) {
	anchor, err := e.docs.Get(ctx, e.collection, anchorID)
	if errors.Is(err, docstore.ErrNotFound) {
		return map[string][]Item{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load anchor: %w", err)
	}

	metaDocs, err := e.List(ctx)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string][]Item, len(metaDocs))
	for _, md := range metaDocs {
		if !hasAllKeys(anchor.Tags, md.PrerequisiteKeys) {
			continue
		}
		limit := md.Limit
		if limit <= 0 {
			limit = e.limit
		}
		items, err := e.runQuery(ctx, anchor, md.Clauses, md.ContextKeys, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve meta-doc %q: %w", md.Name, err)
		}
		resolved[md.Name] = items
	}
	return resolved, nil
}

// ResolveInlineMeta evaluates a caller-supplied clause list against an anchor
// with the same gating, expansion, self-exclusion, and limit semantics as
// persistent meta-docs. Unmet prerequisites or a missing anchor return an
// empty slice.
func (e *MetaResolutionEngine) ResolveInlineMeta(ctx context.Context, anchorID string, queries []map[string]string, contextKeys, prereqKeys []string, limit int) ([]Item, error) {
	anchor, err := e.docs.Get(ctx, e.collection, anchorID)
	if errors.Is(err, docstore.ErrNotFound) {
		return []Item{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load anchor: %w", err)
	}

	if !hasAllKeys(anchor.Tags, prereqKeys) {
		return []Item{}, nil
	}
	if limit <= 0 {
		limit = defaultMetaLimit
	}

	return e.runQuery(ctx, anchor, queries, contextKeys, limit)
}

// runQuery executes OR-of-AND tag clauses with context expansion, drops the
// anchor and hidden ids, and truncates to limit.
func (e *MetaResolutionEngine) runQuery(ctx context.Context, anchor *docstore.Record, clauses []map[string]string, contextKeys []string, limit int) ([]Item, error) {
	expanded := expandClauses(clauses, contextKeys, anchor.Tags)
	if len(expanded) == 0 {
		return []Item{}, nil
	}

	// Over-fetch: the anchor itself and hidden ids are dropped below.
	results, err := e.vecs.QueryMetadata(ctx, e.collection, expanded, limit*2+8)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}

	items := make([]Item, 0, len(results))
	for _, r := range results {
		if r.ID == anchor.ID || isHidden(r.ID) {
			continue
		}
		items = append(items, Item{
			ID:      r.ID,
			Summary: r.Summary,
			Tags:    r.Tags,
		})
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

// expandClauses copies the clause list, adding anchorTags[key] for each
// context key the anchor actually carries.
func expandClauses(clauses []map[string]string, contextKeys []string, anchorTags map[string]string) []map[string]string {
	expanded := make([]map[string]string, 0, len(clauses))
	for _, clause := range clauses {
		merged := make(map[string]string, len(clause)+len(contextKeys))
		for k, v := range clause {
			merged[k] = v
		}
		for _, key := range contextKeys {
			if v, ok := anchorTags[key]; ok {
				merged[key] = v
			}
		}
		if len(merged) > 0 {
			expanded = append(expanded, merged)
		}
	}
	return expanded
}

func hasAllKeys(tags map[string]string, keys []string) bool {
	for _, k := range keys {
		if _, ok := tags[k]; !ok {
			return false
		}
	}
	return true
}
