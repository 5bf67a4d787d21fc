package keeper

import (
	"errors"
)

// Errors returned by Keeper operations
var (
	// ErrNotFound signals an operation on a document that does not exist
	ErrNotFound = errors.New("document not found")

	// ErrNotIndexed reports a partial success: the document is stored and
	// retrievable by id and tag, but embedding failed so it is not
	// semantically searchable until the next successful Put.
	ErrNotIndexed = errors.New("document stored but not semantically indexed")
)

// Internal tag keys maintained by Keeper. Tags starting with "_" are never
// considered user tags and are ignored when comparing caller-supplied tags.
const (
	tagFileMtimeNS  = "_file_mtime_ns"
	tagFileSize     = "_file_size"
	tagAnalyzedHash = "_analyzed_hash"
	tagPartNum      = "_part_num"
	tagBaseID       = "_base_id"
	tagTotalParts   = "_total_parts"
	tagMetaDoc      = "_meta_doc"
)

// HiddenIDPrefix marks ids that never appear in resolution results
const HiddenIDPrefix = "."

// Item is the retrievable unit returned by read operations
type Item struct {
	ID      string            `json:"id"`
	Summary string            `json:"summary"`
	Tags    map[string]string `json:"tags"`
	Changed bool              `json:"changed"`
	Score   *float64          `json:"score,omitempty"`
}

// PutRequest describes a write. Exactly one of Content and URI must be set;
// ID is optional (derived from URI, or generated).
type PutRequest struct {
	ID      string            `json:"id,omitempty"`
	Content string            `json:"content,omitempty"`
	URI     string            `json:"uri,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// MetaDoc is a named tag-query definition producing a derived view.
// Clauses are AND groups of tag=value pairs combined with OR.
// PrerequisiteKeys gate evaluation: if the anchor lacks any of them, the
// meta-doc is skipped. ContextKeys substitute the anchor's own tag values
// into every clause, scoping results to the anchor's context.
type MetaDoc struct {
	Name             string              `json:"name"`
	Clauses          []map[string]string `json:"clauses"`
	PrerequisiteKeys []string            `json:"prerequisite_keys,omitempty"`
	ContextKeys      []string            `json:"context_keys,omitempty"`
	Limit            int                 `json:"limit,omitempty"`
}

// isHidden reports whether an id is hidden from resolution results
func isHidden(id string) bool {
	return len(id) > 0 && id[0] == '.'
}

// userTags returns the subset of tags not maintained internally
func userTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}

// mergeTags overlays each map left to right; later values win on key conflict
func mergeTags(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// tagsEqual compares two tag maps for exact equality
func tagsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
