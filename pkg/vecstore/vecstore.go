package vecstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an entry does not exist
var ErrNotFound = errors.New("entry not found")

// Entry is an embedding-indexed record. Embedding may be nil, in which case
// the entry is stored for id/tag/full-text access but not similarity search.
type Entry struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Summary    string            `json:"summary"`
	Tags       map[string]string `json:"tags"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"embedding,omitempty"`
}

// Result is a query hit. Score is a similarity in similarity order (higher is
// better) for embedding and full-text queries, and zero for metadata queries.
type Result struct {
	ID      string            `json:"id"`
	Summary string            `json:"summary"`
	Tags    map[string]string `json:"tags"`
	Content string            `json:"content"`
	Score   float64           `json:"score"`
}

// Store persists embedding-indexed records queryable by similarity, tag
// metadata, and full text, scoped by collection.
type Store interface {
	Upsert(ctx context.Context, e Entry) error
	UpsertBatch(ctx context.Context, entries []Entry) error
	UpsertVersion(ctx context.Context, e Entry, version int) error
	UpsertPart(ctx context.Context, e Entry, partNum int) error

	Get(ctx context.Context, collection, id string) (*Entry, error)
	GetEmbedding(ctx context.Context, collection, id string) ([]float32, error)
	Exists(ctx context.Context, collection, id string) (bool, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
	DeleteParts(ctx context.Context, collection, id string) error
	DeleteEntries(ctx context.Context, collection string, ids []string) error

	QueryEmbedding(ctx context.Context, collection string, embedding []float32, limit int) ([]Result, error)
	QueryMetadata(ctx context.Context, collection string, clauses []map[string]string, limit int) ([]Result, error)
	QueryFulltext(ctx context.Context, collection, query string, limit int) ([]Result, error)

	ListCollections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, collection string) (int, error)
	ListIDs(ctx context.Context, collection string) ([]string, error)
	FindMissingIDs(ctx context.Context, collection string, ids []string) ([]string, error)

	UpdateSummary(ctx context.Context, collection, id, summary string) error
	UpdateTags(ctx context.Context, collection, id string, tags map[string]string) error

	Close() error
}
