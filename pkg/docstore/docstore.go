package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record, version, or part does not exist
var ErrNotFound = errors.New("document not found")

// Record is a structured document record.
// CreatedAt is immutable once set; UpdatedAt and AccessedAt track writes and reads.
type Record struct {
	Collection  string            `json:"collection"`
	ID          string            `json:"id"`
	Summary     string            `json:"summary"`
	Tags        map[string]string `json:"tags"`
	ContentHash string            `json:"content_hash"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	AccessedAt  time.Time         `json:"accessed_at"`
}

// VersionedRecord is an archived copy of a Record
type VersionedRecord struct {
	Record
	Version    int       `json:"version"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Part is an ordered sub-section of a document. PartNum is 1-based and
// contiguous; a document's part set is replaced as a unit.
type Part struct {
	PartNum   int               `json:"part_num"`
	Summary   string            `json:"summary"`
	Tags      map[string]string `json:"tags"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store persists structured document records, their version history, and parts
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, collection, id string) (*Record, error)
	Exists(ctx context.Context, collection, id string) (bool, error)
	Delete(ctx context.Context, collection, id string) (bool, error)
	ListIDs(ctx context.Context, collection string) ([]string, error)
	Count(ctx context.Context, collection string) (int, error)

	UpdateTags(ctx context.Context, collection, id string, tags map[string]string) error
	UpdateSummary(ctx context.Context, collection, id, summary string) error
	Touch(ctx context.Context, collection, id string) error
	TouchMany(ctx context.Context, collection string, ids []string) error
	ListRecent(ctx context.Context, collection string, limit int) ([]Record, error)

	QueryByTagKey(ctx context.Context, collection, key string) ([]Record, error)
	QueryByIDPrefix(ctx context.Context, collection, prefix string) ([]Record, error)
	ListDistinctTagKeys(ctx context.Context, collection string) ([]string, error)
	ListDistinctTagValues(ctx context.Context, collection, key string) ([]string, error)

	CopyRecord(ctx context.Context, collection, id string) (int, error)
	GetVersion(ctx context.Context, collection, id string, version int) (*VersionedRecord, error)
	ListVersions(ctx context.Context, collection, id string) ([]VersionedRecord, error)
	MaxVersion(ctx context.Context, collection, id string) (int, error)
	VersionCount(ctx context.Context, collection, id string) (int, error)
	RestoreLatestVersion(ctx context.Context, collection, id string) (*Record, error)
	PruneVersions(ctx context.Context, collection, id string, keep int) (int, error)

	UpsertParts(ctx context.Context, collection, id string, parts []Part) error
	GetPart(ctx context.Context, collection, id string, partNum int) (*Part, error)
	ListParts(ctx context.Context, collection, id string) ([]Part, error)
	PartCount(ctx context.Context, collection, id string) (int, error)
	DeleteParts(ctx context.Context, collection, id string) error

	ListCollections(ctx context.Context) ([]string, error)
	Close() error
}
