package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) a SQLite-backed document store
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "docstore").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			content_hash TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_accessed ON documents(collection, accessed_at);

		CREATE TABLE IF NOT EXISTS document_versions (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			content_hash TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			archived_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id, version)
		);

		CREATE TABLE IF NOT EXISTS document_parts (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			part_num INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			content TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id, part_num)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func marshalTags(tags map[string]string) string {
	if tags == nil {
		tags = map[string]string{}
	}
	data, _ := json.Marshal(tags)
	return string(data)
}

func unmarshalTags(data string) map[string]string {
	tags := map[string]string{}
	if data != "" {
		_ = json.Unmarshal([]byte(data), &tags)
	}
	return tags
}

// Upsert writes a record, preserving created_at for existing rows when the
// incoming record does not carry one.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	accessed := rec.AccessedAt
	if accessed.IsZero() {
		accessed = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, summary, tags, content_hash, created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			summary = excluded.summary,
			tags = excluded.tags,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at,
			accessed_at = excluded.accessed_at
	`, rec.Collection, rec.ID, rec.Summary, marshalTags(rec.Tags), rec.ContentHash,
		created.UnixNano(), updated.UnixNano(), accessed.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	var tags string
	var createdAt, updatedAt, accessedAt int64
	err := row.Scan(&rec.Collection, &rec.ID, &rec.Summary, &tags, &rec.ContentHash,
		&createdAt, &updatedAt, &accessedAt)
	if err != nil {
		return nil, err
	}
	rec.Tags = unmarshalTags(tags)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	rec.AccessedAt = time.Unix(0, accessedAt)
	return &rec, nil
}

const recordColumns = "collection, id, summary, tags, content_hash, created_at, updated_at, accessed_at"

// Get returns a record, or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM documents WHERE collection = ? AND id = ?", collection, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return rec, nil
}

// Exists reports whether a record exists
func (s *SQLiteStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return n > 0, nil
}

// Delete removes a record, its versions, and its parts.
// Returns whether a record existed.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM document_versions WHERE collection = ? AND id = ?", collection, id); err != nil {
		return false, fmt.Errorf("failed to delete versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM document_parts WHERE collection = ? AND id = ?", collection, id); err != nil {
		return false, fmt.Errorf("failed to delete parts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListIDs returns all document ids in a collection
func (s *SQLiteStore) ListIDs(ctx context.Context, collection string) ([]string, error) {
	return s.queryStrings(ctx,
		"SELECT id FROM documents WHERE collection = ? ORDER BY id", collection)
}

// Count returns the number of documents in a collection
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// UpdateTags replaces the full tag map without touching the content hash
func (s *SQLiteStore) UpdateTags(ctx context.Context, collection, id string, tags map[string]string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET tags = ?, updated_at = ? WHERE collection = ? AND id = ?",
		marshalTags(tags), time.Now().UnixNano(), collection, id)
	if err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSummary replaces the summary without touching the content hash
func (s *SQLiteStore) UpdateSummary(ctx context.Context, collection, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET summary = ?, updated_at = ? WHERE collection = ? AND id = ?",
		summary, time.Now().UnixNano(), collection, id)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch bumps the access time of a record
func (s *SQLiteStore) Touch(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET accessed_at = ? WHERE collection = ? AND id = ?",
		time.Now().UnixNano(), collection, id)
	if err != nil {
		return fmt.Errorf("failed to touch document: %w", err)
	}
	return nil
}

// TouchMany bumps access times for multiple records in one statement
func (s *SQLiteStore) TouchMany(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+2)
	args = append(args, time.Now().UnixNano(), collection)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET accessed_at = ? WHERE collection = ? AND id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to touch documents: %w", err)
	}
	return nil
}

// ListRecent returns records ordered by most recent access
func (s *SQLiteStore) ListRecent(ctx context.Context, collection string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM documents WHERE collection = ? ORDER BY accessed_at DESC LIMIT ?",
		collection, limit)
}

// QueryByTagKey returns records carrying a tag key, regardless of value
func (s *SQLiteStore) QueryByTagKey(ctx context.Context, collection, key string) ([]Record, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM documents WHERE collection = ? AND json_extract(tags, '$.' || ?) IS NOT NULL ORDER BY updated_at DESC",
		collection, key)
}

// QueryByIDPrefix returns records whose id starts with prefix
func (s *SQLiteStore) QueryByIDPrefix(ctx context.Context, collection, prefix string) ([]Record, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM documents WHERE collection = ? AND id LIKE ? || '%' ORDER BY id",
		collection, prefix)
}

// ListDistinctTagKeys returns every tag key used in a collection
func (s *SQLiteStore) ListDistinctTagKeys(ctx context.Context, collection string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT DISTINCT j.key FROM documents d, json_each(d.tags) j
		WHERE d.collection = ? ORDER BY j.key`, collection)
}

// ListDistinctTagValues returns every value stored under a tag key
func (s *SQLiteStore) ListDistinctTagValues(ctx context.Context, collection, key string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT DISTINCT j.value FROM documents d, json_each(d.tags) j
		WHERE d.collection = ? AND j.key = ? ORDER BY j.value`, collection, key)
}

// CopyRecord archives the current record into the version history and
// returns the assigned version number.
func (s *SQLiteStore) CopyRecord(ctx context.Context, collection, id string) (int, error) {
	rec, err := s.Get(ctx, collection, id)
	if err != nil {
		return 0, err
	}

	maxVersion, err := s.MaxVersion(ctx, collection, id)
	if err != nil {
		return 0, err
	}
	version := maxVersion + 1

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_versions (collection, id, version, summary, tags, content_hash, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, collection, id, version, rec.Summary, marshalTags(rec.Tags), rec.ContentHash,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to copy record: %w", err)
	}
	return version, nil
}

func scanVersionedRecord(row interface{ Scan(...any) error }) (*VersionedRecord, error) {
	var vr VersionedRecord
	var tags string
	var createdAt, updatedAt, archivedAt int64
	err := row.Scan(&vr.Collection, &vr.ID, &vr.Version, &vr.Summary, &tags, &vr.ContentHash,
		&createdAt, &updatedAt, &archivedAt)
	if err != nil {
		return nil, err
	}
	vr.Tags = unmarshalTags(tags)
	vr.CreatedAt = time.Unix(0, createdAt)
	vr.UpdatedAt = time.Unix(0, updatedAt)
	vr.ArchivedAt = time.Unix(0, archivedAt)
	return &vr, nil
}

const versionColumns = "collection, id, version, summary, tags, content_hash, created_at, updated_at, archived_at"

// GetVersion returns one archived version of a record
func (s *SQLiteStore) GetVersion(ctx context.Context, collection, id string, version int) (*VersionedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM document_versions WHERE collection = ? AND id = ? AND version = ?",
		collection, id, version)
	vr, err := scanVersionedRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return vr, nil
}

// ListVersions returns all archived versions of a record, oldest first
func (s *SQLiteStore) ListVersions(ctx context.Context, collection, id string) ([]VersionedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM document_versions WHERE collection = ? AND id = ? ORDER BY version",
		collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []VersionedRecord
	for rows.Next() {
		vr, err := scanVersionedRecord(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *vr)
	}
	return versions, rows.Err()
}

// MaxVersion returns the highest archived version number, 0 when none exist
func (s *SQLiteStore) MaxVersion(ctx context.Context, collection, id string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(version) FROM document_versions WHERE collection = ? AND id = ?",
		collection, id).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get max version: %w", err)
	}
	return int(version.Int64), nil
}

// VersionCount returns the number of archived versions
func (s *SQLiteStore) VersionCount(ctx context.Context, collection, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_versions WHERE collection = ? AND id = ?",
		collection, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

// RestoreLatestVersion copies the newest archived version back over the
// current record and returns the restored record.
func (s *SQLiteStore) RestoreLatestVersion(ctx context.Context, collection, id string) (*Record, error) {
	maxVersion, err := s.MaxVersion(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if maxVersion == 0 {
		return nil, ErrNotFound
	}

	vr, err := s.GetVersion(ctx, collection, id, maxVersion)
	if err != nil {
		return nil, err
	}

	restored := vr.Record
	restored.UpdatedAt = time.Now()
	if err := s.Upsert(ctx, restored); err != nil {
		return nil, err
	}
	return &restored, nil
}

// PruneVersions drops archived versions beyond the newest keep entries.
// Returns the number of versions removed.
func (s *SQLiteStore) PruneVersions(ctx context.Context, collection, id string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	maxVersion, err := s.MaxVersion(ctx, collection, id)
	if err != nil {
		return 0, err
	}
	cutoff := maxVersion - keep
	if cutoff <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM document_versions WHERE collection = ? AND id = ? AND version <= ?",
		collection, id, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune versions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpsertParts replaces the whole part set for a document atomically
func (s *SQLiteStore) UpsertParts(ctx context.Context, collection, id string, parts []Part) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM document_parts WHERE collection = ? AND id = ?", collection, id); err != nil {
		return fmt.Errorf("failed to clear parts: %w", err)
	}

	now := time.Now()
	for _, p := range parts {
		created := p.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_parts (collection, id, part_num, summary, tags, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, collection, id, p.PartNum, p.Summary, marshalTags(p.Tags), p.Content, created.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert part %d: %w", p.PartNum, err)
		}
	}

	return tx.Commit()
}

// GetPart returns one part, or ErrNotFound when the part number is out of range
func (s *SQLiteStore) GetPart(ctx context.Context, collection, id string, partNum int) (*Part, error) {
	var p Part
	var tags string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT part_num, summary, tags, content, created_at FROM document_parts
		WHERE collection = ? AND id = ? AND part_num = ?
	`, collection, id, partNum).Scan(&p.PartNum, &p.Summary, &tags, &p.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get part: %w", err)
	}
	p.Tags = unmarshalTags(tags)
	p.CreatedAt = time.Unix(0, createdAt)
	return &p, nil
}

// ListParts returns all parts for a document ordered by part number
func (s *SQLiteStore) ListParts(ctx context.Context, collection, id string) ([]Part, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT part_num, summary, tags, content, created_at FROM document_parts
		WHERE collection = ? AND id = ? ORDER BY part_num
	`, collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		var p Part
		var tags string
		var createdAt int64
		if err := rows.Scan(&p.PartNum, &p.Summary, &tags, &p.Content, &createdAt); err != nil {
			return nil, err
		}
		p.Tags = unmarshalTags(tags)
		p.CreatedAt = time.Unix(0, createdAt)
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// PartCount returns the number of stored parts for a document
func (s *SQLiteStore) PartCount(ctx context.Context, collection, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_parts WHERE collection = ? AND id = ?",
		collection, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count parts: %w", err)
	}
	return n, nil
}

// DeleteParts removes all parts for a document
func (s *SQLiteStore) DeleteParts(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM document_parts WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete parts: %w", err)
	}
	return nil
}

// ListCollections returns every collection with at least one document
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT DISTINCT collection FROM documents ORDER BY collection")
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
