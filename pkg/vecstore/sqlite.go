package vecstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteStore implements Store on SQLite with the sqlite-vec vec0 virtual
// table for similarity search and FTS5 for full text.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
	logger    zerolog.Logger
}

// OpenSQLite opens (or creates) a SQLite-backed vector store. The embedding
// dimension is fixed at open time and sizes the vec0 column.
func OpenSQLite(path string, dimension int, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}

	db, err := sql.Open("sqlite3", path+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		dimension: dimension,
		logger:    logger.With().Str("component", "vecstore").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			content TEXT NOT NULL DEFAULT '',
			embedding TEXT,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			entry_key UNINDEXED,
			content,
			tokenize='porter unicode61'
		);

		CREATE TABLE IF NOT EXISTS entry_versions (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			version INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			embedding TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id, version)
		);

		CREATE TABLE IF NOT EXISTS entry_parts (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			part_num INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			content TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (collection, id, part_num)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
			entry_key TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	return nil
}

// entryKey builds the vec0/FTS row key. Part rows append "#N" so they can be
// told apart from whole-document rows.
func entryKey(collection, id string) string {
	return collection + "/" + id
}

func partKey(collection, id string, partNum int) string {
	return fmt.Sprintf("%s/%s#%d", collection, id, partNum)
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

func marshalEmbedding(embedding []float32) (sql.NullString, error) {
	if embedding == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Upsert writes an entry and refreshes its FTS row. When the entry carries an
// embedding the vec0 row is replaced as well; a nil embedding removes any
// previous vector, leaving the entry retrievable by id, tag, and full text
// only. A vector must never outlive the content it was computed from.
func (s *SQLiteStore) Upsert(ctx context.Context, e Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.upsertTx(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertBatch writes multiple entries in one transaction
func (s *SQLiteStore) UpsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := s.upsertTx(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) upsertTx(ctx context.Context, tx *sql.Tx, e Entry) error {
	embJSON, err := marshalEmbedding(e.Embedding)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (collection, id, summary, tags, content, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			summary = excluded.summary,
			tags = excluded.tags,
			content = excluded.content,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`, e.Collection, e.ID, e.Summary, marshalTags(e.Tags), e.Content, embJSON, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}

	key := entryKey(e.Collection, e.ID)
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries_fts WHERE entry_key = ?", key); err != nil {
		return fmt.Errorf("failed to clear fulltext row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entries_fts (entry_key, content) VALUES (?, ?)", key, e.Content); err != nil {
		return fmt.Errorf("failed to index fulltext: %w", err)
	}

	// vec0 does not support REPLACE conflict resolution, so the old row must
	// go before the new one lands.
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE entry_key = ?", key); err != nil {
		return fmt.Errorf("failed to clear embedding: %w", err)
	}
	if embJSON.Valid {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO embeddings (entry_key, embedding) VALUES (?, ?)",
			key, embJSON.String); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}

	return nil
}

// UpsertVersion archives an embedding snapshot for a version number
func (s *SQLiteStore) UpsertVersion(ctx context.Context, e Entry, version int) error {
	embJSON, err := marshalEmbedding(e.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO entry_versions (collection, id, version, summary, tags, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Collection, e.ID, version, e.Summary, marshalTags(e.Tags), embJSON, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert version: %w", err)
	}
	return nil
}

// UpsertPart stores a part row and, when embedded, its vec0 row
func (s *SQLiteStore) UpsertPart(ctx context.Context, e Entry, partNum int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO entry_parts (collection, id, part_num, summary, tags, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Collection, e.ID, partNum, e.Summary, marshalTags(e.Tags), e.Content); err != nil {
		return fmt.Errorf("failed to upsert part: %w", err)
	}

	embJSON, err := marshalEmbedding(e.Embedding)
	if err != nil {
		return err
	}
	key := partKey(e.Collection, e.ID, partNum)
	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE entry_key = ?", key); err != nil {
		return fmt.Errorf("failed to clear part embedding: %w", err)
	}
	if embJSON.Valid {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO embeddings (entry_key, embedding) VALUES (?, ?)",
			key, embJSON.String); err != nil {
			return fmt.Errorf("failed to store part embedding: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns an entry without its embedding, or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Entry, error) {
	var e Entry
	var tags string
	err := s.db.QueryRowContext(ctx,
		"SELECT collection, id, summary, tags, content FROM entries WHERE collection = ? AND id = ?",
		collection, id).Scan(&e.Collection, &e.ID, &e.Summary, &tags, &e.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	e.Tags = unmarshalTags(tags)
	return &e, nil
}

// GetEmbedding returns the stored embedding for an entry. A nil slice with a
// nil error means the entry exists but was never embedded.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, collection, id string) ([]float32, error) {
	var embJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM entries WHERE collection = ? AND id = ?",
		collection, id).Scan(&embJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	if !embJSON.Valid {
		return nil, nil
	}

	var embedding []float32
	if err := json.Unmarshal([]byte(embJSON.String), &embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return embedding, nil
}

// Exists reports whether an entry exists
func (s *SQLiteStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM entries WHERE collection = ? AND id = ?", collection, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return n > 0, nil
}

// Delete removes an entry, its vec0 and FTS rows, versions, and parts.
// Returns whether an entry existed.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	removed, err := s.deleteTx(ctx, tx, collection, id)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return removed, nil
}

func (s *SQLiteStore) deleteTx(ctx context.Context, tx *sql.Tx, collection, id string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"DELETE FROM entries WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry: %w", err)
	}

	key := entryKey(collection, id)
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries_fts WHERE entry_key = ?", key); err != nil {
		return false, fmt.Errorf("failed to delete fulltext row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM embeddings WHERE entry_key = ? OR entry_key LIKE ? || '#%'", key, key); err != nil {
		return false, fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entry_versions WHERE collection = ? AND id = ?", collection, id); err != nil {
		return false, fmt.Errorf("failed to delete versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entry_parts WHERE collection = ? AND id = ?", collection, id); err != nil {
		return false, fmt.Errorf("failed to delete parts: %w", err)
	}

	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// DeleteParts removes all part rows and part embeddings for a document
func (s *SQLiteStore) DeleteParts(ctx context.Context, collection, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entry_parts WHERE collection = ? AND id = ?", collection, id); err != nil {
		return fmt.Errorf("failed to delete parts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM embeddings WHERE entry_key LIKE ? || '#%'", entryKey(collection, id)); err != nil {
		return fmt.Errorf("failed to delete part embeddings: %w", err)
	}
	return tx.Commit()
}

// DeleteEntries removes multiple entries in one transaction
func (s *SQLiteStore) DeleteEntries(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := s.deleteTx(ctx, tx, collection, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryEmbedding returns the nearest whole-document entries for a query
// vector, best match first. Scores are 1 - cosine_distance.
func (s *SQLiteStore) QueryEmbedding(ctx context.Context, collection string, embedding []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}

	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query embedding: %w", err)
	}

	// Over-fetch so collection filtering and part-row exclusion below still
	// leave enough candidates.
	fetch := limit*8 + 64
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_key, vec_distance_cosine(embedding, ?) AS distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embJSON), fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	prefix := collection + "/"
	var results []Result
	for rows.Next() {
		var key string
		var distance float64
		if err := rows.Scan(&key, &distance); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(key, prefix) || strings.Contains(key, "#") {
			continue
		}
		id := strings.TrimPrefix(key, prefix)

		entry, err := s.Get(ctx, collection, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("Failed to fetch entry for search hit")
			continue
		}

		results = append(results, Result{
			ID:      id,
			Summary: entry.Summary,
			Tags:    entry.Tags,
			Content: entry.Content,
			Score:   1.0 - distance,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

// QueryMetadata returns entries matching any of the tag clauses. Each clause
// is an AND group of tag=value pairs; clauses combine with OR. Results are
// ordered most recently updated first.
func (s *SQLiteStore) QueryMetadata(ctx context.Context, collection string, clauses []map[string]string, limit int) ([]Result, error) {
	if len(clauses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var orGroups []string
	args := []any{collection}
	for _, clause := range clauses {
		if len(clause) == 0 {
			continue
		}
		keys := make([]string, 0, len(clause))
		for k := range clause {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var andTerms []string
		for _, k := range keys {
			andTerms = append(andTerms, "json_extract(tags, '$.' || ?) = ?")
			args = append(args, k, clause[k])
		}
		orGroups = append(orGroups, "("+strings.Join(andTerms, " AND ")+")")
	}
	if len(orGroups) == 0 {
		return nil, nil
	}
	args = append(args, limit)

	query := `
		SELECT id, summary, tags, content FROM entries
		WHERE collection = ? AND (` + strings.Join(orGroups, " OR ") + `)
		ORDER BY updated_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var tags string
		if err := rows.Scan(&r.ID, &r.Summary, &tags, &r.Content); err != nil {
			return nil, err
		}
		r.Tags = unmarshalTags(tags)
		results = append(results, r)
	}
	return results, rows.Err()
}

// QueryFulltext performs an FTS5 keyword query, best match first
func (s *SQLiteStore) QueryFulltext(ctx context.Context, collection, query string, limit int) ([]Result, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_key, bm25(entries_fts) AS score
		FROM entries_fts
		WHERE entries_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit*4)
	if err != nil {
		return nil, fmt.Errorf("failed to query fulltext: %w", err)
	}
	defer rows.Close()

	prefix := collection + "/"
	var results []Result
	for rows.Next() {
		var key string
		var score float64
		if err := rows.Scan(&key, &score); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		id := strings.TrimPrefix(key, prefix)

		entry, err := s.Get(ctx, collection, id)
		if err != nil {
			continue
		}

		// BM25 scores are negative, better matches are more negative
		results = append(results, Result{
			ID:      id,
			Summary: entry.Summary,
			Tags:    entry.Tags,
			Content: entry.Content,
			Score:   -score,
		})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

// ListCollections returns every collection with at least one entry
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT DISTINCT collection FROM entries ORDER BY collection")
}

// Count returns the number of entries in a collection
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE collection = ?", collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// ListIDs returns all entry ids in a collection
func (s *SQLiteStore) ListIDs(ctx context.Context, collection string) ([]string, error) {
	return s.queryStrings(ctx,
		"SELECT id FROM entries WHERE collection = ? ORDER BY id", collection)
}

// FindMissingIDs returns the subset of ids with no entry in the collection
func (s *SQLiteStore) FindMissingIDs(ctx context.Context, collection string, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		exists, err := s.Exists(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// UpdateSummary replaces an entry's summary
func (s *SQLiteStore) UpdateSummary(ctx context.Context, collection, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE entries SET summary = ?, updated_at = ? WHERE collection = ? AND id = ?",
		summary, time.Now().UnixNano(), collection, id)
	if err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTags replaces an entry's full tag map
func (s *SQLiteStore) UpdateTags(ctx context.Context, collection, id string, tags map[string]string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE entries SET tags = ?, updated_at = ? WHERE collection = ? AND id = ?",
		marshalTags(tags), time.Now().UnixNano(), collection, id)
	if err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
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
