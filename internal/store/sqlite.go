package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements MetadataStore on modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// schemaSQL creates the metadata schema. Facet columns are indexed
// individually because FacetCounts groups over each of them.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS chunks (
	id             TEXT PRIMARY KEY,
	decision_id    TEXT NOT NULL,
	section        TEXT NOT NULL DEFAULT '',
	text           TEXT NOT NULL,
	legal_category TEXT NOT NULL DEFAULT '',
	quality_score  REAL NOT NULL DEFAULT 0,
	court_name     TEXT NOT NULL DEFAULT '',
	court_type     TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	case_number    TEXT NOT NULL DEFAULT '',
	content_type   TEXT NOT NULL DEFAULT '',
	has_qa_pairs   INTEGER NOT NULL DEFAULT 0,
	qa_count       INTEGER NOT NULL DEFAULT 0,
	display_json   TEXT NOT NULL DEFAULT '{}',
	entities_json  TEXT NOT NULL DEFAULT '{}',
	metadata_json  TEXT NOT NULL DEFAULT '{}',
	created_at     TEXT NOT NULL DEFAULT '',
	updated_at     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_chunks_decision ON chunks(decision_id);
CREATE INDEX IF NOT EXISTS idx_chunks_court_name ON chunks(court_name);
CREATE INDEX IF NOT EXISTS idx_chunks_court_type ON chunks(court_type);
CREATE INDEX IF NOT EXISTS idx_chunks_city ON chunks(city);
CREATE INDEX IF NOT EXISTS idx_chunks_legal_category ON chunks(legal_category);
CREATE INDEX IF NOT EXISTS idx_chunks_content_type ON chunks(content_type);

CREATE TABLE IF NOT EXISTS qa_pairs (
	qa_id           TEXT PRIMARY KEY,
	question        TEXT NOT NULL,
	answer          TEXT NOT NULL,
	legal_principle TEXT NOT NULL DEFAULT '',
	confidence      REAL NOT NULL DEFAULT 0,
	decision_id     TEXT NOT NULL,
	case_number     TEXT NOT NULL DEFAULT '',
	court_name      TEXT NOT NULL DEFAULT '',
	city            TEXT NOT NULL DEFAULT '',
	court_type      TEXT NOT NULL DEFAULT '',
	content_type    TEXT NOT NULL DEFAULT '',
	legal_category  TEXT NOT NULL DEFAULT '',
	question_type   TEXT NOT NULL DEFAULT '',
	embedding_model TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_qa_decision ON qa_pairs(decision_id);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if necessary) the metadata database.
// Empty path opens an in-memory database (tests).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params
	// are not honored.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveChunks upserts chunks in a single transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (
			id, decision_id, section, text, legal_category, quality_score,
			court_name, court_type, city, case_number, content_type,
			has_qa_pairs, qa_count, display_json, entities_json,
			metadata_json, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			decision_id=excluded.decision_id, section=excluded.section,
			text=excluded.text, legal_category=excluded.legal_category,
			quality_score=excluded.quality_score,
			court_name=excluded.court_name, court_type=excluded.court_type,
			city=excluded.city, case_number=excluded.case_number,
			content_type=excluded.content_type,
			has_qa_pairs=excluded.has_qa_pairs, qa_count=excluded.qa_count,
			display_json=excluded.display_json,
			entities_json=excluded.entities_json,
			metadata_json=excluded.metadata_json,
			updated_at=excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		displayJSON, err := json.Marshal(c.Display)
		if err != nil {
			return fmt.Errorf("marshal display for %s: %w", c.ID, err)
		}
		entitiesJSON, err := marshalMetaMap(c.Entities)
		if err != nil {
			return fmt.Errorf("marshal entities for %s: %w", c.ID, err)
		}
		metadataJSON, err := marshalMetaMap(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", c.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			c.ID, c.DecisionID, c.Section, c.Text, c.LegalCategory,
			c.QualityScore, c.CourtName, c.CourtType, c.City, c.CaseNumber,
			c.ContentType, boolToInt(c.HasQAPairs), c.QACount,
			string(displayJSON), string(entitiesJSON), string(metadataJSON),
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const chunkColumns = `id, decision_id, section, text, legal_category,
	quality_score, court_name, court_type, city, case_number, content_type,
	has_qa_pairs, qa_count, display_json, entities_json, metadata_json,
	created_at, updated_at`

// GetChunk returns a single chunk, or nil if absent.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetChunks batch-fetches chunks preserving input order; unknown ids are
// skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// DeleteChunks removes chunks by id.
func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM chunks WHERE id IN ("+placeholders+")", args...)
	return err
}

// CountChunks returns the chunk count.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// SaveQAPairs upserts Q&A pairs in a single transaction.
func (s *SQLiteStore) SaveQAPairs(ctx context.Context, pairs []*QAPair) error {
	if len(pairs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO qa_pairs (
			qa_id, question, answer, legal_principle, confidence,
			decision_id, case_number, court_name, city, court_type,
			content_type, legal_category, question_type, embedding_model
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(qa_id) DO UPDATE SET
			question=excluded.question, answer=excluded.answer,
			legal_principle=excluded.legal_principle,
			confidence=excluded.confidence,
			decision_id=excluded.decision_id,
			case_number=excluded.case_number,
			court_name=excluded.court_name, city=excluded.city,
			court_type=excluded.court_type,
			content_type=excluded.content_type,
			legal_category=excluded.legal_category,
			question_type=excluded.question_type,
			embedding_model=excluded.embedding_model`)
	if err != nil {
		return fmt.Errorf("prepare qa upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, q := range pairs {
		if q.Confidence < 0 || q.Confidence > 1 {
			return fmt.Errorf("qa pair %s: confidence %g outside [0,1]", q.QAID, q.Confidence)
		}
		_, err = stmt.ExecContext(ctx,
			q.QAID, q.Question, q.Answer, q.LegalPrinciple, q.Confidence,
			q.DecisionID, q.CaseNumber, q.CourtName, q.City, q.CourtType,
			q.ContentType, q.LegalCategory, q.QuestionType, q.EmbeddingModel)
		if err != nil {
			return fmt.Errorf("upsert qa pair %s: %w", q.QAID, err)
		}
	}

	return tx.Commit()
}

const qaColumns = `qa_id, question, answer, legal_principle, confidence,
	decision_id, case_number, court_name, city, court_type, content_type,
	legal_category, question_type, embedding_model`

// GetQAPair returns a single Q&A pair, or nil if absent.
func (s *SQLiteStore) GetQAPair(ctx context.Context, id string) (*QAPair, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+qaColumns+" FROM qa_pairs WHERE qa_id = ?", id)
	q, err := scanQAPair(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return q, err
}

// GetQAPairs batch-fetches Q&A pairs preserving input order.
func (s *SQLiteStore) GetQAPairs(ctx context.Context, ids []string) ([]*QAPair, error) {
	if len(ids) == 0 {
		return []*QAPair{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+qaColumns+" FROM qa_pairs WHERE qa_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query qa pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*QAPair, len(ids))
	for rows.Next() {
		q, err := scanQAPair(rows)
		if err != nil {
			return nil, err
		}
		byID[q.QAID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*QAPair, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// CountQAPairs returns the Q&A pair count.
func (s *SQLiteStore) CountQAPairs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM qa_pairs").Scan(&n)
	return n, err
}

// FacetCounts aggregates distinct facet values over all chunks, each list
// sorted by descending count (value ascending on ties, deterministic).
func (s *SQLiteStore) FacetCounts(ctx context.Context) (*FacetCounts, error) {
	fc := &FacetCounts{}
	for _, facet := range []struct {
		column string
		dest   *[]FacetItem
	}{
		{"court_name", &fc.Courts},
		{"city", &fc.Cities},
		{"court_type", &fc.CourtTypes},
		{"legal_category", &fc.LegalCategories},
		{"content_type", &fc.ContentTypes},
	} {
		items, err := s.facetColumn(ctx, facet.column)
		if err != nil {
			return nil, err
		}
		*facet.dest = items
	}
	return fc, nil
}

func (s *SQLiteStore) facetColumn(ctx context.Context, column string) ([]FacetItem, error) {
	// column names come from the fixed list above, never user input
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) AS n FROM chunks
		WHERE %s != ''
		GROUP BY %s
		ORDER BY n DESC, %s ASC`, column, column, column, column)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("facet query %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	items := []FacetItem{}
	for rows.Next() {
		var it FacetItem
		if err := rows.Scan(&it.Value, &it.Count); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListChunkFacets returns the facet projection of every chunk.
func (s *SQLiteStore) ListChunkFacets(ctx context.Context) ([]ChunkFacet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, court_name, city, court_type, content_type, legal_category
		FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("list chunk facets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var facets []ChunkFacet
	for rows.Next() {
		var cf ChunkFacet
		if err := rows.Scan(&cf.ChunkID, &cf.DecisionID, &cf.CourtName,
			&cf.City, &cf.CourtType, &cf.ContentType, &cf.LegalCategory); err != nil {
			return nil, err
		}
		facets = append(facets, cf)
	}
	return facets, rows.Err()
}

// GetState reads a runtime state value; missing keys return "".
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState writes a runtime state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ MetadataStore = (*SQLiteStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var hasQA int
	var displayJSON, entitiesJSON, metadataJSON string
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.DecisionID, &c.Section, &c.Text,
		&c.LegalCategory, &c.QualityScore, &c.CourtName, &c.CourtType,
		&c.City, &c.CaseNumber, &c.ContentType, &hasQA, &c.QACount,
		&displayJSON, &entitiesJSON, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.HasQAPairs = hasQA != 0
	if err := json.Unmarshal([]byte(displayJSON), &c.Display); err != nil {
		return nil, fmt.Errorf("unmarshal display for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(entitiesJSON), &c.Entities); err != nil {
		return nil, fmt.Errorf("unmarshal entities for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", c.ID, err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanQAPair(row rowScanner) (*QAPair, error) {
	var q QAPair
	err := row.Scan(&q.QAID, &q.Question, &q.Answer, &q.LegalPrinciple,
		&q.Confidence, &q.DecisionID, &q.CaseNumber, &q.CourtName, &q.City,
		&q.CourtType, &q.ContentType, &q.LegalCategory, &q.QuestionType,
		&q.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
