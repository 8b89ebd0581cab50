// Package store provides the persistence layer for indexed judicial decision
// data: dense vector storage (HNSW), sparse lexical indexing (BM25), and
// chunk/Q&A metadata persistence (SQLite).
package store

import (
	"context"
	"fmt"
	"time"
)

// State keys for the metadata store.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyIndexUpdatedAt stores the last bulk-load completion time (RFC3339).
	StateKeyIndexUpdatedAt = "index_updated_at"
)

// DisplayFields holds AI-derived presentation fields attached to a chunk at
// ingestion time. They are returned verbatim in search results.
type DisplayFields struct {
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	Entities     []string `json:"entities,omitempty"`
	LegalAreas   []string `json:"legal_areas,omitempty"`
	CourtLevel   string   `json:"court_level,omitempty"`
	DecisionType string   `json:"decision_type,omitempty"`
	Principles   []string `json:"principles,omitempty"`
	CitedLaws    []string `json:"cited_laws,omitempty"`
}

// Chunk is the unit of indexed decision text. Chunks are produced by the
// external ingestion pipeline and immutable once indexed, except for
// metadata-enrichment passes.
type Chunk struct {
	ID            string               `json:"id"`
	DecisionID    string               `json:"decision_id"`
	Section       string               `json:"section,omitempty"`
	Text          string               `json:"text"`
	LegalCategory string               `json:"legal_category,omitempty"`
	QualityScore  float64              `json:"quality_score,omitempty"`
	Entities      map[string]MetaValue `json:"entities,omitempty"`
	CourtName     string               `json:"court_name,omitempty"`
	CourtType     string               `json:"court_type,omitempty"`
	City          string               `json:"city,omitempty"`
	CaseNumber    string               `json:"case_number,omitempty"`
	ContentType   string               `json:"content_type,omitempty"`
	Display       DisplayFields        `json:"display"`
	HasQAPairs    bool                 `json:"has_qa_pairs"`
	QACount       int                  `json:"qa_count"`
	Metadata      map[string]MetaValue `json:"metadata,omitempty"`
	CreatedAt     time.Time            `json:"created_at,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at,omitempty"`
}

// QAPair is a question/answer unit derived from a decision. Source decision
// metadata is denormalized at index time so the matcher never joins at query
// time. Invariant: Confidence in [0,1]; belongs to exactly one decision.
type QAPair struct {
	QAID           string  `json:"qa_id"`
	Question       string  `json:"question"`
	Answer         string  `json:"answer"`
	LegalPrinciple string  `json:"legal_principle,omitempty"`
	Confidence     float64 `json:"confidence"`
	DecisionID     string  `json:"decision_id"`
	CaseNumber     string  `json:"case_number,omitempty"`
	CourtName      string  `json:"court_name,omitempty"`
	City           string  `json:"city,omitempty"`
	CourtType      string  `json:"court_type,omitempty"`
	ContentType    string  `json:"content_type,omitempty"`
	LegalCategory  string  `json:"legal_category,omitempty"`
	QuestionType   string  `json:"question_type,omitempty"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
}

// Filters holds optional equality constraints over facet fields.
// All present fields are ANDed; string matching is exact, case-sensitive
// as stored. The zero value matches everything.
type Filters struct {
	CourtName     string `json:"court_name,omitempty"`
	City          string `json:"city,omitempty"`
	CourtType     string `json:"court_type,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	LegalCategory string `json:"legal_category,omitempty"`
	DecisionID    string `json:"decision_id,omitempty"`
}

// IsZero reports whether no filter field is set.
func (f Filters) IsZero() bool {
	return f == Filters{}
}

// MatchChunk reports whether the chunk satisfies every present filter field.
func (f Filters) MatchChunk(c *Chunk) bool {
	if c == nil {
		return false
	}
	return matchField(f.CourtName, c.CourtName) &&
		matchField(f.City, c.City) &&
		matchField(f.CourtType, c.CourtType) &&
		matchField(f.ContentType, c.ContentType) &&
		matchField(f.LegalCategory, c.LegalCategory) &&
		matchField(f.DecisionID, c.DecisionID)
}

// MatchQA reports whether the Q&A pair satisfies every present filter field.
func (f Filters) MatchQA(q *QAPair) bool {
	if q == nil {
		return false
	}
	return matchField(f.CourtName, q.CourtName) &&
		matchField(f.City, q.City) &&
		matchField(f.CourtType, q.CourtType) &&
		matchField(f.ContentType, q.ContentType) &&
		matchField(f.LegalCategory, q.LegalCategory) &&
		matchField(f.DecisionID, q.DecisionID)
}

func matchField(want, got string) bool {
	return want == "" || want == got
}

// ChunkFacet is the facet projection of a chunk, small enough to keep
// resident for every indexed chunk. The search engine uses it to apply
// filters to candidates before fusion.
type ChunkFacet struct {
	ChunkID       string
	DecisionID    string
	CourtName     string
	City          string
	CourtType     string
	ContentType   string
	LegalCategory string
}

// FacetOf extracts the facet projection of a chunk.
func FacetOf(c *Chunk) ChunkFacet {
	return ChunkFacet{
		ChunkID:       c.ID,
		DecisionID:    c.DecisionID,
		CourtName:     c.CourtName,
		City:          c.City,
		CourtType:     c.CourtType,
		ContentType:   c.ContentType,
		LegalCategory: c.LegalCategory,
	}
}

// MatchFacet reports whether the facet projection satisfies every present
// filter field.
func (f Filters) MatchFacet(cf ChunkFacet) bool {
	return matchField(f.CourtName, cf.CourtName) &&
		matchField(f.City, cf.City) &&
		matchField(f.CourtType, cf.CourtType) &&
		matchField(f.ContentType, cf.ContentType) &&
		matchField(f.LegalCategory, cf.LegalCategory) &&
		matchField(f.DecisionID, cf.DecisionID)
}

// FacetItem is a facet value with its occurrence count.
type FacetItem struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// FacetCounts holds distinct-value counts for every facet dimension,
// each sorted by descending count.
type FacetCounts struct {
	Courts          []FacetItem `json:"courts"`
	Cities          []FacetItem `json:"cities"`
	CourtTypes      []FacetItem `json:"court_types"`
	LegalCategories []FacetItem `json:"legal_categories"`
	ContentTypes    []FacetItem `json:"content_types"`
}

// Document is a unit of text submitted to the sparse index.
type Document struct {
	ID      string // Chunk or QA id
	Content string // Text content
}

// SparseResult is a single sparse (lexical) search result.
type SparseResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the sparse index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// Predicate restricts candidate documents during sparse search.
// A nil predicate admits every document.
type Predicate func(docID string) bool

// SparseIndex provides keyword search over term-weight vectors (BM25).
type SparseIndex interface {
	// Index adds documents to the index, replacing existing ids.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query ordered by descending score.
	// A non-nil predicate is applied before ranking (pre-filter).
	Search(ctx context.Context, query string, limit int, pred Predicate) ([]*SparseResult, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, docIDs []string) error

	// Stats returns index statistics.
	Stats() *IndexStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorResult is a single dense search result.
type VectorResult struct {
	ID    string  // Chunk or QA id
	Score float32 // Normalized cosine similarity (0-1)
}

// VectorStoreConfig configures the dense vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension; must match the embedder (default: 1024).
	Dimensions int

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides approximate nearest-neighbor search over embeddings.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to the query vector, ordered by
	// descending cosine similarity.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Dimensions returns the configured vector dimension.
	Dimensions() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// MetadataStore persists chunk and Q&A metadata and serves facet aggregates.
type MetadataStore interface {
	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	CountChunks(ctx context.Context) (int, error)

	// Q&A operations
	SaveQAPairs(ctx context.Context, pairs []*QAPair) error
	GetQAPair(ctx context.Context, id string) (*QAPair, error)
	GetQAPairs(ctx context.Context, ids []string) ([]*QAPair, error)
	CountQAPairs(ctx context.Context) (int, error)

	// FacetCounts aggregates distinct facet values over all chunks.
	FacetCounts(ctx context.Context) (*FacetCounts, error)

	// ListChunkFacets returns the facet projection of every chunk.
	ListChunkFacets(ctx context.Context) ([]ChunkFacet, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch between the
// embedder and the index.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild the index with 'hukm load --force')", e.Expected, e.Got)
}
