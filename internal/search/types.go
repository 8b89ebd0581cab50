// Package search provides hybrid retrieval over judicial decision chunks,
// combining dense (vector) and sparse (BM25) search. Results are fused
// using Reciprocal Rank Fusion (RRF) for robust rank-based scoring.
package search

import (
	"context"
	"time"

	"github.com/hukm-search/hukm/internal/store"
)

// Fusion method labels reported on every search response.
const (
	// FusionRRF means both retrieval paths contributed.
	FusionRRF = "rrf"
	// FusionDenseOnly means the sparse path failed or timed out.
	FusionDenseOnly = "dense-only"
	// FusionSparseOnly means the dense path failed or timed out.
	FusionSparseOnly = "sparse-only"
)

// Searcher executes hybrid searches over indexed decision chunks.
type Searcher interface {
	// Search executes a hybrid search query and returns ranked results.
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error)

	// Index adds chunks to the sparse index, vector store, and metadata store.
	Index(ctx context.Context, chunks []*store.Chunk) error

	// Delete removes chunks from all indices.
	Delete(ctx context.Context, chunkIDs []string) error

	// Stats returns engine statistics.
	Stats() *EngineStats

	// Close releases all resources.
	Close() error
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// Filters restricts results by facet equality. Filtering happens
	// before fusion, so filtered-out candidates never consume ranks.
	Filters store.Filters

	// Hybrid toggles the sparse path. Unset means true. When false the
	// dense list is returned as-is, labeled dense-only, not degraded.
	Hybrid *bool

	// Weights overrides the default per-path fusion weights.
	Weights *Weights
}

// Weights configures the relative contribution of each retrieval path.
// Both default to 1.0; RRF already equalizes score scales via ranks.
type Weights struct {
	Dense  float64
	Sparse float64
}

// DefaultWeights returns the default unit weights.
func DefaultWeights() Weights {
	return Weights{Dense: 1.0, Sparse: 1.0}
}

// HybridScores exposes the per-path evidence behind a result. Only the
// fields of paths that actually ran are populated: a dense-only
// response carries dense_rank/dense_score with no rrf_score or sparse
// fields, and vice versa. Zero-valued fields are omitted from JSON; a
// rank of 0 means the chunk was absent from that path.
type HybridScores struct {
	// RRFScore is the combined reciprocal-rank score. Set only when
	// both paths contributed.
	RRFScore float64 `json:"rrf_score,omitempty"`

	// DenseScore is the cosine similarity (0-1).
	DenseScore float64 `json:"dense_score,omitempty"`

	// DenseRank is the 1-indexed position in the dense list.
	DenseRank int `json:"dense_rank,omitempty"`

	// SparseScore is the BM25 score.
	SparseScore float64 `json:"sparse_score,omitempty"`

	// SparseRank is the 1-indexed position in the sparse list.
	SparseRank int `json:"sparse_rank,omitempty"`
}

// SearchResult is a single ranked result. The chunk is embedded so its
// fields (id, text, display metadata, Q&A flags) appear inline on the
// wire next to the scores.
type SearchResult struct {
	*store.Chunk

	// Score is the ranking score: the RRF score in hybrid mode, the
	// surviving path's native score otherwise.
	Score float64 `json:"score"`

	// Hybrid holds per-path scores and ranks for the paths that ran.
	Hybrid *HybridScores `json:"hybrid,omitempty"`

	// MatchedTerms contains the sparse query terms that matched.
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// SearchResponse is the full result of a search operation.
type SearchResponse struct {
	// Results are the ranked results, at most Limit of them.
	Results []*SearchResult `json:"results"`

	// Total is the number of distinct candidates after filtering and
	// fusion, before the limit was applied.
	Total int `json:"total"`

	// FusionMethod is rrf, dense-only, or sparse-only.
	FusionMethod string `json:"fusion_method"`

	// Degraded is true when a retrieval path failed and the response
	// was served from the surviving path.
	Degraded bool `json:"degraded,omitempty"`

	// Warnings carries human-readable degradation notices.
	Warnings []string `json:"warnings,omitempty"`
}

// EngineStats provides statistics about the search engine.
type EngineStats struct {
	// SparseStats contains sparse index statistics.
	SparseStats *store.IndexStats

	// VectorCount is the number of vectors in the store.
	VectorCount int

	// ChunkFacets is the number of chunks in the resident facet table.
	ChunkFacets int
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	// DefaultLimit is the default number of results (default: 10).
	DefaultLimit int

	// MaxLimit is the maximum allowed results (default: 100).
	MaxLimit int

	// DefaultWeights are the default per-path fusion weights.
	DefaultWeights Weights

	// RRFConstant is the RRF smoothing constant k (default: 60).
	RRFConstant int

	// PathTimeout bounds each retrieval path independently (default: 3s).
	// A path that exceeds it is treated as failed and the other path
	// serves the response.
	PathTimeout time.Duration

	// Overfetch multiplies the per-path candidate count over the
	// requested limit so fusion and filtering have enough candidates
	// (default: 3).
	Overfetch int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		DefaultWeights: DefaultWeights(),
		RRFConstant:    DefaultRRFConstant,
		PathTimeout:    3 * time.Second,
		Overfetch:      3,
	}
}
