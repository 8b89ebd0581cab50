package search

import (
	"sort"

	"github.com/hukm-search/hukm/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultRRFConstant = 60

// FusedResult represents a single result after RRF fusion.
type FusedResult struct {
	ChunkID      string   // Chunk identifier
	RRFScore     float64  // Combined RRF score
	DenseScore   float64  // Original cosine similarity (preserved)
	DenseRank    int      // Position in dense list (1-indexed, 0 if absent)
	SparseScore  float64  // Original BM25 score (preserved)
	SparseRank   int      // Position in sparse list (1-indexed, 0 if absent)
	InBothLists  bool     // Document appeared in both result lists
	MatchedTerms []string // Sparse matched terms (for highlighting)
}

// RRFFusion combines dense and sparse search results using
// Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = position in ranked list i (1-indexed)
//   - weight_i = weight for search source i
//
// A document absent from a list gets no contribution from that list.
// With unit weights and k=60 a document at dense rank 1 and sparse
// rank 2 scores 1/61 + 1/62.
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines dense and sparse results using Reciprocal Rank Fusion.
//
// Results are sorted by: RRFScore (desc) → DenseRank (asc, absent last)
// → SparseRank (asc, absent last) → ChunkID (asc).
func (f *RRFFusion) Fuse(
	dense []*store.VectorResult,
	sparse []*store.SparseResult,
	weights Weights,
) []*FusedResult {
	if len(dense) == 0 && len(sparse) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(dense)+len(sparse))

	// Dense results (1-indexed ranks)
	for rank, r := range dense {
		result := f.getOrCreate(scores, r.ID)
		result.DenseScore = float64(r.Score)
		result.DenseRank = rank + 1
		result.RRFScore += weights.Dense / float64(f.K+rank+1)
	}

	// Sparse results (1-indexed ranks)
	for rank, r := range sparse {
		result := f.getOrCreate(scores, r.DocID)
		result.SparseScore = r.Score
		result.SparseRank = rank + 1
		result.MatchedTerms = r.MatchedTerms
		result.RRFScore += weights.Sparse / float64(f.K+rank+1)

		if result.DenseRank > 0 {
			result.InBothLists = true
		}
	}

	return f.toSortedSlice(scores)
}

// getOrCreate returns existing result or creates new one.
func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// toSortedSlice converts map to slice and sorts by RRF score with tie-breaking.
func (f *RRFFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	return results
}

// compare implements deterministic comparison for sorting.
// Returns true if a should rank before b.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}

	// Tie-break 1: better (lower) dense rank; absent ranks last.
	if ar, br := absentLast(a.DenseRank), absentLast(b.DenseRank); ar != br {
		return ar < br
	}

	// Tie-break 2: better (lower) sparse rank; absent ranks last.
	if ar, br := absentLast(a.SparseRank), absentLast(b.SparseRank); ar != br {
		return ar < br
	}

	// Tie-break 3: lexicographic by ChunkID (deterministic)
	return a.ChunkID < b.ChunkID
}

// absentLast maps the 0 "absent" rank after every real rank.
func absentLast(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
