package search

import (
	"sync"

	"github.com/hukm-search/hukm/internal/store"
)

// facetTable keeps the facet projection of every indexed chunk resident
// so filters can run before fusion on both retrieval paths. Six short
// strings per chunk; a corpus of a million chunks stays well under
// typical heap budgets.
type facetTable struct {
	mu      sync.RWMutex
	entries map[string]store.ChunkFacet
}

func newFacetTable() *facetTable {
	return &facetTable{entries: make(map[string]store.ChunkFacet)}
}

func (t *facetTable) put(chunks []*store.Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range chunks {
		t.entries[c.ID] = store.FacetOf(c)
	}
}

func (t *facetTable) replace(facets []store.ChunkFacet) {
	entries := make(map[string]store.ChunkFacet, len(facets))
	for _, f := range facets {
		entries[f.ChunkID] = f
	}
	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

func (t *facetTable) delete(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.entries, id)
	}
}

func (t *facetTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// predicate returns a store.Predicate admitting chunks that satisfy the
// filters, or nil when the filters are empty. Unknown ids are rejected;
// a chunk missing from the table is missing from metadata too.
func (t *facetTable) predicate(filters store.Filters) store.Predicate {
	if filters.IsZero() {
		return nil
	}
	return func(docID string) bool {
		t.mu.RLock()
		cf, ok := t.entries[docID]
		t.mu.RUnlock()
		return ok && filters.MatchFacet(cf)
	}
}

// filterVector drops dense candidates that fail the predicate,
// preserving order. A nil predicate returns the input unchanged.
func filterVector(results []*store.VectorResult, pred store.Predicate) []*store.VectorResult {
	if pred == nil {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if pred(r.ID) {
			kept = append(kept, r)
		}
	}
	return kept
}

// FilterResults applies facet filters to enriched results. It preserves
// order and is idempotent; the engine uses it as a final guard after
// enrichment in case the facet table lagged behind metadata.
func FilterResults(results []*SearchResult, filters store.Filters) []*SearchResult {
	if filters.IsZero() {
		return results
	}
	kept := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if filters.MatchChunk(r.Chunk) {
			kept = append(kept, r)
		}
	}
	return kept
}
