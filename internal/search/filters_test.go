package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hukm-search/hukm/internal/store"
)

func facetChunk(id, city, courtType string) *store.Chunk {
	return &store.Chunk{
		ID:         id,
		DecisionID: "d-" + id,
		City:       city,
		CourtType:  courtType,
	}
}

func TestFacetTable_Predicate(t *testing.T) {
	tbl := newFacetTable()
	tbl.put([]*store.Chunk{
		facetChunk("c1", "الرياض", "تجارية"),
		facetChunk("c2", "جدة", "تجارية"),
	})

	assert.Nil(t, tbl.predicate(store.Filters{}), "empty filters need no predicate")

	pred := tbl.predicate(store.Filters{City: "الرياض"})
	require.NotNil(t, pred)
	assert.True(t, pred("c1"))
	assert.False(t, pred("c2"))
	assert.False(t, pred("unknown"), "ids missing from the table are rejected")
}

func TestFacetTable_ReplaceAndDelete(t *testing.T) {
	tbl := newFacetTable()
	tbl.put([]*store.Chunk{facetChunk("c1", "الرياض", "عامة")})

	tbl.replace([]store.ChunkFacet{
		{ChunkID: "c2", City: "جدة"},
	})
	assert.Equal(t, 1, tbl.len())
	assert.False(t, tbl.predicate(store.Filters{City: "الرياض"})("c1"))

	tbl.delete([]string{"c2"})
	assert.Equal(t, 0, tbl.len())
}

func TestFilterVector_PreservesOrder(t *testing.T) {
	tbl := newFacetTable()
	tbl.put([]*store.Chunk{
		facetChunk("c1", "الرياض", "عامة"),
		facetChunk("c2", "جدة", "عامة"),
		facetChunk("c3", "الرياض", "عامة"),
	})
	pred := tbl.predicate(store.Filters{City: "الرياض"})

	in := []*store.VectorResult{{ID: "c2"}, {ID: "c3"}, {ID: "c1"}}
	out := filterVector(in, pred)
	require.Len(t, out, 2)
	assert.Equal(t, "c3", out[0].ID)
	assert.Equal(t, "c1", out[1].ID)

	assert.Equal(t, in, filterVector(in, nil))
}

func TestFilterResults_IdempotentAndOrderPreserving(t *testing.T) {
	results := []*SearchResult{
		{Chunk: facetChunk("c1", "الرياض", "عامة")},
		{Chunk: facetChunk("c2", "جدة", "عامة")},
		{Chunk: facetChunk("c3", "الرياض", "تجارية")},
	}
	filters := store.Filters{City: "الرياض"}

	once := FilterResults(results, filters)
	require.Len(t, once, 2)
	assert.Equal(t, "c1", once[0].Chunk.ID)
	assert.Equal(t, "c3", once[1].Chunk.ID)

	twice := FilterResults(once, filters)
	assert.Equal(t, once, twice)

	assert.Equal(t, results, FilterResults(results, store.Filters{}))
}
