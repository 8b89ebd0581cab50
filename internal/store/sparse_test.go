package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSparse(t *testing.T) *MemorySparseIndex {
	t.Helper()
	idx := NewMemorySparseIndex(DefaultBM25Config())
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func indexTestDocs(t *testing.T, idx SparseIndex, docs map[string]string) {
	t.Helper()
	var batch []*Document
	for id, content := range docs {
		batch = append(batch, &Document{ID: id, Content: content})
	}
	require.NoError(t, idx.Index(context.Background(), batch))
}

func TestMemorySparse_RanksMatchingDocsFirst(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{
		"c1": "حكمت المحكمة العامة بإلزام المدعى عليه بدفع النفقة الشهرية",
		"c2": "قرار إداري بشأن ترخيص نشاط تجاري في مدينة الرياض",
		"c3": "النفقة الزوجية واجبة شرعاً على الزوج",
	})

	results, err := idx.Search(context.Background(), "النفقة", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := []string{results[0].DocID, results[1].DocID}
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids)
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
		assert.NotEmpty(t, r.MatchedTerms)
	}
}

func TestMemorySparse_NormalizedMatching(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{
		"c1": "المحكمه العامه", // already bare forms
	})

	// Query uses teh marbuta; doc was indexed without it.
	results, err := idx.Search(context.Background(), "المحكمة", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].DocID)
}

func TestMemorySparse_PredicatePreFilters(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{
		"c1": "نفقة زوجية",
		"c2": "نفقة أولاد",
		"c3": "نفقة أقارب",
	})

	allowed := map[string]bool{"c2": true}
	results, err := idx.Search(context.Background(), "نفقة", 10, func(id string) bool {
		return allowed[id]
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].DocID)
}

func TestMemorySparse_LimitRespected(t *testing.T) {
	idx := newTestSparse(t)
	docs := map[string]string{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		docs[id] = "دعوى تجارية أمام المحكمة"
	}
	indexTestDocs(t, idx, docs)

	results, err := idx.Search(context.Background(), "دعوى تجارية", 2, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemorySparse_DeterministicTieBreak(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{
		"zz": "عقد إيجار",
		"aa": "عقد إيجار",
	})

	results, err := idx.Search(context.Background(), "عقد", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "aa", results[0].DocID, "equal scores break by id ascending")
}

func TestMemorySparse_ReindexReplaces(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{"c1": "عقد بيع عقاري"})
	indexTestDocs(t, idx, map[string]string{"c1": "حضانة أطفال"})

	results, err := idx.Search(context.Background(), "عقد", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(context.Background(), "حضانة", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, idx.Stats().DocumentCount)
}

func TestMemorySparse_Delete(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{"c1": "قرار تحكيم", "c2": "قرار استئناف"})

	require.NoError(t, idx.Delete(context.Background(), []string{"c1"}))

	results, err := idx.Search(context.Background(), "قرار", 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].DocID)
}

func TestMemorySparse_SaveLoadRoundTrip(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{
		"c1": "نظام المرافعات الشرعية",
		"c2": "نظام العمل",
	})

	path := filepath.Join(t.TempDir(), "sparse.gob")
	require.NoError(t, idx.Save(path))

	restored := NewMemorySparseIndex(DefaultBM25Config())
	defer func() { _ = restored.Close() }()
	require.NoError(t, restored.Load(path))

	results, err := restored.Search(context.Background(), "نظام المرافعات", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].DocID)
	assert.Equal(t, 2, restored.Stats().DocumentCount)
}

func TestMemorySparse_EmptyQueryReturnsNothing(t *testing.T) {
	idx := newTestSparse(t)
	indexTestDocs(t, idx, map[string]string{"c1": "حكم قضائي"})

	results, err := idx.Search(context.Background(), "   ", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSparseFactory(t *testing.T) {
	mem, err := NewSparseIndex("", DefaultBM25Config(), "")
	require.NoError(t, err)
	assert.IsType(t, &MemorySparseIndex{}, mem)
	_ = mem.Close()

	_, err = NewSparseIndex("bogus", DefaultBM25Config(), "")
	assert.Error(t, err)
}
