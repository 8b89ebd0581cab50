package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hukm-search/hukm/internal/embed"
	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/internal/telemetry"
)

const engineTestDims = 64

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()

	sparse := store.NewMemorySparseIndex(store.DefaultBM25Config())
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(engineTestDims))
	require.NoError(t, err)
	metadata, err := store.NewSQLiteStore("")
	require.NoError(t, err)

	e, err := NewEngine(sparse, vector, embed.NewStaticEmbedder(engineTestDims), metadata, DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func testChunk(id, city, category, text string) *store.Chunk {
	return &store.Chunk{
		ID:            id,
		DecisionID:    "d-" + id,
		Text:          text,
		City:          city,
		CourtType:     "عامة",
		ContentType:   "decision",
		LegalCategory: category,
	}
}

func indexCorpus(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Index(context.Background(), []*store.Chunk{
		testChunk("c1", "الرياض", "أحوال شخصية", "حكمت المحكمة بإلزام الزوج بدفع نفقة شهرية للزوجة والأولاد"),
		testChunk("c2", "الرياض", "أحوال شخصية", "قضت المحكمة بإثبات حضانة الأطفال للأم"),
		testChunk("c3", "جدة", "تجاري", "ألزمت المحكمة التجارية الشركة بسداد قيمة عقد التوريد"),
		testChunk("c4", "جدة", "عمالي", "حكمت المحكمة العمالية بمستحقات نهاية الخدمة للعامل"),
	}))
}

func TestEngine_HybridSearch(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	resp, err := e.Search(context.Background(), "نفقة الزوجة", SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, FusionRRF, resp.FusionMethod)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "c1", resp.Results[0].Chunk.ID)

	first := resp.Results[0]
	require.NotNil(t, first.Hybrid, "hybrid substructure present in hybrid mode")
	assert.Greater(t, first.Hybrid.RRFScore, 0.0)
	assert.GreaterOrEqual(t, first.Hybrid.SparseRank, 1)
	assert.Equal(t, first.Score, first.Hybrid.RRFScore)
	assert.GreaterOrEqual(t, resp.Total, len(resp.Results))
}

func TestEngine_NonHybridMode(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	off := false
	resp, err := e.Search(context.Background(), "نفقة الزوجة", SearchOptions{Hybrid: &off})
	require.NoError(t, err)

	assert.Equal(t, FusionDenseOnly, resp.FusionMethod)
	assert.False(t, resp.Degraded, "requested dense-only is not a degradation")
	assert.Empty(t, resp.Warnings)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		require.NotNil(t, r.Hybrid)
		assert.GreaterOrEqual(t, r.Hybrid.DenseRank, 1, "dense rank carried through")
		assert.Equal(t, r.Score, r.Hybrid.DenseScore)
		assert.Zero(t, r.Hybrid.RRFScore, "no fusion score without fusion")
		assert.Zero(t, r.Hybrid.SparseRank)
		assert.Zero(t, r.Hybrid.SparseScore)
		assert.Empty(t, r.MatchedTerms)
	}
}

func TestEngine_EmptyQueryRejected(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Search(context.Background(), "   ", SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, hukmerrors.ErrCodeInvalidQuery, hukmerrors.GetCode(err))
	assert.Equal(t, "query_text", hukmerrors.GetField(err))
}

func TestEngine_LimitClamping(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	resp, err := e.Search(context.Background(), "المحكمة", SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), 2)
	// Total counts all fused candidates before truncation.
	assert.GreaterOrEqual(t, resp.Total, len(resp.Results))

	resp, err = e.Search(context.Background(), "المحكمة", SearchOptions{Limit: 10000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), e.config.MaxLimit)
}

func TestEngine_FacetFiltering(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	resp, err := e.Search(context.Background(), "المحكمة", SearchOptions{
		Filters: store.Filters{City: "جدة"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "جدة", r.Chunk.City)
	}
}

func TestEngine_FilterMatchingNothing(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	resp, err := e.Search(context.Background(), "المحكمة", SearchOptions{
		Filters: store.Filters{City: "الدمام"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestEngine_WarmRebuildsFacets(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	// Simulate a fresh process: facet table empty, metadata populated.
	e.facets = newFacetTable()
	require.NoError(t, e.Warm(context.Background()))
	assert.Equal(t, 4, e.Stats().ChunkFacets)

	resp, err := e.Search(context.Background(), "المحكمة", SearchOptions{
		Filters: store.Filters{LegalCategory: "تجاري"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "c3", resp.Results[0].Chunk.ID)
}

func TestEngine_Delete(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	require.NoError(t, e.Delete(context.Background(), []string{"c1"}))

	resp, err := e.Search(context.Background(), "نفقة الزوجة", SearchOptions{})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "c1", r.Chunk.ID)
	}
	assert.Equal(t, 3, e.Stats().ChunkFacets)
}

// failingSparse always errors, simulating a corrupt or missing index.
type failingSparse struct {
	store.SparseIndex
}

func (f *failingSparse) Search(context.Context, string, int, store.Predicate) ([]*store.SparseResult, error) {
	return nil, errors.New("sparse index unavailable")
}

// slowSparse blocks past any reasonable path timeout.
type slowSparse struct {
	store.SparseIndex
}

func (s *slowSparse) Search(ctx context.Context, _ string, _ int, _ store.Predicate) ([]*store.SparseResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, nil
	}
}

// failingVector always errors on search.
type failingVector struct {
	store.VectorStore
}

func (f *failingVector) Search(context.Context, []float32, int) ([]*store.VectorResult, error) {
	return nil, errors.New("vector index unavailable")
}

// countingVector counts searches before delegating, to observe retries.
type countingVector struct {
	store.VectorStore
	calls    int
	failures int
}

func (c *countingVector) Search(ctx context.Context, q []float32, k int) ([]*store.VectorResult, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, fmt.Errorf("transient fault %d", c.calls)
	}
	return c.VectorStore.Search(ctx, q, k)
}

func TestEngine_DegradesToDenseOnly(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)
	e.sparse = &failingSparse{SparseIndex: e.sparse}

	resp, err := e.Search(context.Background(), "نفقة", SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, FusionDenseOnly, resp.FusionMethod)
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Warnings)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		require.NotNil(t, r.Hybrid)
		assert.GreaterOrEqual(t, r.Hybrid.DenseRank, 1)
		assert.Zero(t, r.Hybrid.RRFScore)
		assert.Zero(t, r.Hybrid.SparseRank, "failed path contributes no rank")
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestEngine_DegradesToSparseOnly(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)
	e.vector = &failingVector{VectorStore: e.vector}

	resp, err := e.Search(context.Background(), "نفقة", SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, FusionSparseOnly, resp.FusionMethod)
	assert.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	first := resp.Results[0]
	require.NotNil(t, first.Hybrid)
	assert.GreaterOrEqual(t, first.Hybrid.SparseRank, 1)
	assert.Zero(t, first.Hybrid.DenseRank)
	assert.Zero(t, first.Hybrid.RRFScore)
}

func TestEngine_PathTimeoutDegrades(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)
	e.sparse = &slowSparse{SparseIndex: e.sparse}
	e.config.PathTimeout = 50 * time.Millisecond

	start := time.Now()
	resp, err := e.Search(context.Background(), "نفقة", SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, FusionDenseOnly, resp.FusionMethod)
	assert.Less(t, time.Since(start), 5*time.Second, "slow path must not block the response")
}

func TestEngine_BothPathsFailing(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)
	e.sparse = &failingSparse{SparseIndex: e.sparse}
	e.vector = &failingVector{VectorStore: e.vector}

	_, err := e.Search(context.Background(), "نفقة", SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, hukmerrors.ErrCodeSearchFailed, hukmerrors.GetCode(err))
}

func TestEngine_RetriesTransientVectorFault(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)
	cv := &countingVector{VectorStore: e.vector, failures: 1}
	e.vector = cv

	resp, err := e.Search(context.Background(), "نفقة", SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, FusionRRF, resp.FusionMethod, "one transient fault recovers within the retry budget")
	assert.Equal(t, 2, cv.calls)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	metrics := telemetry.NewQueryMetrics(telemetry.DefaultConfig())
	e := newTestEngine(t, WithMetrics(metrics))
	indexCorpus(t, e)

	_, err := e.Search(context.Background(), "نفقة", SearchOptions{})
	require.NoError(t, err)

	s := metrics.Snapshot()
	assert.Equal(t, int64(1), s.TotalQueries)
	assert.Equal(t, int64(1), s.KindCounts[telemetry.KindSearch])
	assert.Equal(t, int64(1), s.FusionCounts[FusionRRF])
}

func TestEngine_NilDependenciesRejected(t *testing.T) {
	_, err := NewEngine(nil, nil, nil, nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilDependency)
}

func TestEngine_DimensionMismatchDisablesDense(t *testing.T) {
	e := newTestEngine(t)
	indexCorpus(t, e)

	// A previous index run recorded a different dimension.
	require.NoError(t, e.metadata.SetState(context.Background(), store.StateKeyIndexDimension, "1024"))
	require.NoError(t, e.Warm(context.Background()))

	resp, err := e.Search(context.Background(), "نفقة", SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, FusionSparseOnly, resp.FusionMethod)
	assert.True(t, resp.Degraded)
}
