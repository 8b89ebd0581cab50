package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hukm-search/hukm/internal/discovery"
	"github.com/hukm-search/hukm/internal/embed"
	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/qa"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/internal/synthesis"
	"github.com/hukm-search/hukm/internal/telemetry"
)

const serverTestDims = 64

type testServer struct {
	srv     *Server
	engine  *search.Engine
	matcher *qa.Matcher
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	sparse := store.NewMemorySparseIndex(store.DefaultBM25Config())
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(serverTestDims))
	require.NoError(t, err)
	qaVector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(serverTestDims))
	require.NoError(t, err)
	metadata, err := store.NewSQLiteStore("")
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder(serverTestDims)
	engine, err := search.NewEngine(sparse, vector, embedder, metadata, search.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	matcher, err := qa.NewMatcher(qaVector, embedder, metadata, qa.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = matcher.Close() })

	metrics := telemetry.NewQueryMetrics(telemetry.DefaultConfig())
	aggregator := synthesis.NewAggregator(engine, synthesis.DefaultConfig())
	facets := discovery.NewCache(metadata, discovery.DefaultConfig())

	srv, err := New(cfg, engine, matcher, aggregator, facets, WithMetrics(metrics))
	require.NoError(t, err)

	require.NoError(t, engine.Index(context.Background(), []*store.Chunk{
		{ID: "c1", DecisionID: "d1", Text: "حكمت المحكمة بإلزام الزوج بدفع نفقة شهرية", City: "الرياض", CourtType: "أحوال شخصية", ContentType: "decision", LegalCategory: "أحوال شخصية"},
		{ID: "c2", DecisionID: "d2", Text: "ألزمت المحكمة التجارية الشركة بسداد قيمة العقد", City: "جدة", CourtType: "تجارية", ContentType: "decision", LegalCategory: "تجاري"},
	}))
	require.NoError(t, matcher.Index(context.Background(), []*store.QAPair{
		{QAID: "qa1", Question: "ما مقدار نفقة الزوجة", Answer: "حسب حال الزوج", Confidence: 0.9, DecisionID: "d1", City: "الرياض"},
	}))

	return &testServer{srv: srv, engine: engine, matcher: matcher}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "error object present: %s", w.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

func TestServer_Search(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search",
		map[string]any{"query_text": "نفقة الزوجة"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "rrf", body["fusion_method"])
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, results)

	// Chunk fields ride inline on the result object.
	first := results[0].(map[string]any)
	assert.Contains(t, first, "id")
	assert.Contains(t, first, "decision_id")
	assert.Contains(t, first, "text")
	assert.Contains(t, first, "score")

	hybrid := first["hybrid"].(map[string]any)
	assert.Contains(t, hybrid, "rrf_score")
	assert.Contains(t, hybrid, "dense_rank")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_SearchNonHybrid(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search",
		map[string]any{"query_text": "نفقة", "use_hybrid": false}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "dense-only", body["fusion_method"])
	assert.Nil(t, body["degraded"])

	// Dense evidence stays on the wire; fusion and sparse fields do not.
	results := body["results"].([]any)
	require.NotEmpty(t, results)
	hybrid := results[0].(map[string]any)["hybrid"].(map[string]any)
	assert.Contains(t, hybrid, "dense_rank")
	assert.NotContains(t, hybrid, "rrf_score")
	assert.NotContains(t, hybrid, "sparse_rank")
}

func TestServer_SearchEmptyQuery(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search",
		map[string]any{"query_text": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, hukmerrors.ErrCodeInvalidQuery, errorCode(t, w))

	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "query_text", errObj["field"])
}

func TestServer_SearchLimitOutOfRange(t *testing.T) {
	ts := newTestServer(t, Config{})

	for _, limit := range []int{0, -3, 101} {
		w := ts.do(t, http.MethodPost, "/api/v1/search",
			map[string]any{"query_text": "نفقة", "limit": limit}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%d", limit)
		assert.Equal(t, hukmerrors.ErrCodeInvalidLimit, errorCode(t, w))
	}
}

func TestServer_SearchWithFilters(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search", map[string]any{
		"query_text": "المحكمة",
		"filters":    map[string]any{"city": "جدة"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	for _, r := range body["results"].([]any) {
		assert.Equal(t, "جدة", r.(map[string]any)["city"])
	}
}

func TestServer_MalformedJSON(t *testing.T) {
	ts := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search",
		bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_QA(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search/qa",
		map[string]any{"question": "ما مقدار نفقة الزوجة", "score_threshold": 0.5}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	require.Contains(t, body, "total_results")
	results := body["results"].([]any)
	require.NotEmpty(t, results)

	// Q&A content and decision metadata ride flat on each result.
	first := results[0].(map[string]any)
	assert.Equal(t, "qa1", first["qa_id"])
	assert.Equal(t, "ما مقدار نفقة الزوجة", first["question"])
	assert.Equal(t, "d1", first["decision_id"])
	assert.Contains(t, first, "score")
	assert.Equal(t, 0.5, body["threshold"])
	assert.NotContains(t, body, "filters_applied", "no filters were sent")
}

func TestServer_QAFiltersEchoed(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search/qa", map[string]any{
		"question":        "ما مقدار نفقة الزوجة",
		"score_threshold": 0.5,
		"filters":         map[string]any{"city": "الرياض"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	applied, ok := body["filters_applied"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "الرياض", applied["city"])
}

// exhaustedMatcher fails the way the matcher does after its retry
// budget: the structured cause buried under a plain wrapper.
type exhaustedMatcher struct{}

func (exhaustedMatcher) Match(context.Context, string, qa.MatchOptions) (*qa.MatchResponse, error) {
	return nil, fmt.Errorf("failed after 1 retries: %w",
		hukmerrors.IndexUnavailable("qa vector index unreachable", errors.New("connection refused")))
}

func TestServer_QAIndexUnavailableMapsTo503(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.srv.matcher = exhaustedMatcher{}

	w := ts.do(t, http.MethodPost, "/api/v1/search/qa",
		map[string]any{"question": "نفقة"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, hukmerrors.ErrCodeIndexUnavailable, errorCode(t, w))
}

func TestServer_QAInvalidThreshold(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search/qa",
		map[string]any{"question": "نفقة", "score_threshold": 1.5}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, hukmerrors.ErrCodeInvalidThreshold, errorCode(t, w))
}

func TestServer_QALimitOutOfRange(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search/qa",
		map[string]any{"question": "نفقة", "limit": 51}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, hukmerrors.ErrCodeInvalidLimit, errorCode(t, w))
}

func TestServer_Synthesis(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodPost, "/api/v1/search/synthesis",
		map[string]any{"query_text": "نفقة الزوجة"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "نفقة الزوجة", body["query"])
	assert.Equal(t, "rrf", body["search_method"])
	assert.NotEmpty(t, body["sources"])
	assert.NotEmpty(t, body["context_chunks"])
	assert.Contains(t, body, "metadata_summary")
	assert.Nil(t, body["error"])
}

// brokenSearcher fails every search, for the synthesis degradation path.
type brokenSearcher struct{}

func (brokenSearcher) Search(context.Context, string, search.SearchOptions) (*search.SearchResponse, error) {
	return nil, hukmerrors.Wrap(hukmerrors.ErrCodeSearchFailed, "all retrieval paths failed",
		errors.New("index offline"))
}
func (brokenSearcher) Index(context.Context, []*store.Chunk) error { return nil }
func (brokenSearcher) Delete(context.Context, []string) error      { return nil }
func (brokenSearcher) Stats() *search.EngineStats                  { return &search.EngineStats{} }
func (brokenSearcher) Close() error                                { return nil }

func TestServer_SynthesisBackendFailureStays200(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.srv.synthesizer = synthesis.NewAggregator(brokenSearcher{}, synthesis.DefaultConfig())

	w := ts.do(t, http.MethodPost, "/api/v1/search/synthesis",
		map[string]any{"query_text": "نفقة"}, nil)
	require.Equal(t, http.StatusOK, w.Code, "synthesis failures ride in the payload")

	body := decode(t, w)
	assert.NotEmpty(t, body["error"])
	assert.Empty(t, body["sources"])
}

func TestServer_Discovery(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodGet, "/api/v1/discovery/all", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	for _, key := range []string{"courts", "cities", "court_types", "legal_categories", "content_types"} {
		assert.Contains(t, body, key)
	}
	cities := body["cities"].([]any)
	require.NotEmpty(t, cities)
	assert.Contains(t, cities[0].(map[string]any), "value")
	assert.Contains(t, cities[0].(map[string]any), "count")
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "index")
}

func TestServer_AuthRequired(t *testing.T) {
	ts := newTestServer(t, Config{AuthTokens: []string{"secret-token"}})

	w := ts.do(t, http.MethodPost, "/api/v1/search",
		map[string]any{"query_text": "نفقة"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, hukmerrors.ErrCodeUnauthorized, errorCode(t, w))

	w = ts.do(t, http.MethodPost, "/api/v1/search",
		map[string]any{"query_text": "نفقة"},
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/search",
		map[string]any{"query_text": "نفقة"},
		map[string]string{"Authorization": "Bearer secret-token"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_HealthExemptFromAuth(t *testing.T) {
	ts := newTestServer(t, Config{AuthTokens: []string{"secret-token"}})

	w := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, Config{})

	w := ts.do(t, http.MethodGet, "/health", nil,
		map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
