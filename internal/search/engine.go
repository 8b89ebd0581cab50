package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hukm-search/hukm/internal/embed"
	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/internal/telemetry"
)

// Engine implements hybrid search over decision chunks.
type Engine struct {
	sparse   store.SparseIndex
	vector   store.VectorStore
	embedder embed.Embedder
	metadata store.MetadataStore
	config   EngineConfig
	fusion   *RRFFusion
	facets   *facetTable
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger

	mu sync.RWMutex

	// denseDisabled is set when the stored index dimension does not
	// match the active embedder. Searches then run sparse-only.
	denseDisabled bool
}

var _ Searcher = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithMetrics sets an optional query metrics collector for telemetry.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a new hybrid search engine with the given dependencies.
// Returns an error if any required dependency is nil.
func NewEngine(
	sparse store.SparseIndex,
	vector store.VectorStore,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if sparse == nil {
		return nil, fmt.Errorf("%w: sparse index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}

	config = normalizeConfig(config)
	e := &Engine{
		sparse:   sparse,
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		config:   config,
		fusion:   NewRRFFusionWithK(config.RRFConstant),
		facets:   newFacetTable(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func normalizeConfig(c EngineConfig) EngineConfig {
	d := DefaultConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.DefaultWeights == (Weights{}) {
		c.DefaultWeights = d.DefaultWeights
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.PathTimeout <= 0 {
		c.PathTimeout = d.PathTimeout
	}
	if c.Overfetch <= 0 {
		c.Overfetch = d.Overfetch
	}
	return c
}

// Warm rebuilds the resident facet table from the metadata store and
// checks the stored index dimension against the active embedder. Call
// after loading index snapshots and before serving.
func (e *Engine) Warm(ctx context.Context) error {
	facets, err := e.metadata.ListChunkFacets(ctx)
	if err != nil {
		return fmt.Errorf("warm facet table: %w", err)
	}
	e.facets.replace(facets)

	mismatch, reason := e.dimensionMismatch(ctx)
	e.mu.Lock()
	e.denseDisabled = mismatch
	e.mu.Unlock()
	if mismatch {
		e.logger.Warn("dense search disabled", "reason", reason,
			"recovery", "hukm load --force")
	}

	e.logger.Info("search engine warmed",
		"chunks", len(facets),
		"vectors", e.vector.Count())
	return nil
}

// dimensionMismatch compares the stored index dimension to the embedder.
// Missing or unparseable state allows search (first run or legacy index).
func (e *Engine) dimensionMismatch(ctx context.Context) (bool, string) {
	stored, err := e.metadata.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil || stored == "" {
		return false, ""
	}
	var indexDim int
	if _, err := fmt.Sscanf(stored, "%d", &indexDim); err != nil {
		e.logger.Warn("invalid stored index dimension", "value", stored)
		return false, ""
	}
	if indexDim != e.embedder.Dimensions() {
		model, _ := e.metadata.GetState(ctx, store.StateKeyIndexModel)
		return true, fmt.Sprintf("index has %d dimensions (%s), embedder produces %d (%s)",
			indexDim, model, e.embedder.Dimensions(), e.embedder.ModelName())
	}
	return false, ""
}

// Search executes a hybrid search: both retrieval paths run concurrently,
// each bounded by its own timeout, and the survivors are fused with RRF.
// If one path fails the response degrades to the other instead of erroring.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, hukmerrors.InvalidQuery("query_text must not be empty")
	}

	opts = e.applyDefaults(opts)
	hybrid := opts.Hybrid == nil || *opts.Hybrid
	fetchLimit := opts.Limit * e.config.Overfetch
	pred := e.facets.predicate(opts.Filters)

	e.mu.RLock()
	denseDisabled := e.denseDisabled
	e.mu.RUnlock()

	dense, sparse, denseErr, sparseErr := e.parallelSearch(ctx, query, fetchLimit, pred, denseDisabled, hybrid)
	if denseErr != nil && (!hybrid || sparseErr != nil) {
		return nil, hukmerrors.Wrap(hukmerrors.ErrCodeSearchFailed,
			"all retrieval paths failed", errors.Join(denseErr, sparseErr))
	}

	resp, err := e.buildResponse(ctx, opts, hybrid, dense, sparse, denseErr, sparseErr)
	if err != nil {
		return nil, err
	}

	e.recordMetrics(query, resp, time.Since(start))
	return resp, nil
}

// parallelSearch runs both retrieval paths concurrently. Path failures
// are captured, never returned through the group, so one path cannot
// cancel the other.
func (e *Engine) parallelSearch(
	ctx context.Context,
	query string,
	fetchLimit int,
	pred store.Predicate,
	denseDisabled bool,
	hybrid bool,
) (dense []*store.VectorResult, sparse []*store.SparseResult, denseErr, sparseErr error) {
	g, gctx := errgroup.WithContext(ctx)

	if denseDisabled {
		denseErr = hukmerrors.New(hukmerrors.ErrCodeDimensionMismatch, "dense search disabled by dimension mismatch", nil)
	} else {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, e.config.PathTimeout)
			defer cancel()

			embedding, err := e.embedder.Embed(pctx, query)
			if err != nil {
				denseErr = err
				return nil
			}

			results, err := hukmerrors.RetryWithResult(pctx, hukmerrors.SingleRetryConfig(),
				func() ([]*store.VectorResult, error) {
					r, searchErr := e.vector.Search(pctx, embedding, fetchLimit)
					if searchErr != nil {
						return nil, hukmerrors.IndexUnavailable("dense index search failed", searchErr)
					}
					return r, nil
				})
			if err != nil {
				denseErr = err
				return nil
			}
			dense = filterVector(results, pred)
			return nil
		})
	}

	if hybrid {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, e.config.PathTimeout)
			defer cancel()

			results, err := hukmerrors.RetryWithResult(pctx, hukmerrors.SingleRetryConfig(),
				func() ([]*store.SparseResult, error) {
					r, searchErr := e.sparse.Search(pctx, query, fetchLimit, pred)
					if searchErr != nil {
						return nil, hukmerrors.IndexUnavailable("sparse index search failed", searchErr)
					}
					return r, nil
				})
			if err != nil {
				sparseErr = err
				return nil
			}
			sparse = results
			return nil
		})
	}

	// Goroutines only return nil; Wait surfaces context cancellation.
	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr, waitErr
	}
	return dense, sparse, denseErr, sparseErr
}

// buildResponse fuses the surviving paths and enriches the top results
// with chunk metadata.
func (e *Engine) buildResponse(
	ctx context.Context,
	opts SearchOptions,
	hybrid bool,
	dense []*store.VectorResult,
	sparse []*store.SparseResult,
	denseErr, sparseErr error,
) (*SearchResponse, error) {
	method := FusionRRF
	var warnings []string

	switch {
	case !hybrid:
		method = FusionDenseOnly
	case denseErr != nil:
		method = FusionSparseOnly
		warnings = append(warnings, "dense retrieval unavailable: "+denseErr.Error())
		e.logger.Warn("dense path failed, degrading to sparse-only", "error", denseErr)
	case sparseErr != nil:
		method = FusionDenseOnly
		warnings = append(warnings, "sparse retrieval unavailable: "+sparseErr.Error())
		e.logger.Warn("sparse path failed, degrading to dense-only", "error", sparseErr)
	}

	fused := e.fusion.Fuse(dense, sparse, *opts.Weights)
	total := len(fused)

	top := fused
	if len(top) > opts.Limit {
		top = top[:opts.Limit]
	}

	results, err := e.enrichResults(ctx, top, method)
	if err != nil {
		return nil, err
	}

	// Final guard in case the facet table lagged behind metadata.
	results = FilterResults(results, opts.Filters)

	return &SearchResponse{
		Results:      results,
		Total:        total,
		FusionMethod: method,
		Degraded:     denseErr != nil || sparseErr != nil,
		Warnings:     warnings,
	}, nil
}

// enrichResults loads full chunk data for the fused candidates. Fused
// ids missing from metadata are dropped (index orphans).
func (e *Engine) enrichResults(ctx context.Context, fused []*FusedResult, method string) ([]*SearchResult, error) {
	if len(fused) == 0 {
		return []*SearchResult{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}

	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("enrich results: %w", err)
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]*SearchResult, 0, len(fused))
	for _, f := range fused {
		chunk, ok := byID[f.ChunkID]
		if !ok {
			e.logger.Debug("dropping orphan result", "chunk_id", f.ChunkID)
			continue
		}

		r := &SearchResult{
			Chunk:        chunk,
			MatchedTerms: f.MatchedTerms,
		}
		// Single-path responses keep the surviving path's rank and
		// score; rrf_score and the other path's fields stay unset.
		switch method {
		case FusionDenseOnly:
			r.Score = f.DenseScore
			r.Hybrid = &HybridScores{
				DenseScore: f.DenseScore,
				DenseRank:  f.DenseRank,
			}
		case FusionSparseOnly:
			r.Score = f.SparseScore
			r.Hybrid = &HybridScores{
				SparseScore: f.SparseScore,
				SparseRank:  f.SparseRank,
			}
		default:
			r.Score = f.RRFScore
			r.Hybrid = &HybridScores{
				RRFScore:    f.RRFScore,
				DenseScore:  f.DenseScore,
				DenseRank:   f.DenseRank,
				SparseScore: f.SparseScore,
				SparseRank:  f.SparseRank,
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// applyDefaults fills in default values and clamps the limit to [1, max].
func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit == 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if opts.Weights == nil {
		w := e.config.DefaultWeights
		opts.Weights = &w
	}
	return opts
}

// recordMetrics records query telemetry if a collector is configured.
func (e *Engine) recordMetrics(query string, resp *SearchResponse, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:        query,
		Kind:         telemetry.KindSearch,
		FusionMethod: resp.FusionMethod,
		ResultCount:  len(resp.Results),
		Degraded:     resp.Degraded,
		Latency:      latency,
		Timestamp:    time.Now(),
	})
}

// Index adds chunks to the sparse index, vector store, and metadata store.
func (e *Engine) Index(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	docs := make([]*store.Document, len(chunks))
	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Text}
		texts[i] = c.Text
		ids[i] = c.ID
	}

	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}

	if err := e.sparse.Index(ctx, docs); err != nil {
		return fmt.Errorf("index in sparse index: %w", err)
	}
	if err := e.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	if err := e.metadata.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks metadata: %w", err)
	}
	e.facets.put(chunks)

	if err := e.storeIndexEmbeddingInfo(ctx); err != nil {
		e.logger.Warn("failed to store index embedding info", "error", err)
	}
	return nil
}

// storeIndexEmbeddingInfo saves the embedder's dimension and model so a
// later run with a different embedder is detected.
func (e *Engine) storeIndexEmbeddingInfo(ctx context.Context) error {
	dim := fmt.Sprintf("%d", e.embedder.Dimensions())
	if err := e.metadata.SetState(ctx, store.StateKeyIndexDimension, dim); err != nil {
		return fmt.Errorf("store index dimension: %w", err)
	}
	if err := e.metadata.SetState(ctx, store.StateKeyIndexModel, e.embedder.ModelName()); err != nil {
		return fmt.Errorf("store index model: %w", err)
	}
	return nil
}

// Delete removes chunks from all indices and metadata. Metadata is the
// source of truth; index orphans are harmless and filtered at search time.
func (e *Engine) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.sparse.Delete(ctx, chunkIDs); err != nil {
		e.logger.Warn("sparse delete failed, orphans remain", "error", err, "count", len(chunkIDs))
	}
	if err := e.vector.Delete(ctx, chunkIDs); err != nil {
		e.logger.Warn("vector delete failed, orphans remain", "error", err, "count", len(chunkIDs))
	}
	if err := e.metadata.DeleteChunks(ctx, chunkIDs); err != nil {
		return fmt.Errorf("delete chunks metadata: %w", err)
	}
	e.facets.delete(chunkIDs)
	return nil
}

// Persist saves the sparse and vector indexes to disk. The metadata
// store persists continuously and needs no snapshot.
func (e *Engine) Persist(sparsePath, vectorPath string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.sparse.Save(sparsePath); err != nil {
		return fmt.Errorf("save sparse index: %w", err)
	}
	if err := e.vector.Save(vectorPath); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	return nil
}

// Stats returns engine statistics.
func (e *Engine) Stats() *EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return &EngineStats{
		SparseStats: e.sparse.Stats(),
		VectorCount: e.vector.Count(),
		ChunkFacets: e.facets.len(),
	}
}

// Close releases all resources except the embedder, which the caller
// owns (it may be shared with the Q&A matcher).
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.sparse.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.metadata.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
