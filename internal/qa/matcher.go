// Package qa matches user questions against indexed Q&A pairs derived
// from judicial decisions. Matching is dense-only: questions are short
// and well-formed, so semantic similarity with a score threshold beats
// lexical recall here.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hukm-search/hukm/internal/embed"
	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/internal/telemetry"
)

// Config configures the Q&A matcher.
type Config struct {
	// DefaultLimit is the default number of matches (default: 10).
	DefaultLimit int

	// MaxLimit is the maximum allowed matches (default: 50).
	MaxLimit int

	// DefaultThreshold is the minimum similarity score for a match
	// when the request leaves it unset (default: 0.7).
	DefaultThreshold float64

	// Timeout bounds a single match operation (default: 3s).
	Timeout time.Duration

	// Overfetch multiplies the candidate count over the requested
	// limit so threshold and facet filtering have headroom (default: 3).
	Overfetch int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:     10,
		MaxLimit:         50,
		DefaultThreshold: 0.7,
		Timeout:          3 * time.Second,
		Overfetch:        3,
	}
}

// MatchOptions configures a single match request.
type MatchOptions struct {
	// Limit is the maximum number of matches (default: 10, max: 50).
	Limit int

	// Threshold overrides the minimum similarity score. Must be in
	// [0, 1] when set.
	Threshold *float64

	// Filters restricts matches by facet equality on the denormalized
	// decision metadata.
	Filters store.Filters
}

// Match is a single Q&A match with its similarity score.
type Match struct {
	// QA is the matched pair with denormalized decision metadata.
	QA *store.QAPair `json:"qa"`

	// Score is the cosine similarity between the user question and the
	// indexed question (0-1).
	Score float64 `json:"score"`
}

// MatchResponse is the result of a match operation.
type MatchResponse struct {
	Matches []*Match `json:"matches"`

	// Total is the number of candidates above the threshold after
	// filtering, before the limit was applied.
	Total int `json:"total"`

	// Threshold is the effective threshold used.
	Threshold float64 `json:"threshold"`
}

// Matcher answers questions from the Q&A index.
type Matcher struct {
	vector   store.VectorStore
	embedder embed.Embedder
	metadata store.MetadataStore
	config   Config
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger

	mu sync.RWMutex
}

// MatcherOption configures the matcher.
type MatcherOption func(*Matcher)

// WithMetrics sets an optional query metrics collector.
func WithMetrics(m *telemetry.QueryMetrics) MatcherOption {
	return func(ma *Matcher) { ma.metrics = m }
}

// WithLogger sets the matcher logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) MatcherOption {
	return func(ma *Matcher) { ma.logger = l }
}

// NewMatcher creates a Q&A matcher with the given dependencies.
func NewMatcher(
	vector store.VectorStore,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	config Config,
	opts ...MatcherOption,
) (*Matcher, error) {
	if vector == nil {
		return nil, errors.New("qa: vector store is required")
	}
	if embedder == nil {
		return nil, errors.New("qa: embedder is required")
	}
	if metadata == nil {
		return nil, errors.New("qa: metadata store is required")
	}

	d := DefaultConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = d.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = d.MaxLimit
	}
	if config.DefaultThreshold <= 0 {
		config.DefaultThreshold = d.DefaultThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.Overfetch <= 0 {
		config.Overfetch = d.Overfetch
	}

	m := &Matcher{
		vector:   vector,
		embedder: embedder,
		metadata: metadata,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Match finds Q&A pairs whose question is semantically close to the
// user question, at or above the similarity threshold.
func (m *Matcher) Match(ctx context.Context, question string, opts MatchOptions) (*MatchResponse, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, hukmerrors.InvalidQuery("question must not be empty")
	}

	threshold := m.config.DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
		if threshold < 0 || threshold > 1 {
			return nil, hukmerrors.InvalidThreshold(threshold)
		}
	}

	limit := opts.Limit
	if limit == 0 {
		limit = m.config.DefaultLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > m.config.MaxLimit {
		limit = m.config.MaxLimit
	}

	mctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	embedding, err := m.embedder.Embed(mctx, question)
	if err != nil {
		return nil, hukmerrors.Wrap(hukmerrors.ErrCodeEmbeddingFailed, "failed to embed question", err)
	}

	candidates, err := hukmerrors.RetryWithResult(mctx, hukmerrors.SingleRetryConfig(),
		func() ([]*store.VectorResult, error) {
			r, searchErr := m.vector.Search(mctx, embedding, limit*m.config.Overfetch)
			if searchErr != nil {
				return nil, hukmerrors.IndexUnavailable("qa index search failed", searchErr)
			}
			return r, nil
		})
	if err != nil {
		return nil, err
	}

	matches, err := m.collectMatches(mctx, candidates, threshold, opts.Filters)
	if err != nil {
		return nil, err
	}

	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	resp := &MatchResponse{Matches: matches, Total: total, Threshold: threshold}
	m.recordMetrics(question, resp, time.Since(start))
	return resp, nil
}

// collectMatches applies the threshold, enriches candidates with the
// denormalized pair data, and applies facet filters. Candidate order
// (descending similarity) is preserved.
func (m *Matcher) collectMatches(
	ctx context.Context,
	candidates []*store.VectorResult,
	threshold float64,
	filters store.Filters,
) ([]*Match, error) {
	ids := make([]string, 0, len(candidates))
	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		score := float64(c.Score)
		if score < threshold {
			// Results are sorted by score; nothing below passes.
			break
		}
		ids = append(ids, c.ID)
		scores[c.ID] = score
	}
	if len(ids) == 0 {
		return []*Match{}, nil
	}

	pairs, err := m.metadata.GetQAPairs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("enrich qa matches: %w", err)
	}

	matches := make([]*Match, 0, len(pairs))
	for _, p := range pairs {
		if !filters.MatchQA(p) {
			continue
		}
		matches = append(matches, &Match{QA: p, Score: scores[p.QAID]})
	}
	return matches, nil
}

func (m *Matcher) recordMetrics(question string, resp *MatchResponse, latency time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.Record(telemetry.QueryEvent{
		Query:       question,
		Kind:        telemetry.KindQA,
		ResultCount: len(resp.Matches),
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// Index embeds pair questions and adds them to the Q&A index and the
// metadata store. Existing ids are replaced.
func (m *Matcher) Index(ctx context.Context, pairs []*store.QAPair) error {
	if len(pairs) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	texts := make([]string, len(pairs))
	ids := make([]string, len(pairs))
	for i, p := range pairs {
		texts[i] = p.Question
		ids[i] = p.QAID
	}

	embeddings, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed qa questions: %w", err)
	}

	if err := m.vector.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add qa vectors: %w", err)
	}
	if err := m.metadata.SaveQAPairs(ctx, pairs); err != nil {
		return fmt.Errorf("save qa pairs: %w", err)
	}
	return nil
}

// Delete removes pairs from the Q&A index.
func (m *Matcher) Delete(ctx context.Context, qaIDs []string) error {
	if len(qaIDs) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.vector.Delete(ctx, qaIDs); err != nil {
		m.logger.Warn("qa vector delete failed, orphans remain", "error", err, "count", len(qaIDs))
	}
	return nil
}

// Count returns the number of indexed Q&A vectors.
func (m *Matcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vector.Count()
}

// Persist saves the Q&A vector index to disk.
func (m *Matcher) Persist(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vector.Save(path)
}

// Close releases the vector index. The embedder and metadata store are
// shared with the search engine and closed by their owner.
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vector.Close()
}
