// Package synthesis aggregates search results into grounding material
// for downstream answer generation: a deduplicated source list, context
// chunks, and summary metadata. Generation itself happens elsewhere.
package synthesis

import (
	"context"
	"log/slog"
	"time"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/internal/telemetry"
)

// Config configures the aggregator.
type Config struct {
	// MaxResults is how many fused results feed the aggregation (default: 10).
	MaxResults int

	// MaxContextChars truncates each context chunk's text, rune-safe
	// (default: 1500, 0 disables truncation).
	MaxContextChars int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxResults:      10,
		MaxContextChars: 1500,
	}
}

// Source is a distinct decision referenced by the result set. One entry
// per decision_id, ordered by the rank of the decision's best chunk.
type Source struct {
	DecisionID    string  `json:"decision_id"`
	CaseNumber    string  `json:"case_number,omitempty"`
	CourtName     string  `json:"court_name,omitempty"`
	City          string  `json:"city,omitempty"`
	CourtType     string  `json:"court_type,omitempty"`
	LegalCategory string  `json:"legal_category,omitempty"`
	Title         string  `json:"title,omitempty"`
	ChunkCount    int     `json:"chunk_count"`
	BestScore     float64 `json:"best_score"`
}

// ContextChunk is the grounding payload for one result chunk.
type ContextChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DecisionID string  `json:"decision_id"`
	Section    string  `json:"section,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// MetadataSummary holds distinct-value counts over the result set.
type MetadataSummary struct {
	LegalCategories map[string]int `json:"legal_categories"`
	CourtTypes      map[string]int `json:"court_types"`
	Cities          map[string]int `json:"cities"`
	ContentTypes    map[string]int `json:"content_types"`
}

// Response is the aggregation output. When the underlying search fails,
// Error is set and every aggregate is left empty; the operation itself
// still succeeds so callers can degrade instead of failing hard.
type Response struct {
	Query           string          `json:"query"`
	TotalResults    int             `json:"total_results"`
	SearchMethod    string          `json:"search_method"`
	ContextChunks   []*ContextChunk `json:"context_chunks"`
	Sources         []*Source       `json:"sources"`
	MetadataSummary MetadataSummary `json:"metadata_summary"`
	Error           string          `json:"error,omitempty"`
}

// Aggregator builds synthesis grounding from hybrid search results.
type Aggregator struct {
	searcher search.Searcher
	config   Config
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithMetrics sets an optional query metrics collector.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the aggregator logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator creates an aggregator over the given searcher.
func NewAggregator(searcher search.Searcher, config Config, opts ...Option) *Aggregator {
	d := DefaultConfig()
	if config.MaxResults <= 0 {
		config.MaxResults = d.MaxResults
	}
	if config.MaxContextChars < 0 {
		config.MaxContextChars = 0
	}

	a := &Aggregator{
		searcher: searcher,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Synthesize runs a hybrid search and aggregates the results. Invalid
// input is returned as an error; backend search failures populate the
// response Error field instead, with empty aggregates.
func (a *Aggregator) Synthesize(ctx context.Context, query string, filters store.Filters) (*Response, error) {
	start := time.Now()

	searchResp, err := a.searcher.Search(ctx, query, search.SearchOptions{
		Limit:   a.config.MaxResults,
		Filters: filters,
	})
	if err != nil {
		switch hukmerrors.GetCode(err) {
		case hukmerrors.ErrCodeInvalidQuery, hukmerrors.ErrCodeInvalidLimit, hukmerrors.ErrCodeInvalidThreshold:
			// Caller mistakes surface with field detail, not as a
			// degraded payload.
			return nil, err
		}

		a.logger.Warn("synthesis search failed, returning empty aggregates",
			"query_length", len(query), "error", err)
		resp := &Response{
			Query:           query,
			ContextChunks:   []*ContextChunk{},
			Sources:         []*Source{},
			MetadataSummary: emptySummary(),
			Error:           hukmerrors.Wrap(hukmerrors.ErrCodeSynthesisFailure, "search backend unavailable", err).Error(),
		}
		a.recordMetrics(query, resp, time.Since(start))
		return resp, nil
	}

	resp := a.Aggregate(query, searchResp)
	a.recordMetrics(query, resp, time.Since(start))
	return resp, nil
}

// Aggregate is the pure aggregation step over an already-fetched result
// set. Sources are deduplicated by decision id in rank order.
func (a *Aggregator) Aggregate(query string, sr *search.SearchResponse) *Response {
	resp := &Response{
		Query:           query,
		TotalResults:    sr.Total,
		SearchMethod:    sr.FusionMethod,
		ContextChunks:   make([]*ContextChunk, 0, len(sr.Results)),
		Sources:         []*Source{},
		MetadataSummary: emptySummary(),
	}

	byDecision := make(map[string]*Source)
	for _, r := range sr.Results {
		c := r.Chunk
		resp.ContextChunks = append(resp.ContextChunks, &ContextChunk{
			ChunkID:    c.ID,
			DecisionID: c.DecisionID,
			Section:    c.Section,
			Text:       truncateRunes(c.Text, a.config.MaxContextChars),
			Score:      r.Score,
		})

		if src, ok := byDecision[c.DecisionID]; ok {
			src.ChunkCount++
			if r.Score > src.BestScore {
				src.BestScore = r.Score
			}
		} else {
			src = &Source{
				DecisionID:    c.DecisionID,
				CaseNumber:    c.CaseNumber,
				CourtName:     c.CourtName,
				City:          c.City,
				CourtType:     c.CourtType,
				LegalCategory: c.LegalCategory,
				Title:         c.Display.Title,
				ChunkCount:    1,
				BestScore:     r.Score,
			}
			byDecision[c.DecisionID] = src
			resp.Sources = append(resp.Sources, src)
		}

		countFacet(resp.MetadataSummary.LegalCategories, c.LegalCategory)
		countFacet(resp.MetadataSummary.CourtTypes, c.CourtType)
		countFacet(resp.MetadataSummary.Cities, c.City)
		countFacet(resp.MetadataSummary.ContentTypes, c.ContentType)
	}
	return resp
}

func (a *Aggregator) recordMetrics(query string, resp *Response, latency time.Duration) {
	if a.metrics == nil {
		return
	}
	a.metrics.Record(telemetry.QueryEvent{
		Query:        query,
		Kind:         telemetry.KindSynthesis,
		FusionMethod: resp.SearchMethod,
		ResultCount:  len(resp.ContextChunks),
		Degraded:     resp.Error != "",
		Latency:      latency,
		Timestamp:    time.Now(),
	})
}

func emptySummary() MetadataSummary {
	return MetadataSummary{
		LegalCategories: map[string]int{},
		CourtTypes:      map[string]int{},
		Cities:          map[string]int{},
		ContentTypes:    map[string]int{},
	}
}

func countFacet(counts map[string]int, value string) {
	if value != "" {
		counts[value]++
	}
}

// truncateRunes shortens s to at most limit runes. Arabic text must not
// be cut mid-encoding, so truncation is by rune, not byte.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
