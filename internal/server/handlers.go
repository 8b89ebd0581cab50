package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/qa"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/pkg/version"
)

// Wire contract bounds. The engine clamps internally; the HTTP layer
// rejects out-of-range values instead so callers see their mistake.
const (
	maxSearchLimit = 100
	maxQALimit     = 50
)

type searchRequest struct {
	QueryText string         `json:"query_text"`
	Limit     *int           `json:"limit,omitempty"`
	Filters   *store.Filters `json:"filters,omitempty"`
	UseHybrid *bool          `json:"use_hybrid,omitempty"`
}

type qaRequest struct {
	Question       string         `json:"question"`
	Limit          *int           `json:"limit,omitempty"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	Filters        *store.Filters `json:"filters,omitempty"`
}

// matchedQA flattens a match onto the wire: the Q&A content and its
// denormalized decision metadata inline, plus the similarity score.
type matchedQA struct {
	*store.QAPair
	Score float64 `json:"score"`
}

// qaResponse is the search/qa wire shape.
type qaResponse struct {
	TotalResults   int            `json:"total_results"`
	Results        []matchedQA    `json:"results"`
	Threshold      float64        `json:"threshold"`
	FiltersApplied *store.Filters `json:"filters_applied,omitempty"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, hukmerrors.InvalidQuery("invalid request body: "+err.Error()))
		return
	}

	opts := search.SearchOptions{Hybrid: req.UseHybrid}
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > maxSearchLimit {
			writeError(c, hukmerrors.InvalidLimit(*req.Limit, 1, maxSearchLimit))
			return
		}
		opts.Limit = *req.Limit
	}
	if req.Filters != nil {
		opts.Filters = *req.Filters
	}

	resp, err := s.searcher.Search(c.Request.Context(), req.QueryText, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQA(c *gin.Context) {
	var req qaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, hukmerrors.InvalidQuery("invalid request body: "+err.Error()))
		return
	}

	opts := qa.MatchOptions{Threshold: req.ScoreThreshold}
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > maxQALimit {
			writeError(c, hukmerrors.InvalidLimit(*req.Limit, 1, maxQALimit))
			return
		}
		opts.Limit = *req.Limit
	}
	if req.Filters != nil {
		opts.Filters = *req.Filters
	}

	resp, err := s.matcher.Match(c.Request.Context(), req.Question, opts)
	if err != nil {
		writeError(c, err)
		return
	}

	wire := qaResponse{
		TotalResults: resp.Total,
		Results:      make([]matchedQA, 0, len(resp.Matches)),
		Threshold:    resp.Threshold,
	}
	for _, m := range resp.Matches {
		wire.Results = append(wire.Results, matchedQA{QAPair: m.QA, Score: m.Score})
	}
	if req.Filters != nil && !req.Filters.IsZero() {
		wire.FiltersApplied = req.Filters
	}
	c.JSON(http.StatusOK, wire)
}

// handleSynthesis returns 200 even when the underlying search failed;
// the failure rides in the response error field.
func (s *Server) handleSynthesis(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, hukmerrors.InvalidQuery("invalid request body: "+err.Error()))
		return
	}

	var filters store.Filters
	if req.Filters != nil {
		filters = *req.Filters
	}

	resp, err := s.synthesizer.Synthesize(c.Request.Context(), req.QueryText, filters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDiscovery(c *gin.Context) {
	counts, err := s.facets.Facets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"version": version.Version,
	}

	stats := s.searcher.Stats()
	if stats != nil {
		index := gin.H{
			"vectors": stats.VectorCount,
			"chunks":  stats.ChunkFacets,
		}
		if stats.SparseStats != nil {
			index["documents"] = stats.SparseStats.DocumentCount
			index["terms"] = stats.SparseStats.TermCount
		}
		body["index"] = index
	}

	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		body["queries"] = gin.H{
			"total":        snap.TotalQueries,
			"zero_results": snap.ZeroResultCount,
			"degraded":     snap.DegradedCount,
		}
	}
	c.JSON(http.StatusOK, body)
}
