package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hukm-search/hukm/internal/output"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/store"
)

// filterFlags holds the facet filter flags shared by search and qa.
type filterFlags struct {
	city          string
	courtName     string
	courtType     string
	contentType   string
	legalCategory string
	decisionID    string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.city, "city", "", "Filter by city")
	cmd.Flags().StringVar(&f.courtName, "court", "", "Filter by court name")
	cmd.Flags().StringVar(&f.courtType, "court-type", "", "Filter by court type")
	cmd.Flags().StringVar(&f.contentType, "content-type", "", "Filter by content type")
	cmd.Flags().StringVar(&f.legalCategory, "category", "", "Filter by legal category")
	cmd.Flags().StringVar(&f.decisionID, "decision", "", "Filter by decision id")
}

func (f *filterFlags) filters() store.Filters {
	return store.Filters{
		City:          f.city,
		CourtName:     f.courtName,
		CourtType:     f.courtType,
		ContentType:   f.contentType,
		LegalCategory: f.legalCategory,
		DecisionID:    f.decisionID,
	}
}

type searchOptions struct {
	limit     int
	jsonOut   bool
	denseOnly bool
	filters   filterFlags
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed decisions",
		Long: `Search indexed decisions using hybrid retrieval.

Combines BM25 (keyword) and semantic (embedding) search with
Reciprocal Rank Fusion.

Examples:
  hukm search "نفقة الزوجة"
  hukm search "فسخ عقد" --city الرياض --limit 5
  hukm search "التعويض عن الضرر" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCLISearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.denseOnly, "dense-only", false, "Skip the BM25 path (semantic search only)")
	opts.filters.register(cmd)

	return cmd
}

func runCLISearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup := setupLogging(cfg, false)
	defer cleanup()
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := requireIndex(ctx, a); err != nil {
		return err
	}

	searchOpts := search.SearchOptions{
		Limit:   opts.limit,
		Filters: opts.filters.filters(),
	}
	if opts.denseOnly {
		hybrid := false
		searchOpts.Hybrid = &hybrid
	}

	resp, err := a.engine.Search(ctx, query, searchOpts)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return formatSearchResults(out, query, resp)
}

func formatSearchResults(out *output.Writer, query string, resp *search.SearchResponse) error {
	for _, warning := range resp.Warnings {
		out.Warningf("%s", warning)
	}
	if len(resp.Results) == 0 {
		out.Printf("No results found for %q\n", query)
		return nil
	}

	out.Printf("Found %d results for %q (%s)\n", resp.Total, query, resp.FusionMethod)
	out.Newline()

	for i, r := range resp.Results {
		if r.Chunk == nil {
			continue
		}
		title := r.Chunk.Display.Title
		if title == "" {
			title = r.Chunk.DecisionID
		}
		out.Printf("%d. %s (score: %.3f)\n", i+1, title, r.Score)
		out.Field("decision_id", r.Chunk.DecisionID)
		if r.Chunk.Section != "" {
			out.Field("section", r.Chunk.Section)
		}
		if r.Chunk.CourtName != "" {
			out.Field("court", r.Chunk.CourtName)
		}
		if r.Hybrid != nil {
			out.Field("dense_rank", r.Hybrid.DenseRank)
			out.Field("sparse_rank", r.Hybrid.SparseRank)
		}
		for _, line := range snippet(r.Chunk.Text, 3) {
			out.Printf("   %s\n", line)
		}
		out.Newline()
	}
	return nil
}

// snippet returns the first n non-empty lines of text.
func snippet(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
