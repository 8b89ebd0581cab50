package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hukm-search/hukm/internal/output"
	"github.com/hukm-search/hukm/internal/qa"
)

type qaOptions struct {
	limit     int
	threshold float64
	jsonOut   bool
	filters   filterFlags
}

func newQACmd() *cobra.Command {
	var opts qaOptions

	cmd := &cobra.Command{
		Use:   "qa <question>",
		Short: "Match a question against the Q&A index",
		Long: `Match a question against indexed Q&A pairs by semantic similarity.

Examples:
  hukm qa "ما هي شروط النفقة؟"
  hukm qa "متى يفسخ العقد؟" --threshold 0.8 --limit 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQA(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of matches")
	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", 0, "Minimum similarity score in [0,1] (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output matches as JSON")
	opts.filters.register(cmd)

	return cmd
}

func runQA(ctx context.Context, cmd *cobra.Command, question string, opts qaOptions) error {
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

	matchOpts := qa.MatchOptions{
		Limit:   opts.limit,
		Filters: opts.filters.filters(),
	}
	if cmd.Flags().Changed("threshold") {
		matchOpts.Threshold = &opts.threshold
	}

	resp, err := a.matcher.Match(ctx, question, matchOpts)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return formatMatches(out, question, resp)
}

func formatMatches(out *output.Writer, question string, resp *qa.MatchResponse) error {
	if len(resp.Matches) == 0 {
		out.Printf("No matches above threshold %.2f for %q\n", resp.Threshold, question)
		return nil
	}

	out.Printf("Found %d matches (threshold %.2f)\n", resp.Total, resp.Threshold)
	out.Newline()

	for i, m := range resp.Matches {
		if m.QA == nil {
			continue
		}
		out.Printf("%d. %s (score: %.3f)\n", i+1, m.QA.Question, m.Score)
		out.Printf("   %s\n", m.QA.Answer)
		out.Field("decision_id", m.QA.DecisionID)
		if m.QA.LegalPrinciple != "" {
			out.Field("principle", m.QA.LegalPrinciple)
		}
		out.Newline()
	}
	return nil
}
