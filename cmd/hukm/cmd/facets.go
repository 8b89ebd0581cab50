package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hukm-search/hukm/internal/output"
	"github.com/hukm-search/hukm/internal/store"
)

func newFacetsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "facets",
		Short: "Show available filter values",
		Long: `Show distinct facet values and their chunk counts: courts, cities,
court types, legal categories, and content types.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFacets(cmd.Context(), cmd, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output facets as JSON")

	return cmd
}

func runFacets(ctx context.Context, cmd *cobra.Command, jsonOut bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup := setupLogging(cfg, false)
	defer cleanup()
	out := output.New(cmd.OutOrStdout())

	// Facet counts live in the metadata store; no embedder or vector
	// index is needed here.
	metadata, err := store.NewSQLiteStore(metadataPath(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = metadata.Close() }()

	counts, err := metadata.FacetCounts(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(counts)
	}

	printFacetGroup(out, "Courts", counts.Courts)
	printFacetGroup(out, "Cities", counts.Cities)
	printFacetGroup(out, "Court types", counts.CourtTypes)
	printFacetGroup(out, "Legal categories", counts.LegalCategories)
	printFacetGroup(out, "Content types", counts.ContentTypes)
	return nil
}

func printFacetGroup(out *output.Writer, title string, items []store.FacetItem) {
	if len(items) == 0 {
		return
	}
	out.Printf("%s\n", title)
	for _, item := range items {
		out.Printf("  %6d  %s\n", item.Count, item.Value)
	}
	out.Newline()
}
