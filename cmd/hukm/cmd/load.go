package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/hukm-search/hukm/internal/index"
	"github.com/hukm-search/hukm/internal/output"
)

func newLoadCmd() *cobra.Command {
	var chunksFile string
	var qaFile string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a JSONL export into the index",
		Long: `Load a JSONL export into the index.

Reads decision chunks (one JSON object per line), embeds them in
batches, indexes them, and writes fresh snapshots to the data
directory. A running 'hukm serve' picks the snapshots up automatically.

Examples:
  hukm load --chunks decisions.jsonl
  hukm load --chunks decisions.jsonl --qa qa_pairs.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoad(cmd.Context(), cmd, chunksFile, qaFile, batchSize)
		},
	}

	cmd.Flags().StringVar(&chunksFile, "chunks", "", "Path to the chunks JSONL file (required)")
	cmd.Flags().StringVar(&qaFile, "qa", "", "Path to the Q&A pairs JSONL file")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per embedding batch (overrides config)")
	_ = cmd.MarkFlagRequired("chunks")

	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, chunksFile, qaFile string, batchSize int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchSize > 0 {
		cfg.Load.BatchSize = batchSize
	}

	cleanup := setupLogging(cfg, false)
	defer cleanup()
	out := output.New(cmd.OutOrStdout())

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	out.Printf("Loading %s into %s\n", chunksFile, cfg.DataDir)

	loader := index.NewLoader(a.engine, a.matcher, a.metadata,
		index.Config{BatchSize: cfg.Load.BatchSize})
	summary, err := loader.Run(ctx, index.Options{
		DataDir:    cfg.DataDir,
		ChunksFile: chunksFile,
		QAFile:     qaFile,
	})
	if err != nil {
		out.Errorf("load failed: %v", err)
		return err
	}

	out.Successf("indexed %d chunks and %d Q&A pairs in %s",
		summary.Chunks, summary.QAPairs, summary.Duration.Round(time.Millisecond))
	return nil
}
