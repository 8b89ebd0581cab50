package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hukm-search/hukm/internal/discovery"
	"github.com/hukm-search/hukm/internal/index"
	"github.com/hukm-search/hukm/internal/server"
	"github.com/hukm-search/hukm/internal/synthesis"
	"github.com/hukm-search/hukm/internal/watcher"
	"github.com/hukm-search/hukm/pkg/version"
)

func newServeCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP search API",
		Long: `Run the HTTP search API.

Endpoints:
  POST /api/v1/search            hybrid search
  POST /api/v1/search/qa         Q&A matching
  POST /api/v1/search/synthesis  synthesis context assembly
  GET  /api/v1/discovery/all     facet discovery
  GET  /health                   health and index stats

The server watches the data directory and reloads index snapshots
after a bulk load, no restart needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides config)")

	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	cleanup := setupLogging(cfg, true)
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	aggregator := synthesis.NewAggregator(a.engine, synthesis.DefaultConfig(),
		synthesis.WithMetrics(a.metrics))
	facets := discovery.NewCache(a.metadata, cfg.DiscoveryConfigValue())

	srv, err := server.New(cfg.HTTPConfig(), a.engine, a.matcher, aggregator, facets,
		server.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	snapshots := watcher.New(cfg.DataDir, []string{
		index.SparseSnapshotFile,
		index.VectorSnapshotFile,
		index.QASnapshotFile,
	}, func(ctx context.Context) error {
		if err := a.reload(ctx); err != nil {
			return err
		}
		facets.Invalidate()
		return nil
	}, watcher.Config{})

	slog.Info("hukm starting",
		"version", version.Version,
		"addr", cfg.Server.Host,
		"port", cfg.Server.Port,
		"data_dir", cfg.DataDir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return snapshots.Run(gctx) })
	return g.Wait()
}
