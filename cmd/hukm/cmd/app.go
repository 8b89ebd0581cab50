package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hukm-search/hukm/internal/config"
	"github.com/hukm-search/hukm/internal/embed"
	"github.com/hukm-search/hukm/internal/index"
	"github.com/hukm-search/hukm/internal/logging"
	"github.com/hukm-search/hukm/internal/qa"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/internal/telemetry"
)

// app bundles the retrieval components every command needs: stores,
// embedder, the search engine, and the Q&A matcher.
type app struct {
	cfg      *config.Config
	metadata store.MetadataStore
	sparse   store.SparseIndex
	vectors  store.VectorStore
	qaVecs   store.VectorStore
	embedder embed.Embedder
	metrics  *telemetry.QueryMetrics
	engine   *search.Engine
	matcher  *qa.Matcher
}

// setupLogging installs the process-wide logger. CLI commands keep
// stderr quiet so piped output stays clean; serve mirrors to stderr.
func setupLogging(cfg *config.Config, stderr bool) func() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.WriteToStderr = stderr
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		// Fall back to the default stderr logger.
		return func() {}
	}
	return cleanup
}

// openApp builds the full retrieval stack from configuration, loading
// any index snapshots present in the data directory.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	metadata, err := store.NewSQLiteStore(metadataPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	sparse, err := store.NewSparseIndex(cfg.Search.SparseBackend,
		store.DefaultBM25Config(), filepath.Join(cfg.DataDir, "sparse.bleve"))
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("open sparse index: %w", err)
	}

	embedder, err := embed.New(ctx, cfg.EmbedConfig(), slog.Default())
	if err != nil {
		_ = sparse.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	dims := embedder.Dimensions()

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = embedder.Close()
		_ = sparse.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	qaVecs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		_ = vectors.Close()
		_ = embedder.Close()
		_ = sparse.Close()
		_ = metadata.Close()
		return nil, fmt.Errorf("create qa vector store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		metadata: metadata,
		sparse:   sparse,
		vectors:  vectors,
		qaVecs:   qaVecs,
		embedder: embedder,
		metrics:  telemetry.NewQueryMetrics(telemetry.DefaultConfig()),
	}

	if err := a.loadSnapshots(); err != nil {
		a.close()
		return nil, err
	}

	a.engine, err = search.NewEngine(sparse, vectors, embedder, metadata,
		cfg.EngineConfig(), search.WithMetrics(a.metrics))
	if err != nil {
		a.close()
		return nil, err
	}
	a.matcher, err = qa.NewMatcher(qaVecs, embedder, metadata,
		cfg.QAMatcherConfig(), qa.WithMetrics(a.metrics))
	if err != nil {
		a.close()
		return nil, err
	}

	if err := a.engine.Warm(ctx); err != nil {
		slog.Warn("facet warm-up failed", "error", err)
	}
	return a, nil
}

// loadSnapshots loads whatever index snapshots exist. A fresh data
// directory has none; that is not an error.
func (a *app) loadSnapshots() error {
	if ms, ok := a.sparse.(*store.MemorySparseIndex); ok {
		path := filepath.Join(a.cfg.DataDir, index.SparseSnapshotFile)
		if fileExists(path) {
			if err := ms.Load(path); err != nil {
				return fmt.Errorf("load sparse snapshot: %w", err)
			}
		}
	}
	for _, s := range []struct {
		store store.VectorStore
		file  string
	}{
		{a.vectors, index.VectorSnapshotFile},
		{a.qaVecs, index.QASnapshotFile},
	} {
		path := filepath.Join(a.cfg.DataDir, s.file)
		if !fileExists(path) {
			continue
		}
		if err := s.store.Load(path); err != nil {
			return fmt.Errorf("load vector snapshot %s: %w", s.file, err)
		}
	}
	return nil
}

// reload refreshes the in-memory indexes from snapshots and rebuilds
// the facet table. Used by the snapshot watcher after a bulk load.
func (a *app) reload(ctx context.Context) error {
	if err := a.loadSnapshots(); err != nil {
		return err
	}
	return a.engine.Warm(ctx)
}

// close releases every component. The engine owns the sparse index,
// chunk vectors, and metadata store; the matcher owns the Q&A vectors;
// the embedder is shared and closed here.
func (a *app) close() {
	if a.matcher != nil {
		_ = a.matcher.Close()
	} else {
		_ = a.qaVecs.Close()
	}
	if a.engine != nil {
		_ = a.engine.Close()
	} else {
		_ = a.vectors.Close()
		_ = a.sparse.Close()
		_ = a.metadata.Close()
	}
	_ = a.embedder.Close()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func metadataPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, index.MetadataFile)
}

// requireIndex fails fast when no index has been loaded yet.
func requireIndex(ctx context.Context, a *app) error {
	n, err := a.metadata.CountChunks(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no index found in %s, run 'hukm load' first", a.cfg.DataDir)
	}
	return nil
}
