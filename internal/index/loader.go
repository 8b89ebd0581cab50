// Package index loads decision-chunk and Q&A JSONL exports produced by
// the external ingestion pipeline into the search and Q&A indexes.
// Chunking and embedding-source extraction happen upstream; this only
// consumes the export files.
package index

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/store"
)

// Data directory layout. Snapshots are gob files; metadata lives in
// SQLite and persists continuously.
const (
	SparseSnapshotFile = "sparse.gob"
	VectorSnapshotFile = "vectors.gob"
	QASnapshotFile     = "qa_vectors.gob"
	MetadataFile       = "hukm.db"
	LockFile           = ".hukm.lock"
)

// Max JSONL line size. Decision chunks carry full text plus display
// fields; 4 MiB leaves ample headroom.
const maxLineBytes = 4 << 20

// ChunkIndexer indexes decision chunks.
type ChunkIndexer interface {
	Index(ctx context.Context, chunks []*store.Chunk) error
	Persist(sparsePath, vectorPath string) error
}

// QAIndexer indexes Q&A pairs.
type QAIndexer interface {
	Index(ctx context.Context, pairs []*store.QAPair) error
	Persist(path string) error
}

// Config configures the loader.
type Config struct {
	// BatchSize is the number of records indexed (and embedded) per
	// batch (default: 64).
	BatchSize int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{BatchSize: 64}
}

// Options name the inputs of one load run. QAFile may be empty when the
// export has no Q&A pairs.
type Options struct {
	DataDir    string
	ChunksFile string
	QAFile     string
}

// Summary reports what a load run did.
type Summary struct {
	Chunks   int
	QAPairs  int
	Duration time.Duration
}

// Loader populates the indexes from JSONL export files.
type Loader struct {
	chunks   ChunkIndexer
	qa       QAIndexer
	metadata store.MetadataStore
	config   Config
	logger   *slog.Logger
}

// Option configures the loader.
type Option func(*Loader)

// WithLogger sets the loader logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a loader over the given indexers.
func NewLoader(chunks ChunkIndexer, qa QAIndexer, metadata store.MetadataStore, config Config, opts ...Option) *Loader {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	l := &Loader{
		chunks:   chunks,
		qa:       qa,
		metadata: metadata,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run loads the export files, persists index snapshots, and records the
// load time. The data directory is flock-guarded so concurrent loads
// (or a load racing a serve-side snapshot save) fail fast instead of
// corrupting snapshots.
func (l *Loader) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(opts.DataDir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	if !locked {
		return nil, hukmerrors.New(hukmerrors.ErrCodeIndexLocked,
			"another load is in progress for "+opts.DataDir, nil)
	}
	defer func() { _ = lock.Unlock() }()

	summary := &Summary{}

	summary.Chunks, err = l.loadChunks(ctx, opts.ChunksFile)
	if err != nil {
		return nil, err
	}

	if opts.QAFile != "" {
		summary.QAPairs, err = l.loadQAPairs(ctx, opts.QAFile)
		if err != nil {
			return nil, err
		}
	}

	if err := l.persist(opts.DataDir); err != nil {
		return nil, err
	}
	if err := l.metadata.SetState(ctx, store.StateKeyIndexUpdatedAt,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		l.logger.Warn("failed to record load time", "error", err)
	}

	summary.Duration = time.Since(start)
	l.logger.Info("load complete",
		"chunks", summary.Chunks,
		"qa_pairs", summary.QAPairs,
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

func (l *Loader) persist(dataDir string) error {
	if err := l.chunks.Persist(
		filepath.Join(dataDir, SparseSnapshotFile),
		filepath.Join(dataDir, VectorSnapshotFile)); err != nil {
		return fmt.Errorf("persist chunk indexes: %w", err)
	}
	if err := l.qa.Persist(filepath.Join(dataDir, QASnapshotFile)); err != nil {
		return fmt.Errorf("persist qa index: %w", err)
	}
	return nil
}

// loadChunks streams the chunk export, indexing in batches so embedding
// requests stay bounded.
func (l *Loader) loadChunks(ctx context.Context, path string) (int, error) {
	total := 0
	batch := make([]*store.Chunk, 0, l.config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.chunks.Index(ctx, batch); err != nil {
			return fmt.Errorf("index chunk batch ending at record %d: %w", total, err)
		}
		batch = batch[:0]
		return nil
	}

	err := forEachLine(path, func(line int, data []byte) error {
		var c store.Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("%s:%d: invalid chunk record: %w", path, line, err)
		}
		if c.ID == "" || c.DecisionID == "" || strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%s:%d: chunk record missing id, decision_id, or text", path, line)
		}

		batch = append(batch, &c)
		total++
		if len(batch) >= l.config.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flush()
}

func (l *Loader) loadQAPairs(ctx context.Context, path string) (int, error) {
	total := 0
	batch := make([]*store.QAPair, 0, l.config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.qa.Index(ctx, batch); err != nil {
			return fmt.Errorf("index qa batch ending at record %d: %w", total, err)
		}
		batch = batch[:0]
		return nil
	}

	err := forEachLine(path, func(line int, data []byte) error {
		var p store.QAPair
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%s:%d: invalid qa record: %w", path, line, err)
		}
		if p.QAID == "" || strings.TrimSpace(p.Question) == "" {
			return fmt.Errorf("%s:%d: qa record missing qa_id or question", path, line)
		}

		batch = append(batch, &p)
		total++
		if len(batch) >= l.config.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flush()
}

// forEachLine calls fn for every non-blank line of a JSONL file.
func forEachLine(path string, fn func(line int, data []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		data := strings.TrimSpace(scanner.Text())
		if data == "" {
			continue
		}
		if err := fn(line, []byte(data)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
