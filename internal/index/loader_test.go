package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hukm-search/hukm/internal/embed"
	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/qa"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/store"
)

const loaderTestDims = 32

type loaderFixture struct {
	loader   *Loader
	engine   *search.Engine
	matcher  *qa.Matcher
	metadata store.MetadataStore
	dataDir  string
}

func newLoaderFixture(t *testing.T) *loaderFixture {
	t.Helper()

	sparse := store.NewMemorySparseIndex(store.DefaultBM25Config())
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(loaderTestDims))
	require.NoError(t, err)
	qaVector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(loaderTestDims))
	require.NoError(t, err)
	metadata, err := store.NewSQLiteStore("")
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder(loaderTestDims)
	engine, err := search.NewEngine(sparse, vector, embedder, metadata, search.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	matcher, err := qa.NewMatcher(qaVector, embedder, metadata, qa.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = matcher.Close() })

	return &loaderFixture{
		loader:   NewLoader(engine, matcher, metadata, Config{BatchSize: 2}),
		engine:   engine,
		matcher:  matcher,
		metadata: metadata,
		dataDir:  t.TempDir(),
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const chunksJSONL = `{"id":"c1","decision_id":"d1","text":"حكمت المحكمة بإلزام الزوج بدفع نفقة شهرية","city":"الرياض","legal_category":"أحوال شخصية"}
{"id":"c2","decision_id":"d2","text":"قضت المحكمة بإثبات حضانة الأطفال للأم","city":"الرياض"}

{"id":"c3","decision_id":"d3","text":"ألزمت المحكمة التجارية الشركة بسداد قيمة العقد","city":"جدة","legal_category":"تجاري"}
`

const qaJSONL = `{"qa_id":"qa1","question":"ما مقدار نفقة الزوجة","answer":"حسب حال الزوج","confidence":0.9,"decision_id":"d1"}
{"qa_id":"qa2","question":"لمن تكون الحضانة","answer":"للأم ما لم تتزوج","confidence":0.8,"decision_id":"d2"}
`

func TestLoader_Run(t *testing.T) {
	f := newLoaderFixture(t)
	chunksPath := writeFile(t, f.dataDir, "chunks.jsonl", chunksJSONL)
	qaPath := writeFile(t, f.dataDir, "qa.jsonl", qaJSONL)

	summary, err := f.loader.Run(context.Background(), Options{
		DataDir:    f.dataDir,
		ChunksFile: chunksPath,
		QAFile:     qaPath,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Chunks, "blank lines are skipped")
	assert.Equal(t, 2, summary.QAPairs)

	// Everything is searchable after the load.
	resp, err := f.engine.Search(context.Background(), "نفقة الزوجة", search.SearchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)

	threshold := 0.5
	matches, err := f.matcher.Match(context.Background(), "ما مقدار نفقة الزوجة",
		qa.MatchOptions{Threshold: &threshold})
	require.NoError(t, err)
	assert.NotEmpty(t, matches.Matches)

	// Snapshots and load timestamp were written.
	for _, name := range []string{SparseSnapshotFile, VectorSnapshotFile, QASnapshotFile} {
		_, err := os.Stat(filepath.Join(f.dataDir, name))
		assert.NoError(t, err, name)
	}
	updated, err := f.metadata.GetState(context.Background(), store.StateKeyIndexUpdatedAt)
	require.NoError(t, err)
	assert.NotEmpty(t, updated)
}

func TestLoader_QAFileOptional(t *testing.T) {
	f := newLoaderFixture(t)
	chunksPath := writeFile(t, f.dataDir, "chunks.jsonl", chunksJSONL)

	summary, err := f.loader.Run(context.Background(), Options{
		DataDir:    f.dataDir,
		ChunksFile: chunksPath,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Chunks)
	assert.Zero(t, summary.QAPairs)
}

func TestLoader_InvalidRecordNamesLine(t *testing.T) {
	f := newLoaderFixture(t)
	chunksPath := writeFile(t, f.dataDir, "chunks.jsonl",
		`{"id":"c1","decision_id":"d1","text":"نص"}
{"id":"c2","decision_id":"d2"`+"\n")

	_, err := f.loader.Run(context.Background(), Options{
		DataDir:    f.dataDir,
		ChunksFile: chunksPath,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}

func TestLoader_MissingRequiredFields(t *testing.T) {
	f := newLoaderFixture(t)
	chunksPath := writeFile(t, f.dataDir, "chunks.jsonl",
		`{"id":"c1","decision_id":"d1","text":"   "}`+"\n")

	_, err := f.loader.Run(context.Background(), Options{
		DataDir:    f.dataDir,
		ChunksFile: chunksPath,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id, decision_id, or text")
}

func TestLoader_MissingExportFile(t *testing.T) {
	f := newLoaderFixture(t)

	_, err := f.loader.Run(context.Background(), Options{
		DataDir:    f.dataDir,
		ChunksFile: filepath.Join(f.dataDir, "nope.jsonl"),
	})
	require.Error(t, err)
}

func TestLoader_ConcurrentLoadRejected(t *testing.T) {
	f := newLoaderFixture(t)
	chunksPath := writeFile(t, f.dataDir, "chunks.jsonl", chunksJSONL)

	held := flock.New(filepath.Join(f.dataDir, LockFile))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = held.Unlock() }()

	_, err = f.loader.Run(context.Background(), Options{
		DataDir:    f.dataDir,
		ChunksFile: chunksPath,
	})
	require.Error(t, err)
	assert.Equal(t, hukmerrors.ErrCodeIndexLocked, hukmerrors.GetCode(err))
}

func TestLoader_LockReleasedAfterRun(t *testing.T) {
	f := newLoaderFixture(t)
	chunksPath := writeFile(t, f.dataDir, "chunks.jsonl", chunksJSONL)

	_, err := f.loader.Run(context.Background(), Options{
		DataDir:    f.dataDir,
		ChunksFile: chunksPath,
	})
	require.NoError(t, err)

	lock := flock.New(filepath.Join(f.dataDir, LockFile))
	locked, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	_ = lock.Unlock()
}
