package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/ar"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveSparseIndex implements SparseIndex on Bleve v2 with the built-in
// Arabic analyzer (normalization + stemming). Unlike MemorySparseIndex it
// persists continuously at its directory path, so Save is a no-op and Load
// reopens the index.
type BleveSparseIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the indexed document shape.
type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveSparseIndex opens or creates a Bleve index at path.
// Empty path creates a memory-only index (tests).
func NewBleveSparseIndex(path string) (*BleveSparseIndex, error) {
	idx, err := openBleve(path)
	if err != nil {
		return nil, err
	}
	return &BleveSparseIndex{index: idx, path: path}, nil
}

func openBleve(path string) (bleve.Index, error) {
	if path == "" {
		return bleve.NewMemOnly(buildBleveMapping())
	}
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		return bleve.New(path, buildBleveMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return idx, nil
}

func buildBleveMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = ar.AnalyzerName
	contentField.Store = false
	contentField.IncludeTermVectors = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", contentField)
	m.DefaultMapping = doc
	m.DefaultAnalyzer = ar.AnalyzerName

	return m
}

// Index adds documents in a single batch, replacing existing ids.
func (b *BleveSparseIndex) Index(ctx context.Context, docs []*Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("sparse index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a match query over the content field. The predicate cannot be
// pushed into Bleve's scorer, so candidates are over-fetched and filtered
// before truncation; result ordering is unaffected, which preserves the
// filter idempotence guarantee.
func (b *BleveSparseIndex) Search(ctx context.Context, query string, limit int, pred Predicate) ([]*SparseResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("sparse index is closed")
	}
	if limit <= 0 {
		return []*SparseResult{}, nil
	}

	fetch := limit
	if pred != nil {
		fetch = limit * 4
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("content")
	req := bleve.NewSearchRequestOptions(q, fetch, 0, false)
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	results := make([]*SparseResult, 0, limit)
	for _, hit := range res.Hits {
		if pred != nil && !pred(hit.ID) {
			continue
		}
		var terms []string
		if locs, ok := hit.Locations["content"]; ok {
			for term := range locs {
				terms = append(terms, term)
			}
		}
		results = append(results, &SparseResult{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: terms,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Delete removes documents from the index.
func (b *BleveSparseIndex) Delete(ctx context.Context, docIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("sparse index is closed")
	}
	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Stats returns index statistics. Bleve does not expose term counts or
// average length cheaply; only the document count is populated.
func (b *BleveSparseIndex) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &IndexStats{}
	}
	count, err := b.index.DocCount()
	if err != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: int(count)}
}

// Save is a no-op: Bleve persists on every batch.
func (b *BleveSparseIndex) Save(path string) error {
	return nil
}

// Load reopens the index from the given path.
func (b *BleveSparseIndex) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("sparse index is closed")
	}
	if b.index != nil {
		_ = b.index.Close()
	}
	idx, err := openBleve(path)
	if err != nil {
		return err
	}
	b.index = idx
	b.path = path
	return nil
}

// Close closes the underlying index.
func (b *BleveSparseIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ SparseIndex = (*BleveSparseIndex)(nil)
