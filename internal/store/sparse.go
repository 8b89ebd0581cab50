package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// BM25Config configures the sparse lexical index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// StopWords is a list of words filtered out during tokenization.
	StopWords []string
}

// DefaultBM25Config returns default BM25 configuration tuned for Arabic
// judicial text.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:        1.2,
		B:         0.75,
		StopWords: DefaultArabicStopWords,
	}
}

// MemorySparseIndex implements SparseIndex with an in-memory inverted index
// scored by BM25. Term weights live in the posting lists; the index is
// snapshot-persisted with gob alongside the vector store.
type MemorySparseIndex struct {
	mu        sync.RWMutex
	config    BM25Config
	stopWords map[string]struct{}

	docLengths map[string]int            // docID -> token count
	postings   map[string]map[string]int // term -> docID -> term frequency
	totalLen   int

	closed bool
}

// sparseSnapshot is the gob persistence form of the index.
type sparseSnapshot struct {
	Config     BM25Config
	DocLengths map[string]int
	Postings   map[string]map[string]int
	TotalLen   int
}

// NewMemorySparseIndex creates an empty in-memory sparse index.
func NewMemorySparseIndex(cfg BM25Config) *MemorySparseIndex {
	if cfg.K1 <= 0 {
		cfg.K1 = 1.2
	}
	if cfg.B <= 0 {
		cfg.B = 0.75
	}
	return &MemorySparseIndex{
		config:     cfg,
		stopWords:  StopWordSet(cfg.StopWords),
		docLengths: make(map[string]int),
		postings:   make(map[string]map[string]int),
	}
}

// Index adds documents, replacing any existing entry with the same id.
func (idx *MemorySparseIndex) Index(ctx context.Context, docs []*Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("sparse index is closed")
	}

	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, exists := idx.docLengths[doc.ID]; exists {
			idx.removeLocked(doc.ID)
		}

		tokens := TokenizeFiltered(doc.Content, idx.stopWords)
		idx.docLengths[doc.ID] = len(tokens)
		idx.totalLen += len(tokens)

		for _, term := range tokens {
			posting := idx.postings[term]
			if posting == nil {
				posting = make(map[string]int)
				idx.postings[term] = posting
			}
			posting[doc.ID]++
		}
	}
	return nil
}

// Search scores documents against the query with BM25. A non-nil predicate
// excludes documents before ranking, so filtered searches reduce the
// candidate space rather than truncating results afterwards.
func (idx *MemorySparseIndex) Search(ctx context.Context, query string, limit int, pred Predicate) ([]*SparseResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, fmt.Errorf("sparse index is closed")
	}
	if limit <= 0 {
		return []*SparseResult{}, nil
	}

	terms := TokenizeFiltered(query, idx.stopWords)
	if len(terms) == 0 {
		return []*SparseResult{}, nil
	}

	n := len(idx.docLengths)
	if n == 0 {
		return []*SparseResult{}, nil
	}
	avgLen := float64(idx.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	matched := make(map[string][]string)

	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		posting, ok := idx.postings[term]
		if !ok {
			continue
		}

		df := len(posting)
		idf := math.Log(1.0 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))

		for docID, tf := range posting {
			if pred != nil && !pred(docID) {
				continue
			}
			docLen := float64(idx.docLengths[docID])
			denom := float64(tf) + idx.config.K1*(1.0-idx.config.B+idx.config.B*docLen/avgLen)
			scores[docID] += idf * (float64(tf) * (idx.config.K1 + 1.0)) / denom
			matched[docID] = append(matched[docID], term)
		}
	}

	results := make([]*SparseResult, 0, len(scores))
	for docID, score := range scores {
		results = append(results, &SparseResult{
			DocID:        docID,
			Score:        score,
			MatchedTerms: matched[docID],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes documents from the index.
func (idx *MemorySparseIndex) Delete(ctx context.Context, docIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("sparse index is closed")
	}
	for _, id := range docIDs {
		idx.removeLocked(id)
	}
	return nil
}

// removeLocked removes all postings for a document. Caller holds idx.mu.
func (idx *MemorySparseIndex) removeLocked(docID string) {
	length, exists := idx.docLengths[docID]
	if !exists {
		return
	}
	idx.totalLen -= length
	delete(idx.docLengths, docID)

	for term, posting := range idx.postings {
		if _, ok := posting[docID]; ok {
			delete(posting, docID)
			if len(posting) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// Stats returns index statistics.
func (idx *MemorySparseIndex) Stats() *IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := &IndexStats{
		DocumentCount: len(idx.docLengths),
		TermCount:     len(idx.postings),
	}
	if stats.DocumentCount > 0 {
		stats.AvgDocLength = float64(idx.totalLen) / float64(stats.DocumentCount)
	}
	return stats
}

// Save persists the index atomically (temp file + rename).
func (idx *MemorySparseIndex) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return fmt.Errorf("sparse index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create sparse index file: %w", err)
	}

	snap := sparseSnapshot{
		Config:     idx.config,
		DocLengths: idx.docLengths,
		Postings:   idx.postings,
		TotalLen:   idx.totalLen,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode sparse index: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close sparse index file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the index from disk.
func (idx *MemorySparseIndex) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return fmt.Errorf("sparse index is closed")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open sparse index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var snap sparseSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode sparse index: %w", err)
	}

	idx.config = snap.Config
	idx.stopWords = StopWordSet(snap.Config.StopWords)
	idx.docLengths = snap.DocLengths
	idx.postings = snap.Postings
	idx.totalLen = snap.TotalLen
	return nil
}

// Close releases resources.
func (idx *MemorySparseIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	idx.postings = nil
	idx.docLengths = nil
	return nil
}

var _ SparseIndex = (*MemorySparseIndex)(nil)
