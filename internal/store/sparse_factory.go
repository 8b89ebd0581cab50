package store

import (
	"fmt"
	"log/slog"
)

// Sparse backend names.
const (
	SparseBackendMemory = "memory"
	SparseBackendBleve  = "bleve"
)

// NewSparseIndex creates a sparse index for the configured backend.
//
// "memory" (default) is the snapshot-persisted BM25 inverted index;
// "bleve" trades snapshot portability for Bleve's Arabic analyzer and
// on-disk incremental persistence.
func NewSparseIndex(backend string, cfg BM25Config, path string) (SparseIndex, error) {
	switch backend {
	case "", SparseBackendMemory:
		return NewMemorySparseIndex(cfg), nil
	case SparseBackendBleve:
		slog.Info("sparse_backend_selected", slog.String("backend", SparseBackendBleve), slog.String("path", path))
		return NewBleveSparseIndex(path)
	default:
		return nil, fmt.Errorf("unknown sparse backend %q (use %q or %q)", backend, SparseBackendMemory, SparseBackendBleve)
	}
}
