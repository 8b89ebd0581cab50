// Package telemetry collects query telemetry for search optimization.
// All data stays in process memory; nothing is reported externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind labels which operation produced a query event.
type Kind string

const (
	KindSearch    Kind = "search"
	KindQA        Kind = "qa"
	KindSynthesis Kind = "synthesis"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent represents a single query for telemetry recording.
type QueryEvent struct {
	Query        string
	Kind         Kind
	FusionMethod string
	ResultCount  int
	Degraded     bool
	Latency      time.Duration
	Timestamp    time.Time
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Config configures the query metrics collector.
type Config struct {
	ZeroResultsCapacity   int // Max zero-result queries to keep (default: 100)
	RecentQueriesCapacity int // Max query hashes for repeat tracking (default: 500)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

// QueryMetrics collects query telemetry. Thread-safe.
type QueryMetrics struct {
	mu sync.RWMutex

	kindCounts    map[Kind]int64
	fusionCounts  map[string]int64
	latencyCounts map[LatencyBucket]int64

	totalQueries   int64
	zeroResults    int64
	degradedCount  int64
	exactRepeats   int64
	zeroResultLog  *CircularBuffer[string]
	recentQueries  *lru.Cache[string, struct{}]
	since          time.Time
}

// NewQueryMetrics creates a query metrics collector.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = DefaultConfig().ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = DefaultConfig().RecentQueriesCapacity
	}
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	return &QueryMetrics{
		kindCounts:    make(map[Kind]int64),
		fusionCounts:  make(map[string]int64),
		latencyCounts: make(map[LatencyBucket]int64),
		zeroResultLog: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		since:         time.Now(),
	}
}

// Record adds a query event to the collector.
func (m *QueryMetrics) Record(e QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.kindCounts[e.Kind]++
	if e.FusionMethod != "" {
		m.fusionCounts[e.FusionMethod]++
	}
	m.latencyCounts[LatencyToBucket(e.Latency)]++

	if e.Degraded {
		m.degradedCount++
	}
	if e.IsZeroResult() {
		m.zeroResults++
		m.zeroResultLog.Add(e.Query)
	}

	key := queryHash(e.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})
}

// queryHash keys repeat tracking without retaining the query text.
func queryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	KindCounts          map[Kind]int64          `json:"kind_counts"`
	FusionCounts        map[string]int64        `json:"fusion_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	DegradedCount       int64                   `json:"degraded_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Snapshot{
		KindCounts:          make(map[Kind]int64, len(m.kindCounts)),
		FusionCounts:        make(map[string]int64, len(m.fusionCounts)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(m.latencyCounts)),
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResults,
		ZeroResultQueries:   m.zeroResultLog.Items(),
		DegradedCount:       m.degradedCount,
		ExactRepeatCount:    m.exactRepeats,
		Since:               m.since,
	}
	for k, v := range m.kindCounts {
		s.KindCounts[k] = v
	}
	for k, v := range m.fusionCounts {
		s.FusionCounts[k] = v
	}
	for k, v := range m.latencyCounts {
		s.LatencyDistribution[k] = v
	}
	return s
}
