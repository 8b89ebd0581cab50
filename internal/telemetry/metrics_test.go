package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{30 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{300 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d))
	}
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	b := NewCircularBuffer[string](3)
	for _, s := range []string{"a", "b", "c", "d"} {
		b.Add(s)
	}
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []string{"b", "c", "d"}, b.Items())
}

func TestQueryMetrics_Record(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	m.Record(QueryEvent{
		Query:        "نفقة الزوجة",
		Kind:         KindSearch,
		FusionMethod: "rrf",
		ResultCount:  5,
		Latency:      20 * time.Millisecond,
	})
	m.Record(QueryEvent{
		Query:        "استفسار بلا نتائج",
		Kind:         KindQA,
		ResultCount:  0,
		Degraded:     true,
		Latency:      600 * time.Millisecond,
	})

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.TotalQueries)
	assert.Equal(t, int64(1), s.KindCounts[KindSearch])
	assert.Equal(t, int64(1), s.KindCounts[KindQA])
	assert.Equal(t, int64(1), s.FusionCounts["rrf"])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP1000])
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"استفسار بلا نتائج"}, s.ZeroResultQueries)
	assert.Equal(t, int64(1), s.DegradedCount)
	assert.InDelta(t, 50.0, s.ZeroResultPercentage(), 1e-9)
}

func TestQueryMetrics_ExactRepeats(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	for i := 0; i < 3; i++ {
		m.Record(QueryEvent{Query: "نفس الاستعلام", Kind: KindSearch, ResultCount: 1})
	}
	m.Record(QueryEvent{Query: "استعلام آخر", Kind: KindSearch, ResultCount: 1})

	s := m.Snapshot()
	require.Equal(t, int64(4), s.TotalQueries)
	assert.Equal(t, int64(2), s.ExactRepeatCount)
}

func TestQueryMetrics_SnapshotIsCopy(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())
	m.Record(QueryEvent{Query: "q", Kind: KindSearch, ResultCount: 1})

	s := m.Snapshot()
	s.KindCounts[KindSearch] = 99

	assert.Equal(t, int64(1), m.Snapshot().KindCounts[KindSearch])
}
