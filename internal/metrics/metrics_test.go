package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Timings(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, TimingStats{}, c.Timings())

	c.RecordProcessingTime(10 * time.Millisecond)
	c.RecordProcessingTime(30 * time.Millisecond)
	c.RecordProcessingTime(20 * time.Millisecond)

	st := c.Timings()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 10*time.Millisecond, st.Min)
	assert.Equal(t, 30*time.Millisecond, st.Max)
	assert.Equal(t, 20*time.Millisecond, st.Avg)
}

func TestCollector_WindowIsBounded(t *testing.T) {
	c := NewCollector()
	for i := 0; i < windowSize+100; i++ {
		c.RecordProcessingTime(time.Millisecond)
	}
	assert.Equal(t, windowSize, c.Timings().Count)
}

func TestCollector_WindowDropsOldest(t *testing.T) {
	c := NewCollector()
	c.RecordProcessingTime(time.Hour) // should age out
	for i := 0; i < windowSize; i++ {
		c.RecordProcessingTime(time.Millisecond)
	}
	assert.Equal(t, time.Millisecond, c.Timings().Max)
}

func TestCollector_Snapshot(t *testing.T) {
	c := NewCollector()
	c.EntriesProcessed.Add(5)
	c.EventsPersisted.Add(3)
	c.NotificationsThrottled.Add(1)
	c.RecordVerdict("VALID")
	c.RecordVerdict("VALID")
	c.RecordVerdict("SUSPICIOUS")
	c.RecordBroadcast("processing_result")

	snap := c.Snapshot()
	assert.Equal(t, int64(5), snap["entries_processed"])
	assert.Equal(t, int64(3), snap["events_persisted"])
	assert.Equal(t, int64(1), snap["notifications_throttled"])

	verdicts, ok := snap["validation_verdicts"].(map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(2), verdicts["VALID"])
	assert.Equal(t, int64(1), verdicts["SUSPICIOUS"])

	casts, ok := snap["broadcasts_by_type"].(map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(1), casts["processing_result"])
}

func TestCollector_Rate(t *testing.T) {
	c := NewCollector()
	c.startedAt = time.Now().Add(-10 * time.Second)
	c.EntriesProcessed.Store(100)
	assert.InDelta(t, 10.0, c.Rate(), 1.0)
}
