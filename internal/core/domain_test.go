package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() *ManualClock {
	return NewManualClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
}

func TestNewLogEntry_Defaults(t *testing.T) {
	clock := testClock()
	entry := NewLogEntry(clock, "some content", "/var/log/system.log", "system.log", PriorityMedium)

	assert.NotEmpty(t, entry.EntryID)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, int64(-1), entry.FileOffset)
	assert.Equal(t, 3, entry.MaxRetries)
	assert.Equal(t, clock.Now(), entry.CreatedAt)
}

func TestLogEntry_UniqueIDs(t *testing.T) {
	clock := testClock()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		entry := NewLogEntry(clock, "x", "", "src", PriorityLow)
		require.False(t, seen[entry.EntryID], "duplicate entry id")
		seen[entry.EntryID] = true
	}
}

func TestLogEntry_HappyPathTransitions(t *testing.T) {
	clock := testClock()
	entry := NewLogEntry(clock, "x", "", "src", PriorityMedium)

	require.NoError(t, entry.MarkProcessing(clock))
	require.NotNil(t, entry.ProcessingStartedAt)

	clock.Advance(50 * time.Millisecond)
	require.NoError(t, entry.MarkCompleted(clock))
	require.NotNil(t, entry.ProcessingCompletedAt)

	assert.True(t, entry.CreatedAt.Before(*entry.ProcessingCompletedAt) ||
		entry.CreatedAt.Equal(*entry.ProcessingCompletedAt))
	assert.False(t, entry.ProcessingStartedAt.After(*entry.ProcessingCompletedAt))
}

func TestLogEntry_TerminalStatesAreFinal(t *testing.T) {
	clock := testClock()
	entry := NewLogEntry(clock, "x", "", "src", PriorityMedium)
	require.NoError(t, entry.MarkProcessing(clock))
	require.NoError(t, entry.MarkCompleted(clock))

	assert.Error(t, entry.Transition(StatusProcessing))
	assert.Error(t, entry.MarkFailed(clock, "nope"))
	assert.Error(t, entry.MarkDead("nope"))
	assert.Equal(t, StatusCompleted, entry.CurrentStatus())
}

func TestLogEntry_InvalidTransitionRejected(t *testing.T) {
	clock := testClock()
	entry := NewLogEntry(clock, "x", "", "src", PriorityMedium)

	// PENDING cannot jump straight to COMPLETED.
	assert.Error(t, entry.Transition(StatusCompleted))
	assert.Equal(t, StatusPending, entry.CurrentStatus())
}

func TestLogEntry_RetryCycle(t *testing.T) {
	clock := testClock()
	entry := NewLogEntry(clock, "x", "", "src", PriorityMedium)
	entry.MaxRetries = 2

	for i := 1; i <= 2; i++ {
		require.NoError(t, entry.MarkProcessing(clock))
		require.NoError(t, entry.MarkRetrying("boom"))
		assert.Equal(t, i, entry.RetryCount)
		require.NoError(t, entry.MarkRequeued())
	}

	require.NoError(t, entry.MarkProcessing(clock))
	err := entry.MarkRetrying("boom again")
	require.Error(t, err)
	assert.True(t, entry.RetriesExhausted())

	require.NoError(t, entry.MarkDead(""))
	assert.Equal(t, "boom", entry.LastError)
}

func TestLogEntry_DisplacementReason(t *testing.T) {
	clock := testClock()
	entry := NewLogEntry(clock, "x", "", "src", PriorityLow)

	require.NoError(t, entry.MarkDead(ReasonDisplaced))
	assert.Equal(t, StatusDead, entry.CurrentStatus())
	assert.Equal(t, "DISPLACED_BY_BACKPRESSURE", entry.LastError)
}

func TestPriority_OrderingAndParsing(t *testing.T) {
	assert.Greater(t, PriorityCritical.Weight(), PriorityHigh.Weight())
	assert.Greater(t, PriorityHigh.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())

	assert.Equal(t, PriorityCritical, ParsePriority("CRITICAL"))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityMedium, ParsePriority("whatever"))
	assert.Equal(t, "HIGH", PriorityHigh.String())
}

func TestEntryStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusDead.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
}

func TestParsedEvent_Valid(t *testing.T) {
	clock := testClock()
	ev := NewParsedEvent(clock, "raw-1", "host:proc[1]", "something happened", CategorySystem, clock.Now())
	assert.True(t, ev.Valid(clock))

	ev.Message = "   "
	assert.False(t, ev.Valid(clock))

	ev.Message = "ok"
	ev.Timestamp = clock.Now().Add(2 * time.Hour)
	assert.False(t, ev.Valid(clock), "timestamp beyond skew window")

	ev.Timestamp = clock.Now().Add(30 * time.Minute)
	assert.True(t, ev.Valid(clock), "within skew window")
}

func TestAIAnalysis_Valid(t *testing.T) {
	a := &AIAnalysis{
		ID:              NewID(),
		EventID:         "ev-1",
		SeverityScore:   5,
		Explanation:     "long enough explanation",
		Recommendations: []string{"do something"},
	}
	assert.True(t, a.Valid())

	a.SeverityScore = 11
	assert.False(t, a.Valid())
	a.SeverityScore = 0
	assert.False(t, a.Valid())

	a.SeverityScore = 5
	a.Explanation = "short"
	assert.False(t, a.Valid())

	a.Explanation = "long enough explanation"
	a.Recommendations = nil
	assert.False(t, a.Valid())

	a.Recommendations = []string{"  "}
	assert.False(t, a.Valid())
}
