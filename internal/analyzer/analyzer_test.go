package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglane/backend/internal/circuitbreaker"
	"github.com/loglane/backend/internal/core"
)

func testClock() *core.ManualClock {
	return core.NewManualClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
}

func eventOf(clock core.Clock, message string, category core.Category) *core.ParsedEvent {
	return core.NewParsedEvent(clock, "raw-1", "MacBook:sshd[456]", message, category, clock.Now())
}

func TestRuleScorer_CategoryBase(t *testing.T) {
	clock := testClock()
	s := NewRuleScorer(clock)

	a, err := s.Score(context.Background(), eventOf(clock, "routine event with no indicators", core.CategorySecurity))
	require.NoError(t, err)
	assert.Equal(t, 6, a.SeverityScore)

	a, err = s.Score(context.Background(), eventOf(clock, "routine event with no indicators", core.CategoryUnknown))
	require.NoError(t, err)
	assert.Equal(t, 1, a.SeverityScore)
}

func TestRuleScorer_KeywordBoosts(t *testing.T) {
	clock := testClock()
	s := NewRuleScorer(clock)

	// AUTH base 4 plus the "failed password" boost.
	a, err := s.Score(context.Background(), eventOf(clock, "Failed password for admin", core.CategoryAuth))
	require.NoError(t, err)
	assert.Equal(t, 6, a.SeverityScore)
	assert.Contains(t, a.Explanation, "failed password")
}

func TestRuleScorer_ClampsAtTen(t *testing.T) {
	clock := testClock()
	s := NewRuleScorer(clock)

	a, err := s.Score(context.Background(), eventOf(clock,
		"attack exploit malware injection breach unauthorized", core.CategorySecurity))
	require.NoError(t, err)
	assert.Equal(t, 10, a.SeverityScore)
	assert.True(t, a.Valid())
}

func TestRuleScorer_Deterministic(t *testing.T) {
	clock := testClock()
	s := NewRuleScorer(clock)
	ev := eventOf(clock, "unauthorized access denied", core.CategorySecurity)

	first, err := s.Score(context.Background(), ev)
	require.NoError(t, err)
	second, err := s.Score(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, first.SeverityScore, second.SeverityScore)
	assert.Equal(t, first.Explanation, second.Explanation)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}

func TestRuleScorer_RecommendationsPerCategory(t *testing.T) {
	clock := testClock()
	s := NewRuleScorer(clock)

	a, err := s.Score(context.Background(), eventOf(clock, "some message", core.CategoryAuth))
	require.NoError(t, err)
	assert.NotEmpty(t, a.Recommendations)

	b, err := s.Score(context.Background(), eventOf(clock, "some message", core.Category("BOGUS")))
	require.NoError(t, err)
	assert.Equal(t, recommendationsFor[core.CategoryUnknown], b.Recommendations)
}

func TestRuleScorer_CanceledContext(t *testing.T) {
	clock := testClock()
	s := NewRuleScorer(clock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Score(ctx, eventOf(clock, "x", core.CategorySystem))
	assert.Error(t, err)
}

type failingAnalyzer struct{ err error }

func (f *failingAnalyzer) Score(ctx context.Context, event *core.ParsedEvent) (*core.AIAnalysis, error) {
	return nil, f.err
}

func TestGuard_PassesThroughSuccess(t *testing.T) {
	clock := testClock()
	g := NewGuard(NewRuleScorer(clock), time.Second)

	a, err := g.Score(context.Background(), eventOf(clock, "Failed password", core.CategoryAuth))
	require.NoError(t, err)
	assert.NotNil(t, a)
	assert.Equal(t, circuitbreaker.StateClosed, g.BreakerState())
}

func TestGuard_TripsAfterRepeatedFailures(t *testing.T) {
	clock := testClock()
	g := NewGuard(&failingAnalyzer{err: errors.New("model offline")}, time.Second)
	ev := eventOf(clock, "x", core.CategorySystem)

	for i := 0; i < 5; i++ {
		_, err := g.Score(context.Background(), ev)
		assert.EqualError(t, err, "model offline")
	}
	assert.Equal(t, circuitbreaker.StateOpen, g.BreakerState())

	_, err := g.Score(context.Background(), ev)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

type slowAnalyzer struct{}

func (slowAnalyzer) Score(ctx context.Context, event *core.ParsedEvent) (*core.AIAnalysis, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
		return nil, nil
	}
}

func TestGuard_TimesOutSlowScorer(t *testing.T) {
	clock := testClock()
	g := NewGuard(slowAnalyzer{}, 10*time.Millisecond)

	_, err := g.Score(context.Background(), eventOf(clock, "x", core.CategorySystem))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
