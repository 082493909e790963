// Package analyzer scores parsed events for severity. The scorer is
// pluggable; the pipeline only sees the Analyzer interface plus the Guard
// that wraps any scorer with a timeout and a circuit breaker.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loglane/backend/internal/circuitbreaker"
	"github.com/loglane/backend/internal/core"
)

// Analyzer scores one event. Implementations must be safe for concurrent
// use; workers call Score in parallel.
type Analyzer interface {
	Score(ctx context.Context, event *core.ParsedEvent) (*core.AIAnalysis, error)
}

// severityBase seeds the score per category.
var severityBase = map[core.Category]int{
	core.CategorySecurity:    6,
	core.CategoryAuth:        4,
	core.CategoryKernel:      4,
	core.CategoryNetwork:     3,
	core.CategorySystem:      2,
	core.CategoryApplication: 2,
	core.CategoryUnknown:     1,
}

// severityBoosts add to the base when the message contains the marker.
var severityBoosts = []struct {
	marker string
	boost  int
}{
	{"attack", 3},
	{"exploit", 3},
	{"malware", 3},
	{"injection", 3},
	{"unauthorized", 3},
	{"breach", 3},
	{"failed password", 2},
	{"denied", 2},
	{"blocked", 2},
	{"invalid user", 2},
	{"root", 1},
	{"error", 1},
}

// recommendationsFor maps categories to operator guidance.
var recommendationsFor = map[core.Category][]string{
	core.CategoryAuth:        {"Review authentication logs for the source host", "Check for brute-force patterns against the named account"},
	core.CategorySecurity:    {"Isolate the affected host pending investigation", "Correlate with firewall and IDS events in the same window"},
	core.CategoryKernel:      {"Check hardware health and recent driver changes", "Review kernel logs around the event timestamp"},
	core.CategoryNetwork:     {"Verify the remote address against threat intelligence", "Check interface and connection-tracking state"},
	core.CategorySystem:      {"Confirm the service state change was expected", "Review unit logs for the affected service"},
	core.CategoryApplication: {"Inspect application logs around the event", "Check recent deployments for regressions"},
	core.CategoryUnknown:     {"Review the raw line and improve source parsing"},
}

// RuleScorer is the deterministic built-in analyzer: category base plus
// keyword boosts, clamped to [1,10].
type RuleScorer struct {
	clock core.Clock
}

// NewRuleScorer builds the built-in scorer.
func NewRuleScorer(clock core.Clock) *RuleScorer {
	return &RuleScorer{clock: clock}
}

// Score computes the severity and assembles the analysis.
func (r *RuleScorer) Score(ctx context.Context, event *core.ParsedEvent) (*core.AIAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(event.Message)
	score := severityBase[event.Category]
	if score == 0 {
		score = 1
	}
	var hits []string
	for _, sb := range severityBoosts {
		if strings.Contains(lower, sb.marker) {
			score += sb.boost
			hits = append(hits, sb.marker)
		}
	}
	if score > 10 {
		score = 10
	}

	explanation := fmt.Sprintf("Category %s event from %s scored %d", event.Category, event.Source, score)
	if len(hits) > 0 {
		explanation += " (indicators: " + strings.Join(hits, ", ") + ")"
	}

	recs := recommendationsFor[event.Category]
	if len(recs) == 0 {
		recs = recommendationsFor[core.CategoryUnknown]
	}

	a := &core.AIAnalysis{
		ID:              core.NewID(),
		EventID:         event.ID,
		SeverityScore:   score,
		Explanation:     explanation,
		Recommendations: recs,
		AnalyzedAt:      r.clock.Now(),
	}
	if !a.Valid() {
		return nil, fmt.Errorf("scorer produced invalid analysis for event %s", event.ID)
	}
	return a, nil
}

// Guard wraps an analyzer with a per-call timeout and a circuit breaker so
// a wedged scorer degrades to events-without-analysis instead of stalling
// workers.
type Guard struct {
	inner   Analyzer
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// NewGuard wraps inner. A zero timeout defaults to 5s.
func NewGuard(inner Analyzer, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Guard{
		inner:   inner,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("analyzer")),
		timeout: timeout,
	}
}

// Score runs the wrapped analyzer under the breaker and timeout.
func (g *Guard) Score(ctx context.Context, event *core.ParsedEvent) (*core.AIAnalysis, error) {
	var analysis *core.AIAnalysis
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		a, err := g.inner.Score(callCtx, event)
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// BreakerState exposes the breaker for health reporting.
func (g *Guard) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}
