package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/metrics"
)

func testClock() *core.ManualClock {
	return core.NewManualClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
}

func authEvent(clock core.Clock) *core.ParsedEvent {
	return core.NewParsedEvent(clock, "raw-1", "MacBook:sshd[456]",
		"Failed password for admin", core.CategoryAuth, clock.Now())
}

func analysisWith(score int) *core.AIAnalysis {
	return &core.AIAnalysis{
		ID:              core.NewID(),
		EventID:         "ev-1",
		SeverityScore:   score,
		Explanation:     "repeated authentication failures",
		Recommendations: []string{"review access logs"},
	}
}

type fakeChannel struct {
	id        string
	failures  int // fail this many sends before succeeding
	sent      []Notification
	configErr error
}

func (c *fakeChannel) ID() string            { return c.id }
func (c *fakeChannel) ValidateConfig() error { return c.configErr }

func (c *fakeChannel) Send(ctx context.Context, n Notification) error {
	if c.failures > 0 {
		c.failures--
		return errors.New("transport down")
	}
	c.sent = append(c.sent, n)
	return nil
}

func baseRule(name string) *Rule {
	return &Rule{
		RuleName:    name,
		Enabled:     true,
		MinSeverity: 1,
		MaxSeverity: 10,
		Channels:    []string{"fake"},
	}
}

func TestRule_Validate(t *testing.T) {
	assert.Error(t, (&Rule{Enabled: true, MinSeverity: 1, MaxSeverity: 10, Channels: []string{"c"}}).Validate(), "name required")
	assert.Error(t, (&Rule{RuleName: "r", MinSeverity: 0, MaxSeverity: 10, Channels: []string{"c"}}).Validate())
	assert.Error(t, (&Rule{RuleName: "r", MinSeverity: 5, MaxSeverity: 4, Channels: []string{"c"}}).Validate())
	assert.Error(t, (&Rule{RuleName: "r", MinSeverity: 1, MaxSeverity: 11, Channels: []string{"c"}}).Validate())
	assert.Error(t, (&Rule{RuleName: "r", MinSeverity: 1, MaxSeverity: 10}).Validate(), "channels required")
	assert.NoError(t, baseRule("r").Validate())
}

func TestRule_Matches(t *testing.T) {
	clock := testClock()
	event := authEvent(clock)

	r := baseRule("r")
	assert.True(t, r.Matches(event, analysisWith(5)))

	r.Enabled = false
	assert.False(t, r.Matches(event, analysisWith(5)))
	r.Enabled = true

	r.MinSeverity = 7
	assert.False(t, r.Matches(event, analysisWith(5)))
	assert.True(t, r.Matches(event, analysisWith(7)))
	r.MinSeverity = 1

	r.Categories = []core.Category{core.CategorySecurity}
	assert.False(t, r.Matches(event, analysisWith(5)))
	r.Categories = []core.Category{core.CategorySecurity, core.CategoryAuth}
	assert.True(t, r.Matches(event, analysisWith(5)))

	r.Sources = []string{"other:proc"}
	assert.False(t, r.Matches(event, analysisWith(5)))
	r.Sources = []string{"MacBook:sshd[456]"}
	assert.True(t, r.Matches(event, analysisWith(5)))
}

func TestRule_MissingAnalysisDefaultsToSeverityOne(t *testing.T) {
	clock := testClock()
	r := baseRule("r")
	r.MinSeverity = 2
	assert.False(t, r.Matches(authEvent(clock), nil))
	r.MinSeverity = 1
	assert.True(t, r.Matches(authEvent(clock), nil))
}

func TestEngine_SendDispatchesToMatchingRules(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	ch := &fakeChannel{id: "fake"}
	require.NoError(t, e.RegisterChannel(ch))
	require.NoError(t, e.AddRule(baseRule("auth-watch")))

	results := e.Send(context.Background(), authEvent(clock), analysisWith(5))
	assert.Equal(t, map[string]bool{"fake": true}, results)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "auth-watch", ch.sent[0].RuleName)

	st := e.Stats()
	assert.Equal(t, int64(1), st.Triggered)
	assert.Equal(t, int64(1), st.Sent)
}

func TestEngine_ThrottleSuppressesWithinWindow(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	ch := &fakeChannel{id: "fake"}
	require.NoError(t, e.RegisterChannel(ch))

	r := baseRule("throttled")
	r.ThrottleMinutes = 10
	require.NoError(t, e.AddRule(r))

	e.Send(context.Background(), authEvent(clock), analysisWith(5))
	require.Len(t, ch.sent, 1)

	clock.Advance(2 * time.Minute)
	results := e.Send(context.Background(), authEvent(clock), analysisWith(5))
	assert.Empty(t, results, "suppressed inside the 10 minute window")
	assert.Len(t, ch.sent, 1)
	assert.Equal(t, int64(1), e.Stats().Throttled)

	clock.Advance(9 * time.Minute)
	e.Send(context.Background(), authEvent(clock), analysisWith(5))
	assert.Len(t, ch.sent, 2, "window elapsed")
}

func TestEngine_CriticalBypassesThrottle(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	ch := &fakeChannel{id: "fake"}
	require.NoError(t, e.RegisterChannel(ch))

	r := baseRule("critical-path")
	r.ThrottleMinutes = 10
	require.NoError(t, e.AddRule(r))

	e.Send(context.Background(), authEvent(clock), analysisWith(9))
	clock.Advance(time.Minute)
	e.Send(context.Background(), authEvent(clock), analysisWith(9))

	assert.Len(t, ch.sent, 2, "severity 9 bypasses the throttle window")
	assert.Equal(t, int64(0), e.Stats().Throttled)
}

func TestEngine_ThrottleKeyedBySourceAndCategory(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	ch := &fakeChannel{id: "fake"}
	require.NoError(t, e.RegisterChannel(ch))

	r := baseRule("keyed")
	r.ThrottleMinutes = 10
	require.NoError(t, e.AddRule(r))

	e.Send(context.Background(), authEvent(clock), analysisWith(5))

	other := core.NewParsedEvent(clock, "raw-2", "webhost:nginx",
		"connection error", core.CategoryNetwork, clock.Now())
	e.Send(context.Background(), other, analysisWith(5))

	assert.Len(t, ch.sent, 2, "different source/category is a separate throttle key")
}

func TestEngine_ChannelRetrySucceedsOnSecondAttempt(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	ch := &fakeChannel{id: "fake", failures: 1}
	require.NoError(t, e.RegisterChannel(ch))
	require.NoError(t, e.AddRule(baseRule("retry")))

	results := e.Send(context.Background(), authEvent(clock), analysisWith(5))
	assert.True(t, results["fake"])
	assert.Equal(t, int64(1), e.Stats().Sent)
}

func TestEngine_ChannelExhaustionCountsFailed(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	ch := &fakeChannel{id: "fake", failures: channelAttempts}
	require.NoError(t, e.RegisterChannel(ch))
	require.NoError(t, e.AddRule(baseRule("failing")))

	results := e.Send(context.Background(), authEvent(clock), analysisWith(5))
	assert.False(t, results["fake"])
	assert.Equal(t, int64(1), e.Stats().Failed)
	assert.Equal(t, int64(0), e.Stats().Sent)
}

func TestEngine_UnknownChannelFails(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	r := baseRule("dangling")
	r.Channels = []string{"nowhere"}
	require.NoError(t, e.AddRule(r))

	results := e.Send(context.Background(), authEvent(clock), analysisWith(5))
	assert.False(t, results["nowhere"])
	assert.Equal(t, int64(1), e.Stats().Failed)
}

func TestEngine_RegisterChannelValidatesConfig(t *testing.T) {
	e := NewEngine(testClock())
	bad := &fakeChannel{id: "bad", configErr: errors.New("missing url")}
	assert.Error(t, e.RegisterChannel(bad))
}

func TestEngine_RulesSortedAndRemovable(t *testing.T) {
	e := NewEngine(testClock())
	require.NoError(t, e.AddRule(baseRule("zeta")))
	require.NoError(t, e.AddRule(baseRule("alpha")))

	rules := e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "alpha", rules[0].RuleName)

	e.RemoveRule("alpha")
	assert.Len(t, e.Rules(), 1)
}

func TestEngine_SetMetricsBridgesCounters(t *testing.T) {
	clock := testClock()
	e := NewEngine(clock)
	collector := metrics.NewCollector()
	prom := metrics.NewPromMetrics(prometheus.NewRegistry())
	e.SetMetrics(collector, prom)

	ch := &fakeChannel{id: "fake"}
	require.NoError(t, e.RegisterChannel(ch))
	r := baseRule("auth-watch")
	r.ThrottleMinutes = 10
	require.NoError(t, e.AddRule(r))

	e.Send(context.Background(), authEvent(clock), analysisWith(5))
	clock.Advance(time.Minute)
	e.Send(context.Background(), authEvent(clock), analysisWith(5))

	snap := collector.Snapshot()
	assert.Equal(t, int64(2), snap["notifications_triggered"])
	assert.Equal(t, int64(1), snap["notifications_sent"])
	assert.Equal(t, int64(1), snap["notifications_throttled"])
	assert.Equal(t, int64(0), snap["notifications_failed"])
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.NotificationsTotal.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.NotificationsTotal.WithLabelValues("throttled")))
}
