package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/metrics"
)

// Notification is the context handed to a channel for one dispatch.
type Notification struct {
	Event      *core.ParsedEvent
	Analysis   *core.AIAnalysis
	RuleName   string
	Recipients map[string]string
}

// Channel delivers notifications over one transport. Send must be safe to
// call twice with the same notification.
type Channel interface {
	ID() string
	ValidateConfig() error
	Send(ctx context.Context, n Notification) error
}

// Retry policy for a single channel send.
const (
	channelAttempts  = 2
	channelRetryBase = 500 * time.Millisecond
)

// Stats snapshots engine counters.
type Stats struct {
	Triggered int64 `json:"triggered"`
	Sent      int64 `json:"sent"`
	Failed    int64 `json:"failed"`
	Throttled int64 `json:"throttled"`
}

// Engine matches events against rules and fans out to channels.
type Engine struct {
	clock core.Clock

	mu       sync.RWMutex
	rules    map[string]*Rule
	channels map[string]Channel
	lastSent map[string]time.Time // rule|source|category -> last dispatch

	triggered atomic.Int64
	sent      atomic.Int64
	failed    atomic.Int64
	throttled atomic.Int64

	collector *metrics.Collector
	prom      *metrics.PromMetrics

	logger *log.Logger
}

// NewEngine builds an empty engine; register rules and channels before use.
func NewEngine(clock core.Clock) *Engine {
	return &Engine{
		clock:    clock,
		rules:    make(map[string]*Rule),
		channels: make(map[string]Channel),
		lastSent: make(map[string]time.Time),
		logger:   log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags),
	}
}

// AddRule validates and registers a rule, replacing any rule with the same
// name.
func (e *Engine) AddRule(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules[r.RuleName] = r
	e.mu.Unlock()
	return nil
}

// RemoveRule drops a rule by name.
func (e *Engine) RemoveRule(name string) {
	e.mu.Lock()
	delete(e.rules, name)
	e.mu.Unlock()
}

// Rules lists registered rules sorted by name.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleName < out[j].RuleName })
	return out
}

// SetMetrics bridges engine counters into the pipeline collector and the
// Prometheus series. Call before the first Send.
func (e *Engine) SetMetrics(c *metrics.Collector, p *metrics.PromMetrics) {
	e.mu.Lock()
	e.collector = c
	e.prom = p
	e.mu.Unlock()
}

// RegisterChannel validates the channel config and registers it.
func (e *Engine) RegisterChannel(ch Channel) error {
	if err := ch.ValidateConfig(); err != nil {
		return fmt.Errorf("channel %s: %w", ch.ID(), err)
	}
	e.mu.Lock()
	e.channels[ch.ID()] = ch
	e.mu.Unlock()
	return nil
}

// Send evaluates every rule against the event and dispatches to the matching
// rules' channels. Returns per-channel success keyed by channel ID; channels
// reached by several rules keep the last result.
func (e *Engine) Send(ctx context.Context, event *core.ParsedEvent, analysis *core.AIAnalysis) map[string]bool {
	results := make(map[string]bool)
	sev := severityOf(analysis)
	e.mu.RLock()
	collector, prom := e.collector, e.prom
	e.mu.RUnlock()

	for _, rule := range e.Rules() {
		if !rule.Matches(event, analysis) {
			continue
		}
		e.triggered.Add(1)
		if collector != nil {
			collector.NotificationsTriggered.Add(1)
		}

		if sev < criticalSeverity && e.suppressed(rule, event) {
			e.throttled.Add(1)
			if collector != nil {
				collector.NotificationsThrottled.Add(1)
			}
			if prom != nil {
				prom.NotificationsTotal.WithLabelValues("throttled").Inc()
			}
			e.logger.Printf("rule %s throttled for %s/%s", rule.RuleName, event.Source, event.Category)
			continue
		}
		e.markDispatched(rule, event)

		n := Notification{
			Event:      event,
			Analysis:   analysis,
			RuleName:   rule.RuleName,
			Recipients: rule.Recipients,
		}
		for _, chID := range rule.Channels {
			ok := e.dispatch(ctx, chID, n)
			results[chID] = ok
			if ok {
				e.sent.Add(1)
				if collector != nil {
					collector.NotificationsSent.Add(1)
				}
				if prom != nil {
					prom.NotificationsTotal.WithLabelValues("sent").Inc()
				}
			} else {
				e.failed.Add(1)
				if collector != nil {
					collector.NotificationsFailed.Add(1)
				}
				if prom != nil {
					prom.NotificationsTotal.WithLabelValues("failed").Inc()
				}
			}
		}
	}
	return results
}

// suppressed checks the (rule, source, category) throttle window.
func (e *Engine) suppressed(rule *Rule, event *core.ParsedEvent) bool {
	if rule.ThrottleMinutes <= 0 {
		return false
	}
	key := throttleKey(rule, event)
	e.mu.RLock()
	last, ok := e.lastSent[key]
	e.mu.RUnlock()
	return ok && e.clock.Now().Sub(last) < rule.Throttle()
}

func (e *Engine) markDispatched(rule *Rule, event *core.ParsedEvent) {
	e.mu.Lock()
	e.lastSent[throttleKey(rule, event)] = e.clock.Now()
	e.mu.Unlock()
}

func throttleKey(rule *Rule, event *core.ParsedEvent) string {
	return rule.RuleName + "|" + event.Source + "|" + string(event.Category)
}

// dispatch sends over one channel with a small bounded backoff.
func (e *Engine) dispatch(ctx context.Context, chID string, n Notification) bool {
	e.mu.RLock()
	ch, ok := e.channels[chID]
	e.mu.RUnlock()
	if !ok {
		e.logger.Printf("rule %s references unknown channel %s", n.RuleName, chID)
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= channelAttempts; attempt++ {
		if lastErr = ch.Send(ctx, n); lastErr == nil {
			return true
		}
		if attempt < channelAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(channelRetryBase * time.Duration(attempt)):
			}
		}
	}
	e.logger.Printf("channel %s failed after %d attempts: %v", chID, channelAttempts, lastErr)
	return false
}

// Stats snapshots the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Triggered: e.triggered.Load(),
		Sent:      e.sent.Load(),
		Failed:    e.failed.Load(),
		Throttled: e.throttled.Load(),
	}
}
