// Package metrics tracks pipeline counters, processing-time windows, and
// exports Prometheus series.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// windowSize bounds the rolling processing-time sample.
const windowSize = 500

// Collector aggregates pipeline counters. Counter fields are atomic; the
// rolling window takes a short-lived lock.
type Collector struct {
	startedAt time.Time

	EntriesProcessed atomic.Int64
	EntriesParsed    atomic.Int64
	EntriesAnalyzed  atomic.Int64
	EntriesFailed    atomic.Int64
	EntriesRetried   atomic.Int64
	EntriesDead      atomic.Int64
	EventsParsed     atomic.Int64
	EventsPersisted  atomic.Int64

	NotificationsTriggered atomic.Int64
	NotificationsSent      atomic.Int64
	NotificationsFailed    atomic.Int64
	NotificationsThrottled atomic.Int64

	mu        sync.Mutex
	verdicts  map[string]int64
	casts     map[string]int64
	durations []time.Duration
}

// NewCollector starts a collector; uptime counts from now.
func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		verdicts:  make(map[string]int64),
		casts:     make(map[string]int64),
	}
}

// RecordVerdict counts one validation verdict.
func (c *Collector) RecordVerdict(verdict string) {
	c.mu.Lock()
	c.verdicts[verdict]++
	c.mu.Unlock()
}

// RecordBroadcast counts one broadcast by message type.
func (c *Collector) RecordBroadcast(messageType string) {
	c.mu.Lock()
	c.casts[messageType]++
	c.mu.Unlock()
}

// RecordProcessingTime appends to the rolling window.
func (c *Collector) RecordProcessingTime(d time.Duration) {
	c.mu.Lock()
	c.durations = append(c.durations, d)
	if len(c.durations) > windowSize {
		c.durations = c.durations[len(c.durations)-windowSize:]
	}
	c.mu.Unlock()
}

// TimingStats summarizes the rolling window.
type TimingStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Timings computes min/max/avg over the current window.
func (c *Collector) Timings() TimingStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := TimingStats{Count: len(c.durations)}
	if st.Count == 0 {
		return st
	}
	st.Min = c.durations[0]
	var sum time.Duration
	for _, d := range c.durations {
		if d < st.Min {
			st.Min = d
		}
		if d > st.Max {
			st.Max = d
		}
		sum += d
	}
	st.Avg = sum / time.Duration(st.Count)
	return st
}

// Uptime returns time since the collector started.
func (c *Collector) Uptime() time.Duration { return time.Since(c.startedAt) }

// Rate returns entries processed per second over the uptime.
func (c *Collector) Rate() float64 {
	up := c.Uptime().Seconds()
	if up <= 0 {
		return 0
	}
	return float64(c.EntriesProcessed.Load()) / up
}

// Snapshot returns a point-in-time copy of everything, for the stats API.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.Lock()
	verdicts := make(map[string]int64, len(c.verdicts))
	for k, v := range c.verdicts {
		verdicts[k] = v
	}
	casts := make(map[string]int64, len(c.casts))
	for k, v := range c.casts {
		casts[k] = v
	}
	c.mu.Unlock()

	return map[string]interface{}{
		"uptime_seconds":          c.Uptime().Seconds(),
		"entries_processed":       c.EntriesProcessed.Load(),
		"entries_parsed":          c.EntriesParsed.Load(),
		"entries_analyzed":        c.EntriesAnalyzed.Load(),
		"entries_failed":          c.EntriesFailed.Load(),
		"entries_retried":         c.EntriesRetried.Load(),
		"entries_dead":            c.EntriesDead.Load(),
		"events_parsed":           c.EventsParsed.Load(),
		"events_persisted":        c.EventsPersisted.Load(),
		"notifications_triggered": c.NotificationsTriggered.Load(),
		"notifications_sent":      c.NotificationsSent.Load(),
		"notifications_failed":    c.NotificationsFailed.Load(),
		"notifications_throttled": c.NotificationsThrottled.Load(),
		"validation_verdicts":     verdicts,
		"broadcasts_by_type":      casts,
		"processing_rate_per_sec": c.Rate(),
		"timings":                 c.Timings(),
	}
}
