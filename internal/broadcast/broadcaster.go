package broadcast

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/faults"
	"github.com/loglane/backend/internal/metrics"
)

// defaultResultInterval is the minimum spacing between repeated results for
// the same (source, result_type).
const defaultResultInterval = 5 * time.Second

// Broadcaster fans envelopes out to all registered observers. One instance
// per pipeline.
type Broadcaster struct {
	clock core.Clock

	mu             sync.RWMutex
	observers      map[string]Observer
	lastResult     map[string]time.Time
	resultInterval time.Duration

	sent      int64
	dropped   int64
	throttled int64

	collector *metrics.Collector
	prom      *metrics.PromMetrics

	logger *log.Logger
}

// New builds a broadcaster with the stock result throttle interval.
func New(clock core.Clock) *Broadcaster {
	return &Broadcaster{
		clock:          clock,
		observers:      make(map[string]Observer),
		lastResult:     make(map[string]time.Time),
		resultInterval: defaultResultInterval,
		logger:         log.New(log.Writer(), "[BROADCAST] ", log.LstdFlags),
	}
}

// SetMetrics attaches pipeline counters; every emitted envelope is counted
// by message type. Call before the pipeline starts.
func (b *Broadcaster) SetMetrics(c *metrics.Collector, p *metrics.PromMetrics) {
	b.mu.Lock()
	b.collector = c
	b.prom = p
	b.mu.Unlock()
}

// SetResultInterval overrides the (source, result_type) throttle spacing.
func (b *Broadcaster) SetResultInterval(d time.Duration) {
	b.mu.Lock()
	b.resultInterval = d
	b.mu.Unlock()
}

// Register adds an observer. A second observer with the same ID replaces the
// first.
func (b *Broadcaster) Register(obs Observer) {
	b.mu.Lock()
	b.observers[obs.ID()] = obs
	b.mu.Unlock()
	b.logger.Printf("observer %s registered", obs.ID())
}

// Unregister removes an observer by ID.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	delete(b.observers, id)
	b.mu.Unlock()
	b.logger.Printf("observer %s unregistered", id)
}

// Observers returns the current observer count.
func (b *Broadcaster) Observers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Broadcast delivers one envelope to every observer and returns the number
// of observers reached. Per-observer failures are counted, never propagated.
func (b *Broadcaster) Broadcast(t MessageType, p MsgPriority, data map[string]interface{}) int {
	return b.deliver(NewEnvelope(b.clock, t, p, data), "")
}

// Replay delivers an envelope minted by another pipeline instance, skipping
// the observer it arrived through so relayed messages do not bounce back out.
func (b *Broadcaster) Replay(env Envelope, skipID string) int {
	return b.deliver(env, skipID)
}

func (b *Broadcaster) deliver(env Envelope, skipID string) int {
	b.mu.RLock()
	targets := make([]Observer, 0, len(b.observers))
	for _, obs := range b.observers {
		if skipID != "" && obs.ID() == skipID {
			continue
		}
		targets = append(targets, obs)
	}
	collector, prom := b.collector, b.prom
	b.mu.RUnlock()

	reached := 0
	for _, obs := range targets {
		if err := obs.Deliver(env); err != nil {
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			b.logger.Printf("observer %s dropped %s: %v", obs.ID(), env.Type, err)
			continue
		}
		reached++
	}
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	if collector != nil {
		collector.RecordBroadcast(string(env.Type))
	}
	if prom != nil {
		prom.BroadcastsTotal.WithLabelValues(string(env.Type)).Inc()
	}
	return reached
}

// BroadcastStatus emits a per-stage processing_status update for an entry.
func (b *Broadcaster) BroadcastStatus(entryID, stage, detail string) int {
	return b.Broadcast(TypeProcessingStatus, MsgLow, map[string]interface{}{
		"entry_id": entryID,
		"stage":    stage,
		"detail":   detail,
	})
}

// BroadcastResult emits the final processing_result for an entry, subject to
// the (source, result_type) throttle. FAILURE and PARTIAL_SUCCESS are never
// throttled. Returns observers reached; -1 when throttled.
func (b *Broadcaster) BroadcastResult(source, resultType string, p MsgPriority, data map[string]interface{}) int {
	if resultType != "FAILURE" && resultType != "PARTIAL_SUCCESS" {
		key := source + "|" + resultType
		now := b.clock.Now()
		b.mu.Lock()
		if last, ok := b.lastResult[key]; ok && now.Sub(last) < b.resultInterval {
			b.throttled++
			b.mu.Unlock()
			return -1
		}
		b.lastResult[key] = now
		b.mu.Unlock()
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["source"] = source
	data["result_type"] = resultType
	return b.Broadcast(TypeProcessingResult, p, data)
}

// BroadcastSystemStatus emits queue and pipeline health for dashboards.
func (b *Broadcaster) BroadcastSystemStatus(status map[string]interface{}) int {
	return b.Broadcast(TypeSystemStatusUpdate, MsgDebug, status)
}

// BroadcastNotificationStatus reports a notification dispatch outcome.
func (b *Broadcaster) BroadcastNotificationStatus(ruleName string, results map[string]bool) int {
	data := map[string]interface{}{"rule": ruleName}
	for ch, ok := range results {
		data["channel_"+ch] = ok
	}
	return b.Broadcast(TypeNotificationStatus, MsgLow, data)
}

// SinkFault implements faults.ErrorSink: classified faults surface to
// observers as error_notification envelopes.
func (b *Broadcaster) SinkFault(f faults.Fault) {
	p := MsgMedium
	switch f.Severity {
	case faults.SeverityCritical:
		p = MsgCritical
	case faults.SeverityHigh:
		p = MsgHigh
	case faults.SeverityLow:
		p = MsgLow
	}
	b.Broadcast(TypeErrorNotification, p, map[string]interface{}{
		"error_id": f.ID,
		"kind":     string(f.Kind),
		"severity": string(f.Severity),
		"action":   string(f.Action),
		"entry_id": f.EntryID,
		"source":   f.Source,
		"message":  f.Message,
	})
}

// Counters returns (sent, dropped, throttled).
func (b *Broadcaster) Counters() (int64, int64, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sent, b.dropped, b.throttled
}

// ChanObserver buffers envelopes on a channel; full buffers drop.
type ChanObserver struct {
	id string
	ch chan Envelope
}

// NewChanObserver builds a channel observer with the given buffer size.
func NewChanObserver(id string, buffer int) *ChanObserver {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanObserver{id: id, ch: make(chan Envelope, buffer)}
}

func (o *ChanObserver) ID() string { return o.id }

// Deliver enqueues without blocking; a full buffer is an error.
func (o *ChanObserver) Deliver(env Envelope) error {
	select {
	case o.ch <- env:
		return nil
	default:
		return fmt.Errorf("observer %s buffer full", o.id)
	}
}

// C exposes the envelope stream for the transport layer.
func (o *ChanObserver) C() <-chan Envelope { return o.ch }
