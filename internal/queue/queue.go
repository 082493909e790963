// Package queue implements the bounded, priority-aware ingestion queue:
// a mutex-guarded priority heap drained by a fixed worker pool in batches,
// with exponential retry scheduling and displacement under backpressure.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/loglane/backend/internal/core"
)

// Config sizes the queue and its worker pool.
type Config struct {
	Capacity      int
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int // applied to entries at admission
	RetryBase     time.Duration
	RetryMax      time.Duration
}

// DefaultConfig returns the stock sizing.
func DefaultConfig() Config {
	return Config{
		Capacity:      1000,
		Workers:       4,
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
		MaxRetries:    3,
		RetryBase:     500 * time.Millisecond,
		RetryMax:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = d.RetryMax
	}
	return c
}

// BatchProcessor consumes one drawn batch, already sorted by priority.
// It must leave every entry in a terminal or RETRYING state; entries left in
// PROCESSING are treated as completed.
type BatchProcessor func(ctx context.Context, batch []*core.LogEntry)

// ErrorHandler observes per-entry failures surfaced by the queue.
type ErrorHandler func(entry *core.LogEntry, err error)

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
}

// item is one heap slot. seq breaks ties between entries created in the same
// clock tick so ordering stays FIFO within a priority.
type item struct {
	entry *core.LogEntry
	seq   uint64
}

// entryHeap orders by (priority weight desc, created_at asc, seq asc).
type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	wi, wj := h[i].entry.Priority.Weight(), h[j].entry.Priority.Weight()
	if wi != wj {
		return wi > wj
	}
	if !h[i].entry.CreatedAt.Equal(h[j].entry.CreatedAt) {
		return h[i].entry.CreatedAt.Before(h[j].entry.CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*item)) }

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the bounded ingestion queue. Producers call Enqueue; a pool of
// workers draws batches and hands them to the batch processor.
type Queue struct {
	cfg   Config
	clock core.Clock

	mu        sync.Mutex
	pending   entryHeap
	seq       uint64
	started   bool
	stopped   bool
	processor BatchProcessor
	onError   ErrorHandler
	timers    map[string]*time.Timer

	total      int64
	processing int64
	completed  int64
	failed     int64
	dead       int64

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup

	logger *log.Logger
}

// New builds a stopped queue; call Start to spin up the workers.
func New(clock core.Clock, cfg Config) *Queue {
	return &Queue{
		cfg:    cfg.withDefaults(),
		clock:  clock,
		timers: make(map[string]*time.Timer),
		wake:   make(chan struct{}, 1),
		logger: log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
	}
}

// SetBatchProcessor installs the batch callback. Must be set before Start.
func (q *Queue) SetBatchProcessor(fn BatchProcessor) {
	q.mu.Lock()
	q.processor = fn
	q.mu.Unlock()
}

// SetErrorHandler installs the per-entry failure callback.
func (q *Queue) SetErrorHandler(fn ErrorHandler) {
	q.mu.Lock()
	q.onError = fn
	q.mu.Unlock()
}

// Start launches the worker pool. Idempotent.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	if q.processor == nil {
		return fmt.Errorf("queue: no batch processor installed")
	}
	q.started = true
	q.stopped = false
	q.ctx, q.cancel = context.WithCancel(context.Background())
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Printf("started %d workers (capacity=%d batch=%d)", q.cfg.Workers, q.cfg.Capacity, q.cfg.BatchSize)
	return nil
}

// Stop refuses new enqueues, cancels pending retries, and waits for in-flight
// batches to finish. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()

	q.mu.Lock()
	q.started = false
	q.mu.Unlock()
	q.logger.Printf("stopped")
}

// Enqueue admits an entry, or rejects it when the queue is stopped or at
// capacity. At capacity, CRITICAL and HIGH entries displace the
// lowest-priority pending entry if one with strictly lower priority exists;
// the victim goes DEAD with the displacement reason.
func (q *Queue) Enqueue(entry *core.LogEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	if len(q.pending) >= q.cfg.Capacity {
		if entry.Priority < core.PriorityHigh {
			return false
		}
		victim := q.lowestLocked()
		if victim < 0 || q.pending[victim].entry.Priority >= entry.Priority {
			return false
		}
		evicted := heap.Remove(&q.pending, victim).(*item).entry
		if err := evicted.MarkDead(core.ReasonDisplaced); err == nil {
			q.dead++
			q.logger.Printf("displaced entry %s (%s) for %s enqueue",
				evicted.EntryID, evicted.Priority, entry.Priority)
		}
	}

	entry.MaxRetries = q.cfg.MaxRetries
	q.seq++
	heap.Push(&q.pending, &item{entry: entry, seq: q.seq})
	q.total++
	q.wakeLocked()
	return true
}

// Retry reschedules a failed entry with exponential backoff, or marks it
// DEAD when retries are exhausted. Returns true when a retry was scheduled.
func (q *Queue) Retry(entry *core.LogEntry, cause error) bool {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}

	if err := entry.MarkRetrying(reason); err != nil {
		// Exhausted. The last recorded error stays on the entry; the cause
		// fills in only when no prior attempt recorded one.
		final := ""
		if entry.LastError == "" {
			final = reason
		}
		if derr := entry.MarkDead(final); derr != nil {
			q.logger.Printf("entry %s: %v", entry.EntryID, derr)
		}
		return false
	}

	delay := q.backoff(entry.RetryCount)
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		_ = entry.MarkDead("queue stopped before retry")
		return false
	}
	q.timers[entry.EntryID] = time.AfterFunc(delay, func() { q.reinsert(entry) })
	q.mu.Unlock()

	q.logger.Printf("entry %s retry %d/%d in %s: %s",
		entry.EntryID, entry.RetryCount, entry.MaxRetries, delay, reason)
	return true
}

// backoff computes base * 2^(attempt-1), capped at RetryMax.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.RetryMax {
			return q.cfg.RetryMax
		}
	}
	if d > q.cfg.RetryMax {
		d = q.cfg.RetryMax
	}
	return d
}

// reinsert puts a RETRYING entry back into the pending heap. Retries bypass
// the capacity check so backpressure cannot starve recovery.
func (q *Queue) reinsert(entry *core.LogEntry) {
	if err := entry.MarkRequeued(); err != nil {
		q.logger.Printf("entry %s: %v", entry.EntryID, err)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.timers, entry.EntryID)
	if q.stopped {
		_ = entry.MarkDead("queue stopped before retry")
		q.dead++
		return
	}
	q.seq++
	heap.Push(&q.pending, &item{entry: entry, seq: q.seq})
	q.wakeLocked()
}

// Pressure returns pending/capacity in [0,1].
func (q *Queue) Pressure() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := float64(len(q.pending)) / float64(q.cfg.Capacity)
	if p > 1 {
		p = 1
	}
	return p
}

// Stats snapshots the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Total:      q.total,
		Pending:    int64(len(q.pending)),
		Processing: q.processing,
		Completed:  q.completed,
		Failed:     q.failed,
		Dead:       q.dead,
	}
}

func (q *Queue) wakeLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// draw atomically claims up to BatchSize entries, already sorted by priority,
// and marks them PROCESSING.
func (q *Queue) draw() []*core.LogEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.cfg.BatchSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	if n == 0 {
		return nil
	}
	batch := make([]*core.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		it := heap.Pop(&q.pending).(*item)
		if err := it.entry.MarkProcessing(q.clock); err != nil {
			q.logger.Printf("entry %s: %v", it.entry.EntryID, err)
			continue
		}
		batch = append(batch, it.entry)
	}
	q.processing += int64(len(batch))
	return batch
}

// worker drains the heap until the queue stops. Wakes on new entries and on
// the flush ticker so partial batches do not sit past FlushInterval.
func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}

		for {
			batch := q.draw()
			if len(batch) == 0 {
				break
			}
			q.runBatch(batch)
			select {
			case <-q.ctx.Done():
				return
			default:
			}
		}
	}
}

// runBatch invokes the processor and settles each entry's terminal state.
func (q *Queue) runBatch(batch []*core.LogEntry) {
	q.mu.Lock()
	proc := q.processor
	onError := q.onError
	q.mu.Unlock()

	proc(q.ctx, batch)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing -= int64(len(batch))
	for _, entry := range batch {
		switch entry.CurrentStatus() {
		case core.StatusCompleted:
			q.completed++
		case core.StatusFailed:
			q.failed++
			if onError != nil {
				go onError(entry, fmt.Errorf("%s", entry.LastError))
			}
		case core.StatusDead:
			q.dead++
			if onError != nil {
				go onError(entry, fmt.Errorf("%s", entry.LastError))
			}
		case core.StatusRetrying, core.StatusPending:
			// Re-queued; settled on a later draw.
		default:
			if err := entry.MarkCompleted(q.clock); err == nil {
				q.completed++
			}
		}
	}
}

// lowestLocked returns the index of the worst pending item: lowest priority,
// then youngest. -1 when the heap is empty.
func (q *Queue) lowestLocked() int {
	worst := -1
	for i := range q.pending {
		if worst < 0 {
			worst = i
			continue
		}
		wi, ww := q.pending[i].entry.Priority.Weight(), q.pending[worst].entry.Priority.Weight()
		switch {
		case wi < ww:
			worst = i
		case wi == ww && q.pending[i].seq > q.pending[worst].seq:
			worst = i
		}
	}
	return worst
}
