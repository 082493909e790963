package faults

import (
	"log"
	"sync"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/metrics"
)

// defaultHistory bounds the recent-fault ring.
const defaultHistory = 256

// Stats is a snapshot of handler counters.
type Stats struct {
	Total      int64              `json:"total"`
	ByKind     map[Kind]int64     `json:"by_kind"`
	BySeverity map[Severity]int64 `json:"by_severity"`
}

// Handler classifies and records pipeline faults. One handler per pipeline;
// stages call Report with the kind of failure they hit.
type Handler struct {
	clock core.Clock
	sink  ErrorSink

	mu         sync.RWMutex
	ring       []Fault
	next       int
	filled     bool
	total      int64
	byKind     map[Kind]int64
	bySeverity map[Severity]int64
	prom       *metrics.PromMetrics

	logger *log.Logger
}

// NewHandler builds a handler with a bounded history. A nil sink falls back
// to NopSink.
func NewHandler(clock core.Clock, sink ErrorSink, historySize int) *Handler {
	if historySize <= 0 {
		historySize = defaultHistory
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Handler{
		clock:      clock,
		sink:       sink,
		ring:       make([]Fault, historySize),
		byKind:     make(map[Kind]int64),
		bySeverity: make(map[Severity]int64),
		logger:     log.New(log.Writer(), "[FAULTS] ", log.LstdFlags),
	}
}

// SetSink swaps the sink, e.g. once the broadcaster exists. Faults reported
// before the swap stay in the history but are not replayed.
func (h *Handler) SetSink(sink ErrorSink) {
	h.mu.Lock()
	if sink == nil {
		sink = NopSink{}
	}
	h.sink = sink
	h.mu.Unlock()
}

// SetMetrics attaches the Prometheus series; every reported fault is counted
// by kind and severity.
func (h *Handler) SetMetrics(p *metrics.PromMetrics) {
	h.mu.Lock()
	h.prom = p
	h.mu.Unlock()
}

// Report classifies err, records the fault, forwards it to the sink, and
// returns the recovery action the caller should take.
func (h *Handler) Report(kind Kind, entryID, source string, err error) Action {
	f := NewFault(h.clock, kind, entryID, source, err)

	h.mu.Lock()
	h.ring[h.next] = f
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.filled = true
	}
	h.total++
	h.byKind[f.Kind]++
	h.bySeverity[f.Severity]++
	sink := h.sink
	prom := h.prom
	h.mu.Unlock()

	if prom != nil {
		prom.FaultsTotal.WithLabelValues(string(f.Kind), string(f.Severity)).Inc()
	}

	h.logger.Printf("%s/%s entry=%s source=%s action=%s: %s",
		f.Kind, f.Severity, f.EntryID, f.Source, f.Action, f.Message)
	sink.SinkFault(f)
	return f.Action
}

// Recent returns up to n faults, newest first.
func (h *Handler) Recent(n int) []Fault {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.filled {
		size = len(h.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Fault, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out
}

// Stats returns a copy of the counters.
func (h *Handler) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{
		Total:      h.total,
		ByKind:     make(map[Kind]int64, len(h.byKind)),
		BySeverity: make(map[Severity]int64, len(h.bySeverity)),
	}
	for k, v := range h.byKind {
		st.ByKind[k] = v
	}
	for k, v := range h.bySeverity {
		st.BySeverity[k] = v
	}
	return st
}
