// Package core holds the domain model shared by every pipeline stage:
// log entries, parsed events, analyses, and the metadata envelope.
package core

import (
	"fmt"
	"sync"
	"time"
)

// Priority orders entries inside the ingestion queue. Higher weight wins.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority maps a submission string to a Priority, defaulting to MEDIUM.
func ParsePriority(s string) Priority {
	switch s {
	case "LOW", "low":
		return PriorityLow
	case "HIGH", "high":
		return PriorityHigh
	case "CRITICAL", "critical":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

// Weight returns the integer ordering weight for the priority heap.
func (p Priority) Weight() int { return int(p) }

// EntryStatus is the lifecycle state of a LogEntry.
type EntryStatus string

const (
	StatusPending    EntryStatus = "PENDING"
	StatusProcessing EntryStatus = "PROCESSING"
	StatusCompleted  EntryStatus = "COMPLETED"
	StatusFailed     EntryStatus = "FAILED"
	StatusRetrying   EntryStatus = "RETRYING"
	StatusDead       EntryStatus = "DEAD"
)

// IsTerminal reports whether no further transitions are allowed.
func (s EntryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDead
}

// validTransitions encodes the entry state machine. Terminal states have no
// successors.
var validTransitions = map[EntryStatus][]EntryStatus{
	StatusPending:    {StatusProcessing, StatusDead},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusRetrying, StatusDead},
	StatusRetrying:   {StatusPending, StatusDead},
}

// ReasonDisplaced marks entries evicted by a higher-priority enqueue at cap.
const ReasonDisplaced = "DISPLACED_BY_BACKPRESSURE"

// LogEntry is one unit of ingestion work. The queue owns PENDING entries;
// once a worker claims the entry the orchestrator owns it until terminal.
type LogEntry struct {
	mu sync.Mutex

	EntryID    string    `json:"entry_id"`
	Content    string    `json:"content"`
	SourcePath string    `json:"source_path"`
	SourceName string    `json:"source_name"`
	Timestamp  time.Time `json:"timestamp"`
	Priority   Priority  `json:"priority"`

	// FileOffset is the byte offset for tailing sources, -1 when not tracked.
	FileOffset int64 `json:"file_offset"`

	Status                EntryStatus `json:"status"`
	CreatedAt             time.Time   `json:"created_at"`
	ProcessingStartedAt   *time.Time  `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time  `json:"processing_completed_at,omitempty"`

	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`
	ErrorCount int    `json:"error_count"`

	Metadata Metadata `json:"metadata,omitempty"`
}

// NewLogEntry mints an entry in PENDING state.
func NewLogEntry(clock Clock, content, sourcePath, sourceName string, priority Priority) *LogEntry {
	now := clock.Now()
	return &LogEntry{
		EntryID:    NewID(),
		Content:    content,
		SourcePath: sourcePath,
		SourceName: sourceName,
		Timestamp:  now,
		Priority:   priority,
		FileOffset: -1,
		Status:     StatusPending,
		CreatedAt:  now,
		MaxRetries: 3,
		Metadata:   Metadata{},
	}
}

// Transition moves the entry to the next status, enforcing the state machine.
// Terminal states never transition again.
func (e *LogEntry) Transition(next EntryStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitionLocked(next)
}

func (e *LogEntry) transitionLocked(next EntryStatus) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("entry %s is terminal (%s), cannot move to %s", e.EntryID, e.Status, next)
	}
	for _, allowed := range validTransitions[e.Status] {
		if allowed == next {
			e.Status = next
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s for entry %s", e.Status, next, e.EntryID)
}

// CurrentStatus returns the status under lock.
func (e *LogEntry) CurrentStatus() EntryStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status
}

// MarkProcessing transitions to PROCESSING and stamps the start time.
func (e *LogEntry) MarkProcessing(clock Clock) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StatusProcessing); err != nil {
		return err
	}
	now := clock.Now()
	e.ProcessingStartedAt = &now
	return nil
}

// MarkCompleted transitions to COMPLETED and stamps the completion time.
func (e *LogEntry) MarkCompleted(clock Clock) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	now := clock.Now()
	e.ProcessingCompletedAt = &now
	return nil
}

// MarkFailed transitions to FAILED, recording the error.
func (e *LogEntry) MarkFailed(clock Clock, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StatusFailed); err != nil {
		return err
	}
	now := clock.Now()
	e.ProcessingCompletedAt = &now
	e.LastError = reason
	e.ErrorCount++
	return nil
}

// MarkRetrying transitions to RETRYING and bumps the retry counter.
// Fails when retries are exhausted; callers should then MarkDead.
func (e *LogEntry) MarkRetrying(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RetryCount >= e.MaxRetries {
		return fmt.Errorf("entry %s exhausted retries (%d/%d)", e.EntryID, e.RetryCount, e.MaxRetries)
	}
	if err := e.transitionLocked(StatusRetrying); err != nil {
		return err
	}
	e.RetryCount++
	e.LastError = reason
	e.ErrorCount++
	return nil
}

// MarkRequeued moves a RETRYING entry back to PENDING for re-insertion.
func (e *LogEntry) MarkRequeued() error {
	return e.Transition(StatusPending)
}

// MarkDead forces the entry to DEAD with a reason, preserving the last error.
func (e *LogEntry) MarkDead(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transitionLocked(StatusDead); err != nil {
		return err
	}
	if reason != "" {
		e.LastError = reason
	}
	return nil
}

// RetriesExhausted reports whether another retry is allowed.
func (e *LogEntry) RetriesExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.RetryCount >= e.MaxRetries
}

// SetMeta attaches a metadata value under lock.
func (e *LogEntry) SetMeta(key string, v Value) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Metadata == nil {
		e.Metadata = Metadata{}
	}
	e.Metadata[key] = v
}

// Meta reads a metadata value under lock.
func (e *LogEntry) Meta(key string) (Value, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.Metadata[key]
	return v, ok
}
