package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/loglane/backend/internal/core"
)

// MemoryStore keeps events and analyses in process memory. Used for local
// runs and tests; the postgres store is the production path.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	events   []*core.ParsedEvent
	analyses []*core.AIAnalysis

	// FailNext forces the next transaction commit to fail, for recovery tests.
	FailNext bool
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

type memoryTx struct {
	store    *MemoryStore
	events   []*core.ParsedEvent
	analyses []*core.AIAnalysis
	done     bool
}

// Begin opens a staging transaction.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, &StorageError{Op: "begin", Err: ErrClosed}
	}
	return &memoryTx{store: s}, nil
}

func (t *memoryTx) InsertEvent(_ context.Context, ev *core.ParsedEvent) error {
	if t.done {
		return &StorageError{Op: "insert_event", Err: fmt.Errorf("transaction finished")}
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *memoryTx) InsertAnalysis(_ context.Context, a *core.AIAnalysis) error {
	if t.done {
		return &StorageError{Op: "insert_analysis", Err: fmt.Errorf("transaction finished")}
	}
	t.analyses = append(t.analyses, a)
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return &StorageError{Op: "commit", Err: fmt.Errorf("transaction finished")}
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return &StorageError{Op: "commit", Err: ErrClosed}
	}
	if t.store.FailNext {
		t.store.FailNext = false
		return &StorageError{Op: "commit", Retryable: true, Err: fmt.Errorf("injected failure")}
	}
	t.store.events = append(t.store.events, t.events...)
	t.store.analyses = append(t.store.analyses, t.analyses...)
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	t.events = nil
	t.analyses = nil
	return nil
}

// RecentEvents returns up to limit events, newest insert first.
func (s *MemoryStore) RecentEvents(_ context.Context, limit int) ([]*core.ParsedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &StorageError{Op: "recent_events", Err: ErrClosed}
	}
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]*core.ParsedEvent, 0, limit)
	for i := len(s.events) - 1; i >= len(s.events)-limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// EventCount returns the number of committed events.
func (s *MemoryStore) EventCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// AnalysisCount returns the number of committed analyses.
func (s *MemoryStore) AnalysisCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.analyses))
}

// Close marks the store closed; later transactions fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
