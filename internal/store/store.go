// Package store persists parsed events and analyses. The pipeline writes
// through a per-entry transaction so an entry's events and analyses land
// atomically or not at all.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/loglane/backend/internal/core"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

// StorageError wraps a storage failure with a retry hint for the queue.
type StorageError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether err is a storage error worth retrying.
func Retryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Retryable
}

// Tx stages writes for one entry. Commit makes them durable; Rollback
// discards them. A Tx is single-use.
type Tx interface {
	InsertEvent(ctx context.Context, ev *core.ParsedEvent) error
	InsertAnalysis(ctx context.Context, a *core.AIAnalysis) error
	Commit() error
	Rollback() error
}

// Store opens transactions and serves read queries for the API layer.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	RecentEvents(ctx context.Context, limit int) ([]*core.ParsedEvent, error)
	EventCount(ctx context.Context) (int64, error)
	Close() error
}
