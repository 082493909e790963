package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/loglane/backend/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS log_events (
	id          TEXT PRIMARY KEY,
	raw_log_id  TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	source      TEXT NOT NULL,
	message     TEXT NOT NULL,
	category    TEXT NOT NULL,
	parsed_at   TIMESTAMPTZ NOT NULL,
	metadata    JSONB
);
CREATE INDEX IF NOT EXISTS log_events_raw_log_idx ON log_events (raw_log_id);
CREATE INDEX IF NOT EXISTS log_events_ts_idx ON log_events (ts DESC);

CREATE TABLE IF NOT EXISTS event_analyses (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL REFERENCES log_events (id),
	severity_score  INT NOT NULL,
	explanation     TEXT NOT NULL,
	recommendations TEXT[] NOT NULL,
	analyzed_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS event_analyses_event_idx ON event_analyses (event_id);
`

// PostgresStore persists events and analyses in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresStore connects, verifies the connection, and applies the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping", Retryable: true, Err: err}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	s := &PostgresStore{
		db:     db,
		logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
	s.logger.Printf("connected")
	return s, nil
}

type postgresTx struct {
	tx *sql.Tx
}

// Begin opens a database transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "begin", Retryable: true, Err: err}
	}
	return &postgresTx{tx: tx}, nil
}

func (t *postgresTx) InsertEvent(ctx context.Context, ev *core.ParsedEvent) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return &StorageError{Op: "insert_event", Err: fmt.Errorf("marshal metadata: %w", err)}
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO log_events (id, raw_log_id, ts, source, message, category, parsed_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.RawLogID, ev.Timestamp, ev.Source, ev.Message, string(ev.Category), ev.ParsedAt, meta)
	if err != nil {
		return &StorageError{Op: "insert_event", Retryable: true, Err: err}
	}
	return nil
}

func (t *postgresTx) InsertAnalysis(ctx context.Context, a *core.AIAnalysis) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO event_analyses (id, event_id, severity_score, explanation, recommendations, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.EventID, a.SeverityScore, a.Explanation, pq.Array(a.Recommendations), a.AnalyzedAt)
	if err != nil {
		return &StorageError{Op: "insert_analysis", Retryable: true, Err: err}
	}
	return nil
}

func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Retryable: true, Err: err}
	}
	return nil
}

func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return &StorageError{Op: "rollback", Err: err}
	}
	return nil
}

// RecentEvents returns up to limit events ordered by timestamp descending.
func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]*core.ParsedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, raw_log_id, ts, source, message, category, parsed_at, metadata
		 FROM log_events ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, &StorageError{Op: "recent_events", Retryable: true, Err: err}
	}
	defer rows.Close()

	var out []*core.ParsedEvent
	for rows.Next() {
		ev := &core.ParsedEvent{}
		var category string
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.RawLogID, &ev.Timestamp, &ev.Source, &ev.Message, &category, &ev.ParsedAt, &meta); err != nil {
			return nil, &StorageError{Op: "recent_events", Err: err}
		}
		ev.Category = core.Category(category)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				s.logger.Printf("event %s: bad metadata: %v", ev.ID, err)
				ev.Metadata = core.Metadata{}
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventCount returns the number of stored events.
func (s *PostgresStore) EventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_events`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "event_count", Retryable: true, Err: err}
	}
	return n, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
