// Package infra holds concrete infrastructure adapters. The Redis bridge
// relays broadcast envelopes between pipeline instances and mirrors the
// learned pattern cache so a restarted instance does not re-learn from
// scratch.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loglane/backend/internal/broadcast"
	"github.com/loglane/backend/internal/detect"
)

// patternTTL bounds how long a mirrored pattern survives without refresh.
const patternTTL = 24 * time.Hour

// seenLimit bounds the published-message dedupe window.
const seenLimit = 1024

// RedisBridge connects one pipeline instance to Redis. It implements
// broadcast.Observer: every local envelope is published to the shared
// channel, and envelopes from other instances are replayed into the local
// broadcaster.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	id      string
	logger  *log.Logger
	unsub   func() error

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewRedisBridge connects and verifies the connection.
func NewRedisBridge(addr, password string, db int, channel string) (*RedisBridge, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	b := &RedisBridge{
		rdb:     rdb,
		channel: channel,
		id:      "redis-bridge",
		logger:  log.New(log.Writer(), "[REDIS] ", log.LstdFlags),
		seen:    make(map[string]struct{}),
	}
	b.logger.Printf("connected to %s channel=%s", addr, channel)
	return b, nil
}

// ID implements broadcast.Observer.
func (b *RedisBridge) ID() string { return b.id }

// Deliver publishes a local envelope to the shared channel. Low-value
// system updates stay local to keep the channel quiet.
func (b *RedisBridge) Deliver(env broadcast.Envelope) error {
	if env.Type == broadcast.TypeSystemStatusUpdate {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	b.markPublished(env.MessageID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// markPublished records a message ID this instance put on the channel. The
// window is bounded; old IDs age out in publish order.
func (b *RedisBridge) markPublished(id string) {
	b.mu.Lock()
	if _, ok := b.seen[id]; !ok {
		b.seen[id] = struct{}{}
		b.order = append(b.order, id)
		if len(b.order) > seenLimit {
			delete(b.seen, b.order[0])
			b.order = b.order[1:]
		}
	}
	b.mu.Unlock()
}

func (b *RedisBridge) publishedHere(id string) bool {
	b.mu.Lock()
	_, ok := b.seen[id]
	b.mu.Unlock()
	return ok
}

// Relay subscribes to the shared channel and replays remote envelopes via
// deliver. Redis echoes this instance's own publications back to the
// subscriber; those are recognized by message ID and skipped, as are
// malformed payloads.
func (b *RedisBridge) Relay(ctx context.Context, deliver func(broadcast.Envelope)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			var env broadcast.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Printf("bad envelope on %s: %v", b.channel, err)
				continue
			}
			if b.publishedHere(env.MessageID) {
				continue
			}
			deliver(env)
		}
	}()

	b.unsub = sub.Close
	return nil
}

// patternKey namespaces mirrored patterns per source.
func patternKey(sourceName string) string {
	return "loglane:pattern:" + sourceName
}

// SavePattern mirrors a learned pattern for the source.
func (b *RedisBridge) SavePattern(ctx context.Context, sourceName string, pat *detect.FormatPattern) error {
	payload, err := json.Marshal(pat)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	return b.rdb.Set(ctx, patternKey(sourceName), payload, patternTTL).Err()
}

// LoadPattern fetches the mirrored pattern for a source, if any.
func (b *RedisBridge) LoadPattern(ctx context.Context, sourceName string) (*detect.FormatPattern, error) {
	payload, err := b.rdb.Get(ctx, patternKey(sourceName)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pat detect.FormatPattern
	if err := json.Unmarshal(payload, &pat); err != nil {
		return nil, fmt.Errorf("unmarshal pattern: %w", err)
	}
	return &pat, nil
}

// Close unsubscribes and releases the client.
func (b *RedisBridge) Close() error {
	if b.unsub != nil {
		_ = b.unsub()
	}
	return b.rdb.Close()
}
