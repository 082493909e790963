package detect

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// PatternMirror persists learned patterns outside the process so another
// instance, or a restart, can adopt them without re-learning.
type PatternMirror interface {
	SavePattern(ctx context.Context, sourceName string, pat *FormatPattern) error
	LoadPattern(ctx context.Context, sourceName string) (*FormatPattern, error)
}

// mirrorTimeout bounds every mirror round trip; mirror failures are logged
// and never block the parse path for longer than this.
const mirrorTimeout = 2 * time.Second

// PatternCache stores learned patterns keyed by (name, regex hash) and maps
// each source to its best pattern for fast reuse. Single writer (the
// orchestrator's detection path), many readers.
type PatternCache struct {
	mu          sync.RWMutex
	patterns    map[string]*FormatPattern
	bySource    map[string]*FormatPattern
	maxPatterns int
	mirror      PatternMirror
	logger      *log.Logger
}

// NewPatternCache builds a cache capped at maxPatterns (default 100).
func NewPatternCache(maxPatterns int) *PatternCache {
	if maxPatterns <= 0 {
		maxPatterns = 100
	}
	return &PatternCache{
		patterns:    make(map[string]*FormatPattern),
		bySource:    make(map[string]*FormatPattern),
		maxPatterns: maxPatterns,
		logger:      log.New(log.Writer(), "[PATTERNS] ", log.LstdFlags),
	}
}

// SetMirror attaches an external pattern mirror. Learned patterns are saved
// through it and cache misses consult it before giving up.
func (c *PatternCache) SetMirror(m PatternMirror) {
	c.mu.Lock()
	c.mirror = m
	c.mu.Unlock()
}

// Remember merges the pattern into the cache, accumulating frequency on
// repeated detections, and records it as the source's best pattern.
// Returns the canonical (merged) pattern.
func (c *PatternCache) Remember(sourceName string, pat *FormatPattern) *FormatPattern {
	c.mu.Lock()
	merged := c.rememberLocked(sourceName, pat)
	mirror := c.mirror
	c.mu.Unlock()

	if mirror != nil && sourceName != "" {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := mirror.SavePattern(ctx, sourceName, merged); err != nil {
			c.logger.Printf("pattern mirror save %s: %v", sourceName, err)
		}
		cancel()
	}
	return merged
}

// rememberLocked is the merge itself; callers hold the write lock.
func (c *PatternCache) rememberLocked(sourceName string, pat *FormatPattern) *FormatPattern {
	key := pat.Key()
	if existing, ok := c.patterns[key]; ok {
		existing.Frequency++
		if pat.Confidence > existing.Confidence {
			existing.Confidence = pat.Confidence
		}
		pat = existing
	} else {
		c.patterns[key] = pat
		if len(c.patterns) > c.maxPatterns {
			c.evictLocked()
		}
	}

	if sourceName != "" {
		current, ok := c.bySource[sourceName]
		if !ok || betterPattern(pat, current) {
			c.bySource[sourceName] = pat
		}
	}
	return pat
}

// BestForSource returns the learned pattern for a source. On a local miss it
// consults the mirror and adopts whatever another instance learned; adopted
// patterns are not re-mirrored.
func (c *PatternCache) BestForSource(sourceName string) (*FormatPattern, bool) {
	c.mu.RLock()
	p, ok := c.bySource[sourceName]
	mirror := c.mirror
	c.mu.RUnlock()
	if ok || mirror == nil || sourceName == "" {
		return p, ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	remote, err := mirror.LoadPattern(ctx, sourceName)
	if err != nil {
		c.logger.Printf("pattern mirror load %s: %v", sourceName, err)
		return nil, false
	}
	if remote == nil {
		return nil, false
	}
	if _, err := remote.Compile(); err != nil {
		c.logger.Printf("pattern mirror load %s: %v", sourceName, err)
		return nil, false
	}

	c.mu.Lock()
	adopted := c.rememberLocked(sourceName, remote)
	c.mu.Unlock()
	c.logger.Printf("adopted mirrored pattern %s for %s", adopted.Name, sourceName)
	return adopted, true
}

// Forget drops the source binding, e.g. after repeated pattern misses.
func (c *PatternCache) Forget(sourceName string) {
	c.mu.Lock()
	delete(c.bySource, sourceName)
	c.mu.Unlock()
}

// Snapshot returns all cached patterns ordered by confidence then frequency.
func (c *PatternCache) Snapshot() []*FormatPattern {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*FormatPattern, 0, len(c.patterns))
	for _, p := range c.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of distinct cached patterns.
func (c *PatternCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.patterns)
}

// evictLocked trims the cache back to the cap, dropping the lowest
// (confidence, frequency) patterns first. Source bindings to evicted
// patterns are removed too.
func (c *PatternCache) evictLocked() {
	type kv struct {
		key string
		pat *FormatPattern
	}
	all := make([]kv, 0, len(c.patterns))
	for k, p := range c.patterns {
		all = append(all, kv{k, p})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].pat.Confidence != all[j].pat.Confidence {
			return all[i].pat.Confidence < all[j].pat.Confidence
		}
		if all[i].pat.Frequency != all[j].pat.Frequency {
			return all[i].pat.Frequency < all[j].pat.Frequency
		}
		return all[i].key < all[j].key
	})

	evictCount := len(c.patterns) - c.maxPatterns
	for i := 0; i < evictCount; i++ {
		victim := all[i]
		delete(c.patterns, victim.key)
		for src, p := range c.bySource {
			if p == victim.pat {
				delete(c.bySource, src)
			}
		}
		c.logger.Printf("evicted pattern %s (confidence=%s frequency=%d)",
			victim.pat.Name, victim.pat.Confidence, victim.pat.Frequency)
	}
}

func betterPattern(a, b *FormatPattern) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Frequency > b.Frequency
}
