package validate

import (
	"strings"

	"github.com/loglane/backend/internal/core"
)

// TruncationMarker is appended to lines cut down to the line limit.
const TruncationMarker = " [TRUNCATED]"

// Sanitizer normalizes repairable content. Operations run in a fixed order:
// byte replacement, line truncation, danger annotation. Sanitization is
// idempotent: a second pass over sanitized output is a no-op.
type Sanitizer struct {
	limits                     Limits
	maxConsecutiveReplacements int
	clock                      core.Clock
}

// NewSanitizer builds a sanitizer sharing the validator's limits.
func NewSanitizer(limits Limits, maxConsecutiveReplacements int, clock core.Clock) *Sanitizer {
	if maxConsecutiveReplacements <= 0 {
		maxConsecutiveReplacements = 10
	}
	if clock == nil {
		clock = core.NewClock()
	}
	return &Sanitizer{
		limits:                     limits,
		maxConsecutiveReplacements: maxConsecutiveReplacements,
		clock:                      clock,
	}
}

// Sanitize returns the repaired content, whether anything changed, and the
// metadata annotations the caller should attach to the entry.
func (s *Sanitizer) Sanitize(content string) (string, bool, core.Metadata) {
	original := content

	replaced := s.replaceDisallowed(content)
	truncated := s.truncateLines(replaced)

	modified := truncated != original

	meta := core.Metadata{}
	if modified {
		meta[core.MetaSanitized] = core.BoolValue(true)
		meta[core.MetaOriginalLength] = core.IntValue(int64(len(original)))
		meta[core.MetaSanitizedLength] = core.IntValue(int64(len(truncated)))
		meta[core.MetaSanitizedAt] = core.TimeValue(s.clock.Now())
	}
	if truncated != replaced {
		meta[core.MetaTruncated] = core.BoolValue(true)
	}

	// Annotate, never rewrite, dangerous sequences.
	if hits := DangerSignatures(truncated); len(hits) > 0 {
		meta[core.MetaDangerPatterns] = core.StringValue(strings.Join(hits, ","))
	}

	return truncated, modified, meta
}

// replaceDisallowed swaps disallowed bytes for '?', dropping any bytes beyond
// the consecutive-replacement cap within a single run.
func (s *Sanitizer) replaceDisallowed(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	run := 0
	for i := 0; i < len(content); i++ {
		c := content[i]
		if allowedByte(c) {
			run = 0
			b.WriteByte(c)
			continue
		}
		run++
		if run <= s.maxConsecutiveReplacements {
			b.WriteByte('?')
		}
		// past the cap: drop the byte
	}
	return b.String()
}

// truncateLines cuts each overlong line so that line plus marker fits inside
// the limit. Keeping the total at the limit is what makes a second pass a
// no-op.
func (s *Sanitizer) truncateLines(content string) string {
	max := s.limits.MaxLineLength
	lines := strings.Split(content, "\n")
	changed := false
	for i, line := range lines {
		if len(line) <= max {
			continue
		}
		keep := max - len(TruncationMarker)
		if keep < 0 {
			keep = 0
		}
		lines[i] = line[:keep] + TruncationMarker
		changed = true
	}
	if !changed {
		return content
	}
	return strings.Join(lines, "\n")
}
