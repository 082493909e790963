// Package detect learns per-source parsing patterns from sample windows.
// The detector probes timestamps, field structure, and delimiters, then
// synthesizes a FormatPattern the orchestrator can reuse for that source.
package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/parser"
)

// Confidence ranks how much the detector trusts a pattern.
type Confidence int

const (
	ConfidenceUnknown Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "HIGH"
	case ConfidenceMedium:
		return "MEDIUM"
	case ConfidenceLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// FormatPattern is a learned or synthesized parsing rule.
type FormatPattern struct {
	Name            string         `json:"name"`
	Regex           string         `json:"regex"`
	Confidence      Confidence     `json:"confidence"`
	SampleLines     []string       `json:"sample_lines,omitempty"`
	FieldMapping    map[string]int `json:"field_mapping"` // field name -> capture group index
	TimestampFormat string         `json:"timestamp_format,omitempty"`
	Delimiter       string         `json:"delimiter,omitempty"`
	Frequency       int            `json:"frequency"`

	compiled *regexp.Regexp
}

// Key identifies a pattern for merging: name plus a hash of the regex.
func (p *FormatPattern) Key() string {
	sum := sha256.Sum256([]byte(p.Regex))
	return p.Name + ":" + hex.EncodeToString(sum[:6])
}

// Compile returns the compiled regex, caching it on the pattern.
func (p *FormatPattern) Compile() (*regexp.Regexp, error) {
	if p.compiled == nil {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
		}
		p.compiled = re
	}
	return p.compiled, nil
}

// Apply matches one line and returns the named fields, or false on no match.
func (p *FormatPattern) Apply(line string) (map[string]string, bool) {
	re, err := p.Compile()
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	fields := make(map[string]string, len(p.FieldMapping))
	for name, idx := range p.FieldMapping {
		if idx > 0 && idx < len(m) {
			fields[name] = m[idx]
		}
	}
	return fields, true
}

// EventFromLine applies the pattern to a line and assembles a ParsedEvent for
// the entry. Missing timestamp fields fall back to the entry's ingestion
// time; missing source fields fall back to the entry's source name.
func (p *FormatPattern) EventFromLine(line string, entry *core.LogEntry, clock core.Clock) (*core.ParsedEvent, bool) {
	fields, ok := p.Apply(line)
	if !ok {
		return nil, false
	}

	message := strings.TrimSpace(fields["message"])
	if message == "" {
		return nil, false
	}

	ts := entry.Timestamp
	if raw, ok := fields["timestamp"]; ok && p.TimestampFormat != "" {
		if t, err := time.Parse(p.TimestampFormat, raw); err == nil {
			// Syslog-style layouts carry no year.
			if t.Year() == 0 {
				t = t.AddDate(clock.Now().Year(), 0, 0)
			}
			ts = t.UTC()
		}
	}
	if ts.After(clock.Now().Add(core.ClockSkewTolerance)) {
		return nil, false
	}

	source := entry.SourceName
	if host := fields["hostname"]; host != "" {
		source = host
		if proc := fields["process"]; proc != "" {
			if pid := fields["pid"]; pid != "" {
				source = fmt.Sprintf("%s:%s[%s]", host, proc, pid)
			} else {
				source = fmt.Sprintf("%s:%s", host, proc)
			}
		}
	}

	ev := core.NewParsedEvent(clock, entry.EntryID, source, message, parser.Categorize(message, source), ts)
	ev.Metadata[core.MetaPatternName] = core.StringValue(p.Name)
	return ev, true
}
