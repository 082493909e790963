// Package parser turns raw log lines into structured events using a fixed
// family of formats plus a generic fallback. Formats are tried in declaration
// order; the first match wins.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/loglane/backend/internal/core"
)

// ErrNoMatch is returned when no format and no generic extraction applies.
var ErrNoMatch = errors.New("no parser format matched")

// ErrFutureTimestamp rejects lines whose timestamp is past the skew window.
var ErrFutureTimestamp = errors.New("timestamp beyond clock-skew window")

// Format is one built-in parsing rule. Group layout is fixed:
// month, day, hour, min, sec, host, process, pid (optional), message.
type Format struct {
	Name string
	re   *regexp.Regexp
}

// Built-in formats, in declaration order. SyslogA accepts a loose process
// token; SyslogB restricts the process token to a word class, which in
// practice captures auth daemons. GenericSyslog keeps only the date and host.
var builtinFormats = []Format{
	{
		Name: "syslog_system",
		re:   regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\S+)\s+([^\s:\[]+)(?:\[(\d+)\])?:\s*(.+)$`),
	},
	{
		Name: "syslog_auth",
		re:   regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\S+)\s+(\w+)(?:\[(\d+)\])?:\s*(.+)$`),
	},
	{
		Name: "syslog_generic",
		re:   regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\S+)\s+(.+)$`),
	},
}

// StaticParser applies the built-in formats and the generic line parser.
type StaticParser struct {
	clock core.Clock
}

// NewStaticParser builds the deterministic parser.
func NewStaticParser(clock core.Clock) *StaticParser {
	if clock == nil {
		clock = core.NewClock()
	}
	return &StaticParser{clock: clock}
}

// ParseLine parses a single line for the given entry. The returned event's
// RawLogID references the entry.
func (p *StaticParser) ParseLine(line string, entry *core.LogEntry) (*core.ParsedEvent, error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, ErrNoMatch
	}

	for _, f := range builtinFormats {
		m := f.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ev, err := p.eventFromSyslogMatch(f, m, entry)
		if err != nil {
			// Bad date inside a matching shape (e.g. Feb 29 off-year):
			// fall through to the generic parser rather than fail the line.
			if errors.Is(err, ErrFutureTimestamp) {
				return nil, err
			}
			break
		}
		return ev, nil
	}

	return p.parseGeneric(line, entry)
}

// ParseContent parses every non-empty line of the entry's content.
// It succeeds when at least one line yields an event.
func (p *StaticParser) ParseContent(entry *core.LogEntry) ([]*core.ParsedEvent, error) {
	var events []*core.ParsedEvent
	for i, line := range strings.Split(entry.Content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := p.ParseLine(line, entry)
		if err != nil {
			continue
		}
		ev.Metadata[core.MetaLineNumber] = core.IntValue(int64(i))
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, ErrNoMatch
	}
	return events, nil
}

func (p *StaticParser) eventFromSyslogMatch(f Format, m []string, entry *core.LogEntry) (*core.ParsedEvent, error) {
	ts, err := SyslogTime(m[1], m[2], m[3], m[4], m[5], p.clock)
	if err != nil {
		return nil, err
	}

	var source, message string
	if f.Name == "syslog_generic" {
		source = m[6]
		message = m[7]
	} else {
		host, proc, pid := m[6], m[7], m[8]
		if pid != "" {
			source = fmt.Sprintf("%s:%s[%s]", host, proc, pid)
		} else {
			source = fmt.Sprintf("%s:%s", host, proc)
		}
		message = m[9]
	}

	if strings.TrimSpace(message) == "" {
		return nil, ErrNoMatch
	}

	ev := core.NewParsedEvent(p.clock, entry.EntryID, source, message, Categorize(message, source), ts)
	ev.Metadata[core.MetaParsingMethod] = core.StringValue(core.ParseMethodStatic)
	ev.Metadata[core.MetaPatternName] = core.StringValue(f.Name)
	return ev, nil
}

// sourcePrefix matches a leading "source:" or bare "source " token in
// generic lines.
var sourcePrefix = regexp.MustCompile(`^([A-Za-z][\w.-]{1,63}):\s+`)

// parseGeneric extracts a timestamp when one is present, an optional source
// prefix, and treats the remainder as the message.
func (p *StaticParser) parseGeneric(line string, entry *core.LogEntry) (*core.ParsedEvent, error) {
	ts, rest, found := ExtractTimestamp(line, p.clock)
	if !found {
		return nil, ErrNoMatch
	}
	if ts.After(p.clock.Now().Add(core.ClockSkewTolerance)) {
		return nil, ErrFutureTimestamp
	}

	source := entry.SourceName
	message := strings.TrimSpace(rest)
	if m := sourcePrefix.FindStringSubmatch(message); m != nil {
		source = m[1]
		message = strings.TrimSpace(message[len(m[0]):])
	}
	if message == "" {
		return nil, ErrNoMatch
	}

	ev := core.NewParsedEvent(p.clock, entry.EntryID, source, message, Categorize(message, source), ts)
	ev.Metadata[core.MetaParsingMethod] = core.StringValue(core.ParseMethodStatic)
	ev.Metadata[core.MetaPatternName] = core.StringValue("generic_line")
	return ev, nil
}
