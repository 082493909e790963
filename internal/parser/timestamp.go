package parser

import (
	"regexp"
	"strconv"
	"time"

	"github.com/loglane/backend/internal/core"
)

var monthsByAbbrev = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// SyslogTime builds a timestamp from syslog date components. Syslog dates
// carry no year, so the current wall-clock year is adopted. Dates that do not
// exist in that year (Feb 29 off a leap year) are rejected so the caller can
// fall back. Timestamps past the skew window are rejected outright.
func SyslogTime(mon, day, hour, min, sec string, clock core.Clock) (time.Time, error) {
	month, ok := monthsByAbbrev[mon]
	if !ok {
		return time.Time{}, ErrNoMatch
	}
	d, _ := strconv.Atoi(day)
	h, _ := strconv.Atoi(hour)
	mi, _ := strconv.Atoi(min)
	s, _ := strconv.Atoi(sec)

	now := clock.Now()
	ts := time.Date(now.Year(), month, d, h, mi, s, 0, time.UTC)

	// time.Date normalizes out-of-range days (Feb 29 -> Mar 1); treat any
	// normalization as a nonexistent date.
	if ts.Month() != month || ts.Day() != d {
		return time.Time{}, ErrNoMatch
	}
	if ts.After(now.Add(core.ClockSkewTolerance)) {
		return time.Time{}, ErrFutureTimestamp
	}
	return ts, nil
}

// Generic timestamp shapes tried in order: ISO (with optional fraction and
// zone), ISO with space separator, US slash, syslog.
var genericTimestampProbes = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?)\s*`), ""},
	{regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\s*`), "2006-01-02 15:04:05"},
	{regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{4} \d{2}:\d{2}:\d{2})\s*`), "1/2/2006 15:04:05"},
}

var syslogPrefix = regexp.MustCompile(`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s*`)

// isoLayouts covers the ISO variants the first probe can capture.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// ExtractTimestamp finds a leading timestamp in a line and returns it with
// the remainder of the line. found is false when no probe matches.
func ExtractTimestamp(line string, clock core.Clock) (ts time.Time, rest string, found bool) {
	for _, probe := range genericTimestampProbes {
		m := probe.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		raw := m[1]
		layouts := isoLayouts
		if probe.layout != "" {
			layouts = []string{probe.layout}
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), line[len(m[0]):], true
			}
		}
	}

	if m := syslogPrefix.FindStringSubmatch(line); m != nil {
		t, err := SyslogTime(m[1], m[2], m[3], m[4], m[5], clock)
		if err == nil {
			return t, line[len(m[0]):], true
		}
	}

	return time.Time{}, line, false
}
