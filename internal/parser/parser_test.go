package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglane/backend/internal/core"
)

func testClock() *core.ManualClock {
	return core.NewManualClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
}

func testEntry(clock core.Clock, content string) *core.LogEntry {
	return core.NewLogEntry(clock, content, "/var/log/system.log", "system.log", core.PriorityMedium)
}

func TestParseLine_SyslogAuthFailure(t *testing.T) {
	clock := testClock()
	p := NewStaticParser(clock)
	line := "Jan 15 10:30:45 MacBook sshd[456]: Failed password for admin from 192.168.1.100"

	ev, err := p.ParseLine(line, testEntry(clock, line))
	require.NoError(t, err)

	assert.Equal(t, "MacBook:sshd[456]", ev.Source)
	assert.Equal(t, "Failed password for admin from 192.168.1.100", ev.Message)
	assert.Equal(t, core.CategoryAuth, ev.Category)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 45, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, core.StringValue(core.ParseMethodStatic), ev.Metadata[core.MetaParsingMethod])
}

func TestParseLine_SyslogWithoutPID(t *testing.T) {
	clock := testClock()
	p := NewStaticParser(clock)
	line := "Jan 15 09:12:01 webhost cron: session opened for user root"

	ev, err := p.ParseLine(line, testEntry(clock, line))
	require.NoError(t, err)
	assert.Equal(t, "webhost:cron", ev.Source)
}

func TestParseLine_GenericISOTimestamp(t *testing.T) {
	clock := testClock()
	p := NewStaticParser(clock)
	line := "2026-01-15T09:00:00Z myapp: request failed with exception"

	ev, err := p.ParseLine(line, testEntry(clock, line))
	require.NoError(t, err)
	assert.Equal(t, "myapp", ev.Source)
	assert.Equal(t, "request failed with exception", ev.Message)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, core.StringValue("generic_line"), ev.Metadata[core.MetaPatternName])
}

func TestParseLine_NoTimestampNoMatch(t *testing.T) {
	clock := testClock()
	p := NewStaticParser(clock)

	_, err := p.ParseLine("completely unstructured noise", testEntry(clock, "x"))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestParseLine_FutureTimestampRejected(t *testing.T) {
	clock := testClock()
	p := NewStaticParser(clock)
	line := "Jan 15 13:30:45 MacBook sshd[456]: too far ahead"

	_, err := p.ParseLine(line, testEntry(clock, line))
	assert.ErrorIs(t, err, ErrFutureTimestamp)
}

func TestParseLine_WithinSkewAccepted(t *testing.T) {
	clock := testClock()
	p := NewStaticParser(clock)
	line := "Jan 15 10:30:45 MacBook systemd[1]: started some service"

	_, err := p.ParseLine(line, testEntry(clock, line))
	assert.NoError(t, err)
}

func TestSyslogTime_NonexistentDateRejected(t *testing.T) {
	// 2026 is not a leap year, Feb 29 does not exist.
	clock := testClock()
	_, err := SyslogTime("Feb", "29", "10", "00", "00", clock)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSyslogTime_AdoptsCurrentYear(t *testing.T) {
	clock := testClock()
	ts, err := SyslogTime("Jan", "3", "08", "15", "30", clock)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 3, 8, 15, 30, 0, time.UTC), ts)
}

func TestParseContent_SkipsBlankAndBadLines(t *testing.T) {
	clock := testClock()
	content := "Jan 15 09:00:01 host sshd[1]: login ok\n\nnot a log line\nJan 15 09:00:02 host sshd[1]: login ok again"
	p := NewStaticParser(clock)

	events, err := p.ParseContent(testEntry(clock, content))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, core.IntValue(0), events[0].Metadata[core.MetaLineNumber])
	assert.Equal(t, core.IntValue(3), events[1].Metadata[core.MetaLineNumber])
}

func TestParseContent_AllLinesFail(t *testing.T) {
	clock := testClock()
	p := NewStaticParser(clock)
	_, err := p.ParseContent(testEntry(clock, "garbage\nmore garbage"))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestExtractTimestamp_Formats(t *testing.T) {
	clock := testClock()

	ts, rest, found := ExtractTimestamp("2026-01-15 09:30:00 db ready", clock)
	require.True(t, found)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC), ts)
	assert.Equal(t, "db ready", rest)

	ts, _, found = ExtractTimestamp("1/15/2026 09:30:00 slash style", clock)
	require.True(t, found)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC), ts)

	_, _, found = ExtractTimestamp("no timestamp here", clock)
	assert.False(t, found)
}

func TestCategorize_KernelHardRule(t *testing.T) {
	got := Categorize("random message with no keywords at all", "host:kernel[0]")
	assert.Equal(t, core.CategoryKernel, got)
}

func TestCategorize_KeywordScoring(t *testing.T) {
	assert.Equal(t, core.CategoryAuth, Categorize("Failed password for admin", "host:sshd[456]"))
	assert.Equal(t, core.CategorySecurity, Categorize("intrusion attempt blocked by firewall", "ids"))
	assert.Equal(t, core.CategoryNetwork, Categorize("tcp connection reset on port 443", "netd"))
	assert.Equal(t, core.CategoryUnknown, Categorize("zzz qqq", "mystery"))
}

func TestCategorize_SourceBoostBreaksTies(t *testing.T) {
	// "error" alone scores APPLICATION; a sshd source outweighs it.
	got := Categorize("error", "sshd")
	assert.Equal(t, core.CategoryAuth, got)
}
