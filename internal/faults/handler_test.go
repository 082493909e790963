package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/metrics"
)

func testClock() *core.ManualClock {
	return core.NewManualClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
}

type recordingSink struct {
	faults []Fault
}

func (s *recordingSink) SinkFault(f Fault) { s.faults = append(s.faults, f) }

func TestActionPerKind(t *testing.T) {
	cases := map[Kind]Action{
		KindStorage:      ActionRetry,
		KindValidation:   ActionDrop,
		KindParsing:      ActionFallback,
		KindAnalysis:     ActionNone,
		KindNotification: ActionNone,
		KindBroadcast:    ActionNone,
		KindInternal:     ActionEscalate,
	}
	clock := testClock()
	for kind, want := range cases {
		f := NewFault(clock, kind, "e1", "src", errors.New("boom"))
		assert.Equal(t, want, f.Action, "kind %s", kind)
	}
}

func TestSeverityPerKind(t *testing.T) {
	clock := testClock()
	assert.Equal(t, SeverityHigh, NewFault(clock, KindStorage, "", "", nil).Severity)
	assert.Equal(t, SeverityHigh, NewFault(clock, KindInternal, "", "", nil).Severity)
	assert.Equal(t, SeverityMedium, NewFault(clock, KindParsing, "", "", nil).Severity)
	assert.Equal(t, SeverityMedium, NewFault(clock, KindAnalysis, "", "", nil).Severity)
	assert.Equal(t, SeverityLow, NewFault(clock, KindValidation, "", "", nil).Severity)
}

func TestPanicEscalatesToCritical(t *testing.T) {
	clock := testClock()
	f := NewFault(clock, KindInternal, "e1", "src", errors.New("panic: index out of range"))
	assert.Equal(t, SeverityCritical, f.Severity)
}

func TestNewFault_NilError(t *testing.T) {
	clock := testClock()
	f := NewFault(clock, KindStorage, "e1", "src", nil)
	assert.Equal(t, "unknown error", f.Message)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, clock.Now(), f.OccurredAt)
}

func TestHandler_ReportForwardsToSink(t *testing.T) {
	clock := testClock()
	sink := &recordingSink{}
	h := NewHandler(clock, sink, 16)

	action := h.Report(KindStorage, "e1", "auth.log", errors.New("connection refused"))
	assert.Equal(t, ActionRetry, action)
	require.Len(t, sink.faults, 1)
	assert.Equal(t, KindStorage, sink.faults[0].Kind)
	assert.Equal(t, "connection refused", sink.faults[0].Message)
}

func TestHandler_RecentNewestFirst(t *testing.T) {
	clock := testClock()
	h := NewHandler(clock, nil, 16)
	for i := 0; i < 5; i++ {
		h.Report(KindParsing, fmt.Sprintf("e%d", i), "src", errors.New("no format matched"))
	}

	recent := h.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "e4", recent[0].EntryID)
	assert.Equal(t, "e3", recent[1].EntryID)
	assert.Equal(t, "e2", recent[2].EntryID)
}

func TestHandler_RingWrapsAroundHistory(t *testing.T) {
	clock := testClock()
	h := NewHandler(clock, nil, 4)
	for i := 0; i < 10; i++ {
		h.Report(KindAnalysis, fmt.Sprintf("e%d", i), "src", errors.New("scorer timeout"))
	}

	recent := h.Recent(0)
	require.Len(t, recent, 4, "history is bounded by the ring size")
	assert.Equal(t, "e9", recent[0].EntryID)
	assert.Equal(t, "e6", recent[3].EntryID)
	assert.Equal(t, int64(10), h.Stats().Total)
}

func TestHandler_Stats(t *testing.T) {
	clock := testClock()
	h := NewHandler(clock, nil, 16)
	h.Report(KindStorage, "e1", "src", errors.New("x"))
	h.Report(KindStorage, "e2", "src", errors.New("y"))
	h.Report(KindValidation, "e3", "src", errors.New("z"))

	st := h.Stats()
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(2), st.ByKind[KindStorage])
	assert.Equal(t, int64(1), st.ByKind[KindValidation])
	assert.Equal(t, int64(2), st.BySeverity[SeverityHigh])
	assert.Equal(t, int64(1), st.BySeverity[SeverityLow])
}

func TestHandler_SetSink(t *testing.T) {
	clock := testClock()
	h := NewHandler(clock, nil, 16)
	h.Report(KindParsing, "before", "src", errors.New("x"))

	sink := &recordingSink{}
	h.SetSink(sink)
	h.Report(KindParsing, "after", "src", errors.New("y"))

	require.Len(t, sink.faults, 1, "faults before the swap are not replayed")
	assert.Equal(t, "after", sink.faults[0].EntryID)
}

func TestHandler_SetMetricsCountsFaults(t *testing.T) {
	h := NewHandler(testClock(), nil, 16)
	prom := metrics.NewPromMetrics(prometheus.NewRegistry())
	h.SetMetrics(prom)

	h.Report(KindStorage, "e1", "src", errors.New("db down"))
	h.Report(KindStorage, "e2", "src", errors.New("db down"))
	h.Report(KindValidation, "e3", "src", errors.New("empty content"))

	assert.Equal(t, 2.0, testutil.ToFloat64(prom.FaultsTotal.WithLabelValues("STORAGE", "HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.FaultsTotal.WithLabelValues("VALIDATION", "LOW")))
}
