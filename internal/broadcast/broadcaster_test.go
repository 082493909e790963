package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/faults"
	"github.com/loglane/backend/internal/metrics"
)

func testClock() *core.ManualClock {
	return core.NewManualClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
}

func drain(o *ChanObserver) []Envelope {
	var out []Envelope
	for {
		select {
		case env := <-o.C():
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestBroadcast_ReachesAllObservers(t *testing.T) {
	b := New(testClock())
	a := NewChanObserver("a", 8)
	c := NewChanObserver("c", 8)
	b.Register(a)
	b.Register(c)

	reached := b.Broadcast(TypeProcessingStatus, MsgLow, map[string]interface{}{"entry_id": "e1"})
	assert.Equal(t, 2, reached)

	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, TypeProcessingStatus, got[0].Type)
	assert.Equal(t, "e1", got[0].Data["entry_id"])
	assert.NotEmpty(t, got[0].MessageID)
}

func TestBroadcast_UnregisterStopsDelivery(t *testing.T) {
	b := New(testClock())
	a := NewChanObserver("a", 8)
	b.Register(a)
	assert.Equal(t, 1, b.Observers())

	b.Unregister("a")
	assert.Equal(t, 0, b.Observers())
	assert.Equal(t, 0, b.Broadcast(TypeProcessingStatus, MsgLow, nil))
}

func TestBroadcastResult_ThrottlesRepeatedSuccess(t *testing.T) {
	clock := testClock()
	b := New(clock)
	obs := NewChanObserver("a", 16)
	b.Register(obs)

	assert.Equal(t, 1, b.BroadcastResult("auth.log", "SUCCESS", MsgLow, nil))
	assert.Equal(t, -1, b.BroadcastResult("auth.log", "SUCCESS", MsgLow, nil))

	// A different source is a different throttle key.
	assert.Equal(t, 1, b.BroadcastResult("kern.log", "SUCCESS", MsgLow, nil))

	clock.Advance(6 * time.Second)
	assert.Equal(t, 1, b.BroadcastResult("auth.log", "SUCCESS", MsgLow, nil))

	_, _, throttled := b.Counters()
	assert.Equal(t, int64(1), throttled)
}

func TestBroadcastResult_FailuresNeverThrottled(t *testing.T) {
	b := New(testClock())
	obs := NewChanObserver("a", 16)
	b.Register(obs)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, b.BroadcastResult("auth.log", "FAILURE", MsgHigh, nil))
		assert.Equal(t, 1, b.BroadcastResult("auth.log", "PARTIAL_SUCCESS", MsgMedium, nil))
	}
	_, _, throttled := b.Counters()
	assert.Equal(t, int64(0), throttled)
}

func TestBroadcastResult_InjectsSourceAndType(t *testing.T) {
	b := New(testClock())
	obs := NewChanObserver("a", 8)
	b.Register(obs)

	b.BroadcastResult("auth.log", "SUCCESS", MsgLow, map[string]interface{}{"entry_id": "e1"})
	got := drain(obs)
	require.Len(t, got, 1)
	assert.Equal(t, "auth.log", got[0].Data["source"])
	assert.Equal(t, "SUCCESS", got[0].Data["result_type"])
	assert.Equal(t, "e1", got[0].Data["entry_id"])
}

func TestChanObserver_FullBufferDrops(t *testing.T) {
	b := New(testClock())
	obs := NewChanObserver("tiny", 1)
	b.Register(obs)

	assert.Equal(t, 1, b.Broadcast(TypeProcessingStatus, MsgLow, nil))
	assert.Equal(t, 0, b.Broadcast(TypeProcessingStatus, MsgLow, nil), "full buffer drops, does not block")

	_, dropped, _ := b.Counters()
	assert.Equal(t, int64(1), dropped)
}

func TestSinkFault_MapsSeverityToPriority(t *testing.T) {
	b := New(testClock())
	obs := NewChanObserver("a", 8)
	b.Register(obs)

	b.SinkFault(faults.Fault{ID: "f1", Kind: faults.KindStorage, Severity: faults.SeverityCritical, Message: "down"})
	b.SinkFault(faults.Fault{ID: "f2", Kind: faults.KindParsing, Severity: faults.SeverityLow, Message: "meh"})

	got := drain(obs)
	require.Len(t, got, 2)
	assert.Equal(t, TypeErrorNotification, got[0].Type)
	assert.Equal(t, MsgCritical, got[0].Priority)
	assert.Equal(t, "STORAGE", got[0].Data["kind"])
	assert.Equal(t, MsgLow, got[1].Priority)
}

func TestBroadcastStatus_Shape(t *testing.T) {
	b := New(testClock())
	obs := NewChanObserver("a", 8)
	b.Register(obs)

	b.BroadcastStatus("e1", "PROCESSING", "validation")
	got := drain(obs)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].Data["entry_id"])
	assert.Equal(t, "PROCESSING", got[0].Data["stage"])
}

func TestBroadcast_SetMetricsCountsByType(t *testing.T) {
	b := New(testClock())
	collector := metrics.NewCollector()
	prom := metrics.NewPromMetrics(prometheus.NewRegistry())
	b.SetMetrics(collector, prom)
	b.Register(NewChanObserver("a", 8))

	b.Broadcast(TypeProcessingStatus, MsgLow, nil)
	b.Broadcast(TypeProcessingStatus, MsgLow, nil)
	b.Broadcast(TypeErrorNotification, MsgHigh, nil)

	casts := collector.Snapshot()["broadcasts_by_type"].(map[string]int64)
	assert.Equal(t, int64(2), casts["processing_status"])
	assert.Equal(t, int64(1), casts["error_notification"])
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.BroadcastsTotal.WithLabelValues("processing_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.BroadcastsTotal.WithLabelValues("error_notification")))
}

func TestReplay_SkipsOriginObserver(t *testing.T) {
	clock := testClock()
	b := New(clock)
	bridge := NewChanObserver("bridge", 8)
	local := NewChanObserver("local", 8)
	b.Register(bridge)
	b.Register(local)

	env := NewEnvelope(clock, TypeProcessingResult, MsgMedium, map[string]interface{}{"source": "auth.log"})
	reached := b.Replay(env, "bridge")
	assert.Equal(t, 1, reached)

	got := drain(local)
	require.Len(t, got, 1)
	assert.Equal(t, env.MessageID, got[0].MessageID, "relayed envelopes keep their identity")
	assert.Empty(t, drain(bridge), "the envelope does not bounce back out the way it came")
}
