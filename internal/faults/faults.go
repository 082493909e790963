// Package faults centralizes pipeline error classification and recovery
// policy. Every stage reports failures here; the handler classifies them,
// keeps a bounded history, picks a recovery action, and forwards the fault
// to an ErrorSink for operator visibility.
package faults

import (
	"strings"
	"time"

	"github.com/loglane/backend/internal/core"
)

// Kind partitions faults by the pipeline stage that raised them.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindParsing      Kind = "PARSING"
	KindStorage      Kind = "STORAGE"
	KindAnalysis     Kind = "ANALYSIS"
	KindNotification Kind = "NOTIFICATION"
	KindBroadcast    Kind = "BROADCAST"
	KindInternal     Kind = "INTERNAL"
)

// Severity ranks faults for alerting.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Action is the handler's recovery recommendation for a fault.
type Action string

const (
	ActionRetry    Action = "RETRY"               // re-run via the queue's backoff
	ActionDrop     Action = "DROP"                // permanent for this entry, fail it
	ActionFallback Action = "SYNTHESIZE_FALLBACK" // continue with a degraded result
	ActionEscalate Action = "ESCALATE"            // needs operator attention
	ActionNone     Action = "NONE"                // recorded, nothing to recover
)

// Fault is one classified pipeline error.
type Fault struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Severity   Severity  `json:"severity"`
	Action     Action    `json:"action"`
	EntryID    string    `json:"entry_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ErrorSink receives classified faults for external visibility. The
// broadcaster implements it; using the interface here keeps the handler
// free of a broadcast dependency.
type ErrorSink interface {
	SinkFault(f Fault)
}

// NopSink discards faults. Useful in tests and partial wiring.
type NopSink struct{}

func (NopSink) SinkFault(Fault) {}

// severityFor maps a kind to its default severity.
func severityFor(kind Kind) Severity {
	switch kind {
	case KindStorage, KindInternal:
		return SeverityHigh
	case KindParsing, KindAnalysis:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// actionFor picks the recovery action. Storage faults are retried because
// databases come back; validation faults are permanent for the entry that
// raised them; parse exhaustion degrades to a synthesized fallback event.
func actionFor(kind Kind) Action {
	switch kind {
	case KindStorage:
		return ActionRetry
	case KindValidation:
		return ActionDrop
	case KindParsing:
		return ActionFallback
	case KindAnalysis, KindNotification, KindBroadcast:
		return ActionNone
	default:
		return ActionEscalate
	}
}

// NewFault classifies an error into a Fault.
func NewFault(clock core.Clock, kind Kind, entryID, source string, err error) Fault {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	sev := severityFor(kind)
	if strings.Contains(strings.ToLower(msg), "panic") {
		sev = SeverityCritical
	}
	return Fault{
		ID:         core.NewID(),
		Kind:       kind,
		Severity:   sev,
		Action:     actionFor(kind),
		EntryID:    entryID,
		Source:     source,
		Message:    msg,
		OccurredAt: clock.Now(),
	}
}
