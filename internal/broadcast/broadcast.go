// Package broadcast fans typed status envelopes out to registered observers.
// Observers are decoupled from the pipeline by small buffered channels; a
// slow observer drops messages instead of stalling a worker.
package broadcast

import (
	"time"

	"github.com/loglane/backend/internal/core"
)

// MessageType tags a broadcast envelope.
type MessageType string

const (
	TypeProcessingStatus   MessageType = "processing_status"
	TypeProcessingResult   MessageType = "processing_result"
	TypeErrorNotification  MessageType = "error_notification"
	TypeSystemStatusUpdate MessageType = "system_status_update"
	TypeNotificationStatus MessageType = "notification_status"
)

// MsgPriority orders deliveries for observers that support it.
type MsgPriority int

const (
	MsgCritical MsgPriority = 10
	MsgHigh     MsgPriority = 8
	MsgMedium   MsgPriority = 5
	MsgLow      MsgPriority = 3
	MsgDebug    MsgPriority = 1
)

// Envelope is the wire shape every observer receives.
type Envelope struct {
	MessageID string                 `json:"message_id"`
	Type      MessageType            `json:"type"`
	Priority  MsgPriority            `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEnvelope stamps a fresh envelope.
func NewEnvelope(clock core.Clock, t MessageType, p MsgPriority, data map[string]interface{}) Envelope {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Envelope{
		MessageID: core.NewID(),
		Type:      t,
		Priority:  p,
		Timestamp: clock.Now(),
		Data:      data,
	}
}

// Observer receives envelopes. Deliver must not block; return an error to
// signal a dropped message.
type Observer interface {
	ID() string
	Deliver(env Envelope) error
}
