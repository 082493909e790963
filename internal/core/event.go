package core

import (
	"strings"
	"time"
)

// Category classifies a parsed event.
type Category string

const (
	CategoryAuth        Category = "AUTH"
	CategorySystem      Category = "SYSTEM"
	CategoryNetwork     Category = "NETWORK"
	CategorySecurity    Category = "SECURITY"
	CategoryApplication Category = "APPLICATION"
	CategoryKernel      Category = "KERNEL"
	CategoryUnknown     Category = "UNKNOWN"
)

// ClockSkewTolerance is how far in the future an event timestamp may sit
// before the line is rejected.
const ClockSkewTolerance = time.Hour

// ParsedEvent is one structured line derived from an entry.
type ParsedEvent struct {
	ID        string    `json:"id"`
	RawLogID  string    `json:"raw_log_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
	ParsedAt  time.Time `json:"parsed_at"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// NewParsedEvent mints an event bound to its raw entry.
func NewParsedEvent(clock Clock, rawLogID, source, message string, category Category, ts time.Time) *ParsedEvent {
	if category == "" {
		category = CategoryUnknown
	}
	return &ParsedEvent{
		ID:        NewID(),
		RawLogID:  rawLogID,
		Timestamp: ts.UTC(),
		Source:    source,
		Message:   message,
		Category:  category,
		ParsedAt:  clock.Now(),
		Metadata:  Metadata{},
	}
}

// Valid checks the event invariants: non-empty trimmed message, category set,
// timestamp within the clock-skew window.
func (ev *ParsedEvent) Valid(clock Clock) bool {
	if strings.TrimSpace(ev.Message) == "" {
		return false
	}
	if ev.Category == "" {
		return false
	}
	return !ev.Timestamp.After(clock.Now().Add(ClockSkewTolerance))
}

// AIAnalysis is the optional severity scoring attached to an event.
type AIAnalysis struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	SeverityScore   int       `json:"severity_score"` // 1..10
	Explanation     string    `json:"explanation"`    // >= 10 chars
	Recommendations []string  `json:"recommendations"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Valid checks the analysis invariants.
func (a *AIAnalysis) Valid() bool {
	if a.SeverityScore < 1 || a.SeverityScore > 10 {
		return false
	}
	if len(a.Explanation) < 10 {
		return false
	}
	if len(a.Recommendations) == 0 {
		return false
	}
	for _, r := range a.Recommendations {
		if strings.TrimSpace(r) == "" {
			return false
		}
	}
	return true
}
