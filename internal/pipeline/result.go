// Package pipeline runs the per-entry processing sequence: validate,
// sanitize, parse, persist, analyze, notify, broadcast. One Orchestrator
// serves one queue's worker pool.
package pipeline

import (
	"time"

	"github.com/loglane/backend/internal/validate"
)

// Result classification carried on the final broadcast.
const (
	ResultSuccess        = "SUCCESS"
	ResultWarning        = "WARNING"
	ResultPartialSuccess = "PARTIAL_SUCCESS"
	ResultFailure        = "FAILURE"
)

// ProcessingResult is the per-entry outcome handed to callbacks and
// broadcast to observers.
type ProcessingResult struct {
	EntryID          string                 `json:"entry_id"`
	Success          bool                   `json:"success"`
	ProcessingTime   time.Duration          `json:"processing_time"`
	ValidationResult validate.Verdict       `json:"validation_result"`
	Sanitized        bool                   `json:"sanitized"`
	Events           int                    `json:"events"`
	Analyses         int                    `json:"analyses"`
	Errors           []string               `json:"errors,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Type classifies the result: FAILURE when not successful, PARTIAL_SUCCESS
// on success with errors, WARNING on success with warnings only.
func (r *ProcessingResult) Type() string {
	switch {
	case !r.Success:
		return ResultFailure
	case len(r.Errors) > 0:
		return ResultPartialSuccess
	case len(r.Warnings) > 0:
		return ResultWarning
	default:
		return ResultSuccess
	}
}

// Callback observes finished entries.
type Callback func(entryID string, result *ProcessingResult)
