// Package notify evaluates notification rules against parsed events and
// fans matching notifications out to delivery channels with per-rule
// throttling and bounded channel retry.
package notify

import (
	"fmt"
	"time"

	"github.com/loglane/backend/internal/core"
)

// criticalSeverity is the analysis score at which throttling is bypassed.
const criticalSeverity = 9

// Rule decides which events notify which channels.
type Rule struct {
	RuleName        string          `json:"rule_name"`
	Enabled         bool            `json:"enabled"`
	MinSeverity     int             `json:"min_severity"`
	MaxSeverity     int             `json:"max_severity"`
	Categories      []core.Category `json:"categories,omitempty"` // empty = any
	Sources         []string        `json:"sources,omitempty"`    // empty = any
	Channels        []string        `json:"channels"`
	ThrottleMinutes int             `json:"throttle_minutes"`

	// Recipients carries channel-specific hints, e.g. webhook URL overrides.
	Recipients map[string]string `json:"recipients,omitempty"`
}

// Validate rejects rules that could never fire or would misbehave.
func (r *Rule) Validate() error {
	if r.RuleName == "" {
		return fmt.Errorf("rule name required")
	}
	if r.MinSeverity < 1 || r.MaxSeverity > 10 || r.MinSeverity > r.MaxSeverity {
		return fmt.Errorf("rule %s: severity range [%d,%d] invalid", r.RuleName, r.MinSeverity, r.MaxSeverity)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("rule %s: no channels", r.RuleName)
	}
	if r.ThrottleMinutes < 0 {
		return fmt.Errorf("rule %s: negative throttle", r.RuleName)
	}
	return nil
}

// Throttle returns the rule's minimum dispatch spacing.
func (r *Rule) Throttle() time.Duration {
	return time.Duration(r.ThrottleMinutes) * time.Minute
}

// severityOf reads the analysis score, defaulting to 1 when absent.
func severityOf(analysis *core.AIAnalysis) int {
	if analysis == nil {
		return 1
	}
	return analysis.SeverityScore
}

// Matches reports whether the rule fires for the event and analysis.
func (r *Rule) Matches(event *core.ParsedEvent, analysis *core.AIAnalysis) bool {
	if !r.Enabled {
		return false
	}
	sev := severityOf(analysis)
	if sev < r.MinSeverity || sev > r.MaxSeverity {
		return false
	}
	if len(r.Categories) > 0 {
		found := false
		for _, c := range r.Categories {
			if c == event.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.Sources) > 0 {
		found := false
		for _, s := range r.Sources {
			if s == event.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
