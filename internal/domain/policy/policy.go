// Package policy defines the action policy layer. An ActionPolicy maps each
// risk level to an ordered list of candidate remediation rules; the planner
// turns a classified verdict into a concrete action plan from those rules.
package policy

import (
	"fmt"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// Rule is one candidate action of a risk level.
type Rule struct {
	Action           action.Type     `json:"action" yaml:"action"`
	MinConfidence    float64         `json:"min_confidence" yaml:"min_confidence"`
	Priority         action.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
	RequiresApproval bool            `json:"requires_approval" yaml:"requires_approval"`
	Reasoning        string          `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Params           RuleParams      `json:"params" yaml:"params"`
}

// RuleParams is the YAML form of every action's static parameters. Only the
// fields of the rule's action type are read; Typed converts them.
type RuleParams struct {
	Folder              string            `json:"folder,omitempty" yaml:"folder,omitempty"`
	Reason              string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	Scope               action.BlockScope `json:"scope,omitempty" yaml:"scope,omitempty"`
	Duration            string            `json:"block_duration,omitempty" yaml:"block_duration,omitempty"`
	Channels            []string          `json:"channels,omitempty" yaml:"channels,omitempty"`
	Recipients          []string          `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Message             string            `json:"message,omitempty" yaml:"message,omitempty"`
	IncludeAnalysis     bool              `json:"include_analysis,omitempty" yaml:"include_analysis,omitempty"`
	Label               string            `json:"label,omitempty" yaml:"label,omitempty"`
	Color               string            `json:"color,omitempty" yaml:"color,omitempty"`
	RetentionDays       int               `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	IncludeFullAnalysis bool              `json:"include_full_analysis,omitempty" yaml:"include_full_analysis,omitempty"`
	LogLevel            string            `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// ActionPolicy is a named set of per-level rule tables.
type ActionPolicy struct {
	Name        string                       `json:"name" yaml:"name"`
	Description string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Levels      map[verdict.RiskLevel][]Rule `json:"levels" yaml:"levels"`
	// Override replaces the CRITICAL table when an authoritative source
	// reported a definitive threat. Empty means use the CRITICAL table.
	Override []Rule `json:"override,omitempty" yaml:"override,omitempty"`
}

// PlanInput is everything the planner reads besides the policy.
type PlanInput struct {
	VerdictID    string            `json:"verdict_id"`
	Level        verdict.RiskLevel `json:"level"`
	Confidence   float64           `json:"confidence"`
	Overridden   bool              `json:"overridden"`
	Sender       string            `json:"sender"`
	SenderDomain string            `json:"sender_domain"`
}

// Typed converts the static parameters into the payload for t, filling the
// fields that depend on the verdict.
func (p RuleParams) Typed(t action.Type, in PlanInput) (action.Params, error) {
	switch t {
	case action.TypeQuarantine:
		return action.QuarantineParams{Folder: p.Folder, Reason: p.Reason}, nil
	case action.TypeBlockSender:
		scope := p.Scope
		if scope == "" {
			scope = action.BlockScopeDomain
		}
		duration := p.Duration
		if duration == "" {
			duration = "permanent"
		}
		return action.BlockSenderParams{
			Scope:        scope,
			SenderDomain: in.SenderDomain,
			SenderEmail:  in.Sender,
			Duration:     duration,
		}, nil
	case action.TypeAlert:
		msg := p.Message
		if msg == "" {
			msg = fmt.Sprintf("%s risk phishing email detected (%.1f%% confidence)", in.Level, in.Confidence*100)
		}
		return action.AlertParams{
			Channels:        p.Channels,
			Recipients:      p.Recipients,
			Message:         msg,
			IncludeAnalysis: p.IncludeAnalysis,
		}, nil
	case action.TypeTag:
		return action.TagParams{Label: p.Label, Color: p.Color}, nil
	case action.TypeLog:
		days := p.RetentionDays
		if days == 0 {
			days = RetentionDays(in.Level)
		}
		level := p.LogLevel
		if level == "" {
			level = "info"
		}
		return action.LogParams{RetentionDays: days, IncludeFullAnalysis: p.IncludeFullAnalysis, LogLevel: level}, nil
	case action.TypeNoAction:
		return action.NoActionParams{}, nil
	}
	return nil, fmt.Errorf("%w: %q", action.ErrUnknownType, t)
}

// RetentionDays is the default audit retention for a level.
func RetentionDays(level verdict.RiskLevel) int {
	switch level {
	case verdict.LevelCritical:
		return 365
	case verdict.LevelHigh:
		return 180
	case verdict.LevelMedium:
		return 90
	}
	return 30
}

// PriorityFor derives an action priority from a risk level.
func PriorityFor(level verdict.RiskLevel) action.Priority {
	switch level {
	case verdict.LevelCritical:
		return action.PriorityCritical
	case verdict.LevelHigh:
		return action.PriorityHigh
	case verdict.LevelMedium:
		return action.PriorityMedium
	}
	return action.PriorityLow
}
