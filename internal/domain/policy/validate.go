package policy

import (
	"fmt"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// Validate checks that an ActionPolicy is well-formed.
func (p *ActionPolicy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: policy: name is required", domain.ErrValidation)
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("%w: policy %s: levels are required", domain.ErrValidation, p.Name)
	}
	for level, rules := range p.Levels {
		if !level.Valid() {
			return fmt.Errorf("%w: policy %s: invalid level %q", domain.ErrValidation, p.Name, level)
		}
		if err := validateRules(level, rules); err != nil {
			return fmt.Errorf("%w: policy %s: %s: %w", domain.ErrValidation, p.Name, level, err)
		}
	}
	if err := validateRules(verdict.LevelCritical, p.Override); err != nil {
		return fmt.Errorf("%w: policy %s: override: %w", domain.ErrValidation, p.Name, err)
	}
	return nil
}

func validateRules(level verdict.RiskLevel, rules []Rule) error {
	seen := make(map[action.Type]bool, len(rules))
	probe := PlanInput{Level: level, Confidence: 1, Sender: "probe@example.com", SenderDomain: "example.com"}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return fmt.Errorf("rule[%d]: %w", i, err)
		}
		if seen[rules[i].Action] {
			return fmt.Errorf("rule[%d]: duplicate action %s", i, rules[i].Action)
		}
		seen[rules[i].Action] = true
		if rules[i].Action == action.TypeNoAction && level != verdict.LevelLow {
			return fmt.Errorf("rule[%d]: NO_ACTION is only valid for LOW", i)
		}
		params, err := rules[i].Params.Typed(rules[i].Action, probe)
		if err != nil {
			return fmt.Errorf("rule[%d]: %w", i, err)
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("rule[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks that a Rule is well-formed.
func (r *Rule) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action %q", r.Action)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1]")
	}
	if r.Action == action.TypeBlockSender && !r.RequiresApproval {
		return fmt.Errorf("BLOCK_SENDER must require approval")
	}
	if r.Action == action.TypeLog && r.RequiresApproval {
		return fmt.Errorf("LOG never requires approval")
	}
	if r.Priority != "" && !isValidPriority(r.Priority) {
		return fmt.Errorf("invalid priority %q", r.Priority)
	}
	return nil
}

func isValidPriority(p action.Priority) bool {
	switch p {
	case action.PriorityCritical, action.PriorityHigh, action.PriorityMedium, action.PriorityLow:
		return true
	}
	return false
}
