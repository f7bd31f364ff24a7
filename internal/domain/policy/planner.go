package policy

import (
	"github.com/google/uuid"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

var actionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:mailguard:action"))

// ActionID is the id of the action of type t planned for a verdict. A plan
// holds each type at most once, so the pair is unique.
func ActionID(verdictID string, t action.Type) string {
	return uuid.NewSHA1(actionNamespace, []byte(verdictID+"/"+string(t))).String()
}

// Plan maps a classified verdict to an ordered action plan. It is pure: the
// same input and policy always yield the same plan.
//
//   - LOW yields NO_ACTION alone.
//   - Rules below their confidence floor are dropped, except LOG.
//   - Each action type appears at most once; the first rule wins.
//   - BLOCK_SENDER always requires approval; LOG never does.
//   - LOG is appended when the table did not include it.
func Plan(in PlanInput, p *ActionPolicy) []action.Recommended {
	if in.Level == verdict.LevelLow || !in.Level.Valid() {
		return []action.Recommended{noAction(in, p)}
	}

	rules := p.Levels[in.Level]
	if in.Overridden && len(p.Override) > 0 {
		rules = p.Override
	}

	seen := make(map[action.Type]bool, len(rules)+1)
	plan := make([]action.Recommended, 0, len(rules)+1)
	for i := range rules {
		r := &rules[i]
		if r.Action == action.TypeNoAction || seen[r.Action] {
			continue
		}
		if r.Action != action.TypeLog && in.Confidence < r.MinConfidence {
			continue
		}
		if r.Action == action.TypeBlockSender && in.SenderDomain == "" && in.Sender == "" {
			continue
		}
		a, ok := build(in, r)
		if !ok {
			continue
		}
		seen[r.Action] = true
		plan = append(plan, a)
	}

	if !seen[action.TypeLog] {
		a, _ := build(in, &Rule{
			Action:    action.TypeLog,
			Reasoning: "Audit trail for security review.",
		})
		plan = append(plan, a)
	}
	return plan
}

func build(in PlanInput, r *Rule) (action.Recommended, bool) {
	params, err := r.Params.Typed(r.Action, in)
	if err != nil {
		return action.Recommended{}, false
	}
	priority := r.Priority
	if priority == "" {
		priority = PriorityFor(in.Level)
	}
	requires := r.RequiresApproval
	switch r.Action {
	case action.TypeBlockSender:
		requires = true
	case action.TypeLog, action.TypeNoAction:
		requires = false
	}
	return action.Recommended{
		ID:               ActionID(in.VerdictID, r.Action),
		VerdictID:        in.VerdictID,
		Type:             r.Action,
		Priority:         priority,
		Confidence:       in.Confidence,
		Params:           params,
		RequiresApproval: requires,
		Reasoning:        r.Reasoning,
		Status:           action.StatusProposed,
	}, true
}

func noAction(in PlanInput, p *ActionPolicy) action.Recommended {
	r := Rule{
		Action:    action.TypeNoAction,
		Reasoning: "Email appears legitimate with no significant risk indicators.",
	}
	for _, lr := range p.Levels[verdict.LevelLow] {
		if lr.Action == action.TypeNoAction && lr.Reasoning != "" {
			r.Reasoning = lr.Reasoning
			break
		}
	}
	in.Level = verdict.LevelLow
	a, _ := build(in, &r)
	return a
}

// Quarantined reports whether a plan quarantines the message.
func Quarantined(plan []action.Recommended) bool {
	for i := range plan {
		if plan[i].Type == action.TypeQuarantine {
			return true
		}
	}
	return false
}
