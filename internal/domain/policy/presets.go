package policy

import (
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

const (
	quarantineFolder = "Quarantine/Phishing"
	securityTeam     = "security-team@company.com"
)

// PresetStandard returns the "standard" preset.
// Quarantine at HIGH and above, domain block proposals at CRITICAL.
func PresetStandard() ActionPolicy {
	return ActionPolicy{
		Name:        "standard",
		Description: "Quarantine high-risk mail automatically; sender blocks always need a reviewer.",
		Levels: map[verdict.RiskLevel][]Rule{
			verdict.LevelCritical: {
				{
					Action:        action.TypeQuarantine,
					MinConfidence: 0.70,
					Reasoning:     "Email exhibits multiple critical phishing indicators. Immediate quarantine protects the user.",
					Params:        RuleParams{Folder: quarantineFolder, Reason: "High-certainty phishing detection with critical risk indicators"},
				},
				{
					Action:           action.TypeBlockSender,
					MinConfidence:    0.85,
					RequiresApproval: true,
					Reasoning:        "Sender domain shows malicious patterns. Blocking the domain has wide impact and needs admin approval.",
					Params:           RuleParams{Scope: action.BlockScopeDomain, Duration: "permanent"},
				},
				{
					Action:    action.TypeAlert,
					Reasoning: "Security team must be notified immediately about a critical phishing attempt.",
					Params:    RuleParams{Channels: []string{"email", "slack"}, Recipients: []string{securityTeam}, IncludeAnalysis: true},
				},
				{
					Action:    action.TypeTag,
					Reasoning: "Visual indicator for any user who might encounter this email.",
					Params:    RuleParams{Label: "PHISHING_CRITICAL", Color: "red"},
				},
				{
					Action:    action.TypeLog,
					Reasoning: "Comprehensive audit trail for incident response.",
					Params:    RuleParams{RetentionDays: 365, IncludeFullAnalysis: true, LogLevel: "security_incident"},
				},
			},
			verdict.LevelHigh: {
				{
					Action:        action.TypeQuarantine,
					MinConfidence: 0.70,
					Reasoning:     "Multiple risk indicators detected. Quarantine for user safety.",
					Params:        RuleParams{Folder: quarantineFolder, Reason: "Suspected phishing with multiple risk indicators"},
				},
				{
					Action:    action.TypeTag,
					Reasoning: "Flag for user awareness and tracking.",
					Params:    RuleParams{Label: "SUSPECTED_PHISHING", Color: "orange"},
				},
				{
					Action:    action.TypeAlert,
					Reasoning: "Notify the security team of a high-risk detection.",
					Params:    RuleParams{Channels: []string{"email"}, Recipients: []string{securityTeam}, IncludeAnalysis: true},
				},
				{
					Action:    action.TypeLog,
					Reasoning: "Audit trail for security review.",
					Params:    RuleParams{RetentionDays: 180, IncludeFullAnalysis: true, LogLevel: "security_warning"},
				},
			},
			verdict.LevelMedium: {
				{
					Action:        action.TypeTag,
					MinConfidence: 0.40,
					Reasoning:     "Some suspicious indicators present. The user should review before acting on the email.",
					Params:        RuleParams{Label: "REVIEW_REQUIRED", Color: "yellow"},
				},
				{
					Action:    action.TypeLog,
					Reasoning: "Track for pattern analysis.",
					Params:    RuleParams{RetentionDays: 90, LogLevel: "info"},
				},
			},
			verdict.LevelLow: {
				{
					Action:    action.TypeNoAction,
					Reasoning: "Email appears legitimate with no significant risk indicators.",
				},
			},
		},
		Override: []Rule{
			{
				Action:    action.TypeQuarantine,
				Priority:  action.PriorityCritical,
				Reasoning: "An authoritative threat source flagged this email with DEFINITIVE certainty. Immediate quarantine required.",
				Params:    RuleParams{Folder: quarantineFolder, Reason: "DEFINITIVE threat detected by authoritative threat intelligence"},
			},
			{
				Action:           action.TypeBlockSender,
				Priority:         action.PriorityCritical,
				RequiresApproval: true,
				Reasoning:        "Confirmed malicious sender. Blocking still requires admin approval.",
				Params:           RuleParams{Scope: action.BlockScopeDomain, Duration: "permanent"},
			},
			{
				Action:    action.TypeAlert,
				Priority:  action.PriorityCritical,
				Reasoning: "Security team must be notified of a confirmed threat.",
				Params: RuleParams{
					Channels:        []string{"email", "slack"},
					Recipients:      []string{securityTeam},
					Message:         "DEFINITIVE threat confirmed by threat intelligence",
					IncludeAnalysis: true,
				},
			},
			{
				Action:    action.TypeLog,
				Priority:  action.PriorityCritical,
				Reasoning: "Comprehensive audit trail for a confirmed threat.",
				Params:    RuleParams{RetentionDays: 365, IncludeFullAnalysis: true, LogLevel: "security_incident"},
			},
		},
	}
}

// PresetStrict returns the "strict" preset.
// Quarantines from MEDIUM upwards, gated on high confidence, and alerts on
// every HIGH verdict.
func PresetStrict() ActionPolicy {
	p := PresetStandard()
	p.Name = "strict"
	p.Description = "Aggressive containment: quarantine from MEDIUM at high confidence."
	p.Levels[verdict.LevelMedium] = []Rule{
		{
			Action:           action.TypeQuarantine,
			MinConfidence:    0.85,
			RequiresApproval: true,
			Reasoning:        "Suspicious email with high-confidence signals. Quarantine pending review.",
			Params:           RuleParams{Folder: quarantineFolder, Reason: "Suspicious characteristics at high confidence"},
		},
		{
			Action:    action.TypeTag,
			Reasoning: "Some suspicious indicators present.",
			Params:    RuleParams{Label: "REVIEW_REQUIRED", Color: "yellow"},
		},
		{
			Action:    action.TypeLog,
			Reasoning: "Track for pattern analysis.",
			Params:    RuleParams{RetentionDays: 90, LogLevel: "info"},
		},
	}
	return p
}

// PresetMonitorOnly returns the "monitor-only" preset.
// Nothing destructive runs without a reviewer; tags and logs are automatic.
func PresetMonitorOnly() ActionPolicy {
	p := PresetStandard()
	p.Name = "monitor-only"
	p.Description = "Observe and label; every containment action needs approval."
	for level, rules := range p.Levels {
		p.Levels[level] = requireApproval(rules)
	}
	p.Override = requireApproval(p.Override)
	return p
}

func requireApproval(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	for i := range out {
		switch out[i].Action {
		case action.TypeQuarantine, action.TypeBlockSender:
			out[i].RequiresApproval = true
		}
	}
	return out
}

// PresetNames returns the names of all built-in presets.
func PresetNames() []string {
	return []string{
		"standard",
		"strict",
		"monitor-only",
	}
}

// IsPreset returns true if the given name is a built-in preset.
func IsPreset(name string) bool {
	_, ok := PresetByName(name)
	return ok
}

// PresetByName returns a preset by name, or false if not found.
func PresetByName(name string) (ActionPolicy, bool) {
	switch name {
	case "standard":
		return PresetStandard(), true
	case "strict":
		return PresetStrict(), true
	case "monitor-only":
		return PresetMonitorOnly(), true
	default:
		return ActionPolicy{}, false
	}
}
