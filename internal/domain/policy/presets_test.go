package policy

import (
	"testing"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

func TestPresetsValidate(t *testing.T) {
	for _, name := range PresetNames() {
		p, ok := PresetByName(name)
		if !ok {
			t.Fatalf("preset %q not found", name)
		}
		if p.Name != name {
			t.Errorf("preset %q reports name %q", name, p.Name)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("preset %q invalid: %v", name, err)
		}
	}
}

func TestPresetStandardTable(t *testing.T) {
	p := PresetStandard()
	crit := p.Levels[verdict.LevelCritical]
	if len(crit) != 5 {
		t.Fatalf("expected 5 CRITICAL rules, got %d", len(crit))
	}
	if crit[0].Params.Folder != "Quarantine/Phishing" {
		t.Errorf("expected quarantine folder, got %q", crit[0].Params.Folder)
	}
	if crit[3].Params.Label != "PHISHING_CRITICAL" || crit[3].Params.Color != "red" {
		t.Errorf("unexpected CRITICAL tag %+v", crit[3].Params)
	}
	if crit[4].Params.RetentionDays != 365 {
		t.Errorf("expected 365 day retention, got %d", crit[4].Params.RetentionDays)
	}
	if len(p.Override) == 0 {
		t.Error("expected override rules")
	}
}

func TestPresetMonitorOnlyGatesContainment(t *testing.T) {
	p := PresetMonitorOnly()
	for level, rules := range p.Levels {
		for _, r := range rules {
			if (r.Action == action.TypeQuarantine || r.Action == action.TypeBlockSender) && !r.RequiresApproval {
				t.Errorf("%s: %s runs without approval", level, r.Action)
			}
		}
	}
	if PresetStandard().Levels[verdict.LevelHigh][0].RequiresApproval {
		t.Error("monitor-only preset leaked into standard")
	}
}

func TestPresetByNameUnknown(t *testing.T) {
	if _, ok := PresetByName("nonexistent"); ok {
		t.Error("expected false for unknown preset")
	}
	if IsPreset("nonexistent") {
		t.Error("expected IsPreset false")
	}
	if !IsPreset("strict") {
		t.Error("expected IsPreset true for strict")
	}
}

func TestRetentionDays(t *testing.T) {
	want := map[verdict.RiskLevel]int{
		verdict.LevelCritical: 365,
		verdict.LevelHigh:     180,
		verdict.LevelMedium:   90,
		verdict.LevelLow:      30,
	}
	for level, days := range want {
		if got := RetentionDays(level); got != days {
			t.Errorf("RetentionDays(%s) = %d, want %d", level, got, days)
		}
	}
}
