package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

func baseSnapshot() Snapshot {
	return Snapshot{
		Weights:          verdict.Weights{"linguistic": 0.6, "technical_validation": 0.2, "threat_intelligence": 0.2},
		Thresholds:       verdict.DefaultThresholds(),
		Quorum:           1,
		Override:         verdict.OverridePolicy{Sources: []string{"threat_intelligence"}, MinRisk: 0.9, ForcedRisk: 0.95},
		Actions:          PresetStandard(),
		ApprovalExpiry:   24 * time.Hour,
		SourceTimeout:    5 * time.Second,
		GlobalTimeout:    10 * time.Second,
		NarrativeTimeout: 3 * time.Second,
		TopK:             5,
	}
}

func TestNewSnapshotVersion(t *testing.T) {
	a, err := NewSnapshot(baseSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := NewSnapshot(baseSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Version == "" || a.Version != b.Version {
		t.Errorf("identical inputs gave versions %q and %q", a.Version, b.Version)
	}

	changed := baseSnapshot()
	changed.Quorum = 2
	c, err := NewSnapshot(changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Version == a.Version {
		t.Error("different inputs share a version")
	}
}

func TestNewSnapshotCopiesWeights(t *testing.T) {
	in := baseSnapshot()
	s, err := NewSnapshot(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in.Weights["linguistic"] = 0
	if s.Weights["linguistic"] != 0.6 {
		t.Error("snapshot weights aliased the caller's map")
	}
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Snapshot)
	}{
		{"weights off", func(s *Snapshot) { s.Weights["linguistic"] = 0.9 }},
		{"zero quorum", func(s *Snapshot) { s.Quorum = 0 }},
		{"quorum above sources", func(s *Snapshot) { s.Quorum = 4 }},
		{"override source unknown", func(s *Snapshot) { s.Override.Sources = []string{"sandbox"} }},
		{"no expiry", func(s *Snapshot) { s.ApprovalExpiry = 0 }},
		{"no global timeout", func(s *Snapshot) { s.GlobalTimeout = 0 }},
		{"bad thresholds", func(s *Snapshot) { s.Thresholds.High = 0.2 }},
		{"bad policy", func(s *Snapshot) { s.Actions.Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseSnapshot()
			tt.modify(&s)
			_, err := NewSnapshot(s)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
