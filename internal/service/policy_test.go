package service

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

const reviewOnlyPolicy = `
name: review-only
levels:
  CRITICAL:
    - action: QUARANTINE
      requires_approval: true
      params:
        folder: Review
  HIGH:
    - action: TAG
      params:
        label: SUSPECT
        color: orange
  LOW:
    - action: NO_ACTION
`

func TestNewPolicyServiceDefaults(t *testing.T) {
	cfg := testConfig()
	svc, err := NewPolicyService(cfg)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	snap := svc.Snapshot()
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.Version == "" {
		t.Error("expected a content version")
	}
	if snap.Actions.Name != "standard" {
		t.Errorf("expected standard policy, got %q", snap.Actions.Name)
	}
	if snap.Quorum != 1 {
		t.Errorf("expected quorum 1, got %d", snap.Quorum)
	}
	if !slices.Equal(snap.Override.Sources, []string{"threat_intelligence"}) {
		t.Errorf("expected definitive threat_intelligence, got %v", snap.Override.Sources)
	}
}

func TestPolicyServiceDirectoryShadowsPreset(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(reviewOnlyPolicy), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Policy.Dir = dir
	cfg.Policy.Name = "review-only"

	svc, err := NewPolicyService(cfg)
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	if got := svc.Snapshot().Actions.Name; got != "review-only" {
		t.Errorf("expected review-only, got %q", got)
	}
	names := svc.ListPolicies()
	for _, want := range []string{"monitor-only", "review-only", "standard", "strict"} {
		if !slices.Contains(names, want) {
			t.Errorf("ListPolicies() = %v, missing %q", names, want)
		}
	}
	if !slices.IsSorted(names) {
		t.Errorf("expected sorted names, got %v", names)
	}
	if _, ok := svc.GetPolicy("review-only"); !ok {
		t.Error("expected review-only to be retrievable")
	}
}

func TestPolicyServiceUnknownPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.Name = "does-not-exist"
	if _, err := NewPolicyService(cfg); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestPolicyServiceRebuildKeepsOldOnError(t *testing.T) {
	svc, err := NewPolicyService(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	before := svc.Snapshot()

	bad := testConfig()
	bad.Coordination.Weights = map[string]float64{"linguistic": 0.5}
	if _, err := svc.Rebuild(bad); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
	if svc.Snapshot() != before {
		t.Error("failed rebuild must keep the previous snapshot")
	}
}

func TestPolicyServiceRebuildSwapsSnapshot(t *testing.T) {
	svc, err := NewPolicyService(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	inFlight := svc.Snapshot()

	cfg := testConfig()
	cfg.Coordination.RiskThresholds.High = 0.75
	next, err := svc.Rebuild(cfg)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if next.Version == inFlight.Version {
		t.Error("expected a new version after a threshold change")
	}
	if svc.Snapshot() != next {
		t.Error("expected the new snapshot to be current")
	}
	if inFlight.Thresholds.High != 0.70 {
		t.Errorf("in-flight snapshot changed: high=%v", inFlight.Thresholds.High)
	}
}

func TestBuildSnapshotCopiesThresholds(t *testing.T) {
	cfg := testConfig()
	snap, err := BuildSnapshot(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := verdict.Thresholds{Critical: 0.90, High: 0.70, Medium: 0.40, CriticalMinConfidence: 0.85}
	if snap.Thresholds != want {
		t.Errorf("thresholds = %+v, want %+v", snap.Thresholds, want)
	}
	if snap.ApprovalExpiry != cfg.Approval.Expiry {
		t.Errorf("approval expiry = %v, want %v", snap.ApprovalExpiry, cfg.Approval.Expiry)
	}
}
