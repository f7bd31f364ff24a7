package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/MailGuard/internal/config"
	"github.com/Strob0t/MailGuard/internal/domain/policy"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// PolicyService holds the current decision snapshot. Requests load the
// pointer once and keep that snapshot for their whole lifetime; a rebuild
// swaps in a new one without touching snapshots already in use.
type PolicyService struct {
	current atomic.Pointer[policy.Snapshot]

	mu       sync.Mutex // serializes rebuilds
	policies map[string]policy.ActionPolicy
}

// NewPolicyService builds the initial snapshot from cfg.
func NewPolicyService(cfg *config.Config) (*PolicyService, error) {
	s := &PolicyService{}
	if _, err := s.Rebuild(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the snapshot new requests are evaluated against.
func (s *PolicyService) Snapshot() *policy.Snapshot {
	return s.current.Load()
}

// Rebuild loads the action policies and builds a new snapshot from cfg. On
// error the current snapshot stays in place.
func (s *PolicyService) Rebuild(cfg *config.Config) (*policy.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	custom, err := loadCustomPolicies(cfg.Policy.Dir)
	if err != nil {
		return nil, err
	}
	snap, err := BuildSnapshot(cfg, custom)
	if err != nil {
		return nil, err
	}

	available := make(map[string]policy.ActionPolicy)
	for _, name := range policy.PresetNames() {
		p, _ := policy.PresetByName(name)
		available[name] = p
	}
	// Policies from the directory shadow presets of the same name.
	for i := range custom {
		available[custom[i].Name] = custom[i]
	}
	s.policies = available

	prev := s.current.Swap(snap)
	if prev == nil || prev.Version != snap.Version {
		slog.Info("decision snapshot active",
			"version", snap.Version,
			"action_policy", snap.Actions.Name,
			"sources", snap.Weights.Names(),
		)
	}
	return snap, nil
}

// ListPolicies returns the names of every selectable action policy, sorted.
func (s *PolicyService) ListPolicies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.policies))
	for name := range s.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns an action policy by name.
func (s *PolicyService) GetPolicy(name string) (policy.ActionPolicy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[name]
	return p, ok
}

// BuildSnapshot assembles an immutable snapshot from cfg, resolving the
// configured action policy against custom and the presets.
func BuildSnapshot(cfg *config.Config, custom []policy.ActionPolicy) (*policy.Snapshot, error) {
	actions, err := policy.Resolve(cfg.Policy.Name, custom)
	if err != nil {
		return nil, err
	}
	c := &cfg.Coordination
	snap, err := policy.NewSnapshot(policy.Snapshot{
		Weights: verdict.Weights(c.Weights),
		Thresholds: verdict.Thresholds{
			Critical:              c.RiskThresholds.Critical,
			High:                  c.RiskThresholds.High,
			Medium:                c.RiskThresholds.Medium,
			CriticalMinConfidence: c.RiskThresholds.CriticalMinConfidence,
		},
		Quorum: c.Quorum,
		Override: verdict.OverridePolicy{
			Sources:    cfg.DefinitiveSources(),
			MinRisk:    c.Override.MinRisk,
			ForcedRisk: c.Override.ForcedRisk,
		},
		Actions:          actions,
		ApprovalExpiry:   cfg.Approval.Expiry,
		SourceTimeout:    c.SourceTimeout,
		GlobalTimeout:    c.GlobalTimeout,
		NarrativeTimeout: c.NarrativeTimeout,
		TopK:             c.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	return snap, nil
}

func loadCustomPolicies(dir string) ([]policy.ActionPolicy, error) {
	if dir == "" {
		return nil, nil
	}
	custom, err := policy.LoadFromDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("load action policies: %w", err)
	}
	return custom, nil
}
