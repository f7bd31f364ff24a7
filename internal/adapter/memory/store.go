// Package memory provides an in-process implementation of database.Store for
// tests and single-node deployments without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// Store keeps everything in maps guarded by one mutex. Values are copied on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu        sync.RWMutex
	verdicts  map[string]verdict.Verdict
	actions   map[string]action.Recommended
	byVerdict map[string][]string // verdict id -> action ids in plan order
	approvals map[string]action.ApprovalRequest
	audit     []audit.Record
	auditIDs  map[string]bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		verdicts:  make(map[string]verdict.Verdict),
		actions:   make(map[string]action.Recommended),
		byVerdict: make(map[string][]string),
		approvals: make(map[string]action.ApprovalRequest),
		auditIDs:  make(map[string]bool),
	}
}

func (s *Store) CreateVerdict(_ context.Context, v *verdict.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVerdict(v.ID); err != nil {
		return err
	}
	s.putVerdict(v)
	return nil
}

func (s *Store) CreateVerdictWithActions(_ context.Context, v *verdict.Verdict, actions []action.Recommended, approvals []action.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVerdict(v.ID); err != nil {
		return err
	}
	if err := s.checkActions(actions); err != nil {
		return err
	}
	s.putVerdict(v)
	s.putActions(actions, approvals)
	return nil
}

// checkVerdict must be called with s.mu held.
func (s *Store) checkVerdict(id string) error {
	if _, ok := s.verdicts[id]; ok {
		return fmt.Errorf("create verdict %s: %w", id, domain.ErrConflict)
	}
	return nil
}

// putVerdict must be called with s.mu held.
func (s *Store) putVerdict(v *verdict.Verdict) {
	c := *v
	c.Actions = nil
	c.Contributions = slices.Clone(v.Contributions)
	c.SourcesUsed = slices.Clone(v.SourcesUsed)
	c.Failures = slices.Clone(v.Failures)
	s.verdicts[v.ID] = c
}

func (s *Store) GetVerdict(_ context.Context, id string) (*verdict.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verdicts[id]
	if !ok {
		return nil, fmt.Errorf("get verdict %s: %w", id, domain.ErrNotFound)
	}
	v.Actions = s.actionsOf(id)
	return &v, nil
}

func (s *Store) CreateActions(_ context.Context, actions []action.Recommended, approvals []action.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActions(actions); err != nil {
		return err
	}
	s.putActions(actions, approvals)
	return nil
}

// checkActions must be called with s.mu held.
func (s *Store) checkActions(actions []action.Recommended) error {
	for i := range actions {
		if _, ok := s.actions[actions[i].ID]; ok {
			return fmt.Errorf("create action %s: %w", actions[i].ID, domain.ErrConflict)
		}
	}
	return nil
}

// putActions must be called with s.mu held.
func (s *Store) putActions(actions []action.Recommended, approvals []action.ApprovalRequest) {
	for i := range actions {
		a := actions[i]
		s.actions[a.ID] = a
		s.byVerdict[a.VerdictID] = append(s.byVerdict[a.VerdictID], a.ID)
	}
	for i := range approvals {
		s.approvals[approvals[i].ActionID] = approvals[i]
	}
}

func (s *Store) GetAction(_ context.Context, id string) (*action.Recommended, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, fmt.Errorf("get action %s: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (s *Store) ListActionsByVerdict(_ context.Context, verdictID string) ([]action.Recommended, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actionsOf(verdictID), nil
}

// actionsOf must be called with s.mu held.
func (s *Store) actionsOf(verdictID string) []action.Recommended {
	ids := s.byVerdict[verdictID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]action.Recommended, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.actions[id])
	}
	return out
}

func (s *Store) UpdateAction(_ context.Context, a *action.Recommended, approval *action.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.actions[a.ID]
	if !ok {
		return fmt.Errorf("update action %s: %w", a.ID, domain.ErrNotFound)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("update action %s: %w", a.ID, domain.ErrConflict)
	}
	if approval != nil {
		stored, ok := s.approvals[approval.ActionID]
		if !ok || stored.Decided() {
			return fmt.Errorf("decide approval %s: %w", approval.ActionID, domain.ErrConflict)
		}
		stored.Decision = approval.Decision
		stored.Reviewer = approval.Reviewer
		stored.Comment = approval.Comment
		stored.DecidedAt = approval.DecidedAt
		s.approvals[approval.ActionID] = stored
	}
	a.Version++
	s.actions[a.ID] = *a
	return nil
}

func (s *Store) GetApproval(_ context.Context, actionID string) (*action.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.approvals[actionID]
	if !ok {
		return nil, fmt.Errorf("get approval %s: %w", actionID, domain.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) ListPendingApprovals(_ context.Context) ([]action.ApprovalRequest, error) {
	return s.filterApprovals(func(r *action.ApprovalRequest) bool { return !r.Decided() }), nil
}

func (s *Store) ListExpiredApprovals(_ context.Context, now time.Time) ([]action.ApprovalRequest, error) {
	return s.filterApprovals(func(r *action.ApprovalRequest) bool { return r.Expired(now) }), nil
}

func (s *Store) filterApprovals(keep func(*action.ApprovalRequest) bool) []action.ApprovalRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []action.ApprovalRequest
	for _, r := range s.approvals {
		if keep(&r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b action.ApprovalRequest) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.ActionID, b.ActionID)
	})
	return out
}

func (s *Store) AppendAudit(_ context.Context, r *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditIDs[r.ID] {
		return nil
	}
	s.auditIDs[r.ID] = true
	s.audit = append(s.audit, *r)
	return nil
}

// ListAudit returns the records of subjectID and, for a verdict, of its
// actions, oldest first.
func (s *Store) ListAudit(_ context.Context, subjectID string) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subjects := map[string]bool{subjectID: true}
	for _, id := range s.byVerdict[subjectID] {
		subjects[id] = true
	}
	var out []audit.Record
	for _, r := range s.audit {
		if subjects[r.SubjectID] {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b audit.Record) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}
