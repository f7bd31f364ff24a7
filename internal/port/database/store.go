// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// VerdictStore persists coordination verdicts. A verdict is written once.
type VerdictStore interface {
	// CreateVerdict stores v without its actions. It returns
	// domain.ErrConflict when a verdict with the same id exists.
	CreateVerdict(ctx context.Context, v *verdict.Verdict) error
	// CreateVerdictWithActions stores v together with its plan and approval
	// requests in one transaction. Either all of it is stored or none. It
	// returns domain.ErrConflict when a verdict with the same id exists.
	CreateVerdictWithActions(ctx context.Context, v *verdict.Verdict, actions []action.Recommended, approvals []action.ApprovalRequest) error
	GetVerdict(ctx context.Context, id string) (*verdict.Verdict, error)
}

// ActionStore persists recommended actions and their approval requests.
type ActionStore interface {
	// CreateActions stores a plan and the approval requests of its gated
	// actions in one transaction.
	CreateActions(ctx context.Context, actions []action.Recommended, approvals []action.ApprovalRequest) error
	GetAction(ctx context.Context, id string) (*action.Recommended, error)
	ListActionsByVerdict(ctx context.Context, verdictID string) ([]action.Recommended, error)

	// UpdateAction writes a's status as a compare-and-set on a.Version and,
	// when approval is non-nil, records the decision in the same
	// transaction. On success a.Version is incremented. A stale version
	// returns domain.ErrConflict and changes nothing.
	UpdateAction(ctx context.Context, a *action.Recommended, approval *action.ApprovalRequest) error

	GetApproval(ctx context.Context, actionID string) (*action.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context) ([]action.ApprovalRequest, error)
	// ListExpiredApprovals returns undecided requests whose deadline is at
	// or before now.
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]action.ApprovalRequest, error)
}

// AuditStore is the append-only audit sink.
type AuditStore interface {
	// AppendAudit is idempotent on r.ID.
	AppendAudit(ctx context.Context, r *audit.Record) error
	ListAudit(ctx context.Context, subjectID string) ([]audit.Record, error)
}

// Store is the port interface for database operations.
type Store interface {
	VerdictStore
	ActionStore
	AuditStore
}
