package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain"
)

// Decision is a reviewer's verdict on a pending action.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	// DecisionExpire is recorded by the system when the deadline passes.
	// Reviewers cannot submit it.
	DecisionExpire Decision = "expire"
)

// Valid reports whether d is a reviewer decision: approve or reject.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Target returns the status a decision moves an action to.
func (d Decision) Target() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionExpire:
		return StatusExpired
	}
	return StatusRejected
}

// ApprovalRequest links one approval-required action to a reviewer decision.
type ApprovalRequest struct {
	ActionID   string     `json:"action_id"`
	VerdictID  string     `json:"verdict_id"`
	ActionType Type       `json:"action_type"`
	Reasoning  string     `json:"reasoning"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Decision   Decision   `json:"decision,omitempty"`
	Reviewer   string     `json:"reviewer,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// NewApprovalRequest opens an approval window of length expiry for a.
func NewApprovalRequest(a *Recommended, now time.Time, expiry time.Duration) ApprovalRequest {
	return ApprovalRequest{
		ActionID:   a.ID,
		VerdictID:  a.VerdictID,
		ActionType: a.Type,
		Reasoning:  a.Reasoning,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiry),
	}
}

// Decided reports whether a reviewer has already resolved the request.
func (r *ApprovalRequest) Decided() bool {
	return r.Decision != ""
}

// Expired reports whether the deadline passed without a decision.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return !r.Decided() && !now.Before(r.ExpiresAt)
}

// DecisionInput is a reviewer's submission.
type DecisionInput struct {
	Decision Decision `json:"decision"`
	Reviewer string   `json:"reviewer"`
	Comment  string   `json:"comment,omitempty"`
}

// Validate checks the submission names a reviewer and a known decision.
func (in *DecisionInput) Validate() error {
	if !in.Decision.Valid() {
		return fmt.Errorf("%w: decision must be approve or reject", domain.ErrValidation)
	}
	if strings.TrimSpace(in.Reviewer) == "" {
		return fmt.Errorf("%w: reviewer is required", domain.ErrValidation)
	}
	return nil
}

// ExecutionReport is the executor's confirmation for one action.
type ExecutionReport struct {
	Success bool   `json:"success"`
	Ref     string `json:"ref,omitempty"`
	Error   string `json:"error,omitempty"`
	Actor   string `json:"actor,omitempty"`
}
