// Package action provides the domain model for recommended remediation
// actions, their typed parameter payloads and the approval state machine.
package action

import (
	"fmt"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain"
)

// Type is the kind of remediation an action performs.
type Type string

const (
	TypeQuarantine  Type = "QUARANTINE"
	TypeBlockSender Type = "BLOCK_SENDER"
	TypeAlert       Type = "ALERT"
	TypeTag         Type = "TAG"
	TypeLog         Type = "LOG"
	TypeNoAction    Type = "NO_ACTION"
)

// Types lists every known action type.
func Types() []Type {
	return []Type{TypeQuarantine, TypeBlockSender, TypeAlert, TypeTag, TypeLog, TypeNoAction}
}

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	switch t {
	case TypeQuarantine, TypeBlockSender, TypeAlert, TypeTag, TypeLog, TypeNoAction:
		return true
	}
	return false
}

// Priority is derived from the verdict's risk level.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Recommended is one entry of a verdict's action plan.
type Recommended struct {
	ID               string     `json:"id"`
	VerdictID        string     `json:"verdict_id"`
	Type             Type       `json:"type"`
	Priority         Priority   `json:"priority"`
	Confidence       float64    `json:"confidence"`
	Params           Params     `json:"-"`
	RequiresApproval bool       `json:"requires_approval"`
	Reasoning        string     `json:"reasoning"`
	Status           Status     `json:"status"`
	Version          int        `json:"version"`
	ExecutionRef     string     `json:"execution_ref,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`
}

// Validate checks the action is internally consistent.
func (a *Recommended) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: action confidence must be in [0,1]", domain.ErrValidation)
	}
	if a.Params == nil {
		return fmt.Errorf("%w: %s action has no params", domain.ErrValidation, a.Type)
	}
	if a.Params.ActionType() != a.Type {
		return fmt.Errorf("%w: %s action carries %s params", domain.ErrValidation, a.Type, a.Params.ActionType())
	}
	if a.Type == TypeBlockSender && !a.RequiresApproval {
		return fmt.Errorf("%w: BLOCK_SENDER must require approval", domain.ErrValidation)
	}
	if a.Status != "" && !a.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, a.Status)
	}
	return a.Params.Validate()
}

// Transition moves the action to status to. It fails with
// ErrInvalidTransition when the state machine forbids the move.
func (a *Recommended) Transition(to Status, now time.Time) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, a.ID, a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = now
	if to == StatusExecuted {
		t := now
		a.ExecutedAt = &t
	}
	return nil
}

// Executable reports whether the executor may run the action now.
func (a *Recommended) Executable() bool {
	if a.Type == TypeNoAction {
		return false
	}
	switch a.Status {
	case StatusProposed:
		return !a.RequiresApproval
	case StatusApproved:
		return true
	}
	return false
}
