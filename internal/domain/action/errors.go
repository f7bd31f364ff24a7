package action

import "errors"

var (
	// ErrApprovalConflict is returned when a decision arrives for an action
	// that has already been resolved. State is left unchanged.
	ErrApprovalConflict = errors.New("approval conflict: action already resolved")

	// ErrApprovalExpired is returned when a decision arrives after the
	// approval deadline. The action is moved to EXPIRED.
	ErrApprovalExpired = errors.New("approval expired")

	// ErrInvalidTransition is returned for any move the state machine forbids,
	// including every move out of a terminal status.
	ErrInvalidTransition = errors.New("invalid action status transition")

	// ErrUnknownType is returned for an unrecognized action type.
	ErrUnknownType = errors.New("unknown action type")

	// ErrExecutionFailed is returned when the executor reports a failure.
	ErrExecutionFailed = errors.New("action execution failed")
)
