// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event types pushed to reviewer clients.
const (
	EventVerdictCreated    = "verdict.created"
	EventVerdictFailed     = "verdict.failed"
	EventApprovalPending   = "approval.pending"
	EventApprovalResolved  = "approval.resolved"
	EventActionExecuted    = "action.executed"
	EventActionExecFailure = "action.execution_failed"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
