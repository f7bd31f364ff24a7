package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/MailGuard/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// VerdictEvent is broadcast when a verdict is produced.
type VerdictEvent struct {
	VerdictID        string   `json:"verdict_id"`
	RequestID        string   `json:"request_id"`
	RiskLevel        string   `json:"risk_level"`
	FinalRisk        float64  `json:"final_risk"`
	Summary          string   `json:"summary"`
	Actions          []string `json:"actions"`
	PendingApprovals int      `json:"pending_approvals"`
}

// FailedVerdictEvent is broadcast when a request falls back to manual review.
type FailedVerdictEvent struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// ApprovalEvent is broadcast when an approval opens or is resolved.
type ApprovalEvent struct {
	ActionID   string `json:"action_id"`
	VerdictID  string `json:"verdict_id"`
	ActionType string `json:"action_type"`
	Status     string `json:"status"`
	Reviewer   string `json:"reviewer,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// ActionEvent is broadcast when the executor reports on an action.
type ActionEvent struct {
	ActionID  string `json:"action_id"`
	VerdictID string `json:"verdict_id"`
	Status    string `json:"status"`
	Ref       string `json:"ref,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
