package messagequeue

import (
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

// AnalyzePayload is the schema for emails.analyze messages. Results, when
// present, are pre-computed signal results and skip collection.
type AnalyzePayload struct {
	Request signal.Request          `json:"request"`
	Results []signal.AnalysisResult `json:"results,omitempty"`
}

// VerdictCreatedPayload is the schema for verdicts.created messages.
type VerdictCreatedPayload struct {
	VerdictID  string   `json:"verdict_id"`
	RequestID  string   `json:"request_id"`
	RiskLevel  string   `json:"risk_level"`
	FinalRisk  float64  `json:"final_risk"`
	Confidence float64  `json:"confidence"`
	Actions    []string `json:"actions"`
	Pending    int      `json:"pending_approvals"`
}

// VerdictFailedPayload is the schema for verdicts.failed messages.
type VerdictFailedPayload struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// ActionExecutePayload is the request body of actions.execute.{type}.
type ActionExecutePayload struct {
	Action action.Recommended `json:"action"`
}

// ActionExecuteReply is the reply body of actions.execute.{type}.
type ActionExecuteReply = action.ExecutionReport

// SignalRequestPayload is the request body of signals.analyze.{source}.
type SignalRequestPayload struct {
	Request signal.Request `json:"request"`
}

// ApprovalResolvedPayload is the schema for approvals.resolved messages.
type ApprovalResolvedPayload struct {
	ActionID  string `json:"action_id"`
	VerdictID string `json:"verdict_id"`
	Status    string `json:"status"`
	Reviewer  string `json:"reviewer"`
}
