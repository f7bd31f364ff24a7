// Package narrator defines the optional narrative-enrichment port. A
// Narrator turns ranked indicators and verdict fields into prose; its
// absence or failure must never fail a verdict.
package narrator

import (
	"context"

	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// Request carries everything a narrator may use. It never includes the raw
// email body.
type Request struct {
	Subject     string                    `json:"subject,omitempty"`
	Sender      string                    `json:"sender,omitempty"`
	Level       verdict.RiskLevel         `json:"risk_level"`
	FinalRisk   float64                   `json:"final_risk"`
	Certainty   signal.Certainty          `json:"certainty"`
	Summary     string                    `json:"summary"`
	Indicators  []verdict.RankedIndicator `json:"indicators"`
	Breakdown   []verdict.SourceBreakdown `json:"breakdown"`
	Override    *verdict.Override         `json:"override,omitempty"`
	Unavailable []verdict.SourceFailure   `json:"unavailable,omitempty"`
}

// Narrator produces narrative prose for a verdict.
type Narrator interface {
	Narrate(ctx context.Context, req *Request) (string, error)
}
