// Package verdict provides the coordination verdict: confidence-weighted
// aggregation of signal results, risk classification and the explanation
// attached to every verdict.
package verdict

import (
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

// idNamespace scopes name-based verdict ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:mailguard:verdict"))

// NewID returns the verdict id for a request. The same request id always
// yields the same verdict id, which makes replays idempotent.
func NewID(requestID string) string {
	return uuid.NewSHA1(idNamespace, []byte(requestID)).String()
}

// SourceFailure records a configured source that did not contribute.
type SourceFailure struct {
	Source  string             `json:"source"`
	Kind    signal.FailureKind `json:"kind"`
	Message string             `json:"message,omitempty"`
}

// Metadata describes how a verdict was produced.
type Metadata struct {
	ProcessingTime time.Duration `json:"processing_time"`
	PolicyVersion  string        `json:"policy_version"`
	Weights        Weights       `json:"weights"`
	Quorum         int           `json:"quorum"`
	// IgnoredSources reported a result but have no configured weight.
	IgnoredSources []string `json:"ignored_sources,omitempty"`
}

// Verdict is the single risk decision for one analysis request.
type Verdict struct {
	ID            string               `json:"id"`
	RequestID     string               `json:"request_id"`
	FinalRisk     float64              `json:"final_risk"`
	Level         RiskLevel            `json:"risk_level"`
	Uncertainty   float64              `json:"uncertainty"`
	Confidence    float64              `json:"confidence"`
	Contributions []Contribution       `json:"contributions"`
	SourcesUsed   []string             `json:"sources_used"`
	Failures      []SourceFailure      `json:"failures,omitempty"`
	Override      *Override            `json:"override,omitempty"`
	Explanation   Explanation          `json:"explanation"`
	Actions       []action.Recommended `json:"actions"`
	Metadata      Metadata             `json:"metadata"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Failures collects the failure markers of a collection.
func Failures(results []signal.AnalysisResult) []SourceFailure {
	var out []SourceFailure
	for i := range results {
		if f := results[i].Failure; f != nil {
			out = append(out, SourceFailure{Source: results[i].Source, Kind: f.Kind, Message: f.Message})
		}
	}
	return out
}

// FailedOutcome is returned instead of a verdict when aggregation cannot
// produce a defensible score. It is never persisted as a verdict.
type FailedOutcome struct {
	RequestID            string          `json:"request_id"`
	Reason               string          `json:"reason"`
	ManualReviewRequired bool            `json:"manual_review_required"`
	Failures             []SourceFailure `json:"failures,omitempty"`
	SourcesResponded     []string        `json:"sources_responded,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}
