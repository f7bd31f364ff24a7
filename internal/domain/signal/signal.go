// Package signal defines the per-source analysis contract: the request a
// signal source receives and the AnalysisResult (or failure marker) it returns.
package signal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Failure sentinels. A source that fails is excluded from aggregation; none of
// these are fatal to the pipeline on their own.
var (
	ErrSourceTimeout = errors.New("signal source timed out")
	ErrSourceError   = errors.New("signal source error")
	ErrMalformed     = errors.New("signal source returned a malformed result")
)

// Severity is the tier of a single indicator.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Tier orders severities for ranking; unknown severities sort below LOW.
func (s Severity) Tier() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Certainty is an analyst-style certainty label some sources attach to their
// score. DEFINITIVE from a source configured as authoritative triggers the
// override path in the coordinator.
type Certainty string

const (
	CertaintyDefinitive   Certainty = "DEFINITIVE"
	CertaintyHigh         Certainty = "HIGH"
	CertaintyMedium       Certainty = "MEDIUM"
	CertaintyLow          Certainty = "LOW"
	CertaintyInconclusive Certainty = "INCONCLUSIVE"
)

// FailureKind distinguishes why a source did not contribute.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureError     FailureKind = "error"
	FailureMalformed FailureKind = "malformed"
)

// Failure marks a source that produced no usable result.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

// Indicator is one piece of evidence reported by a source.
type Indicator struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
}

// AnalysisResult is the response of one signal source. Exactly one of the
// score fields or Failure is meaningful: when Failure is set the result is
// excluded from aggregation.
type AnalysisResult struct {
	Source     string        `json:"source"`
	RiskScore  float64       `json:"risk_score"`
	Confidence float64       `json:"confidence"`
	Certainty  Certainty     `json:"certainty,omitempty"`
	Indicators []Indicator   `json:"indicators,omitempty"`
	Analysis   string        `json:"analysis,omitempty"`
	Latency    time.Duration `json:"latency"`
	ReceivedAt time.Time     `json:"received_at"`
	Failure    *Failure      `json:"failure,omitempty"`
}

// OK reports whether the result carries a usable score.
func (r *AnalysisResult) OK() bool {
	return r.Failure == nil
}

// Validate checks the numeric ranges of a successful result.
func (r *AnalysisResult) Validate() error {
	if r.Source == "" {
		return fmt.Errorf("%w: source is required", ErrMalformed)
	}
	if !inUnit(r.RiskScore) {
		return fmt.Errorf("%w: %s risk_score %v outside [0,1]", ErrMalformed, r.Source, r.RiskScore)
	}
	if !inUnit(r.Confidence) {
		return fmt.Errorf("%w: %s confidence %v outside [0,1]", ErrMalformed, r.Source, r.Confidence)
	}
	for i := range r.Indicators {
		if !inUnit(r.Indicators[i].Confidence) {
			return fmt.Errorf("%w: %s indicator[%d] confidence outside [0,1]", ErrMalformed, r.Source, i)
		}
	}
	return nil
}

// Failed builds a failure marker result for source.
func Failed(source string, kind FailureKind, msg string, latency time.Duration) AnalysisResult {
	return AnalysisResult{
		Source:     source,
		Latency:    latency,
		ReceivedAt: time.Now().UTC(),
		Failure:    &Failure{Kind: kind, Message: msg},
	}
}

// KindOf maps an error returned by a source call to a failure kind.
func KindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ErrMalformed):
		return FailureMalformed
	case errors.Is(err, ErrSourceTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	}
	return FailureError
}

// inUnit rejects NaN as well as values outside [0,1].
func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
