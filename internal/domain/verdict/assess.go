package verdict

import (
	"fmt"
	"slices"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

// OverridePolicy names the authoritative sources whose DEFINITIVE finding
// forces a CRITICAL verdict regardless of the weighted score.
type OverridePolicy struct {
	Sources    []string `yaml:"sources" json:"sources"`
	MinRisk    float64  `yaml:"min_risk" json:"min_risk"`
	ForcedRisk float64  `yaml:"forced_risk" json:"forced_risk"`
}

// DefaultOverridePolicy returns an override that triggers at risk ≥0.90 and
// forces the final risk to 0.95. No source is authoritative until configured.
func DefaultOverridePolicy() OverridePolicy {
	return OverridePolicy{MinRisk: 0.90, ForcedRisk: 0.95}
}

// Validate checks the override bounds.
func (p OverridePolicy) Validate() error {
	if p.MinRisk < 0 || p.MinRisk > 1 {
		return fmt.Errorf("%w: override.min_risk must be in [0,1]", domain.ErrValidation)
	}
	if p.ForcedRisk < 0 || p.ForcedRisk > 1 {
		return fmt.Errorf("%w: override.forced_risk must be in [0,1]", domain.ErrValidation)
	}
	return nil
}

// Override records that an authoritative source short-circuited the score.
type Override struct {
	Source         string           `json:"source"`
	Certainty      signal.Certainty `json:"certainty"`
	SourceRisk     float64          `json:"source_risk"`
	AggregateRisk  float64          `json:"aggregate_risk"`
	AggregateLevel RiskLevel        `json:"aggregate_level"`
	Reasoning      string           `json:"reasoning,omitempty"`
}

// DetectOverride returns the first authoritative source, in source-name
// order, reporting a DEFINITIVE result at or above MinRisk.
func DetectOverride(results []signal.AnalysisResult, p OverridePolicy) *Override {
	if len(p.Sources) == 0 {
		return nil
	}
	var hit *signal.AnalysisResult
	for i := range results {
		r := &results[i]
		if !r.OK() || r.Certainty != signal.CertaintyDefinitive || r.RiskScore < p.MinRisk {
			continue
		}
		if !slices.Contains(p.Sources, r.Source) {
			continue
		}
		if hit == nil || r.Source < hit.Source {
			hit = r
		}
	}
	if hit == nil {
		return nil
	}
	return &Override{
		Source:     hit.Source,
		Certainty:  hit.Certainty,
		SourceRisk: hit.RiskScore,
		Reasoning:  hit.Analysis,
	}
}

// Params are the numeric policy inputs of an assessment, taken from one
// immutable snapshot.
type Params struct {
	Weights    Weights
	Thresholds Thresholds
	Quorum     int
	Override   OverridePolicy
}

// Assessment is the scored, classified result of one request.
type Assessment struct {
	Aggregation
	Level    RiskLevel `json:"risk_level"`
	Override *Override `json:"override,omitempty"`
}

// Assess aggregates, classifies and applies the authoritative-source
// override. Aggregation failures are returned unchanged; an override never
// rescues a request that failed quorum.
func Assess(results []signal.AnalysisResult, p Params) (Assessment, error) {
	agg, err := Aggregate(results, p.Weights, p.Quorum)
	if err != nil {
		return Assessment{}, err
	}
	a := Assessment{
		Aggregation: agg,
		Level:       p.Thresholds.Classify(agg.FinalRisk, agg.Confidence),
	}
	if ov := DetectOverride(results, p.Override); ov != nil {
		ov.AggregateRisk = agg.FinalRisk
		ov.AggregateLevel = a.Level
		a.Override = ov
		a.FinalRisk = p.Override.ForcedRisk
		a.Level = LevelCritical
	}
	return a, nil
}
