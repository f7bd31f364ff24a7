package verdict

import (
	"fmt"
	"math"
	"sort"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

// weightSumTolerance absorbs float rounding in hand-written YAML weights.
const weightSumTolerance = 1e-6

// Weights maps a signal source name to its configured weight.
type Weights map[string]float64

// Validate checks every weight is in [0,1] and that they sum to 1.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("%w: weights must name at least one source", domain.ErrValidation)
	}
	sum := 0.0
	for name, v := range w {
		if name == "" {
			return fmt.Errorf("%w: weights contain an empty source name", domain.ErrValidation)
		}
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: weight for %q must be in [0,1]", domain.ErrValidation, name)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("%w: weights must sum to 1, got %.6f", domain.ErrValidation, sum)
	}
	return nil
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Names returns the configured source names, sorted.
func (w Weights) Names() []string {
	names := make([]string, 0, len(w))
	for k := range w {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Contribution is one source's share of the final score.
type Contribution struct {
	Source          string  `json:"source"`
	RiskScore       float64 `json:"risk_score"`
	Confidence      float64 `json:"confidence"`
	Weight          float64 `json:"weight"`
	EffectiveWeight float64 `json:"effective_weight"` // weight renormalized over present sources
	Contribution    float64 `json:"contribution"`     // rᵢcᵢwᵢ / Σcⱼwⱼ; contributions sum to FinalRisk
}

// Aggregation is the numeric outcome of combining present results.
type Aggregation struct {
	FinalRisk     float64        `json:"final_risk"`
	Uncertainty   float64        `json:"uncertainty"`
	Confidence    float64        `json:"confidence"`
	Contributions []Contribution `json:"contributions"`
	SourcesUsed   []string       `json:"sources_used"`
	Ignored       []string       `json:"ignored,omitempty"`
}

// Aggregate combines the present results with confidence-weighted,
// renormalized averaging:
//
//	final_risk  = Σ(rᵢ·cᵢ·wᵢ) / Σ(cᵢ·wᵢ)
//	uncertainty = 1 − mean(cᵢ)
//
// Failed results and results from sources without a configured weight are
// excluded from both sums. quorum below 1 is treated as 1.
func Aggregate(results []signal.AnalysisResult, weights Weights, quorum int) (Aggregation, error) {
	if quorum < 1 {
		quorum = 1
	}

	var agg Aggregation
	present := make([]signal.AnalysisResult, 0, len(results))
	for i := range results {
		r := results[i]
		if !r.OK() {
			continue
		}
		if _, ok := weights[r.Source]; !ok || r.Validate() != nil {
			agg.Ignored = append(agg.Ignored, r.Source)
			continue
		}
		present = append(present, r)
	}

	if len(present) < quorum {
		return Aggregation{}, fmt.Errorf("%w: %d of %d required", ErrInsufficientSignal, len(present), quorum)
	}

	var num, den, weightSum, confSum float64
	for i := range present {
		r := &present[i]
		w := weights[r.Source]
		num += r.RiskScore * r.Confidence * w
		den += r.Confidence * w
		weightSum += w
		confSum += r.Confidence
	}
	if den == 0 {
		return Aggregation{}, fmt.Errorf("%w: %d sources present", ErrDegenerateAggregation, len(present))
	}

	agg.FinalRisk = clampUnit(num / den)
	agg.Uncertainty = clampUnit(1 - confSum/float64(len(present)))
	if weightSum > 0 {
		agg.Confidence = clampUnit(den / weightSum)
	}

	agg.Contributions = make([]Contribution, 0, len(present))
	for i := range present {
		r := &present[i]
		w := weights[r.Source]
		c := Contribution{
			Source:       r.Source,
			RiskScore:    r.RiskScore,
			Confidence:   r.Confidence,
			Weight:       w,
			Contribution: r.RiskScore * r.Confidence * w / den,
		}
		if weightSum > 0 {
			c.EffectiveWeight = w / weightSum
		}
		agg.Contributions = append(agg.Contributions, c)
		agg.SourcesUsed = append(agg.SourcesUsed, r.Source)
	}
	sort.SliceStable(agg.Contributions, func(i, j int) bool {
		a, b := agg.Contributions[i], agg.Contributions[j]
		if a.Contribution != b.Contribution {
			return a.Contribution > b.Contribution
		}
		return a.Source < b.Source
	})
	sort.Strings(agg.SourcesUsed)
	sort.Strings(agg.Ignored)

	return agg, nil
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
