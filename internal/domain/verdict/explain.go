package verdict

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

// DefaultTopK is the number of indicators surfaced in an explanation.
const DefaultTopK = 5

// NarrativeOrigin records where the narrative prose came from.
type NarrativeOrigin string

const (
	NarrativeGenerated NarrativeOrigin = "generated"
	NarrativeTemplate  NarrativeOrigin = "template"
)

// RankedIndicator is an indicator placed in the cross-source ranking.
type RankedIndicator struct {
	Rank         int             `json:"rank"`
	Source       string          `json:"source"`
	SourceWeight float64         `json:"source_weight"`
	Type         string          `json:"type"`
	Severity     signal.Severity `json:"severity"`
	Confidence   float64         `json:"confidence"`
	Description  string          `json:"description"`
	Evidence     []string        `json:"evidence,omitempty"`
}

// SourceBreakdown is one line of the per-source risk breakdown.
type SourceBreakdown struct {
	Source    string    `json:"source"`
	Level     RiskLevel `json:"level"`
	RiskScore float64   `json:"risk_score"`
	Finding   string    `json:"finding,omitempty"`
	Text      string    `json:"text"`
}

// Explanation is the structured and narrative account of a verdict.
type Explanation struct {
	Summary             string            `json:"summary"`
	Narrative           string            `json:"narrative"`
	NarrativeOrigin     NarrativeOrigin   `json:"narrative_origin"`
	Certainty           signal.Certainty  `json:"certainty"`
	TopIndicators       []RankedIndicator `json:"top_indicators"`
	Breakdown           []SourceBreakdown `json:"breakdown"`
	UserRecommendations []string          `json:"user_recommendations,omitempty"`
}

// RankIndicators orders every indicator of the present results by severity
// tier, confidence and source weight, all descending. Remaining ties are
// broken by source, type, description and evidence so the order is total.
func RankIndicators(results []signal.AnalysisResult, weights Weights) []RankedIndicator {
	var out []RankedIndicator
	for i := range results {
		r := &results[i]
		if !r.OK() {
			continue
		}
		for _, ind := range r.Indicators {
			out = append(out, RankedIndicator{
				Source:       r.Source,
				SourceWeight: weights[r.Source],
				Type:         ind.Type,
				Severity:     ind.Severity,
				Confidence:   ind.Confidence,
				Description:  ind.Description,
				Evidence:     ind.Evidence,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if ta, tb := a.Severity.Tier(), b.Severity.Tier(); ta != tb {
			return ta > tb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SourceWeight != b.SourceWeight {
			return a.SourceWeight > b.SourceWeight
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Description != b.Description {
			return a.Description < b.Description
		}
		return strings.Join(a.Evidence, "\x00") < strings.Join(b.Evidence, "\x00")
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// TopK returns at most k ranked indicators.
func TopK(ranked []RankedIndicator, k int) []RankedIndicator {
	if k <= 0 {
		k = DefaultTopK
	}
	if len(ranked) > k {
		return ranked[:k]
	}
	return ranked
}

// Breakdown describes each present source as "<LEVEL> (<score>) - <finding>",
// where the finding is the source's highest-ranked indicator.
func Breakdown(results []signal.AnalysisResult, ranked []RankedIndicator, t Thresholds) []SourceBreakdown {
	primary := make(map[string]string)
	for _, ind := range ranked {
		if _, ok := primary[ind.Source]; !ok {
			primary[ind.Source] = ind.Description
		}
	}
	var out []SourceBreakdown
	for i := range results {
		r := &results[i]
		if !r.OK() {
			continue
		}
		finding, ok := primary[r.Source]
		if !ok {
			finding = firstSentence(r.Analysis)
		}
		b := SourceBreakdown{
			Source:    r.Source,
			Level:     t.Classify(r.RiskScore, 1),
			RiskScore: r.RiskScore,
			Finding:   finding,
		}
		b.Text = fmt.Sprintf("%s (%.2f)", b.Level, b.RiskScore)
		if finding != "" {
			b.Text += " - " + finding
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// CertaintyOf maps an aggregate confidence to an analyst certainty label.
func CertaintyOf(confidence float64) signal.Certainty {
	switch {
	case confidence >= 0.95:
		return signal.CertaintyDefinitive
	case confidence >= 0.85:
		return signal.CertaintyHigh
	case confidence >= 0.70:
		return signal.CertaintyMedium
	case confidence >= 0.50:
		return signal.CertaintyLow
	}
	return signal.CertaintyInconclusive
}

// Summary is the one-line verdict statement.
func Summary(a *Assessment, certainty signal.Certainty) string {
	pct := a.FinalRisk * 100
	switch a.Level {
	case LevelCritical:
		return fmt.Sprintf("This email exhibits critical security threats (%.0f%% risk, %s certainty). Immediate action is required.", pct, certainty)
	case LevelHigh:
		return fmt.Sprintf("This email shows strong phishing indicators (%.0f%% risk, %s certainty).", pct, certainty)
	case LevelMedium:
		return fmt.Sprintf("This email contains some suspicious characteristics (%.0f%% risk, %s certainty). Review is recommended before acting on it.", pct, certainty)
	}
	return fmt.Sprintf("This email appears legitimate with minimal risk indicators (%.0f%% risk, %s certainty).", pct, certainty)
}

// TemplateNarrative builds the deterministic prose used whenever generated
// narrative is unavailable.
func TemplateNarrative(a *Assessment, top []RankedIndicator, failures []SourceFailure) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk assessed as %s with a final score of %.2f from %d source(s)",
		a.Level, a.FinalRisk, len(a.SourcesUsed))
	if len(a.Contributions) > 0 {
		c := a.Contributions[0]
		fmt.Fprintf(&sb, "; %s contributed most (%.2f)", c.Source, c.Contribution)
	}
	sb.WriteString(".")
	if a.Override != nil {
		fmt.Fprintf(&sb, " %s reported a DEFINITIVE threat (%.2f), which overrides the weighted score of %.2f.",
			a.Override.Source, a.Override.SourceRisk, a.Override.AggregateRisk)
	}
	if len(top) > 0 {
		descs := make([]string, 0, len(top))
		for _, ind := range top {
			descs = append(descs, fmt.Sprintf("%s (%s, %s)", ind.Description, ind.Severity, ind.Source))
		}
		fmt.Fprintf(&sb, " Top indicators: %s.", strings.Join(descs, "; "))
	} else {
		sb.WriteString(" No indicators were reported.")
	}
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for _, f := range failures {
			names = append(names, fmt.Sprintf("%s (%s)", f.Source, f.Kind))
		}
		fmt.Fprintf(&sb, " Unavailable sources: %s; uncertainty %.2f.", strings.Join(names, ", "), a.Uncertainty)
	}
	return sb.String()
}

// Explain builds the explanation with the template narrative. Only the
// sources that counted toward the score are ranked and broken down. Callers
// may replace the narrative with generated prose afterwards.
func Explain(a *Assessment, results []signal.AnalysisResult, weights Weights, t Thresholds, topK int) Explanation {
	used := usedResults(results, a.SourcesUsed)
	ranked := RankIndicators(used, weights)
	top := TopK(ranked, topK)
	certainty := CertaintyOf(a.Confidence)
	if a.Override != nil {
		certainty = signal.CertaintyDefinitive
	}
	return Explanation{
		Summary:         Summary(a, certainty),
		Narrative:       TemplateNarrative(a, top, Failures(results)),
		NarrativeOrigin: NarrativeTemplate,
		Certainty:       certainty,
		TopIndicators:   top,
		Breakdown:       Breakdown(used, ranked, t),
	}
}

func usedResults(results []signal.AnalysisResult, used []string) []signal.AnalysisResult {
	out := make([]signal.AnalysisResult, 0, len(used))
	for i := range results {
		if results[i].OK() && slices.Contains(used, results[i].Source) {
			out = append(out, results[i])
		}
	}
	return out
}

// UserRecommendations returns the advice shown to the mailbox owner.
func UserRecommendations(level RiskLevel, quarantined bool) []string {
	switch level {
	case LevelCritical:
		recs := []string{
			"Do not click any links or open attachments in this email.",
			"Do not provide any credentials or sensitive information.",
			"Do not reply to this email or engage with the sender.",
		}
		if quarantined {
			recs = append(recs, "This email has been quarantined for your protection.")
		}
		return append(recs,
			"The security team has been notified.",
			"If you believe this is a false positive, contact the security team for review.")
	case LevelHigh:
		recs := []string{
			"Exercise extreme caution with this email.",
			"Do not click links or download attachments unless verified.",
		}
		if quarantined {
			recs = append(recs, "This email has been quarantined as a precaution.")
		}
		return append(recs,
			"Verify the sender through a separate channel before responding.",
			"Report suspicious emails to your security team.")
	case LevelMedium:
		return []string{
			"This email has some suspicious characteristics.",
			"Verify the sender's identity before clicking links or providing information.",
			"Check whether you were expecting this email.",
			"When in doubt, contact the supposed sender through known contact methods.",
		}
	}
	return []string{
		"This email appears legitimate with no significant risk indicators.",
		"Always verify unexpected requests, even from known senders.",
	}
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i >= 0 {
		s = s[:i]
	}
	const maxLen = 160
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
