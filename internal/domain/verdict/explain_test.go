package verdict

import (
	"strings"
	"testing"

	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

func indicatorResults() []signal.AnalysisResult {
	return []signal.AnalysisResult{
		{
			Source: "linguistic", RiskScore: 0.9, Confidence: 0.92,
			Indicators: []signal.Indicator{
				{Type: "urgency", Severity: signal.SeverityMedium, Confidence: 0.8, Description: "urgent language"},
				{Type: "credential_request", Severity: signal.SeverityHigh, Confidence: 0.9, Description: "asks for password"},
			},
		},
		{
			Source: "threat_intelligence", RiskScore: 0.95, Confidence: 0.99, Certainty: signal.CertaintyDefinitive,
			Analysis: "URL listed by Safe Browsing. Second sentence.",
			Indicators: []signal.Indicator{
				{Type: "malicious_url", Severity: signal.SeverityCritical, Confidence: 0.99, Description: "URL on blocklist"},
				{Type: "credential_request", Severity: signal.SeverityHigh, Confidence: 0.9, Description: "phishing kit match"},
			},
		},
		{
			Source: "technical_validation", RiskScore: 0.3, Confidence: 0.7,
			Analysis: "Domain registered 400 days ago. SPF pass.",
		},
		signal.Failed("sandbox", signal.FailureTimeout, "deadline", 0),
	}
}

func TestRankIndicatorsOrder(t *testing.T) {
	ranked := RankIndicators(indicatorResults(), threeSourceWeights())
	want := []string{"URL on blocklist", "asks for password", "phishing kit match", "urgent language"}
	if len(ranked) != len(want) {
		t.Fatalf("ranked %d indicators, want %d", len(ranked), len(want))
	}
	for i, w := range want {
		if ranked[i].Description != w {
			t.Errorf("rank %d = %q, want %q", i+1, ranked[i].Description, w)
		}
		if ranked[i].Rank != i+1 {
			t.Errorf("rank field = %d, want %d", ranked[i].Rank, i+1)
		}
	}

	again := RankIndicators(indicatorResults(), threeSourceWeights())
	for i := range ranked {
		if ranked[i].Description != again[i].Description {
			t.Fatal("ranking is not deterministic")
		}
	}
}

func TestTopK(t *testing.T) {
	ranked := RankIndicators(indicatorResults(), threeSourceWeights())
	if got := len(TopK(ranked, 2)); got != 2 {
		t.Errorf("TopK(2) = %d items", got)
	}
	if got := len(TopK(ranked, 0)); got != len(ranked) {
		t.Errorf("TopK(0) = %d items, want default capped at %d", got, len(ranked))
	}
}

func TestBreakdown(t *testing.T) {
	results := indicatorResults()
	ranked := RankIndicators(results, threeSourceWeights())
	bd := Breakdown(results, ranked, DefaultThresholds())
	if len(bd) != 3 {
		t.Fatalf("breakdown has %d lines, want 3", len(bd))
	}
	byName := map[string]SourceBreakdown{}
	for _, b := range bd {
		byName[b.Source] = b
	}
	if got := byName["threat_intelligence"].Text; got != "CRITICAL (0.95) - URL on blocklist" {
		t.Errorf("threat text = %q", got)
	}
	if got := byName["technical_validation"].Text; got != "LOW (0.30) - Domain registered 400 days ago" {
		t.Errorf("technical text = %q", got)
	}
}

func TestAssessOverride(t *testing.T) {
	p := Params{
		Weights:    threeSourceWeights(),
		Thresholds: DefaultThresholds(),
		Quorum:     1,
		Override:   OverridePolicy{Sources: []string{"threat_intelligence"}, MinRisk: 0.9, ForcedRisk: 0.95},
	}
	results := []signal.AnalysisResult{
		ok("linguistic", 0.1, 0.9),
		ok("technical_validation", 0.1, 0.9),
		{Source: "threat_intelligence", RiskScore: 0.92, Confidence: 0.99, Certainty: signal.CertaintyDefinitive},
	}
	a, err := Assess(results, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Override == nil {
		t.Fatal("expected override")
	}
	if a.Level != LevelCritical || a.FinalRisk != 0.95 {
		t.Errorf("got %s %.2f, want CRITICAL 0.95", a.Level, a.FinalRisk)
	}
	if a.Override.AggregateLevel != LevelLow {
		t.Errorf("aggregate level = %s, want LOW", a.Override.AggregateLevel)
	}

	p.Override.Sources = nil
	a, err = Assess(results, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Override != nil || a.Level == LevelCritical {
		t.Errorf("override must not apply without authoritative sources: %+v", a)
	}
}

func TestExplainTemplate(t *testing.T) {
	results := indicatorResults()
	p := Params{Weights: threeSourceWeights(), Thresholds: DefaultThresholds(), Quorum: 1}
	a, err := Assess(results, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ex := Explain(&a, results, p.Weights, p.Thresholds, 3)
	if ex.NarrativeOrigin != NarrativeTemplate {
		t.Errorf("origin = %s, want template", ex.NarrativeOrigin)
	}
	if len(ex.TopIndicators) != 3 {
		t.Errorf("top indicators = %d, want 3", len(ex.TopIndicators))
	}
	if !strings.Contains(ex.Narrative, string(a.Level)) {
		t.Errorf("narrative %q does not mention level %s", ex.Narrative, a.Level)
	}
	if !strings.Contains(ex.Narrative, "sandbox (timeout)") {
		t.Errorf("narrative %q does not mention failed source", ex.Narrative)
	}
	if ex.Summary == "" {
		t.Error("summary is empty")
	}

	again := Explain(&a, results, p.Weights, p.Thresholds, 3)
	if again.Narrative != ex.Narrative {
		t.Error("template narrative is not deterministic")
	}
}

func TestExplainSkipsIgnoredSources(t *testing.T) {
	results := append(indicatorResults(), signal.AnalysisResult{
		Source: "unregistered_scanner", RiskScore: 1, Confidence: 1,
		Indicators: []signal.Indicator{
			{Type: "ransomware", Severity: signal.SeverityCritical, Confidence: 1, Description: "ransomware payload"},
		},
	})
	p := Params{Weights: threeSourceWeights(), Thresholds: DefaultThresholds(), Quorum: 1}
	a, err := Assess(results, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Ignored) != 1 || a.Ignored[0] != "unregistered_scanner" {
		t.Fatalf("ignored = %v", a.Ignored)
	}

	ex := Explain(&a, results, p.Weights, p.Thresholds, 10)
	for _, ind := range ex.TopIndicators {
		if ind.Source == "unregistered_scanner" {
			t.Errorf("indicator of an ignored source surfaced: %+v", ind)
		}
	}
	if len(ex.TopIndicators) != 4 || ex.TopIndicators[0].Description != "URL on blocklist" {
		t.Errorf("unexpected top indicators: %+v", ex.TopIndicators)
	}
	for _, b := range ex.Breakdown {
		if b.Source == "unregistered_scanner" {
			t.Errorf("ignored source in breakdown: %+v", b)
		}
	}
}

func TestUserRecommendations(t *testing.T) {
	with := UserRecommendations(LevelCritical, true)
	without := UserRecommendations(LevelCritical, false)
	if len(with) != len(without)+1 {
		t.Errorf("quarantine notice missing: %d vs %d", len(with), len(without))
	}
	if len(UserRecommendations(LevelLow, false)) == 0 {
		t.Error("LOW recommendations empty")
	}
}

func TestCertaintyOf(t *testing.T) {
	tests := map[float64]signal.Certainty{
		0.99: signal.CertaintyDefinitive,
		0.90: signal.CertaintyHigh,
		0.75: signal.CertaintyMedium,
		0.55: signal.CertaintyLow,
		0.10: signal.CertaintyInconclusive,
	}
	for conf, want := range tests {
		if got := CertaintyOf(conf); got != want {
			t.Errorf("CertaintyOf(%.2f) = %s, want %s", conf, got, want)
		}
	}
}

func TestNewIDDeterministic(t *testing.T) {
	a, b := NewID("req-1"), NewID("req-1")
	if a != b {
		t.Errorf("ids differ: %s vs %s", a, b)
	}
	if NewID("req-2") == a {
		t.Error("distinct requests share an id")
	}
}
