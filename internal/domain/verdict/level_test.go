package verdict

import (
	"strings"
	"testing"
)

func TestClassifyDefaults(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		risk, conf float64
		want       RiskLevel
	}{
		{0.00, 1.00, LevelLow},
		{0.399, 1.00, LevelLow},
		{0.40, 1.00, LevelMedium},
		{0.699, 1.00, LevelMedium},
		{0.70, 1.00, LevelHigh},
		{0.899, 1.00, LevelHigh},
		{0.90, 0.85, LevelCritical},
		{0.95, 0.84, LevelHigh},
		{1.00, 1.00, LevelCritical},
	}
	for _, tt := range tests {
		if got := th.Classify(tt.risk, tt.conf); got != tt.want {
			t.Errorf("Classify(%.3f, %.2f) = %s, want %s", tt.risk, tt.conf, got, tt.want)
		}
	}
}

func TestClassifyCriticalDisabled(t *testing.T) {
	th := DefaultThresholds()
	th.Critical = 0
	if got := th.Classify(1, 1); got != LevelHigh {
		t.Errorf("with CRITICAL disabled got %s, want HIGH", got)
	}
}

func TestClassifyMonotone(t *testing.T) {
	th := DefaultThresholds()
	for _, conf := range []float64{0, 0.5, 0.85, 1} {
		prev := -1
		for i := 0; i <= 1000; i++ {
			risk := float64(i) / 1000
			rank := th.Classify(risk, conf).Rank()
			if rank < prev {
				t.Fatalf("conf %.2f: level rank dropped at risk %.3f", conf, risk)
			}
			prev = rank
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Thresholds)
		errStr string
	}{
		{"medium zero", func(t *Thresholds) { t.Medium = 0 }, "medium"},
		{"high below medium", func(t *Thresholds) { t.High = 0.3 }, "high"},
		{"critical below high", func(t *Thresholds) { t.Critical = 0.6 }, "critical"},
		{"confidence above one", func(t *Thresholds) { t.CriticalMinConfidence = 1.5 }, "critical_min_confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := DefaultThresholds()
			tt.modify(&th)
			err := th.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errStr) {
				t.Errorf("expected error containing %q, got %q", tt.errStr, err.Error())
			}
		})
	}

	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
