package verdict

import (
	"fmt"

	"github.com/Strob0t/MailGuard/internal/domain"
)

// RiskLevel is the classification of a final risk score.
type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelHigh     RiskLevel = "HIGH"
	LevelCritical RiskLevel = "CRITICAL"
)

// Rank orders levels; LOW is 0.
func (l RiskLevel) Rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	}
	return 0
}

// Valid reports whether l is one of the four known levels.
func (l RiskLevel) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Levels lists every level from lowest to highest.
func Levels() []RiskLevel {
	return []RiskLevel{LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

// Thresholds are the lower cutoffs of each tier. A zero Critical disables the
// CRITICAL tier. CriticalMinConfidence, when set, additionally requires the
// aggregate confidence to reach it before CRITICAL is assigned.
type Thresholds struct {
	Critical              float64 `yaml:"critical" json:"critical"`
	High                  float64 `yaml:"high" json:"high"`
	Medium                float64 `yaml:"medium" json:"medium"`
	CriticalMinConfidence float64 `yaml:"critical_min_confidence" json:"critical_min_confidence"`
}

// DefaultThresholds returns HIGH ≥0.70, MEDIUM ≥0.40 and CRITICAL ≥0.90 gated on
// confidence ≥0.85.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical:              0.90,
		High:                  0.70,
		Medium:                0.40,
		CriticalMinConfidence: 0.85,
	}
}

// Validate checks the cutoffs are inside (0,1] and strictly increasing.
func (t Thresholds) Validate() error {
	if t.Medium <= 0 || t.Medium > 1 {
		return fmt.Errorf("%w: risk_thresholds.medium must be in (0,1]", domain.ErrValidation)
	}
	if t.High <= t.Medium || t.High > 1 {
		return fmt.Errorf("%w: risk_thresholds.high must be in (medium,1]", domain.ErrValidation)
	}
	if t.Critical != 0 && (t.Critical <= t.High || t.Critical > 1) {
		return fmt.Errorf("%w: risk_thresholds.critical must be 0 or in (high,1]", domain.ErrValidation)
	}
	if t.CriticalMinConfidence < 0 || t.CriticalMinConfidence > 1 {
		return fmt.Errorf("%w: risk_thresholds.critical_min_confidence must be in [0,1]", domain.ErrValidation)
	}
	return nil
}

// Classify maps a final risk to a level. For fixed thresholds and confidence
// the result is non-decreasing in risk.
func (t Thresholds) Classify(risk, confidence float64) RiskLevel {
	switch {
	case t.Critical > 0 && risk >= t.Critical && confidence >= t.CriticalMinConfidence:
		return LevelCritical
	case risk >= t.High:
		return LevelHigh
	case risk >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}
