package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// Snapshot is the immutable decision configuration a request is evaluated
// against. Reconfiguration builds a new Snapshot; a snapshot in use is never
// edited.
type Snapshot struct {
	Version          string                 `json:"version"`
	Weights          verdict.Weights        `json:"weights"`
	Thresholds       verdict.Thresholds     `json:"risk_thresholds"`
	Quorum           int                    `json:"quorum"`
	Override         verdict.OverridePolicy `json:"override"`
	Actions          ActionPolicy           `json:"action_policy"`
	ApprovalExpiry   time.Duration          `json:"approval_expiry"`
	SourceTimeout    time.Duration          `json:"source_timeout"`
	GlobalTimeout    time.Duration          `json:"global_timeout"`
	NarrativeTimeout time.Duration          `json:"narrative_timeout"`
	TopK             int                    `json:"top_k"`
}

// NewSnapshot validates the inputs and stamps the snapshot with a content
// version. Weights are copied so later edits by the caller do not leak in.
func NewSnapshot(s Snapshot) (*Snapshot, error) {
	s.Weights = s.Weights.Clone()
	s.Version = ""
	if err := s.Validate(); err != nil {
		return nil, err
	}
	v, err := contentVersion(&s)
	if err != nil {
		return nil, err
	}
	s.Version = v
	return &s, nil
}

// Validate checks every part of the snapshot.
func (s *Snapshot) Validate() error {
	if err := s.Weights.Validate(); err != nil {
		return err
	}
	if err := s.Thresholds.Validate(); err != nil {
		return err
	}
	if err := s.Override.Validate(); err != nil {
		return err
	}
	for _, name := range s.Override.Sources {
		if _, ok := s.Weights[name]; !ok {
			return fmt.Errorf("%w: override source %q has no weight", domain.ErrValidation, name)
		}
	}
	if s.Quorum < 1 {
		return fmt.Errorf("%w: quorum must be >= 1", domain.ErrValidation)
	}
	if s.Quorum > len(s.Weights) {
		return fmt.Errorf("%w: quorum %d exceeds %d weighted sources", domain.ErrValidation, s.Quorum, len(s.Weights))
	}
	if s.ApprovalExpiry <= 0 {
		return fmt.Errorf("%w: approval_expiry must be positive", domain.ErrValidation)
	}
	if s.SourceTimeout <= 0 || s.GlobalTimeout <= 0 || s.NarrativeTimeout <= 0 {
		return fmt.Errorf("%w: source, global and narrative timeouts must be positive", domain.ErrValidation)
	}
	if s.TopK < 0 {
		return fmt.Errorf("%w: top_k must be >= 0", domain.ErrValidation)
	}
	return s.Actions.Validate()
}

// VerdictParams returns the numeric inputs of an assessment.
func (s *Snapshot) VerdictParams() verdict.Params {
	return verdict.Params{
		Weights:    s.Weights,
		Thresholds: s.Thresholds,
		Quorum:     s.Quorum,
		Override:   s.Override,
	}
}

func contentVersion(s *Snapshot) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}
