package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/MailGuard/internal/domain"
)

// Params is the typed payload of an action. Each action type has exactly one
// implementation; the set is closed to this package.
type Params interface {
	ActionType() Type
	Validate() error
	params()
}

// QuarantineParams moves the message to a folder.
type QuarantineParams struct {
	Folder string `json:"folder" yaml:"folder"`
	Reason string `json:"reason" yaml:"reason"`
}

// BlockScope is the breadth of a sender block rule.
type BlockScope string

const (
	BlockScopeDomain  BlockScope = "domain"
	BlockScopeAddress BlockScope = "address"
)

// BlockSenderParams writes a block rule for the sender.
type BlockSenderParams struct {
	Scope        BlockScope `json:"scope" yaml:"scope"`
	SenderDomain string     `json:"sender_domain,omitempty" yaml:"sender_domain,omitempty"`
	SenderEmail  string     `json:"sender_email,omitempty" yaml:"sender_email,omitempty"`
	Duration     string     `json:"block_duration" yaml:"block_duration"`
}

// AlertParams notifies the security team.
type AlertParams struct {
	Channels        []string `json:"channels" yaml:"channels"`
	Recipients      []string `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Message         string   `json:"message" yaml:"message"`
	IncludeAnalysis bool     `json:"include_analysis" yaml:"include_analysis"`
}

// TagParams adds a label to the message.
type TagParams struct {
	Label string `json:"label" yaml:"label"`
	Color string `json:"color" yaml:"color"`
}

// LogParams records the verdict for later review.
type LogParams struct {
	RetentionDays       int    `json:"retention_days" yaml:"retention_days"`
	IncludeFullAnalysis bool   `json:"include_full_analysis" yaml:"include_full_analysis"`
	LogLevel            string `json:"log_level" yaml:"log_level"`
}

// NoActionParams carries nothing.
type NoActionParams struct{}

func (QuarantineParams) ActionType() Type  { return TypeQuarantine }
func (BlockSenderParams) ActionType() Type { return TypeBlockSender }
func (AlertParams) ActionType() Type       { return TypeAlert }
func (TagParams) ActionType() Type         { return TypeTag }
func (LogParams) ActionType() Type         { return TypeLog }
func (NoActionParams) ActionType() Type    { return TypeNoAction }

func (QuarantineParams) params()  {}
func (BlockSenderParams) params() {}
func (AlertParams) params()       {}
func (TagParams) params()         {}
func (LogParams) params()         {}
func (NoActionParams) params()    {}

func (p QuarantineParams) Validate() error {
	if strings.TrimSpace(p.Folder) == "" {
		return fmt.Errorf("%w: quarantine folder is required", domain.ErrValidation)
	}
	return nil
}

func (p BlockSenderParams) Validate() error {
	switch p.Scope {
	case BlockScopeDomain:
		if p.SenderDomain == "" {
			return fmt.Errorf("%w: domain block requires sender_domain", domain.ErrValidation)
		}
	case BlockScopeAddress:
		if p.SenderEmail == "" {
			return fmt.Errorf("%w: address block requires sender_email", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: block scope must be domain or address, got %q", domain.ErrValidation, p.Scope)
	}
	return nil
}

func (p AlertParams) Validate() error {
	if len(p.Channels) == 0 {
		return fmt.Errorf("%w: alert needs at least one channel", domain.ErrValidation)
	}
	return nil
}

func (p TagParams) Validate() error {
	if p.Label == "" {
		return fmt.Errorf("%w: tag label is required", domain.ErrValidation)
	}
	return nil
}

func (p LogParams) Validate() error {
	if p.RetentionDays <= 0 {
		return fmt.Errorf("%w: log retention_days must be positive", domain.ErrValidation)
	}
	return nil
}

func (NoActionParams) Validate() error { return nil }

// DecodeParams decodes raw JSON into the params struct of type t. An empty
// payload yields the zero params of that type.
func DecodeParams(t Type, raw []byte) (Params, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch t {
	case TypeQuarantine:
		var p QuarantineParams
		err := unmarshalUnlessEmpty(raw, empty, &p, t)
		return p, err
	case TypeBlockSender:
		var p BlockSenderParams
		err := unmarshalUnlessEmpty(raw, empty, &p, t)
		return p, err
	case TypeAlert:
		var p AlertParams
		err := unmarshalUnlessEmpty(raw, empty, &p, t)
		return p, err
	case TypeTag:
		var p TagParams
		err := unmarshalUnlessEmpty(raw, empty, &p, t)
		return p, err
	case TypeLog:
		var p LogParams
		err := unmarshalUnlessEmpty(raw, empty, &p, t)
		return p, err
	case TypeNoAction:
		return NoActionParams{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

func unmarshalUnlessEmpty(raw []byte, empty bool, dst any, t Type) error {
	if empty {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s params: %w", t, err)
	}
	return nil
}

// MarshalJSON writes Params under a "params" key.
func (a Recommended) MarshalJSON() ([]byte, error) {
	type alias Recommended
	var p any = a.Params
	if a.Params == nil {
		p = struct{}{}
	}
	return json.Marshal(struct {
		alias
		Params any `json:"params"`
	}{alias: alias(a), Params: p})
}

// UnmarshalJSON decodes "params" into the struct matching "type".
func (a *Recommended) UnmarshalJSON(data []byte) error {
	type alias Recommended
	aux := struct {
		*alias
		Params json.RawMessage `json:"params"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p, err := DecodeParams(a.Type, aux.Params)
	if err != nil {
		return err
	}
	a.Params = p
	return nil
}
