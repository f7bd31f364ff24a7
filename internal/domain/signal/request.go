package signal

import (
	"sort"
	"strings"
	"time"
)

// Request is the analysis context handed to every signal source. Each source
// reads only the fields relevant to it (text for the classifier, sender domain
// for the domain-age lookup, URLs and IPs for threat feeds).
type Request struct {
	ID           string            `json:"id" validate:"required,max=128"`
	MessageID    string            `json:"message_id,omitempty" validate:"max=512"`
	Sender       string            `json:"sender" validate:"required,email"`
	SenderDomain string            `json:"sender_domain,omitempty" validate:"omitempty,hostname_rfc1123"`
	Recipients   []string          `json:"recipients,omitempty" validate:"dive,email"`
	Subject      string            `json:"subject" validate:"max=2048"`
	Body         string            `json:"body" validate:"maxbytes"`
	URLs         []string          `json:"urls,omitempty" validate:"dive,url"`
	IPs          []string          `json:"ips,omitempty" validate:"dive,ip"`
	Headers      map[string]string `json:"headers,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// Domain returns SenderDomain, deriving it from Sender when unset.
func (r *Request) Domain() string {
	if r.SenderDomain != "" {
		return strings.ToLower(r.SenderDomain)
	}
	if i := strings.LastIndex(r.Sender, "@"); i >= 0 {
		return strings.ToLower(r.Sender[i+1:])
	}
	return strings.ToLower(r.Sender)
}

// Collection is the outcome of one collection round: every configured source
// appears exactly once, either with a score or with a failure marker.
type Collection struct {
	RequestID string           `json:"request_id"`
	Results   []AnalysisResult `json:"results"`
	Duration  time.Duration    `json:"duration"`
}

// Present returns the successful results in source-name order.
func (c *Collection) Present() []AnalysisResult {
	out := make([]AnalysisResult, 0, len(c.Results))
	for i := range c.Results {
		if c.Results[i].OK() {
			out = append(out, c.Results[i])
		}
	}
	return out
}

// Failed returns the failure markers in source-name order.
func (c *Collection) Failed() []AnalysisResult {
	var out []AnalysisResult
	for i := range c.Results {
		if !c.Results[i].OK() {
			out = append(out, c.Results[i])
		}
	}
	return out
}

// Sort orders results by source name so downstream output is stable
// regardless of arrival order.
func (c *Collection) Sort() {
	sort.SliceStable(c.Results, func(i, j int) bool {
		return c.Results[i].Source < c.Results[j].Source
	})
}
