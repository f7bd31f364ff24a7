package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
	"github.com/Strob0t/MailGuard/internal/resilience"
)

// Source is a signal source reached by request/reply on
// signals.analyze.<name>.
type Source struct {
	name    string
	subject string
	req     Requester
	timeout time.Duration
	breaker *resilience.Breaker
}

// NewSource creates a NATS-backed signal source. A zero timeout defers to the
// collector's source timeout. breaker may be nil.
func NewSource(name string, req Requester, timeout time.Duration, breaker *resilience.Breaker) *Source {
	return &Source{
		name:    name,
		subject: messagequeue.SubjectSignalRequest + "." + name,
		req:     req,
		timeout: timeout,
		breaker: breaker,
	}
}

// WithSubject overrides the request subject. An empty subject is ignored.
func (s *Source) WithSubject(subject string) *Source {
	if subject != "" {
		s.subject = subject
	}
	return s
}

// Name implements signalsource.Source.
func (s *Source) Name() string { return s.name }

// Timeout implements signalsource.Timeouter.
func (s *Source) Timeout() time.Duration { return s.timeout }

// Analyze implements signalsource.Source.
func (s *Source) Analyze(ctx context.Context, req *signal.Request) (signal.AnalysisResult, error) {
	body, err := json.Marshal(messagequeue.SignalRequestPayload{Request: *req})
	if err != nil {
		return signal.AnalysisResult{}, fmt.Errorf("marshal signal request: %w", err)
	}
	subject := s.subject

	var reply []byte
	call := func() error {
		var rErr error
		reply, rErr = s.req.Request(ctx, subject, body)
		return rErr
	}
	if s.breaker != nil {
		err = s.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return signal.AnalysisResult{}, fmt.Errorf("%w: %s: %w", signal.ErrSourceTimeout, s.name, err)
		}
		return signal.AnalysisResult{}, fmt.Errorf("%w: %s: %w", signal.ErrSourceError, s.name, err)
	}
	return signal.DecodeResult(s.name, reply)
}
