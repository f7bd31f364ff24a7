// Package httpsource implements a signal source reached over HTTP: the
// request is POSTed as JSON and the body of a 2xx reply is the source's
// AnalysisResult.
package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/logger"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
	"github.com/Strob0t/MailGuard/internal/resilience"
)

// maxReplyBytes caps how much of a reply is read.
const maxReplyBytes = 1 << 20

// Source is an HTTP signal source.
type Source struct {
	name       string
	url        string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates an HTTP signal source. A zero timeout defers to the
// collector's source timeout. breaker may be nil.
func New(name, url string, timeout time.Duration, breaker *resilience.Breaker) *Source {
	return &Source{
		name:       name,
		url:        url,
		timeout:    timeout,
		httpClient: &http.Client{},
		breaker:    breaker,
	}
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

	var reply []byte
	call := func() error {
		var cErr error
		reply, cErr = s.post(ctx, body)
		return cErr
	}
	if s.breaker != nil {
		err = s.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return signal.AnalysisResult{}, fmt.Errorf("%w: %s: %w", signal.ErrSourceTimeout, s.name, err)
		}
		if errors.Is(err, signal.ErrMalformed) {
			return signal.AnalysisResult{}, err
		}
		return signal.AnalysisResult{}, fmt.Errorf("%w: %s: %w", signal.ErrSourceError, s.name, err)
	}
	return signal.DecodeResult(s.name, reply)
}

func (s *Source) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if reqID := logger.RequestID(ctx); reqID != "" {
		httpReq.Header.Set("X-Request-ID", reqID)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxReplyBytes {
		return nil, fmt.Errorf("%w: %s reply exceeds %d bytes", signal.ErrMalformed, s.name, maxReplyBytes)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("source %s returned %d: %s", s.name, resp.StatusCode, truncate(data, 256))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
