package httpsource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/logger"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
	"github.com/Strob0t/MailGuard/internal/resilience"
)

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("X-Request-ID"); got != "req-1" {
			t.Errorf("X-Request-ID = %q", got)
		}
		var in messagequeue.SignalRequestPayload
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		if in.Request.Sender != "a@b.example" {
			t.Errorf("sender = %q", in.Request.Sender)
		}
		_, _ = w.Write([]byte(`{"source":"technical_validation","risk_score":0.9,"confidence":0.95,"certainty":"DEFINITIVE"}`))
	}))
	defer srv.Close()

	s := New("technical_validation", srv.URL, time.Second, nil)
	ctx := logger.WithRequestID(context.Background(), "req-1")
	res, err := s.Analyze(ctx, &signal.Request{ID: "r1", Sender: "a@b.example"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RiskScore != 0.9 || res.Certainty != signal.CertaintyDefinitive {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    signal.FailureKind
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: signal.FailureError,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"risk_score":"high"}`))
			},
			want: signal.FailureMalformed,
		},
		{
			name: "score out of range",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"risk_score":-0.2,"confidence":0.5}`))
			},
			want: signal.FailureMalformed,
		},
		{
			name: "slow",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: signal.FailureTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_, err := New("linguistic", srv.URL, 0, nil).Analyze(ctx, &signal.Request{ID: "r1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := signal.KindOf(err); got != tt.want {
				t.Errorf("KindOf = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestAnalyzeOpenBreaker(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New("threat_intelligence", srv.URL, 0, resilience.NewBreaker(1, time.Minute))
	_, _ = s.Analyze(context.Background(), &signal.Request{ID: "r1"})
	_, err := s.Analyze(context.Background(), &signal.Request{ID: "r2"})
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, signal.ErrSourceError) {
		t.Fatalf("expected open breaker source error, got %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}
