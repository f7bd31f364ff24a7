package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/MailGuard/internal/adapter/litellm"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
	"github.com/Strob0t/MailGuard/internal/port/narrator"
	"github.com/Strob0t/MailGuard/internal/resilience"
)

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth: %q", auth)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "openai/gpt-4o-mini" {
			t.Errorf("model = %q", body.Model)
		}
		if len(body.Messages) != 2 || !strings.Contains(body.Messages[1].Content, `"risk_level":"HIGH"`) {
			t.Errorf("facts not passed through: %+v", body.Messages)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "c1",
			"object": "chat.completion",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
		})
	}))
}

func narratorRequest() *narrator.Request {
	return &narrator.Request{
		Level:     verdict.LevelHigh,
		FinalRisk: 0.87,
		Summary:   "This email shows strong phishing indicators.",
		Indicators: []verdict.RankedIndicator{
			{Rank: 1, Source: "linguistic", Type: "urgency", Severity: "HIGH", Confidence: 0.9, Description: "urgent tone"},
		},
	}
}

func TestNarrate(t *testing.T) {
	srv := chatServer(t, "  The message impersonates a bank.  ", http.StatusOK)
	defer srv.Close()

	c := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini")
	got, err := c.Narrate(context.Background(), narratorRequest())
	if err != nil {
		t.Fatalf("Narrate failed: %v", err)
	}
	if got != "The message impersonates a bank." {
		t.Errorf("narrative = %q", got)
	}
}

func TestNarrateEmpty(t *testing.T) {
	srv := chatServer(t, "   ", http.StatusOK)
	defer srv.Close()

	c := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini")
	_, err := c.Narrate(context.Background(), narratorRequest())
	if !errors.Is(err, verdict.ErrNarrativeUnavailable) {
		t.Fatalf("expected ErrNarrativeUnavailable, got %v", err)
	}
}

func TestNarrateUpstreamError(t *testing.T) {
	srv := chatServer(t, "", http.StatusBadGateway)
	defer srv.Close()

	c := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini")
	c.SetBreaker(resilience.NewBreaker(1, time.Minute))
	_, err := c.Narrate(context.Background(), narratorRequest())
	if !errors.Is(err, verdict.ErrNarrativeUnavailable) {
		t.Fatalf("expected ErrNarrativeUnavailable, got %v", err)
	}

	// The breaker is now open; the next call must not reach the server.
	_, err = c.Narrate(context.Background(), narratorRequest())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy_endpoints": []map[string]string{
				{"model": "gpt-4o-mini", "api_base": "https://api.openai.com"},
			},
			"unhealthy_endpoints": []map[string]string{
				{"model": "ollama/llama3.2", "error": "ConnectionError"},
			},
		})
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini")
	healthy, err := client.Health(context.Background())
	if err != nil || !healthy {
		t.Fatalf("Health = %v, %v", healthy, err)
	}

	report, err := client.HealthDetailed(context.Background())
	if err != nil {
		t.Fatalf("HealthDetailed failed: %v", err)
	}
	if report.HealthyCount != 1 || report.UnhealthyCount != 1 {
		t.Errorf("counts = %d/%d", report.HealthyCount, report.UnhealthyCount)
	}

	ok, err := client.ModelReachable(context.Background())
	if err != nil || !ok {
		t.Errorf("ModelReachable = %v, %v", ok, err)
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unhealthy"}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini")
	healthy, _ := client.Health(context.Background())
	if healthy {
		t.Fatal("expected unhealthy")
	}
	if _, err := client.ModelReachable(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
