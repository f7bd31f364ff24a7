package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/MailGuard/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTEL{}, "mailguard", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.Verdicts == nil || m.AuditFailures == nil || m.PipelineDuration == nil {
		t.Fatal("expected all instruments to be created")
	}
	// The global no-op provider must accept recordings.
	m.Verdicts.Add(context.Background(), 1)
	m.PipelineDuration.Record(context.Background(), 0.25)
}

func TestSpansWithNoopProvider(t *testing.T) {
	ctx, span := StartAnalysisSpan(context.Background(), "r1", "v1")
	_, child := StartSourceSpan(ctx, "linguistic")
	child.End()
	span.End()
}

func TestHTTPMiddlewarePassesThrough(t *testing.T) {
	h := HTTPMiddleware("mailguard")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/approvals", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}
