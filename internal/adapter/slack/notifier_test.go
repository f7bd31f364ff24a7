package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/MailGuard/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestCapabilities(t *testing.T) {
	n := NewNotifier("")
	caps := n.Capabilities()
	if !caps.RichFormatting {
		t.Fatal("expected RichFormatting=true")
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Approval required: BLOCK_SENDER",
		Message: "Block evil.example for verdict v1",
		Level:   "warning",
		Source:  "approval.pending",
		Fields:  []notifier.Field{{Label: "Risk", Value: "CRITICAL (0.95)"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Blocks) != 4 {
		t.Fatalf("expected header, message, fields and context blocks, got %d", len(got.Blocks))
	}
	if !strings.HasPrefix(got.Blocks[0].Text.Text, "[WARN]") {
		t.Errorf("header = %q", got.Blocks[0].Text.Text)
	}
	if got.Blocks[2].Fields[0].Text != "*Risk*\nCRITICAL (0.95)" {
		t.Errorf("field = %q", got.Blocks[2].Fields[0].Text)
	}
}

func TestBuildMessageCapsFields(t *testing.T) {
	fields := make([]notifier.Field, 15)
	msg := buildMessage(notifier.Notification{Title: "t", Fields: fields})
	if n := len(msg.Blocks[2].Fields); n != maxFields {
		t.Errorf("fields = %d, want %d", n, maxFields)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Test",
		Message: "Test message",
		Level:   "info",
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestRegistered(t *testing.T) {
	n, err := notifier.New("slack", map[string]string{"webhook_url": "https://hooks.slack.example/x"})
	if err != nil {
		t.Fatalf("notifier.New: %v", err)
	}
	if n.Name() != "slack" {
		t.Errorf("name = %q", n.Name())
	}
}

func TestRegisteredRejectsBadWebhook(t *testing.T) {
	if _, err := notifier.New("slack", map[string]string{"webhook_url": "hooks.slack.example/x"}); err == nil {
		t.Error("expected an error for a webhook without scheme")
	}
	if _, err := notifier.New("slack", nil); err == nil {
		t.Error("expected an error without a webhook")
	}
}
