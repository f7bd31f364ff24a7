// Package service contains the coordination services: signal collection,
// explanation, approval gating, audit recording and the pipeline tying
// them together.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/port/broadcast"
	"github.com/Strob0t/MailGuard/internal/port/notifier"
)

// NotificationService dispatches reviewer notifications to all registered notifiers.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled event types (e.g., "approval.pending", "action.execution_failed").
// If enabledEvents is nil or empty, all events are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.WarnContext(ctx, "notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.DebugContext(ctx, "notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}

// ApprovalPendingNotification tells reviewers an action is waiting for them.
func ApprovalPendingNotification(a *action.Recommended, req *action.ApprovalRequest) notifier.Notification {
	level := "warning"
	if a.Priority == action.PriorityCritical {
		level = "error"
	}
	return notifier.Notification{
		Title:   fmt.Sprintf("Approval required: %s", a.Type),
		Message: a.Reasoning,
		Level:   level,
		Source:  broadcast.EventApprovalPending,
		Fields: []notifier.Field{
			{Label: "Action", Value: a.ID},
			{Label: "Verdict", Value: a.VerdictID},
			{Label: "Priority", Value: string(a.Priority)},
			{Label: "Expires", Value: req.ExpiresAt.UTC().Format(time.RFC3339)},
		},
	}
}

// ExecutionFailedNotification tells reviewers the executor could not carry
// out an action.
func ExecutionFailedNotification(a *action.Recommended, reason string) notifier.Notification {
	return notifier.Notification{
		Title:   fmt.Sprintf("Action failed: %s", a.Type),
		Message: reason,
		Level:   "error",
		Source:  broadcast.EventActionExecFailure,
		Fields: []notifier.Field{
			{Label: "Action", Value: a.ID},
			{Label: "Verdict", Value: a.VerdictID},
			{Label: "Status", Value: string(a.Status)},
		},
	}
}
