// Package executor defines the port for the collaborator that performs the
// real-world side effect of an action (move message, add label, send alert,
// write block rule).
package executor

import (
	"context"
	"errors"

	"github.com/Strob0t/MailGuard/internal/domain/action"
)

// ErrNotConfigured is returned when no executor is wired.
var ErrNotConfigured = errors.New("executor: not configured")

// Executor performs one action and reports the outcome. A nil error with
// report.Success false is a reported failure; a non-nil error means the
// outcome is unknown.
type Executor interface {
	Execute(ctx context.Context, a *action.Recommended) (action.ExecutionReport, error)
}
