package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	mgotel "github.com/Strob0t/MailGuard/internal/adapter/otel"
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/port/executor"
)

// DefaultDispatchParallel bounds concurrent executor calls per plan.
const DefaultDispatchParallel = 4

// Dispatcher hands executable actions to the executor and records the
// outcome through the approval gate. Without an executor nothing is
// dispatched and actions wait for an external report.
type Dispatcher struct {
	exec  executor.Executor
	gate  *ApprovalGate
	limit int
}

// NewDispatcher creates a Dispatcher. exec may be nil.
func NewDispatcher(exec executor.Executor, gate *ApprovalGate) *Dispatcher {
	return &Dispatcher{exec: exec, gate: gate, limit: DefaultDispatchParallel}
}

// Enabled reports whether an executor is wired.
func (d *Dispatcher) Enabled() bool {
	return d.exec != nil
}

// Dispatch executes every executable action of plan and waits for all of
// them. Failures are recorded on the action, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, plan []action.Recommended) {
	if d.exec == nil {
		return
	}
	var g errgroup.Group
	g.SetLimit(d.limit)
	for i := range plan {
		a := plan[i]
		if !a.Executable() {
			continue
		}
		g.Go(func() error {
			d.execute(ctx, &a)
			return nil
		})
	}
	_ = g.Wait()
}

// DispatchAsync runs Dispatch in the background. The request's values are
// kept but its cancellation is not.
func (d *Dispatcher) DispatchAsync(ctx context.Context, plan []action.Recommended) {
	if d.exec == nil {
		return
	}
	go d.Dispatch(context.WithoutCancel(ctx), plan)
}

// DispatchApproved matches the approval gate's callback signature.
func (d *Dispatcher) DispatchApproved(ctx context.Context, a action.Recommended) {
	d.DispatchAsync(ctx, []action.Recommended{a})
}

func (d *Dispatcher) execute(ctx context.Context, a *action.Recommended) {
	ctx, span := mgotel.StartExecutionSpan(ctx, a.ID, string(a.Type))
	defer span.End()

	report, err := d.exec.Execute(ctx, a)
	if err != nil {
		report = action.ExecutionReport{Success: false, Error: err.Error(), Actor: audit.ActorExecutor}
	}
	if !report.Success {
		span.SetStatus(codes.Error, report.Error)
	}

	if _, err := d.gate.MarkExecuted(ctx, a.ID, report); err != nil {
		if errors.Is(err, action.ErrExecutionFailed) {
			slog.WarnContext(ctx, "action execution failed", "action_id", a.ID, "type", a.Type, "error", report.Error)
			return
		}
		slog.ErrorContext(ctx, "record execution", "action_id", a.ID, "type", a.Type, "error", err)
		return
	}
	slog.InfoContext(ctx, "action executed", "action_id", a.ID, "type", a.Type, "ref", report.Ref)
}
