package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	mgotel "github.com/Strob0t/MailGuard/internal/adapter/otel"
	"github.com/Strob0t/MailGuard/internal/adapter/ws"
	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/port/broadcast"
	"github.com/Strob0t/MailGuard/internal/port/database"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
)

// actionLockStripes is the number of in-process locks actions hash onto.
const actionLockStripes = 64

// ApprovalGate owns the action lifecycle. Every status change is a
// compare-and-set in the store, serialized per action in process, and
// audited. Expiry is applied lazily on reads and decisions and eagerly by
// Sweep.
type ApprovalGate struct {
	store   database.ActionStore
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	audit   Auditor
	notify  *NotificationService
	metrics *mgotel.Metrics

	onApproved func(ctx context.Context, a action.Recommended)

	locks [actionLockStripes]sync.Mutex
	now   func() time.Time
}

// NewApprovalGate creates an ApprovalGate. queue and hub may be nil.
func NewApprovalGate(store database.ActionStore, queue messagequeue.Queue, hub broadcast.Broadcaster, auditor Auditor) *ApprovalGate {
	return &ApprovalGate{
		store: store,
		queue: queue,
		hub:   hub,
		audit: auditor,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifications sets the service that tells reviewers about pending
// approvals and failed executions.
func (g *ApprovalGate) SetNotifications(n *NotificationService) { g.notify = n }

// SetMetrics sets the metric instruments.
func (g *ApprovalGate) SetMetrics(m *mgotel.Metrics) { g.metrics = m }

// SetOnApproved registers a callback invoked after a reviewer approves an
// action. It runs under the action lock and must not block; the
// dispatcher hands the action off to a goroutine.
func (g *ApprovalGate) SetOnApproved(fn func(ctx context.Context, a action.Recommended)) {
	g.onApproved = fn
}

func (g *ApprovalGate) lock(actionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actionID))
	mu := &g.locks[h.Sum32()%actionLockStripes]
	mu.Lock()
	return mu.Unlock
}

// Propose stores a plan. Actions that require approval move to
// PENDING_APPROVAL with a request expiring after expiry; the others stay
// PROPOSED. The plan is returned with the stored state.
func (g *ApprovalGate) Propose(ctx context.Context, plan []action.Recommended, expiry time.Duration) ([]action.Recommended, error) {
	stored, approvals, err := g.prepare(plan, expiry)
	if err != nil {
		return nil, err
	}
	if err := g.store.CreateActions(ctx, stored, approvals); err != nil {
		return nil, fmt.Errorf("propose actions: %w", err)
	}
	g.proposed(ctx, stored, approvals)
	return stored, nil
}

// prepare validates a plan and sets the initial state of every action,
// building the approval requests of the gated ones. Nothing is stored.
func (g *ApprovalGate) prepare(plan []action.Recommended, expiry time.Duration) ([]action.Recommended, []action.ApprovalRequest, error) {
	now := g.now()
	stored := make([]action.Recommended, len(plan))
	var approvals []action.ApprovalRequest
	for i := range plan {
		a := plan[i]
		if err := a.Validate(); err != nil {
			return nil, nil, fmt.Errorf("propose %s: %w", a.Type, err)
		}
		a.Status = action.StatusProposed
		a.Version = 0
		a.CreatedAt = now
		a.UpdatedAt = now
		if a.RequiresApproval {
			if err := a.Transition(action.StatusPendingApproval, now); err != nil {
				return nil, nil, err
			}
			approvals = append(approvals, action.NewApprovalRequest(&a, now, expiry))
		}
		stored[i] = a
	}
	return stored, approvals, nil
}

// proposed audits a stored plan and tells reviewers about its pending
// approvals.
func (g *ApprovalGate) proposed(ctx context.Context, stored []action.Recommended, approvals []action.ApprovalRequest) {
	for i := range stored {
		a := &stored[i]
		g.audit.Record(ctx, audit.New(audit.SubjectAction, a.ID, audit.EventActionProposed,
			"", string(action.StatusProposed), audit.ActorSystem, a.CreatedAt).WithDetail(string(a.Type)))
		if a.Status == action.StatusPendingApproval {
			g.recordTransition(ctx, a, action.StatusProposed, audit.ActorSystem, "")
		}
	}
	for i := range approvals {
		req := &approvals[i]
		a := findAction(stored, req.ActionID)
		if g.hub != nil {
			g.hub.BroadcastEvent(ctx, broadcast.EventApprovalPending, ws.ApprovalEvent{
				ActionID:   req.ActionID,
				VerdictID:  req.VerdictID,
				ActionType: string(req.ActionType),
				Status:     string(action.StatusPendingApproval),
				ExpiresAt:  req.ExpiresAt.Format(time.RFC3339),
			})
		}
		if g.notify != nil && a != nil {
			g.notify.Notify(ctx, ApprovalPendingNotification(a, req))
		}
	}
}

// Get returns an action, expiring it first when its approval deadline passed.
func (g *ApprovalGate) Get(ctx context.Context, actionID string) (*action.Recommended, error) {
	a, err := g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if a.Status != action.StatusPendingApproval {
		return a, nil
	}

	unlock := g.lock(actionID)
	defer unlock()
	return g.expireIfDue(ctx, actionID)
}

// ListByVerdict returns a verdict's plan with lazy expiry applied.
func (g *ApprovalGate) ListByVerdict(ctx context.Context, verdictID string) ([]action.Recommended, error) {
	actions, err := g.store.ListActionsByVerdict(ctx, verdictID)
	if err != nil {
		return nil, err
	}
	for i := range actions {
		if actions[i].Status != action.StatusPendingApproval {
			continue
		}
		a, err := g.Get(ctx, actions[i].ID)
		if err != nil {
			return nil, err
		}
		actions[i] = *a
	}
	return actions, nil
}

// ListPending returns the open approval requests whose deadline has not
// passed, soonest deadline first. Overdue requests are expired on the way.
func (g *ApprovalGate) ListPending(ctx context.Context) ([]action.ApprovalRequest, error) {
	pending, err := g.store.ListPendingApprovals(ctx)
	if err != nil {
		return nil, err
	}
	now := g.now()
	out := pending[:0]
	for i := range pending {
		if pending[i].Expired(now) {
			if _, err := g.Get(ctx, pending[i].ActionID); err != nil {
				slog.WarnContext(ctx, "lazy approval expiry failed", "action_id", pending[i].ActionID, "error", err)
			}
			continue
		}
		out = append(out, pending[i])
	}
	return out, nil
}

// Decide applies a reviewer decision to a pending action. A decision on an
// action that was already resolved fails with action.ErrApprovalConflict; a
// decision after the deadline expires the action and fails with
// action.ErrApprovalExpired. Neither alters a resolved action.
func (g *ApprovalGate) Decide(ctx context.Context, actionID string, in action.DecisionInput) (*action.Recommended, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	unlock := g.lock(actionID)
	defer unlock()

	a, err := g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	req, err := g.store.GetApproval(ctx, actionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s does not require approval", action.ErrInvalidTransition, actionID)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case a.Status == action.StatusExpired:
		return nil, fmt.Errorf("%w: %s", action.ErrApprovalExpired, actionID)
	case a.Status != action.StatusPendingApproval || req.Decided():
		return nil, fmt.Errorf("%w: %s is %s", action.ErrApprovalConflict, actionID, a.Status)
	}

	now := g.now()
	if req.Expired(now) {
		if _, err := g.expire(ctx, a, req, audit.ActorSweeper); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s expired at %s", action.ErrApprovalExpired, actionID, req.ExpiresAt.Format(time.RFC3339))
	}

	from := a.Status
	if err := a.Transition(in.Decision.Target(), now); err != nil {
		return nil, err
	}
	req.Decision = in.Decision
	req.Reviewer = in.Reviewer
	req.Comment = in.Comment
	req.DecidedAt = &now
	if err := g.store.UpdateAction(ctx, a, req); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: %s: %w", action.ErrApprovalConflict, actionID, err)
		}
		return nil, err
	}

	g.recordTransition(ctx, a, from, in.Reviewer, in.Comment)
	g.resolved(ctx, a, in.Reviewer)
	slog.InfoContext(ctx, "approval decided",
		"action_id", a.ID,
		"verdict_id", a.VerdictID,
		"type", a.Type,
		"decision", in.Decision,
		"reviewer", in.Reviewer,
	)
	if a.Status == action.StatusApproved && g.onApproved != nil {
		g.onApproved(ctx, *a)
	}
	return a, nil
}

// MarkExecuted records the executor's report for an executable action. A
// successful report moves it to EXECUTED. A failed report leaves the status
// as it was and returns action.ErrExecutionFailed after auditing the
// failure. Reports on any other action fail with action.ErrInvalidTransition.
func (g *ApprovalGate) MarkExecuted(ctx context.Context, actionID string, report action.ExecutionReport) (*action.Recommended, error) {
	unlock := g.lock(actionID)
	defer unlock()

	a, err := g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !a.Executable() {
		return nil, fmt.Errorf("%w: %s %s cannot be executed", action.ErrInvalidTransition, a.ID, a.Status)
	}
	actor := report.Actor
	if actor == "" {
		actor = audit.ActorExecutor
	}

	if !report.Success {
		reason := report.Error
		if reason == "" {
			reason = "executor reported failure"
		}
		g.audit.Record(ctx, audit.New(audit.SubjectAction, a.ID, audit.EventExecutionFailed,
			string(a.Status), string(a.Status), actor, g.now()).WithDetail(reason))
		if g.hub != nil {
			g.hub.BroadcastEvent(ctx, broadcast.EventActionExecFailure, ws.ActionEvent{
				ActionID:  a.ID,
				VerdictID: a.VerdictID,
				Status:    string(a.Status),
				Error:     reason,
			})
		}
		if g.notify != nil {
			g.notify.Notify(ctx, ExecutionFailedNotification(a, reason))
		}
		return a, fmt.Errorf("%w: %s: %s", action.ErrExecutionFailed, a.ID, reason)
	}

	from := a.Status
	if err := a.Transition(action.StatusExecuted, g.now()); err != nil {
		return nil, err
	}
	a.ExecutionRef = report.Ref
	if err := g.store.UpdateAction(ctx, a, nil); err != nil {
		return nil, err
	}

	g.recordTransition(ctx, a, from, actor, report.Ref)
	if g.hub != nil {
		g.hub.BroadcastEvent(ctx, broadcast.EventActionExecuted, ws.ActionEvent{
			ActionID:  a.ID,
			VerdictID: a.VerdictID,
			Status:    string(a.Status),
			Ref:       a.ExecutionRef,
		})
	}
	return a, nil
}

// Sweep expires every approval whose deadline passed and returns how many
// actions it moved to EXPIRED.
func (g *ApprovalGate) Sweep(ctx context.Context) (int, error) {
	due, err := g.store.ListExpiredApprovals(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("sweep approvals: %w", err)
	}
	n := 0
	for i := range due {
		expired, err := g.sweepOne(ctx, due[i].ActionID)
		if err != nil {
			slog.WarnContext(ctx, "approval expiry failed", "action_id", due[i].ActionID, "error", err)
			continue
		}
		if expired {
			n++
		}
	}
	if n > 0 {
		slog.InfoContext(ctx, "expired pending approvals", "count", n)
	}
	return n, nil
}

func (g *ApprovalGate) sweepOne(ctx context.Context, actionID string) (bool, error) {
	unlock := g.lock(actionID)
	defer unlock()
	a, err := g.expireIfDue(ctx, actionID)
	if err != nil {
		return false, err
	}
	return a.Status == action.StatusExpired, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (g *ApprovalGate) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "approval sweep failed", "error", err)
			}
		}
	}
}

// expireIfDue reloads the action and expires it when its request is
// overdue. The caller holds the action lock.
func (g *ApprovalGate) expireIfDue(ctx context.Context, actionID string) (*action.Recommended, error) {
	a, err := g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if a.Status != action.StatusPendingApproval {
		return a, nil
	}
	req, err := g.store.GetApproval(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !req.Expired(g.now()) {
		return a, nil
	}
	return g.expire(ctx, a, req, audit.ActorSweeper)
}

// expire moves a to EXPIRED and closes its request. The caller holds the
// action lock.
func (g *ApprovalGate) expire(ctx context.Context, a *action.Recommended, req *action.ApprovalRequest, actor string) (*action.Recommended, error) {
	now := g.now()
	from := a.Status
	if err := a.Transition(action.StatusExpired, now); err != nil {
		return nil, err
	}
	req.Decision = action.DecisionExpire
	req.Reviewer = actor
	req.DecidedAt = &now
	if err := g.store.UpdateAction(ctx, a, req); err != nil {
		return nil, fmt.Errorf("expire %s: %w", a.ID, err)
	}
	g.recordTransition(ctx, a, from, actor, "approval deadline passed")
	g.resolved(ctx, a, actor)
	return a, nil
}

func (g *ApprovalGate) recordTransition(ctx context.Context, a *action.Recommended, from action.Status, actor, detail string) {
	rec := audit.New(audit.SubjectAction, a.ID, audit.EventActionTransitioned,
		string(from), string(a.Status), actor, a.UpdatedAt)
	if detail != "" {
		rec = rec.WithDetail(detail)
	}
	g.audit.Record(ctx, rec)
	if g.metrics != nil {
		g.metrics.ApprovalTransitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("to", string(a.Status)),
			attribute.String("type", string(a.Type)),
		))
	}
}

// resolved announces the end of an approval to reviewer clients and the
// approvals stream.
func (g *ApprovalGate) resolved(ctx context.Context, a *action.Recommended, reviewer string) {
	if g.hub != nil {
		g.hub.BroadcastEvent(ctx, broadcast.EventApprovalResolved, ws.ApprovalEvent{
			ActionID:   a.ID,
			VerdictID:  a.VerdictID,
			ActionType: string(a.Type),
			Status:     string(a.Status),
			Reviewer:   reviewer,
		})
	}
	if g.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.ApprovalResolvedPayload{
		ActionID:  a.ID,
		VerdictID: a.VerdictID,
		Status:    string(a.Status),
		Reviewer:  reviewer,
	})
	if err != nil {
		slog.ErrorContext(ctx, "encode approval event", "action_id", a.ID, "error", err)
		return
	}
	if err := g.queue.Publish(ctx, messagequeue.SubjectApprovalEvent, data); err != nil {
		slog.WarnContext(ctx, "publish approval event failed", "action_id", a.ID, "error", err)
	}
}

func findAction(plan []action.Recommended, id string) *action.Recommended {
	for i := range plan {
		if plan[i].ID == id {
			return &plan[i]
		}
	}
	return nil
}
