package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	mgotel "github.com/Strob0t/MailGuard/internal/adapter/otel"
	"github.com/Strob0t/MailGuard/internal/adapter/ws"
	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/domain/policy"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
	"github.com/Strob0t/MailGuard/internal/port/broadcast"
	"github.com/Strob0t/MailGuard/internal/port/cache"
	"github.com/Strob0t/MailGuard/internal/port/database"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
	"github.com/Strob0t/MailGuard/internal/port/signalsource"
)

// verdictCacheTTL is how long a verdict stays in the replay cache.
const verdictCacheTTL = 24 * time.Hour

// Outcome is the result of one analysis: a verdict, or a manual-review
// fallback when no defensible score exists.
type Outcome struct {
	Verdict  *verdict.Verdict       `json:"verdict,omitempty"`
	Failed   *verdict.FailedOutcome `json:"failed,omitempty"`
	Replayed bool                   `json:"replayed,omitempty"`
}

// Coordinator runs the decision pipeline: collect, aggregate, explain,
// plan, gate, record.
type Coordinator struct {
	store      database.Store
	policies   *PolicyService
	collector  *Collector
	explainer  *Explainer
	gate       *ApprovalGate
	dispatcher *Dispatcher
	audit      Auditor
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	cache      cache.Cache
	metrics    *mgotel.Metrics

	sources atomic.Pointer[[]signalsource.Source]
	now     func() time.Time
}

// NewCoordinator creates a Coordinator. queue and hub may be nil.
func NewCoordinator(
	store database.Store,
	policies *PolicyService,
	collector *Collector,
	explainer *Explainer,
	gate *ApprovalGate,
	auditor Auditor,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
) *Coordinator {
	c := &Coordinator{
		store:     store,
		policies:  policies,
		collector: collector,
		explainer: explainer,
		gate:      gate,
		audit:     auditor,
		queue:     queue,
		hub:       hub,
		now:       func() time.Time { return time.Now().UTC() },
	}
	c.SetSources(nil)
	return c
}

// SetSources replaces the signal source set. Requests already collecting
// keep the set they started with.
func (c *Coordinator) SetSources(sources []signalsource.Source) {
	s := append([]signalsource.Source(nil), sources...)
	c.sources.Store(&s)
}

// Sources returns the current signal source set.
func (c *Coordinator) Sources() []signalsource.Source {
	return *c.sources.Load()
}

// SetDispatcher sets the dispatcher that runs auto-executable actions.
func (c *Coordinator) SetDispatcher(d *Dispatcher) { c.dispatcher = d }

// SetCache sets the verdict replay cache.
func (c *Coordinator) SetCache(vc cache.Cache) { c.cache = vc }

// SetMetrics sets the metric instruments.
func (c *Coordinator) SetMetrics(m *mgotel.Metrics) { c.metrics = m }

// Analyze collects signals for req from every configured source and decides.
// A request id that was already decided returns the stored verdict.
func (c *Coordinator) Analyze(ctx context.Context, req *signal.Request) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	snap := c.policies.Snapshot()

	ctx, span := mgotel.StartAnalysisSpan(ctx, req.ID, snap.Version)
	defer span.End()

	if v, err := c.lookup(ctx, verdict.NewID(req.ID)); err != nil {
		return nil, err
	} else if v != nil {
		span.SetAttributes(attribute.Bool("analysis.replayed", true))
		return &Outcome{Verdict: v, Replayed: true}, nil
	}

	coll, err := c.collector.Collect(ctx, req, c.Sources(), snap)
	if err != nil && !errors.Is(err, ErrAllSourcesFailed) {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("collect signals: %w", err)
	}
	return c.decide(ctx, req, coll.Results, snap, start)
}

// AnalyzeSignals decides on pre-computed signal results. Results that fail
// validation are kept as malformed failure markers.
func (c *Coordinator) AnalyzeSignals(ctx context.Context, req *signal.Request, results []signal.AnalysisResult) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	snap := c.policies.Snapshot()

	ctx, span := mgotel.StartAnalysisSpan(ctx, req.ID, snap.Version)
	defer span.End()

	if v, err := c.lookup(ctx, verdict.NewID(req.ID)); err != nil {
		return nil, err
	} else if v != nil {
		return &Outcome{Verdict: v, Replayed: true}, nil
	}

	coll := signal.Collection{RequestID: req.ID, Results: make([]signal.AnalysisResult, 0, len(results))}
	for i := range results {
		r := results[i]
		if r.OK() {
			if err := r.Validate(); err != nil {
				r = signal.Failed(r.Source, signal.FailureMalformed, err.Error(), r.Latency)
			}
		}
		coll.Results = append(coll.Results, r)
	}
	coll.Sort()
	return c.decide(ctx, req, coll.Results, snap, start)
}

func (c *Coordinator) decide(ctx context.Context, req *signal.Request, results []signal.AnalysisResult, snap *policy.Snapshot, start time.Time) (*Outcome, error) {
	a, err := verdict.Assess(results, snap.VerdictParams())
	if verdict.IsAggregationFailure(err) {
		return c.fail(ctx, req, results, err, start), nil
	}
	if err != nil {
		return nil, fmt.Errorf("assess: %w", err)
	}

	verdictID := verdict.NewID(req.ID)
	ex := c.explainer.Explain(ctx, verdictID, req, &a, results, snap)
	plan := policy.Plan(policy.PlanInput{
		VerdictID:    verdictID,
		Level:        a.Level,
		Confidence:   a.Confidence,
		Overridden:   a.Override != nil,
		Sender:       req.Sender,
		SenderDomain: req.Domain(),
	}, &snap.Actions)
	ex.UserRecommendations = verdict.UserRecommendations(a.Level, policy.Quarantined(plan))

	v := &verdict.Verdict{
		ID:            verdictID,
		RequestID:     req.ID,
		FinalRisk:     a.FinalRisk,
		Level:         a.Level,
		Uncertainty:   a.Uncertainty,
		Confidence:    a.Confidence,
		Contributions: a.Contributions,
		SourcesUsed:   a.SourcesUsed,
		Failures:      verdict.Failures(results),
		Override:      a.Override,
		Explanation:   ex,
		Metadata: verdict.Metadata{
			ProcessingTime: time.Since(start),
			PolicyVersion:  snap.Version,
			Weights:        snap.Weights,
			Quorum:         snap.Quorum,
			IgnoredSources: a.Ignored,
		},
		CreatedAt: c.now(),
	}

	stored, approvals, err := c.gate.prepare(plan, snap.ApprovalExpiry)
	if err != nil {
		return nil, fmt.Errorf("verdict %s: %w", verdictID, err)
	}
	if err := c.store.CreateVerdictWithActions(ctx, v, stored, approvals); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent request with the same id won the race.
			existing, lerr := c.lookup(ctx, verdictID)
			if lerr != nil {
				return nil, lerr
			}
			if existing != nil {
				return &Outcome{Verdict: existing, Replayed: true}, nil
			}
		}
		return nil, fmt.Errorf("store verdict: %w", err)
	}
	v.Actions = stored
	c.audit.Record(ctx, audit.New(audit.SubjectVerdict, v.ID, audit.EventVerdictCreated,
		"", string(v.Level), audit.ActorSystem, v.CreatedAt).WithDetail(ex.Summary))
	c.gate.proposed(ctx, stored, approvals)

	c.remember(ctx, v)
	c.announce(ctx, v)
	if c.metrics != nil {
		c.metrics.Verdicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("risk_level", string(v.Level)),
			attribute.Bool("override", v.Override != nil),
		))
		c.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}
	slog.InfoContext(ctx, "verdict created",
		"verdict_id", v.ID,
		"request_id", v.RequestID,
		"risk_level", v.Level,
		"final_risk", v.FinalRisk,
		"confidence", v.Confidence,
		"sources_used", len(v.SourcesUsed),
		"actions", len(v.Actions),
		"narrative", ex.NarrativeOrigin,
	)

	if c.dispatcher != nil {
		c.dispatcher.DispatchAsync(ctx, stored)
	}
	return &Outcome{Verdict: v}, nil
}

// fail builds the manual-review outcome. No verdict or action is stored.
func (c *Coordinator) fail(ctx context.Context, req *signal.Request, results []signal.AnalysisResult, cause error, start time.Time) *Outcome {
	coll := signal.Collection{RequestID: req.ID, Results: results}
	responded := make([]string, 0, len(results))
	for _, r := range coll.Present() {
		responded = append(responded, r.Source)
	}
	out := &verdict.FailedOutcome{
		RequestID:            req.ID,
		Reason:               fmt.Sprintf("%v (%s)", cause, describeCollection(&coll)),
		ManualReviewRequired: true,
		Failures:             verdict.Failures(results),
		SourcesResponded:     responded,
		CreatedAt:            c.now(),
	}

	c.audit.Record(ctx, audit.New(audit.SubjectVerdict, verdict.NewID(req.ID), audit.EventVerdictFailed,
		"", "MANUAL_REVIEW", audit.ActorSystem, out.CreatedAt).WithDetail(out.Reason))
	if c.hub != nil {
		c.hub.BroadcastEvent(ctx, broadcast.EventVerdictFailed, ws.FailedVerdictEvent{
			RequestID: out.RequestID,
			Reason:    out.Reason,
		})
	}
	c.publish(ctx, messagequeue.SubjectVerdictFailed, messagequeue.VerdictFailedPayload{
		RequestID: out.RequestID,
		Reason:    out.Reason,
	})
	if c.metrics != nil {
		reason := "insufficient_signal"
		if errors.Is(cause, verdict.ErrDegenerateAggregation) {
			reason = "degenerate"
		}
		c.metrics.VerdictsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		c.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}
	slog.WarnContext(ctx, "no defensible verdict, manual review required",
		"request_id", req.ID,
		"reason", out.Reason,
	)
	return &Outcome{Failed: out}
}

// GetVerdict returns a stored verdict with its current actions.
func (c *Coordinator) GetVerdict(ctx context.Context, id string) (*verdict.Verdict, error) {
	v, err := c.store.GetVerdict(ctx, id)
	if err != nil {
		return nil, err
	}
	actions, err := c.gate.ListByVerdict(ctx, id)
	if err != nil {
		return nil, err
	}
	v.Actions = actions
	return v, nil
}

// ListActions returns the plan of a verdict.
func (c *Coordinator) ListActions(ctx context.Context, verdictID string) ([]action.Recommended, error) {
	if _, err := c.store.GetVerdict(ctx, verdictID); err != nil {
		return nil, err
	}
	return c.gate.ListByVerdict(ctx, verdictID)
}

// ListAudit returns the audit trail of a verdict and its actions.
func (c *Coordinator) ListAudit(ctx context.Context, verdictID string) ([]audit.Record, error) {
	if _, err := c.store.GetVerdict(ctx, verdictID); err != nil {
		return nil, err
	}
	return c.store.ListAudit(ctx, verdictID)
}

// lookup returns the verdict with id, or nil when none exists yet. The
// cached copy supplies the immutable verdict; actions are always read fresh.
func (c *Coordinator) lookup(ctx context.Context, id string) (*verdict.Verdict, error) {
	if c.cache != nil {
		v, ok, err := cache.GetJSON[verdict.Verdict](ctx, c.cache, verdictCacheKey(id))
		if err != nil {
			slog.WarnContext(ctx, "verdict cache read failed", "verdict_id", id, "error", err)
		}
		if ok {
			actions, err := c.gate.ListByVerdict(ctx, id)
			if err != nil {
				return nil, err
			}
			v.Actions = actions
			return &v, nil
		}
	}

	v, err := c.GetVerdict(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup verdict %s: %w", id, err)
	}
	c.remember(ctx, v)
	return v, nil
}

func (c *Coordinator) remember(ctx context.Context, v *verdict.Verdict) {
	if c.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, verdictCacheKey(v.ID), v, verdictCacheTTL); err != nil {
		slog.WarnContext(ctx, "verdict cache write failed", "verdict_id", v.ID, "error", err)
	}
}

// announce publishes a new verdict to the stream and reviewer clients.
func (c *Coordinator) announce(ctx context.Context, v *verdict.Verdict) {
	types := make([]string, 0, len(v.Actions))
	pending := 0
	for i := range v.Actions {
		types = append(types, string(v.Actions[i].Type))
		if v.Actions[i].Status == action.StatusPendingApproval {
			pending++
		}
	}
	c.publish(ctx, messagequeue.SubjectVerdictCreated, messagequeue.VerdictCreatedPayload{
		VerdictID:  v.ID,
		RequestID:  v.RequestID,
		RiskLevel:  string(v.Level),
		FinalRisk:  v.FinalRisk,
		Confidence: v.Confidence,
		Actions:    types,
		Pending:    pending,
	})
	if c.hub != nil {
		c.hub.BroadcastEvent(ctx, broadcast.EventVerdictCreated, ws.VerdictEvent{
			VerdictID:        v.ID,
			RequestID:        v.RequestID,
			RiskLevel:        string(v.Level),
			FinalRisk:        v.FinalRisk,
			Summary:          v.Explanation.Summary,
			Actions:          types,
			PendingApprovals: pending,
		})
	}
}

func (c *Coordinator) publish(ctx context.Context, subject string, payload any) {
	if c.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "encode event", "subject", subject, "error", err)
		return
	}
	if err := c.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish event failed", "subject", subject, "error", err)
	}
}

func verdictCacheKey(id string) string {
	return "verdict:" + id
}
