package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	mgotel "github.com/Strob0t/MailGuard/internal/adapter/otel"
	"github.com/Strob0t/MailGuard/internal/domain/policy"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/port/signalsource"
)

// ErrAllSourcesFailed is returned with a collection in which no source
// produced a usable result.
var ErrAllSourcesFailed = errors.New("all signal sources failed")

// DefaultMaxParallel bounds concurrent source calls when unset.
const DefaultMaxParallel = 8

// Collector fans one request out to every configured signal source and
// gathers what comes back before the global deadline.
type Collector struct {
	maxParallel int64
	metrics     *mgotel.Metrics
}

// NewCollector creates a Collector running at most maxParallel source calls
// at once. metrics may be nil.
func NewCollector(maxParallel int, metrics *mgotel.Metrics) *Collector {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Collector{maxParallel: int64(maxParallel), metrics: metrics}
}

type sourceOutcome struct {
	index  int
	result signal.AnalysisResult
}

// Collect calls every source concurrently. Each call runs under its own
// timeout (the source's, else snap.SourceTimeout) and the whole round under
// snap.GlobalTimeout. The returned collection holds exactly one entry per
// source, sorted by name: a scored result or a failure marker. Results that
// arrive after the round closed are discarded.
//
// The error is ErrAllSourcesFailed when nothing usable came back, or the
// caller's context error when ctx was cancelled.
func (c *Collector) Collect(ctx context.Context, req *signal.Request, sources []signalsource.Source, snap *policy.Snapshot) (signal.Collection, error) {
	start := time.Now()
	coll := signal.Collection{RequestID: req.ID, Results: make([]signal.AnalysisResult, len(sources))}

	ctx, span := mgotel.StartCollectSpan(ctx, len(sources))
	defer span.End()

	roundCtx, cancel := context.WithTimeout(ctx, snap.GlobalTimeout)
	defer cancel()

	// Buffered to len(sources) so late senders never block after the round closed.
	out := make(chan sourceOutcome, len(sources))
	sem := semaphore.NewWeighted(c.maxParallel)
	for i, src := range sources {
		go func() {
			out <- sourceOutcome{index: i, result: c.call(roundCtx, sem, src, req, snap.SourceTimeout)}
		}()
	}

	reported := make([]bool, len(sources))
	missing := gather(roundCtx.Done(), out, len(sources), func(o sourceOutcome) {
		coll.Results[o.index] = o.result
		reported[o.index] = true
		if f := o.result.Failure; f != nil {
			c.recordFailure(ctx, o.result.Source, f.Kind)
			slog.WarnContext(ctx, "signal source failed", "source", o.result.Source, "kind", f.Kind, "error", f.Message)
		}
	})
	if missing > 0 {
		kind, msg := signal.FailureTimeout, "global deadline exceeded"
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind, msg = signal.FailureError, "collection cancelled"
		}
		for i, src := range sources {
			if !reported[i] {
				coll.Results[i] = signal.Failed(src.Name(), kind, msg, time.Since(start))
				c.recordFailure(ctx, src.Name(), kind)
			}
		}
		go discardLate(req.ID, out, missing)
	}

	coll.Sort()
	coll.Duration = time.Since(start)

	present := len(coll.Present())
	span.SetAttributes(
		attribute.Int("collect.present", present),
		attribute.Int("collect.failed", len(sources)-present),
	)
	slog.DebugContext(ctx, "signal collection finished",
		"request_id", req.ID,
		"sources", len(sources),
		"present", present,
		"duration_ms", coll.Duration.Milliseconds(),
	)

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		span.SetStatus(codes.Error, "cancelled")
		return coll, err
	}
	if present == 0 {
		span.SetStatus(codes.Error, ErrAllSourcesFailed.Error())
		return coll, ErrAllSourcesFailed
	}
	return coll, nil
}

// call runs one source under its timeout and turns every outcome into a
// result. It never returns an error: failures become markers.
func (c *Collector) call(ctx context.Context, sem *semaphore.Weighted, src signalsource.Source, req *signal.Request, fallback time.Duration) signal.AnalysisResult {
	name := src.Name()
	start := time.Now()

	if err := sem.Acquire(ctx, 1); err != nil {
		return signal.Failed(name, signal.FailureTimeout, "no capacity before deadline", time.Since(start))
	}
	defer sem.Release(1)

	timeout := fallback
	if t, ok := src.(signalsource.Timeouter); ok && t.Timeout() > 0 {
		timeout = t.Timeout()
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sctx, span := mgotel.StartSourceSpan(sctx, name)
	defer span.End()

	res, err := src.Analyze(sctx, req)
	latency := time.Since(start)
	if c.metrics != nil {
		c.metrics.SourceLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("source", name)))
	}
	if err == nil && res.Failure != nil {
		err = fmt.Errorf("%w: %s", signal.ErrSourceError, res.Failure.Message)
	}
	if err == nil {
		res.Source = name
		err = res.Validate()
	}
	if err != nil {
		kind := signal.KindOf(err)
		if kind == signal.FailureError && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			kind = signal.FailureTimeout
		}
		span.SetStatus(codes.Error, err.Error())
		return signal.Failed(name, kind, err.Error(), latency)
	}

	res.Latency = latency
	if res.ReceivedAt.IsZero() {
		res.ReceivedAt = time.Now().UTC()
	}
	span.SetAttributes(attribute.Float64("source.risk", res.RiskScore))
	return res
}

func (c *Collector) recordFailure(ctx context.Context, name string, kind signal.FailureKind) {
	if c.metrics == nil {
		return
	}
	c.metrics.SourceFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", name),
		attribute.String("kind", string(kind)),
	))
}

// gather hands outcomes to take until n arrived or done is closed. Outcomes
// already queued when done closes are still taken. It returns how many
// outcomes never arrived.
func gather(done <-chan struct{}, out <-chan sourceOutcome, n int, take func(sourceOutcome)) int {
	for n > 0 {
		select {
		case o := <-out:
			take(o)
			n--
		case <-done:
			for n > 0 {
				select {
				case o := <-out:
					take(o)
					n--
				default:
					return n
				}
			}
		}
	}
	return 0
}

// discardLate drains results that arrive after the round closed.
func discardLate(requestID string, out <-chan sourceOutcome, n int) {
	for range n {
		o := <-out
		slog.Info("late signal result discarded",
			"request_id", requestID,
			"source", o.result.Source,
			"failed", !o.result.OK(),
		)
	}
}

// describeCollection is used in failed-outcome reasons.
func describeCollection(coll *signal.Collection) string {
	return fmt.Sprintf("%d of %d sources responded", len(coll.Present()), len(coll.Results))
}
