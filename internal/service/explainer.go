package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	mgotel "github.com/Strob0t/MailGuard/internal/adapter/otel"
	"github.com/Strob0t/MailGuard/internal/domain/policy"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
	"github.com/Strob0t/MailGuard/internal/port/narrator"
)

// Explainer builds the explanation of a verdict. The structured part is
// always deterministic; the narrative is generated by the narrator when one
// is configured and answers in time, otherwise it is the template.
type Explainer struct {
	narrator narrator.Narrator
	metrics  *mgotel.Metrics
}

// NewExplainer creates an Explainer. n and metrics may be nil.
func NewExplainer(n narrator.Narrator, metrics *mgotel.Metrics) *Explainer {
	return &Explainer{narrator: n, metrics: metrics}
}

// Explain returns the explanation of a for req. It never fails.
func (e *Explainer) Explain(ctx context.Context, verdictID string, req *signal.Request, a *verdict.Assessment, results []signal.AnalysisResult, snap *policy.Snapshot) verdict.Explanation {
	ex := verdict.Explain(a, results, snap.Weights, snap.Thresholds, snap.TopK)
	if e.narrator == nil {
		return ex
	}

	text, err := e.narrate(ctx, verdictID, snap.NarrativeTimeout, &narrator.Request{
		Subject:     req.Subject,
		Sender:      req.Sender,
		Level:       a.Level,
		FinalRisk:   a.FinalRisk,
		Certainty:   ex.Certainty,
		Summary:     ex.Summary,
		Indicators:  ex.TopIndicators,
		Breakdown:   ex.Breakdown,
		Override:    a.Override,
		Unavailable: verdict.Failures(results),
	})
	if err != nil {
		slog.WarnContext(ctx, "narrative enrichment failed, using template", "verdict_id", verdictID, "error", err)
		if e.metrics != nil {
			e.metrics.NarrativeFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", fallbackReason(err))))
		}
		return ex
	}
	ex.Narrative = text
	ex.NarrativeOrigin = verdict.NarrativeGenerated
	return ex
}

// narrate calls the narrator under timeout. The call runs in its own
// goroutine so a narrator that ignores its context cannot hold the verdict.
func (e *Explainer) narrate(ctx context.Context, verdictID string, timeout time.Duration, req *narrator.Request) (string, error) {
	ctx, span := mgotel.StartNarrativeSpan(ctx, verdictID)
	defer span.End()

	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := e.narrator.Narrate(nctx, req)
		done <- reply{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: %w", verdict.ErrNarrativeUnavailable, r.err)
		}
		if strings.TrimSpace(r.text) == "" {
			return "", fmt.Errorf("%w: empty narrative", verdict.ErrNarrativeUnavailable)
		}
		return strings.TrimSpace(r.text), nil
	case <-nctx.Done():
		return "", fmt.Errorf("%w: %w", verdict.ErrNarrativeUnavailable, nctx.Err())
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.Contains(err.Error(), "empty narrative"):
		return "empty"
	}
	return "error"
}
