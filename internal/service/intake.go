package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/MailGuard/internal/logger"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
)

// Intake consumes analysis requests from the mail gateway stream.
type Intake struct {
	coord *Coordinator
	queue messagequeue.Queue
}

// NewIntake creates an Intake feeding coord from queue.
func NewIntake(coord *Coordinator, queue messagequeue.Queue) *Intake {
	return &Intake{coord: coord, queue: queue}
}

// Start subscribes to emails.analyze. The returned function cancels the
// subscription.
func (i *Intake) Start(ctx context.Context) (func(), error) {
	cancel, err := i.queue.Subscribe(ctx, messagequeue.SubjectAnalyze, i.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectAnalyze, err)
	}
	slog.Info("analysis intake started", "subject", messagequeue.SubjectAnalyze)
	return cancel, nil
}

// Handle processes one analysis request. A returned error makes the queue
// redeliver the message until it lands in the dead-letter subject; a
// manual-review outcome is a successful delivery.
func (i *Intake) Handle(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.AnalyzePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode analysis request: %w", err)
	}
	if logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, p.Request.ID)
	}

	var (
		out *Outcome
		err error
	)
	if len(p.Results) > 0 {
		out, err = i.coord.AnalyzeSignals(ctx, &p.Request, p.Results)
	} else {
		out, err = i.coord.Analyze(ctx, &p.Request)
	}
	if err != nil {
		return fmt.Errorf("analyze %s: %w", p.Request.ID, err)
	}
	if out.Replayed {
		slog.DebugContext(ctx, "duplicate analysis request", "request_id", p.Request.ID, "verdict_id", out.Verdict.ID)
	}
	return nil
}
