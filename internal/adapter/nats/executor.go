package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
	"github.com/Strob0t/MailGuard/internal/resilience"
)

// Executor sends actions to the remediation executor on
// actions.execute.<TYPE> and waits for its ExecutionReport.
type Executor struct {
	req     Requester
	breaker *resilience.Breaker
}

// NewExecutor creates an executor client. breaker may be nil.
func NewExecutor(req Requester, breaker *resilience.Breaker) *Executor {
	return &Executor{req: req, breaker: breaker}
}

// Execute implements executor.Executor.
func (e *Executor) Execute(ctx context.Context, a *action.Recommended) (action.ExecutionReport, error) {
	body, err := json.Marshal(messagequeue.ActionExecutePayload{Action: *a})
	if err != nil {
		return action.ExecutionReport{}, fmt.Errorf("marshal action %s: %w", a.ID, err)
	}
	subject := messagequeue.SubjectActionExecute + "." + string(a.Type)

	var reply []byte
	call := func() error {
		var rErr error
		reply, rErr = e.req.Request(ctx, subject, body)
		return rErr
	}
	if e.breaker != nil {
		err = e.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return action.ExecutionReport{}, fmt.Errorf("execute %s %s: %w", a.Type, a.ID, err)
	}

	var report messagequeue.ActionExecuteReply
	if err := json.Unmarshal(reply, &report); err != nil {
		return action.ExecutionReport{}, fmt.Errorf("decode execution report for %s: %w", a.ID, err)
	}
	return report, nil
}
