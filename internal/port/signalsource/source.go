// Package signalsource defines the port for independent analysis back-ends
// (text classifier, domain-age lookup, threat feeds) that score an email.
package signalsource

import (
	"context"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

// Source analyses one request and returns its AnalysisResult.
//
// Implementations return an error wrapping signal.ErrMalformed for payloads
// that fail validation and signal.ErrSourceTimeout (or the context error)
// when the call did not complete in time. Any other error is treated as a
// transport/protocol failure. Sources never retry.
type Source interface {
	Name() string
	Analyze(ctx context.Context, req *signal.Request) (signal.AnalysisResult, error)
}

// Timeouter is implemented by sources that carry their own timeout. A zero
// duration falls back to the snapshot's source_timeout.
type Timeouter interface {
	Timeout() time.Duration
}
