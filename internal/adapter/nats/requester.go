package nats

import "context"

// Requester sends a request and waits for the single reply. *Queue
// implements it over core NATS.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}
