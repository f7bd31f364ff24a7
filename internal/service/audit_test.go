package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Strob0t/MailGuard/internal/adapter/memory"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
)

// blockingAuditStore holds every append until release is closed.
type blockingAuditStore struct {
	release chan struct{}
	err     error

	mu      sync.Mutex
	records []audit.Record
}

func (s *blockingAuditStore) AppendAudit(_ context.Context, r *audit.Record) error {
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.records = append(s.records, *r)
	s.mu.Unlock()
	return nil
}

func (s *blockingAuditStore) ListAudit(context.Context, string) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...), nil
}

func TestAuditRecorderWritesAndPublishes(t *testing.T) {
	store := memory.NewStore()
	queue := newFakeQueue()
	r := NewAuditRecorder(store, queue, nil, 16, 2)

	rec := audit.New(audit.SubjectVerdict, "v-1", audit.EventVerdictCreated, "", "HIGH", audit.ActorSystem, t0)
	r.Record(context.Background(), rec)
	r.Close()

	got, err := store.ListAudit(context.Background(), "v-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != rec.ID {
		t.Fatalf("expected the record in the store, got %+v", got)
	}
	if n := queue.count(messagequeue.SubjectAuditRecord); n != 1 {
		t.Fatalf("expected 1 published record, got %d", n)
	}
	var published audit.Record
	if err := json.Unmarshal(queue.published[messagequeue.SubjectAuditRecord][0], &published); err != nil {
		t.Fatal(err)
	}
	if published.Event != audit.EventVerdictCreated || published.After != "HIGH" {
		t.Errorf("unexpected published record: %+v", published)
	}
	if r.FailureCount() != 0 {
		t.Errorf("expected no failures, got %d", r.FailureCount())
	}
}

func TestAuditRecorderKeepsRepeatedEvents(t *testing.T) {
	store := memory.NewStore()
	r := NewAuditRecorder(store, nil, nil, 16, 1)
	ctx := context.Background()

	first := audit.New(audit.SubjectAction, "a1", audit.EventExecutionFailed, "APPROVED", "APPROVED", audit.ActorExecutor, t0).
		WithDetail("mail server unreachable")
	r.Record(ctx, first)
	r.Record(ctx, audit.New(audit.SubjectAction, "a1", audit.EventExecutionFailed, "APPROVED", "APPROVED", audit.ActorExecutor, t0).
		WithDetail("mailbox locked"))
	r.Record(ctx, first) // resent job
	r.Record(ctx, audit.New(audit.SubjectVerdict, "v1", audit.EventVerdictFailed, "", "MANUAL_REVIEW", audit.ActorSystem, t0))
	r.Record(ctx, audit.New(audit.SubjectVerdict, "v1", audit.EventVerdictFailed, "", "MANUAL_REVIEW", audit.ActorSystem, t0))
	r.Close()

	a1, err := store.ListAudit(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(a1) != 2 {
		t.Fatalf("expected both execution failures once each, got %d records", len(a1))
	}
	details := map[string]bool{a1[0].Detail: true, a1[1].Detail: true}
	if !details["mail server unreachable"] || !details["mailbox locked"] {
		t.Errorf("failure reasons lost: %v", details)
	}
	v1, err := store.ListAudit(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(v1) != 2 {
		t.Errorf("expected 2 verdict.failed records, got %d", len(v1))
	}
}

func TestAuditRecorderQueueFullNeverBlocks(t *testing.T) {
	store := &blockingAuditStore{release: make(chan struct{})}
	r := NewAuditRecorder(store, nil, nil, 1, 1)

	for i := range 4 {
		rec := audit.New(audit.SubjectAction, "a-1", audit.EventActionTransitioned, "", string(rune('A'+i)), audit.ActorSystem, t0)
		r.Record(context.Background(), rec)
	}
	if r.FailureCount() < 2 {
		t.Errorf("expected dropped records with a full queue, got %d failures", r.FailureCount())
	}

	close(store.release)
	r.Close()
}

func TestAuditRecorderStoreAndPublishErrors(t *testing.T) {
	store := &blockingAuditStore{err: errors.New("disk full")}
	queue := newFakeQueue()
	queue.publishErr = errors.New("nats: no responders")
	r := NewAuditRecorder(store, queue, nil, 4, 1)

	r.Record(context.Background(), audit.New(audit.SubjectVerdict, "v-1", audit.EventVerdictCreated, "", "LOW", audit.ActorSystem, t0))
	r.Close()

	if got := r.FailureCount(); got != 2 {
		t.Errorf("expected store and publish failures, got %d", got)
	}
}

func TestAuditRecorderAfterClose(t *testing.T) {
	r := NewAuditRecorder(memory.NewStore(), nil, nil, 4, 1)
	r.Close()
	r.Close()

	r.Record(context.Background(), audit.New(audit.SubjectVerdict, "v-1", audit.EventVerdictCreated, "", "LOW", audit.ActorSystem, t0))
	if r.FailureCount() != 1 {
		t.Errorf("expected record after close to be counted as failure, got %d", r.FailureCount())
	}
}
