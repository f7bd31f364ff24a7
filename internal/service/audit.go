package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	mgotel "github.com/Strob0t/MailGuard/internal/adapter/otel"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/logger"
	"github.com/Strob0t/MailGuard/internal/port/database"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
)

// Auditor accepts audit records without ever failing the caller.
type Auditor interface {
	Record(ctx context.Context, r audit.Record)
}

// auditWriteTimeout bounds one store append or queue publish.
const auditWriteTimeout = 5 * time.Second

type auditJob struct {
	record    audit.Record
	requestID string
}

// AuditRecorder writes audit records asynchronously: Record enqueues onto a
// buffered channel and workers append to the store and publish to the
// audit stream. A full queue or a failing sink is counted and logged.
type AuditRecorder struct {
	store   database.AuditStore
	queue   messagequeue.Queue
	metrics *mgotel.Metrics

	mu       sync.RWMutex // guards closed against concurrent sends
	closed   bool
	ch       chan auditJob
	wg       sync.WaitGroup
	failures atomic.Int64
}

// NewAuditRecorder starts workers draining a queue of queueSize records.
// queue and metrics may be nil.
func NewAuditRecorder(store database.AuditStore, queue messagequeue.Queue, metrics *mgotel.Metrics, queueSize, workers int) *AuditRecorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	r := &AuditRecorder{
		store:   store,
		queue:   queue,
		metrics: metrics,
		ch:      make(chan auditJob, queueSize),
	}
	for range workers {
		r.wg.Add(1)
		go r.drain()
	}
	return r
}

// Record enqueues rec. It never blocks and never returns an error.
func (r *AuditRecorder) Record(ctx context.Context, rec audit.Record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.fail(ctx, rec, "recorder closed", nil)
		return
	}
	select {
	case r.ch <- auditJob{record: rec, requestID: logger.RequestID(ctx)}:
	default:
		r.fail(ctx, rec, "queue full", nil)
	}
}

func (r *AuditRecorder) drain() {
	defer r.wg.Done()
	for job := range r.ch {
		r.write(job)
	}
}

func (r *AuditRecorder) write(job auditJob) {
	ctx := context.Background()
	if job.requestID != "" {
		ctx = logger.WithRequestID(ctx, job.requestID)
	}
	rec := job.record

	sctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	err := r.store.AppendAudit(sctx, &rec)
	cancel()
	if err != nil {
		r.fail(ctx, rec, "store append", err)
	}

	if r.queue == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		r.fail(ctx, rec, "encode", err)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	if err := r.queue.Publish(pctx, messagequeue.SubjectAuditRecord, data); err != nil {
		r.fail(ctx, rec, "publish", err)
	}
}

func (r *AuditRecorder) fail(ctx context.Context, rec audit.Record, stage string, err error) {
	r.failures.Add(1)
	if r.metrics != nil {
		r.metrics.AuditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
	wrapped := fmt.Errorf("%w: %s", audit.ErrAuditWrite, stage)
	if err != nil {
		wrapped = fmt.Errorf("%w: %s: %w", audit.ErrAuditWrite, stage, err)
	}
	slog.ErrorContext(ctx, "audit record not written",
		"audit_id", rec.ID,
		"subject_id", rec.SubjectID,
		"event", rec.Event,
		"error", wrapped,
	)
}

// FailureCount returns the number of records that were dropped or not
// fully written.
func (r *AuditRecorder) FailureCount() int64 {
	return r.failures.Load()
}

// Close stops accepting records and waits for queued ones to be written.
func (r *AuditRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	r.wg.Wait()
}
