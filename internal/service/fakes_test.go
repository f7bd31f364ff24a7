package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/MailGuard/internal/adapter/memory"
	"github.com/Strob0t/MailGuard/internal/config"
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/audit"
	"github.com/Strob0t/MailGuard/internal/domain/policy"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
	"github.com/Strob0t/MailGuard/internal/port/messagequeue"
	"github.com/Strob0t/MailGuard/internal/port/narrator"
	"github.com/Strob0t/MailGuard/internal/port/signalsource"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testConfig returns the default configuration with the three standard
// sources and short timeouts.
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Sources = []config.Source{
		{Name: "linguistic", Transport: "nats"},
		{Name: "technical_validation", Transport: "nats"},
		{Name: "threat_intelligence", Transport: "nats", Definitive: true},
	}
	cfg.Coordination.SourceTimeout = 200 * time.Millisecond
	cfg.Coordination.GlobalTimeout = 500 * time.Millisecond
	cfg.Coordination.NarrativeTimeout = 100 * time.Millisecond
	cfg.Approval.Expiry = time.Hour
	return &cfg
}

func testSnapshot(t *testing.T, mutate func(*config.Config)) *policy.Snapshot {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	snap, err := BuildSnapshot(cfg, nil)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	return snap
}

func testRequest(id string) *signal.Request {
	return &signal.Request{
		ID:           id,
		Sender:       "billing@paypa1.example",
		SenderDomain: "paypa1.example",
		Recipients:   []string{"alice@corp.example"},
		Subject:      "Urgent: verify your account",
		Body:         "Your account will be suspended. Click the link below.",
		URLs:         []string{"https://paypa1.example/login"},
	}
}

// --- signal sources ---

type fakeSource struct {
	name      string
	res       signal.AnalysisResult
	err       error
	delay     time.Duration
	ignoreCtx bool
	timeout   time.Duration
	calls     atomic.Int32
}

func (s *fakeSource) Name() string           { return s.name }
func (s *fakeSource) Timeout() time.Duration { return s.timeout }

func (s *fakeSource) Analyze(ctx context.Context, _ *signal.Request) (signal.AnalysisResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		if s.ignoreCtx {
			time.Sleep(s.delay)
		} else {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return signal.AnalysisResult{}, ctx.Err()
			}
		}
	}
	if s.err != nil {
		return signal.AnalysisResult{}, s.err
	}
	return s.res, nil
}

func scored(name string, risk, confidence float64) *fakeSource {
	return &fakeSource{name: name, res: signal.AnalysisResult{
		RiskScore:  risk,
		Confidence: confidence,
		Indicators: []signal.Indicator{{
			Type:        name + "_indicator",
			Severity:    signal.SeverityHigh,
			Confidence:  confidence,
			Description: "suspicious " + name + " pattern",
		}},
	}}
}

func timingOut(name string) *fakeSource {
	return &fakeSource{name: name, delay: 5 * time.Second}
}

func failing(name string) *fakeSource {
	return &fakeSource{name: name, err: errors.New("connection refused")}
}

func sources(s ...*fakeSource) []signalsource.Source {
	out := make([]signalsource.Source, len(s))
	for i := range s {
		out[i] = s[i]
	}
	return out
}

// flakyStore fails the next `failures` verdict writes.
type flakyStore struct {
	*memory.Store
	failures atomic.Int32
}

func (s *flakyStore) CreateVerdictWithActions(ctx context.Context, v *verdict.Verdict, actions []action.Recommended, approvals []action.ApprovalRequest) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("db down")
	}
	return s.Store.CreateVerdictWithActions(ctx, v, actions, approvals)
}

// --- recorders ---

type recordingAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingAuditor) Record(_ context.Context, rec audit.Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *recordingAuditor) count(ev audit.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for i := range r.records {
		if r.records[i].Event == ev {
			n++
		}
	}
	return n
}

func (r *recordingAuditor) find(subjectID string, ev audit.Event) []audit.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Record
	for i := range r.records {
		if r.records[i].SubjectID == subjectID && r.records[i].Event == ev {
			out = append(out, r.records[i])
		}
	}
	return out
}

type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	h.events = append(h.events, eventType)
	h.mu.Unlock()
}

func (h *recordingHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// fakeQueue implements messagequeue.Queue in memory.
type fakeQueue struct {
	mu         sync.Mutex
	published  map[string][][]byte
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string]messagequeue.Handler),
	}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.mu.Lock()
	q.published[subject] = append(q.published[subject], data)
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	q.handlers[subject] = h
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

func (q *fakeQueue) handler(subject string) messagequeue.Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[subject]
}

// --- collaborators ---

type fakeExecutor struct {
	mu    sync.Mutex
	calls []action.Type
	fail  map[action.Type]string
	err   error
	done  chan string
}

func (e *fakeExecutor) Execute(_ context.Context, a *action.Recommended) (action.ExecutionReport, error) {
	e.mu.Lock()
	e.calls = append(e.calls, a.Type)
	e.mu.Unlock()
	if e.done != nil {
		defer func() { e.done <- a.ID }()
	}
	if e.err != nil {
		return action.ExecutionReport{}, e.err
	}
	if reason, ok := e.fail[a.Type]; ok {
		return action.ExecutionReport{Success: false, Error: reason}, nil
	}
	return action.ExecutionReport{Success: true, Ref: "ref-" + string(a.Type)}, nil
}

func (e *fakeExecutor) called() []action.Type {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]action.Type(nil), e.calls...)
}

type fakeNarrator struct {
	text  string
	err   error
	delay time.Duration
	got   atomic.Pointer[narrator.Request]
}

func (n *fakeNarrator) Narrate(_ context.Context, req *narrator.Request) (string, error) {
	n.got.Store(req)
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	return n.text, n.err
}

// clock is a settable time source for expiry tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- pipeline ---

type pipeline struct {
	store    *memory.Store
	auditor  *recordingAuditor
	hub      *recordingHub
	queue    *fakeQueue
	clock    *clock
	policies *PolicyService
	gate     *ApprovalGate
	coord    *Coordinator
}

func newPipeline(t *testing.T, srcs ...*fakeSource) *pipeline {
	t.Helper()
	policies, err := NewPolicyService(testConfig())
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	p := &pipeline{
		store:    memory.NewStore(),
		auditor:  &recordingAuditor{},
		hub:      &recordingHub{},
		queue:    newFakeQueue(),
		clock:    &clock{now: t0},
		policies: policies,
	}
	p.gate = NewApprovalGate(p.store, p.queue, p.hub, p.auditor)
	p.gate.now = p.clock.Now
	p.coord = NewCoordinator(p.store, policies, NewCollector(4, nil), NewExplainer(nil, nil),
		p.gate, p.auditor, p.queue, p.hub)
	p.coord.now = p.clock.Now
	p.coord.SetSources(sources(srcs...))
	return p
}

// scenarioA returns the three sources of the reference HIGH example.
func scenarioA() []*fakeSource {
	return []*fakeSource{
		scored("linguistic", 0.90, 0.92),
		scored("technical_validation", 0.75, 0.88),
		scored("threat_intelligence", 0.88, 0.95),
	}
}
