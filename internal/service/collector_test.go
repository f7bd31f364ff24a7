package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/MailGuard/internal/config"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
)

func TestCollectAllRespond(t *testing.T) {
	snap := testSnapshot(t, nil)
	srcs := scenarioA()
	c := NewCollector(0, nil)

	coll, err := c.Collect(context.Background(), testRequest("req-1"), sources(srcs...), snap)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(coll.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(coll.Results))
	}
	want := []string{"linguistic", "technical_validation", "threat_intelligence"}
	for i, r := range coll.Results {
		if r.Source != want[i] {
			t.Errorf("result %d: source = %q, want %q", i, r.Source, want[i])
		}
		if !r.OK() {
			t.Errorf("%s: unexpected failure %+v", r.Source, r.Failure)
		}
		if r.ReceivedAt.IsZero() {
			t.Errorf("%s: ReceivedAt not set", r.Source)
		}
	}
	for _, s := range srcs {
		if n := s.calls.Load(); n != 1 {
			t.Errorf("%s called %d times, want 1", s.name, n)
		}
	}
}

func TestCollectOverwritesSourceName(t *testing.T) {
	snap := testSnapshot(t, nil)
	src := scored("linguistic", 0.5, 0.5)
	src.res.Source = "impostor"

	coll, err := NewCollector(1, nil).Collect(context.Background(), testRequest("req-1"), sources(src), snap)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if coll.Results[0].Source != "linguistic" {
		t.Errorf("expected source name from the adapter, got %q", coll.Results[0].Source)
	}
}

func TestCollectFailureKinds(t *testing.T) {
	snap := testSnapshot(t, nil)

	outOfRange := scored("out_of_range", 1.5, 0.9)
	reportedFailure := &fakeSource{name: "reported", res: signal.AnalysisResult{
		Failure: &signal.Failure{Kind: signal.FailureError, Message: "model unavailable"},
	}}

	tests := []struct {
		name string
		src  *fakeSource
		want signal.FailureKind
	}{
		{"source timeout", timingOut("slow"), signal.FailureTimeout},
		{"transport error", failing("down"), signal.FailureError},
		{"out of range score", outOfRange, signal.FailureMalformed},
		{"malformed error", &fakeSource{name: "garbled", err: fmt.Errorf("decode: %w", signal.ErrMalformed)}, signal.FailureMalformed},
		{"timeout sentinel", &fakeSource{name: "sentinel", err: signal.ErrSourceTimeout}, signal.FailureTimeout},
		{"reported failure", reportedFailure, signal.FailureError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := scored("linguistic", 0.5, 0.9)
			coll, err := NewCollector(4, nil).Collect(context.Background(), testRequest("req-1"), sources(ok, tt.src), snap)
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			failed := coll.Failed()
			if len(failed) != 1 {
				t.Fatalf("expected 1 failure, got %d", len(failed))
			}
			if failed[0].Source != tt.src.name {
				t.Errorf("failed source = %q, want %q", failed[0].Source, tt.src.name)
			}
			if failed[0].Failure.Kind != tt.want {
				t.Errorf("kind = %s, want %s", failed[0].Failure.Kind, tt.want)
			}
			if len(coll.Present()) != 1 {
				t.Errorf("expected the healthy source to be present")
			}
		})
	}
}

func TestCollectSourceTimeoutOverride(t *testing.T) {
	snap := testSnapshot(t, func(c *config.Config) {
		c.Coordination.SourceTimeout = time.Second
		c.Coordination.GlobalTimeout = 2 * time.Second
	})
	slow := &fakeSource{name: "linguistic", delay: 300 * time.Millisecond, timeout: 20 * time.Millisecond}
	ok := scored("threat_intelligence", 0.2, 0.9)

	start := time.Now()
	coll, err := NewCollector(4, nil).Collect(context.Background(), testRequest("req-1"), sources(slow, ok), snap)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("per-source timeout not applied, took %s", elapsed)
	}
	if f := coll.Results[0].Failure; f == nil || f.Kind != signal.FailureTimeout {
		t.Errorf("expected linguistic timeout, got %+v", coll.Results[0])
	}
}

func TestCollectGlobalDeadline(t *testing.T) {
	snap := testSnapshot(t, func(c *config.Config) {
		c.Coordination.SourceTimeout = time.Second
		c.Coordination.GlobalTimeout = 50 * time.Millisecond
	})
	stuck := &fakeSource{name: "linguistic", delay: 400 * time.Millisecond, ignoreCtx: true}
	ok := scored("threat_intelligence", 0.2, 0.9)

	start := time.Now()
	coll, err := NewCollector(4, nil).Collect(context.Background(), testRequest("req-1"), sources(stuck, ok), snap)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("global deadline not enforced, took %s", elapsed)
	}
	f := coll.Results[0].Failure
	if f == nil || f.Kind != signal.FailureTimeout || f.Message != "global deadline exceeded" {
		t.Errorf("expected global deadline marker, got %+v", coll.Results[0])
	}
	if !coll.Results[1].OK() {
		t.Errorf("expected threat_intelligence present, got %+v", coll.Results[1].Failure)
	}
}

func TestCollectAllFail(t *testing.T) {
	snap := testSnapshot(t, func(c *config.Config) {
		c.Coordination.SourceTimeout = 20 * time.Millisecond
		c.Coordination.GlobalTimeout = 50 * time.Millisecond
	})
	srcs := sources(timingOut("linguistic"), timingOut("technical_validation"), timingOut("threat_intelligence"))

	coll, err := NewCollector(4, nil).Collect(context.Background(), testRequest("req-1"), srcs, snap)
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}
	if len(coll.Results) != 3 || len(coll.Failed()) != 3 {
		t.Errorf("expected 3 failure markers, got %+v", coll.Results)
	}
	if got := describeCollection(&coll); got != "0 of 3 sources responded" {
		t.Errorf("describeCollection = %q", got)
	}
}

func TestCollectCancelled(t *testing.T) {
	snap := testSnapshot(t, func(c *config.Config) {
		c.Coordination.SourceTimeout = time.Second
		c.Coordination.GlobalTimeout = 2 * time.Second
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	coll, err := NewCollector(4, nil).Collect(ctx, testRequest("req-1"), sources(timingOut("linguistic")), snap)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f := coll.Results[0].Failure; f == nil || f.Kind != signal.FailureError {
		t.Errorf("expected cancelled marker, got %+v", coll.Results[0])
	}
}

func TestCollectBoundedParallelism(t *testing.T) {
	snap := testSnapshot(t, func(c *config.Config) {
		c.Coordination.SourceTimeout = time.Second
		c.Coordination.GlobalTimeout = 2 * time.Second
	})
	a := &fakeSource{name: "a", delay: 60 * time.Millisecond, res: signal.AnalysisResult{RiskScore: 0.1, Confidence: 0.9}}
	b := &fakeSource{name: "b", delay: 60 * time.Millisecond, res: signal.AnalysisResult{RiskScore: 0.1, Confidence: 0.9}}

	start := time.Now()
	coll, err := NewCollector(1, nil).Collect(context.Background(), testRequest("req-1"), sources(a, b), snap)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("expected serialized calls with max parallel 1, took %s", elapsed)
	}
	if len(coll.Present()) != 2 {
		t.Errorf("expected both sources present")
	}
}

func TestGatherTakesQueuedOutcomesAfterDeadline(t *testing.T) {
	done := make(chan struct{})
	close(done)

	for range 50 {
		out := make(chan sourceOutcome, 3)
		out <- sourceOutcome{index: 0, result: signal.AnalysisResult{Source: "linguistic"}}
		out <- sourceOutcome{index: 2, result: signal.AnalysisResult{Source: "threat_intelligence"}}

		var taken []int
		missing := gather(done, out, 3, func(o sourceOutcome) { taken = append(taken, o.index) })
		if missing != 1 {
			t.Fatalf("missing = %d, want 1", missing)
		}
		if len(taken) != 2 || taken[0] != 0 || taken[1] != 2 {
			t.Fatalf("taken = %v, want [0 2]", taken)
		}
	}
}

func TestGatherAllArrive(t *testing.T) {
	out := make(chan sourceOutcome, 2)
	out <- sourceOutcome{index: 1}
	out <- sourceOutcome{index: 0}
	n := 0
	if missing := gather(make(chan struct{}), out, 2, func(sourceOutcome) { n++ }); missing != 0 || n != 2 {
		t.Errorf("missing = %d, taken = %d", missing, n)
	}
}
