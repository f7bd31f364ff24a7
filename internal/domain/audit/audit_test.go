package audit

import (
	"testing"
	"time"
)

func TestNewDistinctOccurrences(t *testing.T) {
	now := time.Now()
	a := New(SubjectAction, "act-1", EventExecutionFailed, "APPROVED", "APPROVED", ActorExecutor, now)
	b := New(SubjectAction, "act-1", EventExecutionFailed, "APPROVED", "APPROVED", ActorExecutor, now)
	if a.ID == b.ID {
		t.Errorf("two occurrences share id %s", a.ID)
	}
	if a.ID == "" {
		t.Error("empty id")
	}

	d := a.WithDetail("smtp relay refused")
	if d.ID != a.ID {
		t.Error("WithDetail changed the id of the occurrence")
	}
	if a.Timestamp.Location() != time.UTC {
		t.Error("timestamp not normalized to UTC")
	}
}

func TestWithDetailCopies(t *testing.T) {
	r := New(SubjectVerdict, "v-1", EventVerdictCreated, "", "HIGH", ActorSystem, time.Now())
	d := r.WithDetail("policy standard")
	if r.Detail != "" || d.Detail != "policy standard" {
		t.Errorf("WithDetail mutated receiver or lost detail: %q / %q", r.Detail, d.Detail)
	}
}
