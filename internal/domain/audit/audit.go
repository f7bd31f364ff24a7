// Package audit provides the append-only audit record written for every
// verdict and every action status transition.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAuditWrite is reported when a record could not be persisted or
// published. It never fails the decision path.
var ErrAuditWrite = errors.New("audit write failure")

// SubjectKind is what a record is about.
type SubjectKind string

const (
	SubjectVerdict SubjectKind = "verdict"
	SubjectAction  SubjectKind = "action"
)

// Event names a recorded occurrence.
type Event string

const (
	EventVerdictCreated     Event = "verdict.created"
	EventVerdictFailed      Event = "verdict.failed"
	EventActionProposed     Event = "action.proposed"
	EventActionTransitioned Event = "action.transitioned"
	EventExecutionFailed    Event = "action.execution_failed"
)

// Well-known actors.
const (
	ActorSystem   = "system"
	ActorExecutor = "executor"
	ActorSweeper  = "expiry-sweeper"
)

// Record is one immutable audit entry.
type Record struct {
	ID          string      `json:"id"`
	SubjectID   string      `json:"subject_id"`
	SubjectKind SubjectKind `json:"subject_kind"`
	Event       Event       `json:"event"`
	Before      string      `json:"before,omitempty"`
	After       string      `json:"after,omitempty"`
	Actor       string      `json:"actor"`
	Detail      string      `json:"detail,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// New builds a record for one occurrence of event. Every call gets a fresh
// time-ordered id; a retried write of the same record keeps it, so sinks
// dedupe retries without merging distinct occurrences.
func New(kind SubjectKind, subjectID string, event Event, before, after, actor string, at time.Time) Record {
	return Record{
		ID:          uuid.Must(uuid.NewV7()).String(),
		SubjectID:   subjectID,
		SubjectKind: kind,
		Event:       event,
		Before:      before,
		After:       after,
		Actor:       actor,
		Timestamp:   at.UTC(),
	}
}

// WithDetail returns a copy of r carrying detail.
func (r Record) WithDetail(detail string) Record {
	r.Detail = detail
	return r
}
