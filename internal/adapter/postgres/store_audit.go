package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/MailGuard/internal/domain/audit"
)

// --- Audit ---

// AppendAudit inserts r. A replayed record with the same id is a no-op.
func (s *Store) AppendAudit(ctx context.Context, r *audit.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (id, subject_id, subject_kind, event, before_state, after_state, actor, detail, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.SubjectID, string(r.SubjectKind), string(r.Event), r.Before, r.After, r.Actor, r.Detail, r.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", r.ID, err)
	}
	return nil
}

// ListAudit returns the records of a verdict or action, oldest first. For a
// verdict id, the records of its actions are included.
func (s *Store) ListAudit(ctx context.Context, subjectID string) ([]audit.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, subject_kind, event, before_state, after_state, actor, detail, recorded_at
		 FROM audit_records
		 WHERE subject_id = $1
		    OR subject_id IN (SELECT id::text FROM actions WHERE verdict_id::text = $1)
		 ORDER BY recorded_at, id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list audit %s: %w", subjectID, err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			r           audit.Record
			kind, event string
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &kind, &event, &r.Before, &r.After, &r.Actor, &r.Detail, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.SubjectKind = audit.SubjectKind(kind)
		r.Event = audit.Event(event)
		out = append(out, r)
	}
	return out, rows.Err()
}
