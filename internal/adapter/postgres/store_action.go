package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/action"
)

const actionColumns = `id, verdict_id, type, priority, confidence, params, requires_approval, reasoning,
	status, version, execution_ref, created_at, updated_at, executed_at`

const approvalColumns = `action_id, verdict_id, action_type, reasoning, created_at, expires_at,
	decision, reviewer, comment, decided_at`

// --- Actions ---

// CreateActions inserts the plan and its approval requests in one
// transaction. Plan order is kept in the position column.
func (s *Store) CreateActions(ctx context.Context, actions []action.Recommended, approvals []action.ApprovalRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create actions: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertPlan(ctx, tx, actions, approvals); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create actions: %w", err)
	}
	return nil
}

// insertPlan writes actions in plan order and their approval requests.
func insertPlan(ctx context.Context, q execer, actions []action.Recommended, approvals []action.ApprovalRequest) error {
	for i := range actions {
		a := &actions[i]
		params, err := json.Marshal(a.Params)
		if err != nil {
			return fmt.Errorf("marshal params %s: %w", a.ID, err)
		}
		_, err = q.Exec(ctx,
			`INSERT INTO actions (id, verdict_id, position, type, priority, confidence, params, requires_approval,
			                      reasoning, status, version, execution_ref, created_at, updated_at, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			a.ID, a.VerdictID, i, string(a.Type), string(a.Priority), a.Confidence, params, a.RequiresApproval,
			a.Reasoning, string(a.Status), a.Version, a.ExecutionRef, a.CreatedAt, a.UpdatedAt, nullTime(a.ExecutedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create action %s: %w", a.ID, domain.ErrConflict)
			}
			return fmt.Errorf("create action %s: %w", a.ID, err)
		}
	}

	for i := range approvals {
		r := &approvals[i]
		_, err := q.Exec(ctx,
			`INSERT INTO approvals (action_id, verdict_id, action_type, reasoning, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ActionID, r.VerdictID, string(r.ActionType), r.Reasoning, r.CreatedAt, r.ExpiresAt)
		if err != nil {
			return fmt.Errorf("create approval %s: %w", r.ActionID, err)
		}
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*action.Recommended, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if err != nil {
		return nil, notFoundWrap(err, "get action %s", id)
	}
	return &a, nil
}

func (s *Store) ListActionsByVerdict(ctx context.Context, verdictID string) ([]action.Recommended, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE verdict_id = $1 ORDER BY position`, verdictID)
	if err != nil {
		return nil, fmt.Errorf("list actions %s: %w", verdictID, err)
	}
	defer rows.Close()

	var out []action.Recommended
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAction is a compare-and-set on the action version. The approval
// decision, when given, is written in the same transaction and only if the
// request is still undecided.
func (s *Store) UpdateAction(ctx context.Context, a *action.Recommended, approval *action.ApprovalRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update action: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE actions SET status = $2, version = version + 1, execution_ref = $3, updated_at = $4, executed_at = $5
		 WHERE id = $1 AND version = $6`,
		a.ID, string(a.Status), a.ExecutionRef, a.UpdatedAt, nullTime(a.ExecutedAt), a.Version)
	if err != nil {
		return fmt.Errorf("update action %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "update action", a.ID)
	}

	if approval != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE approvals SET decision = $2, reviewer = $3, comment = $4, decided_at = $5
			 WHERE action_id = $1 AND decision IS NULL`,
			approval.ActionID, string(approval.Decision), approval.Reviewer, approval.Comment, nullTime(approval.DecidedAt))
		if err != nil {
			return fmt.Errorf("decide approval %s: %w", approval.ActionID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("decide approval %s: %w", approval.ActionID, domain.ErrConflict)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update action %s: %w", a.ID, err)
	}
	a.Version++
	return nil
}

// missingOrConflict distinguishes a missing row from a stale version after
// a CAS matched nothing.
func (s *Store) missingOrConflict(ctx context.Context, op, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM actions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, id, domain.ErrConflict)
}

func scanAction(row scannable) (action.Recommended, error) {
	var (
		a             action.Recommended
		typ, prio, st string
		params        []byte
		executedAt    *time.Time
	)
	err := row.Scan(&a.ID, &a.VerdictID, &typ, &prio, &a.Confidence, &params, &a.RequiresApproval, &a.Reasoning,
		&st, &a.Version, &a.ExecutionRef, &a.CreatedAt, &a.UpdatedAt, &executedAt)
	if err != nil {
		return a, err
	}
	a.Type = action.Type(typ)
	a.Priority = action.Priority(prio)
	a.Status = action.Status(st)
	a.ExecutedAt = executedAt

	p, err := action.DecodeParams(a.Type, params)
	if err != nil {
		return a, err
	}
	a.Params = p
	return a, nil
}

// --- Approvals ---

func (s *Store) GetApproval(ctx context.Context, actionID string) (*action.ApprovalRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE action_id = $1`, actionID)
	r, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", actionID)
	}
	return &r, nil
}

func (s *Store) ListPendingApprovals(ctx context.Context) ([]action.ApprovalRequest, error) {
	return s.queryApprovals(ctx, "list pending approvals",
		`SELECT `+approvalColumns+` FROM approvals WHERE decision IS NULL ORDER BY expires_at, action_id`)
}

func (s *Store) ListExpiredApprovals(ctx context.Context, now time.Time) ([]action.ApprovalRequest, error) {
	return s.queryApprovals(ctx, "list expired approvals",
		`SELECT `+approvalColumns+` FROM approvals WHERE decision IS NULL AND expires_at <= $1 ORDER BY expires_at, action_id`,
		now)
}

func (s *Store) queryApprovals(ctx context.Context, op, query string, args ...any) ([]action.ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []action.ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanApproval(row scannable) (action.ApprovalRequest, error) {
	var (
		r        action.ApprovalRequest
		typ      string
		decision *string
	)
	err := row.Scan(&r.ActionID, &r.VerdictID, &typ, &r.Reasoning, &r.CreatedAt, &r.ExpiresAt,
		&decision, &r.Reviewer, &r.Comment, &r.DecidedAt)
	if err != nil {
		return r, err
	}
	r.ActionType = action.Type(typ)
	if decision != nil {
		r.Decision = action.Decision(*decision)
	}
	return r, nil
}
