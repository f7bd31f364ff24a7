package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/MailGuard/internal/domain"
	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/verdict"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Verdicts ---

func (s *Store) CreateVerdict(ctx context.Context, v *verdict.Verdict) error {
	return insertVerdict(ctx, s.pool, v)
}

// CreateVerdictWithActions inserts the verdict, its plan and the approval
// requests in one transaction.
func (s *Store) CreateVerdictWithActions(ctx context.Context, v *verdict.Verdict, actions []action.Recommended, approvals []action.ApprovalRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create verdict: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertVerdict(ctx, tx, v); err != nil {
		return err
	}
	if err := insertPlan(ctx, tx, actions, approvals); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create verdict %s: %w", v.ID, err)
	}
	return nil
}

func insertVerdict(ctx context.Context, q execer, v *verdict.Verdict) error {
	contributions, err := jsonOrEmpty(v.Contributions)
	if err != nil {
		return fmt.Errorf("marshal contributions: %w", err)
	}
	failures, err := jsonOrEmpty(v.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	var override []byte
	if v.Override != nil {
		if override, err = json.Marshal(v.Override); err != nil {
			return fmt.Errorf("marshal override: %w", err)
		}
	}
	explanation, err := json.Marshal(v.Explanation)
	if err != nil {
		return fmt.Errorf("marshal explanation: %w", err)
	}
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO verdicts (id, request_id, final_risk, risk_level, uncertainty, confidence,
		                       contributions, sources_used, failures, override, explanation, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		v.ID, v.RequestID, v.FinalRisk, string(v.Level), v.Uncertainty, v.Confidence,
		contributions, pgTextArray(v.SourcesUsed), failures, override, explanation, metadata, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create verdict %s: %w", v.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create verdict %s: %w", v.ID, err)
	}
	return nil
}

// GetVerdict returns the verdict with its actions in plan order.
func (s *Store) GetVerdict(ctx context.Context, id string) (*verdict.Verdict, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, request_id, final_risk, risk_level, uncertainty, confidence,
		        contributions, sources_used, failures, override, explanation, metadata, created_at
		 FROM verdicts WHERE id = $1`, id)

	v, err := scanVerdict(row)
	if err != nil {
		return nil, notFoundWrap(err, "get verdict %s", id)
	}

	actions, err := s.ListActionsByVerdict(ctx, id)
	if err != nil {
		return nil, err
	}
	v.Actions = actions
	return &v, nil
}

func scanVerdict(row scannable) (verdict.Verdict, error) {
	var (
		v                                 verdict.Verdict
		level                             string
		contributions, failures, override []byte
		explanation, metadata             []byte
	)
	err := row.Scan(&v.ID, &v.RequestID, &v.FinalRisk, &level, &v.Uncertainty, &v.Confidence,
		&contributions, &v.SourcesUsed, &failures, &override, &explanation, &metadata, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	v.Level = verdict.RiskLevel(level)

	if err := json.Unmarshal(contributions, &v.Contributions); err != nil {
		return v, fmt.Errorf("unmarshal contributions: %w", err)
	}
	if err := json.Unmarshal(failures, &v.Failures); err != nil {
		return v, fmt.Errorf("unmarshal failures: %w", err)
	}
	if len(override) > 0 {
		v.Override = &verdict.Override{}
		if err := json.Unmarshal(override, v.Override); err != nil {
			return v, fmt.Errorf("unmarshal override: %w", err)
		}
	}
	if err := json.Unmarshal(explanation, &v.Explanation); err != nil {
		return v, fmt.Errorf("unmarshal explanation: %w", err)
	}
	if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
		return v, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return v, nil
}
