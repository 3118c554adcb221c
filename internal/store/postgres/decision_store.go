package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// DecisionStore implements domain.ResultStore over agent_decisions.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a DecisionStore backed by pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// HasResultSince reports whether agentID recorded a decision at or after since.
func (s *DecisionStore) HasResultSince(ctx context.Context, agentID string, since time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM agent_decisions
			WHERE agent_id = $1 AND created_at >= $2
		)`

	var ok bool
	if err := s.pool.QueryRow(ctx, query, agentID, since).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: decisions since for %s: %w", agentID, err)
	}
	return ok, nil
}

// Record inserts a decision row for agentID.
func (s *DecisionStore) Record(ctx context.Context, agentID, ticker, action, reasoning string) error {
	const query = `
		INSERT INTO agent_decisions (agent_id, market_ticker, action, reasoning)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''))`

	if _, err := s.pool.Exec(ctx, query, agentID, ticker, action, reasoning); err != nil {
		return fmt.Errorf("postgres: record decision for %s: %w", agentID, err)
	}
	return nil
}

var _ domain.ResultStore = (*DecisionStore)(nil)
