package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// PositionStore implements domain.RecipientDirectory over agent_positions.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// HoldersOf returns the agents with a non-zero position in ticker.
func (s *PositionStore) HoldersOf(ctx context.Context, ticker string) ([]string, error) {
	const query = `
		SELECT DISTINCT agent_id
		FROM agent_positions
		WHERE market_ticker = $1 AND quantity > 0
		ORDER BY agent_id`

	rows, err := s.pool.Query(ctx, query, strings.TrimSpace(ticker))
	if err != nil {
		return nil, fmt.Errorf("postgres: holders of %s: %w", ticker, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan holder: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: holders of %s rows: %w", ticker, err)
	}
	return ids, nil
}

// Upsert sets an agent's position quantity in ticker.
func (s *PositionStore) Upsert(ctx context.Context, agentID, ticker, side string, quantity float64) error {
	const query = `
		INSERT INTO agent_positions (agent_id, market_ticker, side, quantity, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (agent_id, market_ticker, side)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, agentID, ticker, side, quantity); err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", agentID, ticker, err)
	}
	return nil
}

var _ domain.RecipientDirectory = (*PositionStore)(nil)
