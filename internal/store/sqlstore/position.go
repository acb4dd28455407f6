package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// GetPosition returns domain.ErrNotFound when the instrument was never held.
func (t *txStore) GetPosition(ctx context.Context, tokenID string) (domain.Position, error) {
	var (
		p       domain.Position
		updated int64
	)
	err := t.q.queryRow(ctx,
		`SELECT token_id, size, cost_basis, realized_pnl, updated_at FROM positions WHERE token_id = ?`,
		tokenID,
	).Scan(&p.TokenID, &p.Size, &p.CostBasis, &p.RealizedPnL, &updated)
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlstore: get position %s: %w", tokenID, notFound(err))
	}
	p.UpdatedAt = fromMs(updated)
	return p, nil
}

func (t *txStore) SavePosition(ctx context.Context, p domain.Position) error {
	_, err := t.q.exec(ctx, `
		INSERT INTO positions (token_id, size, cost_basis, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token_id) DO UPDATE SET
			size = excluded.size,
			cost_basis = excluded.cost_basis,
			realized_pnl = excluded.realized_pnl,
			updated_at = excluded.updated_at`,
		p.TokenID, p.Size, p.CostBasis, p.RealizedPnL, ms(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: save position %s: %w", p.TokenID, err)
	}
	return nil
}

// ListPositions returns positions with their instrument metadata and the
// average price of the latest filled paper trade, most recently updated
// first. Valuation is left to the caller.
func (s *Store) ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.PositionView, error) {
	var f filter
	if opts.TokenID != "" {
		f.add("p.token_id = ?", opts.TokenID)
	}
	f.window("p.updated_at", opts)
	page, args := pageClause(opts, f.args)

	rows, err := s.q().query(ctx, `
		SELECT p.token_id, p.size, p.cost_basis, p.realized_pnl, p.updated_at,
			COALESCE(i.question, ''), COALESCE(i.outcome, ''), COALESCE(i.condition_id, ''),
			COALESCE(i.category, ''), COALESCE(i.resolved, FALSE),
			(SELECT pt.avg_price FROM paper_trades pt
			 WHERE pt.token_id = p.token_id AND pt.size > 0
			 ORDER BY pt.id DESC LIMIT 1)
		FROM positions p
		LEFT JOIN instruments i ON i.token_id = p.token_id`+f.where()+`
		ORDER BY p.updated_at DESC, p.token_id`+page, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.PositionView
	for rows.Next() {
		var (
			v       domain.PositionView
			updated int64
			last    sql.NullFloat64
		)
		if err := rows.Scan(&v.TokenID, &v.Size, &v.CostBasis, &v.RealizedPnL, &updated,
			&v.Question, &v.Outcome, &v.ConditionID, &v.Category, &v.Resolved, &last); err != nil {
			return nil, fmt.Errorf("sqlstore: scan position: %w", err)
		}
		v.UpdatedAt = fromMs(updated)
		v.LastPrice = fromNullFloat(last)
		out = append(out, v)
	}
	return out, rows.Err()
}
