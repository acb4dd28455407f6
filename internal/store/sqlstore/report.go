package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// TradeStats aggregates counts and pnl for the summary view.
func (s *Store) TradeStats(ctx context.Context) (domain.TradeStats, error) {
	var (
		st       domain.TradeStats
		filled   sql.NullInt64
		avgSlip  sql.NullFloat64
		realized sql.NullFloat64
		open     sql.NullInt64
	)
	q := s.q()
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM target_trades`).Scan(&st.TargetTrades); err != nil {
		return st, fmt.Errorf("sqlstore: count target trades: %w", err)
	}
	if err := q.queryRow(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN size > 0 THEN 1 ELSE 0 END),
			AVG(CASE WHEN size > 0 THEN slippage END)
		FROM paper_trades`,
	).Scan(&st.PaperTrades, &filled, &avgSlip); err != nil {
		return st, fmt.Errorf("sqlstore: paper trade stats: %w", err)
	}
	if err := q.queryRow(ctx, `
		SELECT SUM(realized_pnl), SUM(CASE WHEN size > ? THEN 1 ELSE 0 END)
		FROM positions`, domain.DustEpsilon,
	).Scan(&realized, &open); err != nil {
		return st, fmt.Errorf("sqlstore: position stats: %w", err)
	}
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM wallets WHERE tracking_enabled`).Scan(&st.TrackedWallets); err != nil {
		return st, fmt.Errorf("sqlstore: count wallets: %w", err)
	}
	st.Filled = filled.Int64
	st.NoFills = st.PaperTrades - st.Filled
	st.AvgSlippage = avgSlip.Float64
	st.RealizedPnL = realized.Float64
	st.OpenPositions = open.Int64
	return st, nil
}

// LatencyStats aggregates paper trade delays.
func (s *Store) LatencyStats(ctx context.Context) (domain.LatencyStats, error) {
	var (
		st                 domain.LatencyStats
		avgDet, avgExec    sql.NullFloat64
		avgTotal           sql.NullFloat64
		minTotal, maxTotal sql.NullInt64
	)
	err := s.q().queryRow(ctx, `
		SELECT COUNT(*),
			AVG(CAST(detection_delay_ms AS DOUBLE PRECISION)),
			AVG(CAST(execution_delay_ms AS DOUBLE PRECISION)),
			AVG(CAST(total_delay_ms AS DOUBLE PRECISION)),
			MIN(total_delay_ms), MAX(total_delay_ms)
		FROM paper_trades`,
	).Scan(&st.Samples, &avgDet, &avgExec, &avgTotal, &minTotal, &maxTotal)
	if err != nil {
		return st, fmt.Errorf("sqlstore: latency stats: %w", err)
	}
	st.AvgDetection = msDuration(int64(avgDet.Float64))
	st.AvgExecution = msDuration(int64(avgExec.Float64))
	st.AvgTotal = msDuration(int64(avgTotal.Float64))
	st.MinTotal = msDuration(minTotal.Int64)
	st.MaxTotal = msDuration(maxTotal.Int64)
	return st, nil
}

// CategoryVolume sums paper trade cost per instrument category.
func (s *Store) CategoryVolume(ctx context.Context) (map[string]float64, error) {
	rows, err := s.q().query(ctx, `
		SELECT i.category, SUM(p.cost_usd)
		FROM paper_trades p
		JOIN instruments i ON i.token_id = p.token_id
		GROUP BY i.category`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: category volume: %w", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var (
			category string
			vol      sql.NullFloat64
		)
		if err := rows.Scan(&category, &vol); err != nil {
			return nil, fmt.Errorf("sqlstore: scan category volume: %w", err)
		}
		out[category] += vol.Float64
	}
	return out, rows.Err()
}

// ListCostSeries returns filled paper trades oldest first with the running
// cash flow. Wallet, Since and Until filter the series; paging is ignored.
func (s *Store) ListCostSeries(ctx context.Context, opts domain.ListOpts) ([]domain.CostPoint, error) {
	var f filter
	f.add("p.size > 0")
	if opts.Wallet != "" {
		f.add("t.wallet = ?", opts.Wallet)
	}
	if opts.TokenID != "" {
		f.add("p.token_id = ?", opts.TokenID)
	}
	f.window("p.created_at", opts)

	rows, err := s.q().query(ctx, `
		SELECT p.id, p.created_at, t.wallet, p.token_id, COALESCE(i.question, ''), p.side, p.cost_usd
		FROM paper_trades p
		JOIN target_trades t ON t.id = p.target_trade_id
		LEFT JOIN instruments i ON i.token_id = p.token_id`+f.where()+`
		ORDER BY p.created_at, p.id`, f.args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list cost series: %w", err)
	}
	defer rows.Close()

	var (
		out        []domain.CostPoint
		cumulative float64
	)
	for rows.Next() {
		var (
			pt      domain.CostPoint
			created int64
			side    string
		)
		if err := rows.Scan(&pt.PaperTradeID, &created, &pt.Wallet, &pt.TokenID, &pt.Question, &side, &pt.CostUSD); err != nil {
			return nil, fmt.Errorf("sqlstore: scan cost point: %w", err)
		}
		pt.At = fromMs(created)
		pt.Side = domain.Side(side)
		if pt.Side == domain.SideSell {
			cumulative += pt.CostUSD
		} else {
			cumulative -= pt.CostUSD
		}
		pt.CumulativeCost = cumulative
		out = append(out, pt)
	}
	return out, rows.Err()
}

// ListMarketStatus groups instruments by market with their open size and
// check schedule, most recently seen market first.
func (s *Store) ListMarketStatus(ctx context.Context, opts domain.ListOpts) ([]domain.MarketStatus, error) {
	rows, err := s.q().query(ctx, `
		SELECT i.token_id, i.condition_id, i.question, i.slug, i.category, i.outcome, i.outcome_index,
			i.resolved, i.winning_outcome, i.payout_value, i.resolved_at,
			i.last_check_at, i.next_check_at, i.check_failures, i.first_seen_at,
			COALESCE(p.size, 0), COALESCE(p.realized_pnl, 0)
		FROM instruments i
		LEFT JOIN positions p ON p.token_id = i.token_id
		ORDER BY i.first_seen_at DESC, i.condition_id, i.outcome_index`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list market status: %w", err)
	}
	defer rows.Close()

	var (
		out   []domain.MarketStatus
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			size, realized float64
			inst           domain.Instrument
		)
		inst, err = scanInstrumentWith(rows, &size, &realized)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan market status: %w", err)
		}

		key := inst.MarketKey()
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, domain.MarketStatus{
				ConditionID: inst.ConditionID,
				Question:    inst.Question,
				Category:    inst.Category,
				Resolved:    true,
			})
		}
		m := &out[i]
		m.Instruments = append(m.Instruments, inst)
		m.Resolved = m.Resolved && inst.Resolved
		if size > domain.DustEpsilon {
			m.OpenSize += size
		}
		m.RealizedPnL += realized
		if inst.Check.LastCheckedAt != nil && (m.LastCheckedAt == nil || inst.Check.LastCheckedAt.After(*m.LastCheckedAt)) {
			m.LastCheckedAt = inst.Check.LastCheckedAt
		}
		if inst.Check.NextCheckAt != nil && (m.NextCheckAt == nil || inst.Check.NextCheckAt.Before(*m.NextCheckAt)) {
			m.NextCheckAt = inst.Check.NextCheckAt
		}
		if inst.Check.ConsecutiveFailures > m.Failures {
			m.Failures = inst.Check.ConsecutiveFailures
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	start := opts.Offset
	if start < 0 || start > len(out) {
		start = len(out)
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

// scanInstrumentWith scans instrumentCols followed by extra columns.
func scanInstrumentWith(row rowScanner, extra ...any) (domain.Instrument, error) {
	return scanInstrument(extraScanner{row: row, extra: extra})
}

type extraScanner struct {
	row   rowScanner
	extra []any
}

func (e extraScanner) Scan(dest ...any) error {
	return e.row.Scan(append(dest, e.extra...)...)
}
