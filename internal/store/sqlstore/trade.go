package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

// InsertTargetTrade records an observed trade. A repeated event key returns
// domain.ErrAlreadyExists.
func (t *txStore) InsertTargetTrade(ctx context.Context, tr domain.TargetTrade) (int64, error) {
	var id int64
	err := t.q.queryRow(ctx, `
		INSERT INTO target_trades (
			event_key, wallet, token_id, side, size, price, cost_usd,
			tx_hash, block_number, onchain_at, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		tr.EventKey, tr.Wallet, tr.TokenID, string(tr.Side), tr.Size, tr.Price, tr.CostUSD,
		tr.TxHash, int64(tr.BlockNumber), ms(tr.OnchainAt), ms(tr.DetectedAt),
	).Scan(&id)
	if err != nil {
		if t.q.d.UniqueViolation(err) {
			return 0, fmt.Errorf("sqlstore: insert target trade %s: %w", tr.EventKey, domain.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("sqlstore: insert target trade: %w", err)
	}
	return id, nil
}

func (t *txStore) InsertBookSnapshot(ctx context.Context, s domain.BookSnapshot) (int64, error) {
	bids, err := json.Marshal(levelsOrEmpty(s.Bids))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: marshal bids: %w", err)
	}
	asks, err := json.Marshal(levelsOrEmpty(s.Asks))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: marshal asks: %w", err)
	}

	var id int64
	err = t.q.queryRow(ctx, `
		INSERT INTO orderbook_snapshots (
			target_trade_id, token_id, bids, asks, best_bid, best_ask,
			bid_liquidity, ask_liquidity, fetch_latency_ms, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		s.TargetTradeID, s.TokenID, string(bids), string(asks),
		nullFloat(s.BestBid), nullFloat(s.BestAsk),
		s.BidLiquidity, s.AskLiquidity, s.FetchLatency.Milliseconds(), ms(s.CapturedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: insert snapshot: %w", err)
	}
	return id, nil
}

func (t *txStore) InsertPaperTrade(ctx context.Context, p domain.PaperTrade) (int64, error) {
	var snapshot sql.NullInt64
	if p.SnapshotID > 0 {
		snapshot = sql.NullInt64{Int64: p.SnapshotID, Valid: true}
	}
	var id int64
	err := t.q.queryRow(ctx, `
		INSERT INTO paper_trades (
			target_trade_id, snapshot_id, token_id, side, size, avg_price, cost_usd, slippage,
			detection_delay_ms, execution_delay_ms, total_delay_ms, no_fill_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		p.TargetTradeID, snapshot, p.TokenID, string(p.Side), p.Size, p.AvgPrice, p.CostUSD, p.Slippage,
		p.DetectionDelay.Milliseconds(), p.ExecutionDelay.Milliseconds(), p.TotalDelay.Milliseconds(),
		p.NoFillReason, ms(p.CreatedAt),
	).Scan(&id)
	if err != nil {
		if t.q.d.UniqueViolation(err) {
			return 0, fmt.Errorf("sqlstore: insert paper trade for %d: %w", p.TargetTradeID, domain.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("sqlstore: insert paper trade: %w", err)
	}
	return id, nil
}

func levelsOrEmpty(l []domain.PriceLevel) []domain.PriceLevel {
	if l == nil {
		return []domain.PriceLevel{}
	}
	return l
}

// ListTargetTrades returns target trades newest first.
func (s *Store) ListTargetTrades(ctx context.Context, opts domain.ListOpts) ([]domain.TargetTrade, error) {
	var f filter
	if opts.Wallet != "" {
		f.add("wallet = ?", opts.Wallet)
	}
	if opts.TokenID != "" {
		f.add("token_id = ?", opts.TokenID)
	}
	f.window("detected_at", opts)
	page, args := pageClause(opts, f.args)

	rows, err := s.q().query(ctx, `
		SELECT id, event_key, wallet, token_id, side, size, price, cost_usd,
			tx_hash, block_number, onchain_at, detected_at
		FROM target_trades`+f.where()+` ORDER BY id DESC`+page, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list target trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TargetTrade
	for rows.Next() {
		var (
			tr                domain.TargetTrade
			side              string
			block             int64
			onchain, detected int64
		)
		if err := rows.Scan(&tr.ID, &tr.EventKey, &tr.Wallet, &tr.TokenID, &side, &tr.Size, &tr.Price,
			&tr.CostUSD, &tr.TxHash, &block, &onchain, &detected); err != nil {
			return nil, fmt.Errorf("sqlstore: scan target trade: %w", err)
		}
		tr.Side = domain.Side(side)
		tr.BlockNumber = uint64(block)
		tr.OnchainAt = fromMs(onchain)
		tr.DetectedAt = fromMs(detected)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListPaperTrades returns paper trades newest first.
func (s *Store) ListPaperTrades(ctx context.Context, opts domain.ListOpts) ([]domain.PaperTrade, error) {
	var f filter
	if opts.TokenID != "" {
		f.add("p.token_id = ?", opts.TokenID)
	}
	if opts.Wallet != "" {
		f.add("t.wallet = ?", opts.Wallet)
	}
	f.window("p.created_at", opts)
	page, args := pageClause(opts, f.args)

	rows, err := s.q().query(ctx, `
		SELECT p.id, p.target_trade_id, p.snapshot_id, p.token_id, p.side, p.size, p.avg_price,
			p.cost_usd, p.slippage, p.detection_delay_ms, p.execution_delay_ms, p.total_delay_ms,
			p.no_fill_reason, p.created_at
		FROM paper_trades p
		JOIN target_trades t ON t.id = p.target_trade_id`+f.where()+` ORDER BY p.id DESC`+page, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list paper trades: %w", err)
	}
	defer rows.Close()

	var out []domain.PaperTrade
	for rows.Next() {
		var (
			p                   domain.PaperTrade
			snapshot            sql.NullInt64
			side                string
			detect, exec, total int64
			created             int64
		)
		if err := rows.Scan(&p.ID, &p.TargetTradeID, &snapshot, &p.TokenID, &side, &p.Size, &p.AvgPrice,
			&p.CostUSD, &p.Slippage, &detect, &exec, &total, &p.NoFillReason, &created); err != nil {
			return nil, fmt.Errorf("sqlstore: scan paper trade: %w", err)
		}
		p.SnapshotID = snapshot.Int64
		p.Side = domain.Side(side)
		p.DetectionDelay = msDuration(detect)
		p.ExecutionDelay = msDuration(exec)
		p.TotalDelay = msDuration(total)
		p.CreatedAt = fromMs(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

const snapshotCols = `id, target_trade_id, token_id, bids, asks, best_bid, best_ask,
	bid_liquidity, ask_liquidity, fetch_latency_ms, captured_at`

func scanSnapshot(row rowScanner) (domain.BookSnapshot, error) {
	var (
		s                domain.BookSnapshot
		bids, asks       string
		bestBid, bestAsk sql.NullFloat64
		latency          int64
		captured         int64
	)
	if err := row.Scan(&s.ID, &s.TargetTradeID, &s.TokenID, &bids, &asks, &bestBid, &bestAsk,
		&s.BidLiquidity, &s.AskLiquidity, &latency, &captured); err != nil {
		return domain.BookSnapshot{}, err
	}
	if err := json.Unmarshal([]byte(bids), &s.Bids); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("decode bids: %w", err)
	}
	if err := json.Unmarshal([]byte(asks), &s.Asks); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("decode asks: %w", err)
	}
	s.BestBid = fromNullFloat(bestBid)
	s.BestAsk = fromNullFloat(bestAsk)
	s.FetchLatency = msDuration(latency)
	s.CapturedAt = fromMs(captured)
	return s, nil
}

// GetBookSnapshotByTrade returns the snapshot captured for a target trade.
func (s *Store) GetBookSnapshotByTrade(ctx context.Context, targetTradeID int64) (domain.BookSnapshot, error) {
	row := s.q().queryRow(ctx,
		`SELECT `+snapshotCols+` FROM orderbook_snapshots WHERE target_trade_id = ?`, targetTradeID)
	snap, err := scanSnapshot(row)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("sqlstore: get snapshot for trade %d: %w", targetTradeID, notFound(err))
	}
	return snap, nil
}

// ListBookSnapshots returns snapshots newest first.
func (s *Store) ListBookSnapshots(ctx context.Context, opts domain.ListOpts) ([]domain.BookSnapshot, error) {
	var f filter
	if opts.TokenID != "" {
		f.add("token_id = ?", opts.TokenID)
	}
	f.window("captured_at", opts)
	page, args := pageClause(opts, f.args)

	rows, err := s.q().query(ctx,
		`SELECT `+snapshotCols+` FROM orderbook_snapshots`+f.where()+` ORDER BY id DESC`+page, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.BookSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
