package s3blob

import (
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

type targetTradeRecord struct {
	ID          int64     `json:"id"`
	EventKey    string    `json:"event_key"`
	Wallet      string    `json:"wallet"`
	TokenID     string    `json:"token_id"`
	Side        string    `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	CostUSD     float64   `json:"cost_usd"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	OnchainAt   time.Time `json:"onchain_at"`
	DetectedAt  time.Time `json:"detected_at"`
}

func newTargetTradeRecord(t domain.TargetTrade) any {
	return targetTradeRecord{
		ID: t.ID, EventKey: t.EventKey, Wallet: t.Wallet, TokenID: t.TokenID,
		Side: string(t.Side), Size: t.Size, Price: t.Price, CostUSD: t.CostUSD,
		TxHash: t.TxHash, BlockNumber: t.BlockNumber, OnchainAt: t.OnchainAt, DetectedAt: t.DetectedAt,
	}
}

type paperTradeRecord struct {
	ID               int64     `json:"id"`
	TargetTradeID    int64     `json:"target_trade_id"`
	SnapshotID       int64     `json:"snapshot_id,omitempty"`
	TokenID          string    `json:"token_id"`
	Side             string    `json:"side"`
	Size             float64   `json:"size"`
	AvgPrice         float64   `json:"avg_price"`
	CostUSD          float64   `json:"cost_usd"`
	Slippage         float64   `json:"slippage"`
	DetectionDelayMs int64     `json:"detection_delay_ms"`
	ExecutionDelayMs int64     `json:"execution_delay_ms"`
	TotalDelayMs     int64     `json:"total_delay_ms"`
	NoFillReason     string    `json:"no_fill_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func newPaperTradeRecord(p domain.PaperTrade) any {
	return paperTradeRecord{
		ID: p.ID, TargetTradeID: p.TargetTradeID, SnapshotID: p.SnapshotID, TokenID: p.TokenID,
		Side: string(p.Side), Size: p.Size, AvgPrice: p.AvgPrice, CostUSD: p.CostUSD, Slippage: p.Slippage,
		DetectionDelayMs: p.DetectionDelay.Milliseconds(),
		ExecutionDelayMs: p.ExecutionDelay.Milliseconds(),
		TotalDelayMs:     p.TotalDelay.Milliseconds(),
		NoFillReason:     p.NoFillReason,
		CreatedAt:        p.CreatedAt,
	}
}

type snapshotRecord struct {
	ID             int64               `json:"id"`
	TargetTradeID  int64               `json:"target_trade_id"`
	TokenID        string              `json:"token_id"`
	Bids           []domain.PriceLevel `json:"bids"`
	Asks           []domain.PriceLevel `json:"asks"`
	BestBid        *float64            `json:"best_bid"`
	BestAsk        *float64            `json:"best_ask"`
	BidLiquidity   float64             `json:"bid_liquidity"`
	AskLiquidity   float64             `json:"ask_liquidity"`
	FetchLatencyMs int64               `json:"fetch_latency_ms"`
	CapturedAt     time.Time           `json:"captured_at"`
}

func newSnapshotRecord(s domain.BookSnapshot) any {
	return snapshotRecord{
		ID: s.ID, TargetTradeID: s.TargetTradeID, TokenID: s.TokenID,
		Bids: s.Bids, Asks: s.Asks, BestBid: s.BestBid, BestAsk: s.BestAsk,
		BidLiquidity: s.BidLiquidity, AskLiquidity: s.AskLiquidity,
		FetchLatencyMs: s.FetchLatency.Milliseconds(), CapturedAt: s.CapturedAt,
	}
}

type positionRecord struct {
	TokenID     string    `json:"token_id"`
	ConditionID string    `json:"condition_id,omitempty"`
	Question    string    `json:"question,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Size        float64   `json:"size"`
	CostBasis   float64   `json:"cost_basis"`
	RealizedPnL float64   `json:"realized_pnl"`
	Resolved    bool      `json:"resolved"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newPositionRecord(v domain.PositionView) any {
	return positionRecord{
		TokenID: v.TokenID, ConditionID: v.ConditionID, Question: v.Question, Outcome: v.Outcome,
		Size: v.Size, CostBasis: v.CostBasis, RealizedPnL: v.RealizedPnL,
		Resolved: v.Resolved, UpdatedAt: v.UpdatedAt,
	}
}
