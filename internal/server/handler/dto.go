package handler

import (
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/service"
)

type targetTradeDTO struct {
	ID          int64     `json:"id"`
	Wallet      string    `json:"wallet"`
	TokenID     string    `json:"token_id"`
	Side        string    `json:"side"`
	Size        float64   `json:"size"`
	Price       float64   `json:"price"`
	CostUSD     float64   `json:"cost_usd"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	OnchainAt   time.Time `json:"onchain_at"`
	DetectedAt  time.Time `json:"detected_at"`
}

func toTargetTrade(t domain.TargetTrade) targetTradeDTO {
	return targetTradeDTO{
		ID:          t.ID,
		Wallet:      t.Wallet,
		TokenID:     t.TokenID,
		Side:        string(t.Side),
		Size:        t.Size,
		Price:       t.Price,
		CostUSD:     t.CostUSD,
		TxHash:      t.TxHash,
		BlockNumber: t.BlockNumber,
		OnchainAt:   t.OnchainAt,
		DetectedAt:  t.DetectedAt,
	}
}

type paperTradeDTO struct {
	ID               int64     `json:"id"`
	TargetTradeID    int64     `json:"target_trade_id"`
	TokenID          string    `json:"token_id"`
	Side             string    `json:"side"`
	Filled           bool      `json:"filled"`
	Size             float64   `json:"size"`
	AvgPrice         float64   `json:"avg_price"`
	CostUSD          float64   `json:"cost_usd"`
	Slippage         float64   `json:"slippage"`
	NoFillReason     string    `json:"no_fill_reason,omitempty"`
	DetectionDelayMs int64     `json:"detection_delay_ms"`
	ExecutionDelayMs int64     `json:"execution_delay_ms"`
	TotalDelayMs     int64     `json:"total_delay_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

func toPaperTrade(p domain.PaperTrade) paperTradeDTO {
	return paperTradeDTO{
		ID:               p.ID,
		TargetTradeID:    p.TargetTradeID,
		TokenID:          p.TokenID,
		Side:             string(p.Side),
		Filled:           p.Filled(),
		Size:             p.Size,
		AvgPrice:         p.AvgPrice,
		CostUSD:          p.CostUSD,
		Slippage:         p.Slippage,
		NoFillReason:     p.NoFillReason,
		DetectionDelayMs: ms(p.DetectionDelay),
		ExecutionDelayMs: ms(p.ExecutionDelay),
		TotalDelayMs:     ms(p.TotalDelay),
		CreatedAt:        p.CreatedAt,
	}
}

type snapshotDTO struct {
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

func toSnapshot(s domain.BookSnapshot) snapshotDTO {
	return snapshotDTO{
		ID:             s.ID,
		TargetTradeID:  s.TargetTradeID,
		TokenID:        s.TokenID,
		Bids:           nonNilLevels(s.Bids),
		Asks:           nonNilLevels(s.Asks),
		BestBid:        s.BestBid,
		BestAsk:        s.BestAsk,
		BidLiquidity:   s.BidLiquidity,
		AskLiquidity:   s.AskLiquidity,
		FetchLatencyMs: ms(s.FetchLatency),
		CapturedAt:     s.CapturedAt,
	}
}

type positionDTO struct {
	TokenID       string    `json:"token_id"`
	ConditionID   string    `json:"condition_id,omitempty"`
	Question      string    `json:"question"`
	Outcome       string    `json:"outcome,omitempty"`
	Size          float64   `json:"size"`
	CostBasis     float64   `json:"cost_basis"`
	AvgCost       float64   `json:"avg_cost"`
	RealizedPnL   float64   `json:"realized_pnl"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Resolved      bool      `json:"resolved"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toPosition(v domain.PositionView) positionDTO {
	dto := positionDTO{
		TokenID:       v.TokenID,
		ConditionID:   v.ConditionID,
		Question:      v.Question,
		Outcome:       v.Outcome,
		Size:          v.Size,
		CostBasis:     v.CostBasis,
		RealizedPnL:   v.RealizedPnL,
		MarkPrice:     v.MarkPrice,
		UnrealizedPnL: v.UnrealizedPnL,
		Resolved:      v.Resolved,
		UpdatedAt:     v.UpdatedAt,
	}
	if v.Open() {
		dto.AvgCost = v.CostBasis / v.Size
	}
	return dto
}

type instrumentDTO struct {
	TokenID      string   `json:"token_id"`
	Outcome      string   `json:"outcome,omitempty"`
	OutcomeIndex int      `json:"outcome_index"`
	Resolved     bool     `json:"resolved"`
	Payout       *float64 `json:"payout"`
}

type marketDTO struct {
	ConditionID   string          `json:"condition_id"`
	Question      string          `json:"question"`
	Category      string          `json:"category,omitempty"`
	Resolved      bool            `json:"resolved"`
	OpenSize      float64         `json:"open_size"`
	RealizedPnL   float64         `json:"realized_pnl"`
	LastCheckedAt *time.Time      `json:"last_checked_at"`
	NextCheckAt   *time.Time      `json:"next_check_at"`
	Failures      int             `json:"failures"`
	Instruments   []instrumentDTO `json:"instruments"`
}

func toMarket(m domain.MarketStatus) marketDTO {
	return marketDTO{
		ConditionID:   m.ConditionID,
		Question:      m.Question,
		Category:      m.Category,
		Resolved:      m.Resolved,
		OpenSize:      m.OpenSize,
		RealizedPnL:   m.RealizedPnL,
		LastCheckedAt: m.LastCheckedAt,
		NextCheckAt:   m.NextCheckAt,
		Failures:      m.Failures,
		Instruments: convert(m.Instruments, func(i domain.Instrument) instrumentDTO {
			return instrumentDTO{
				TokenID:      i.TokenID,
				Outcome:      i.Outcome,
				OutcomeIndex: i.OutcomeIndex,
				Resolved:     i.Resolved,
				Payout:       i.PayoutValue,
			}
		}),
	}
}

type walletDTO struct {
	Address         string     `json:"address"`
	Alias           string     `json:"alias,omitempty"`
	Source          string     `json:"source"`
	LeaderboardPnL  float64    `json:"leaderboard_pnl"`
	LeaderboardVol  float64    `json:"leaderboard_volume"`
	TrackingEnabled bool       `json:"tracking_enabled"`
	AddedAt         time.Time  `json:"added_at"`
	EnabledAt       *time.Time `json:"enabled_at"`
}

func toWallet(w domain.Wallet) walletDTO {
	return walletDTO{
		Address:         w.Address,
		Alias:           w.Alias,
		Source:          w.Source,
		LeaderboardPnL:  w.LeaderboardPnL,
		LeaderboardVol:  w.LeaderboardVol,
		TrackingEnabled: w.TrackingEnabled,
		AddedAt:         w.AddedAt,
		EnabledAt:       w.EnabledAt,
	}
}

type summaryDTO struct {
	TargetTrades   int64     `json:"target_trades"`
	PaperTrades    int64     `json:"paper_trades"`
	Filled         int64     `json:"filled"`
	NoFills        int64     `json:"no_fills"`
	FillRate       float64   `json:"fill_rate"`
	AvgSlippage    float64   `json:"avg_slippage"`
	OpenPositions  int64     `json:"open_positions"`
	TrackedWallets int64     `json:"tracked_wallets"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	TotalPnL       float64   `json:"total_pnl"`
	GeneratedAt    time.Time `json:"generated_at"`
}

func toSummary(s service.Summary) summaryDTO {
	return summaryDTO{
		TargetTrades:   s.TargetTrades,
		PaperTrades:    s.PaperTrades,
		Filled:         s.Filled,
		NoFills:        s.NoFills,
		FillRate:       s.FillRate,
		AvgSlippage:    s.AvgSlippage,
		OpenPositions:  s.OpenPositions,
		TrackedWallets: s.TrackedWallets,
		RealizedPnL:    s.RealizedPnL,
		UnrealizedPnL:  s.UnrealizedPnL,
		TotalPnL:       s.TotalPnL,
		GeneratedAt:    s.GeneratedAt,
	}
}

type latencyDTO struct {
	Samples        int64 `json:"samples"`
	AvgDetectionMs int64 `json:"avg_detection_ms"`
	AvgExecutionMs int64 `json:"avg_execution_ms"`
	AvgTotalMs     int64 `json:"avg_total_ms"`
	MinTotalMs     int64 `json:"min_total_ms"`
	MaxTotalMs     int64 `json:"max_total_ms"`
}

func toLatency(l domain.LatencyStats) latencyDTO {
	return latencyDTO{
		Samples:        l.Samples,
		AvgDetectionMs: ms(l.AvgDetection),
		AvgExecutionMs: ms(l.AvgExecution),
		AvgTotalMs:     ms(l.AvgTotal),
		MinTotalMs:     ms(l.MinTotal),
		MaxTotalMs:     ms(l.MaxTotal),
	}
}

type orderbookDTO struct {
	TokenID   string              `json:"token_id"`
	Bids      []domain.PriceLevel `json:"bids"`
	Asks      []domain.PriceLevel `json:"asks"`
	BestBid   float64             `json:"best_bid"`
	BestAsk   float64             `json:"best_ask"`
	MidPrice  float64             `json:"mid_price"`
	Timestamp time.Time           `json:"timestamp"`
}

func toOrderbook(token string, b domain.OrderbookSnapshot) orderbookDTO {
	return orderbookDTO{
		TokenID:   token,
		Bids:      nonNilLevels(b.Bids),
		Asks:      nonNilLevels(b.Asks),
		BestBid:   b.BestBid,
		BestAsk:   b.BestAsk,
		MidPrice:  b.MidPrice,
		Timestamp: b.Timestamp,
	}
}

func nonNilLevels(l []domain.PriceLevel) []domain.PriceLevel {
	if l == nil {
		return []domain.PriceLevel{}
	}
	return l
}

type categoryPnLDTO struct {
	Category      string  `json:"category"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Volume        float64 `json:"volume"`
}

func toCategoryPnL(c domain.CategoryPnL) categoryPnLDTO {
	return categoryPnLDTO(c)
}

type costPointDTO struct {
	PaperTradeID   int64     `json:"paper_trade_id"`
	At             time.Time `json:"ts"`
	Wallet         string    `json:"wallet"`
	TokenID        string    `json:"token_id"`
	Question       string    `json:"question"`
	Side           string    `json:"side"`
	CostUSD        float64   `json:"cost_usd"`
	CumulativeCost float64   `json:"cumulative_cost"`
}

func toCostPoint(p domain.CostPoint) costPointDTO {
	return costPointDTO{
		PaperTradeID:   p.PaperTradeID,
		At:             p.At,
		Wallet:         p.Wallet,
		TokenID:        p.TokenID,
		Question:       p.Question,
		Side:           string(p.Side),
		CostUSD:        p.CostUSD,
		CumulativeCost: p.CumulativeCost,
	}
}
